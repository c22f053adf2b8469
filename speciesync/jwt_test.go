package speciesync

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZB1234D/Species-Database-App-123/internal/auth"
)

func TestJWT_RoundTrip(t *testing.T) {
	j := NewJWTAuth("secret", nil)
	tok, err := j.GenerateToken(&UserRecord{UserID: 7, Role: RoleEditor}, time.Hour)
	require.NoError(t, err)

	claims, err := j.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, RoleEditor, claims.Role)
}

func TestJWT_Rejects(t *testing.T) {
	j := NewJWTAuth("secret", nil)
	user := &UserRecord{UserID: 1, Role: RoleAdmin}

	expired, err := j.GenerateToken(user, -time.Minute)
	require.NoError(t, err)
	_, err = j.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	foreign, err := NewJWTAuth("other", nil).GenerateToken(user, time.Hour)
	require.NoError(t, err)
	_, err = j.ValidateToken(foreign)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	noRole, err := j.GenerateToken(&UserRecord{UserID: 1}, time.Hour)
	require.NoError(t, err)
	_, err = j.ValidateToken(noRole)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	j := NewJWTAuth("secret", nil)
	var gotUser, gotRole string
	h := j.RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.GetUserID(r.Context())
		gotRole, _ = auth.GetRole(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer not-a-jwt"))

	viewer, err := j.GenerateToken(&UserRecord{UserID: 2, Role: RoleViewer}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+viewer))

	admin, err := j.GenerateToken(&UserRecord{UserID: 3, Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, call("Bearer "+admin))
	assert.Equal(t, "3", gotUser)
	assert.Equal(t, RoleAdmin, gotRole)
}
