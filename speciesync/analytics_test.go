package speciesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
	"github.com/ZB1234D/Species-Database-App-123/speciesync/memstore"
)

func TestAnalytics_OverviewAndUsers(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	store := memstore.New(&memstore.Options{Now: func() time.Time { return clock }})
	svc := newService(t, store, nil, nil, 0)
	ctx := context.Background()

	_, err := svc.CreateSpecies(ctx, pair("Ficus"))
	require.NoError(t, err)
	_, err = svc.CreateSpecies(ctx, pair("Pinus"))
	require.NoError(t, err)
	for _, link := range []string{"https://x/f1.jpg", "https://x/f2.jpg"} {
		_, err = svc.RegisterMedia(ctx, speciesync.MediaInput{SpeciesName: "Ficus", MediaType: "image", DownloadLink: link})
		require.NoError(t, err)
	}

	ana, err := svc.CreateUser(ctx, speciesync.UserInput{Name: "ana", Role: speciesync.RoleAdmin, Password: "pw"})
	require.NoError(t, err)
	inactive := false
	bo, err := svc.CreateUser(ctx, speciesync.UserInput{Name: "bo", Role: speciesync.RoleViewer, Password: "pw", IsActive: &inactive})
	require.NoError(t, err)
	anaID := ana.User.UserID

	_, err = svc.RecordLogin(ctx, anaID)
	require.NoError(t, err)
	clock = clock.Add(90 * time.Second)
	_, err = svc.EndSession(ctx, anaID)
	require.NoError(t, err)

	_, err = svc.RecordLogin(ctx, anaID)
	require.NoError(t, err)
	clock = clock.Add(30 * time.Second)
	closed, err := svc.EndSession(ctx, anaID)
	require.NoError(t, err)
	require.NotNil(t, closed.DurationSeconds)
	assert.InDelta(t, 30, *closed.DurationSeconds, 0.001)

	open, err := svc.RecordLogin(ctx, anaID)
	require.NoError(t, err)
	assert.Nil(t, open.DurationSeconds)

	var nf *speciesync.NotFoundError
	_, err = svc.EndSession(ctx, bo.User.UserID)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "session", nf.Entity)
	_, err = svc.RecordLogin(ctx, 999)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "user", nf.Entity)

	ov, err := svc.AnalyticsOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, &speciesync.AnalyticsOverview{
		TotalUsers:             2,
		ActiveUsers:            1,
		TotalLogins:            3,
		AverageSessionDuration: 60,
		TotalSpecies:           2,
		SpeciesWithMedia:       1,
	}, ov)

	users, err := svc.UserAnalytics(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ana", users[0].Name)
	assert.Equal(t, 3, users[0].LoginCount)
	assert.InDelta(t, 120, users[0].TotalDuration, 0.001)
	assert.InDelta(t, 60, users[0].AverageDuration, 0.001)
	require.NotNil(t, users[0].LastLogin)
	assert.True(t, start.Add(120*time.Second).Equal(*users[0].LastLogin))

	assert.Equal(t, "bo", users[1].Name)
	assert.False(t, users[1].IsActive)
	assert.Zero(t, users[1].LoginCount)
	assert.Nil(t, users[1].LastLogin)

	_, err = svc.DeleteUser(ctx, anaID)
	require.NoError(t, err)
	ov, err = svc.AnalyticsOverview(ctx)
	require.NoError(t, err)
	assert.Zero(t, ov.TotalLogins)
}

func TestAnalytics_RecordLoginFaultWritesNothing(t *testing.T) {
	store := memstore.New(nil)
	svc := newService(t, store, nil, nil, 0)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, speciesync.UserInput{Name: "ana", Role: speciesync.RoleAdmin, Password: "pw"})
	require.NoError(t, err)

	store.SetFault(memstore.FailOn(errBoom, "logins.insert"))
	_, err = svc.RecordLogin(ctx, u.User.UserID)
	require.ErrorIs(t, err, errBoom)

	logins, err := store.ListLogins(ctx)
	require.NoError(t, err)
	assert.Empty(t, logins)
}
