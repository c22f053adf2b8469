// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ZB1234D/Species-Database-App-123/internal/auth"
)

// JWTAuth issues and validates HS256 bearer tokens for dashboard users
type JWTAuth struct {
	secret []byte
	logger *slog.Logger
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string, logger *slog.Logger) *JWTAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTAuth{
		secret: []byte(secret),
		logger: logger,
	}
}

// JWTClaims carries the user's role next to the standard claims
type JWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for user valid for expiration
func (j *JWTAuth) GenerateToken(user *UserRecord, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "speciesync",
			Subject:   strconv.FormatInt(user.UserID, 10),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (user ID) in token")
		}
		if claims.Role == "" {
			return nil, fmt.Errorf("missing role in token")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", fmt.Errorf("bearer token required")
	}
	return tokenString, nil
}

// RequireRole returns middleware that admits requests carrying a valid token
// whose role is one of roles. The user id and role are stored in the request
// context.
func (j *JWTAuth) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
				return
			}
			claims, err := j.ValidateToken(tokenString)
			if err != nil {
				// Safely log token prefix (max 20 chars)
				tokenPrefix := tokenString
				if len(tokenPrefix) > 20 {
					tokenPrefix = tokenPrefix[:20]
				}
				j.logger.Warn("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
				writeError(w, http.StatusUnauthorized, CodeAuthFailed, "invalid token")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				writeError(w, http.StatusForbidden, CodeForbidden, "role "+claims.Role+" may not access this resource")
				return
			}
			ctx := auth.SetAuthContext(r.Context(), claims.Subject, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
