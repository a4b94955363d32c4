// Copyright 2026 The Chorus Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-signing-secret"
	testIssuer = "chorus-gateway"
)

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func authProbe() (*Handler, http.Handler, *string) {
	h := &Handler{jwtSecret: []byte(testSecret), jwtIssuer: testIssuer}
	var seenActor string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenActor = GetActorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return h, h.AuthMiddleware(inner), &seenActor
}

// TestPurpose: Validates that a well-formed gateway token passes the
// auth middleware and the subject becomes the request's acting user.
// Scope: Unit Test
// Expected: Inner handler runs with the token subject in context.
// Test Case ID: MID-01
func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, handler, seenActor := authProbe()

	raw := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", *seenActor)
}

// TestPurpose: Validates rejection of requests that carry no usable
// bearer token, or a token that fails verification.
// Scope: Unit Test
// Expected: 401 responses and the inner handler never runs.
// Test Case ID: MID-02
func TestAuthMiddleware_RejectsBadTokens(t *testing.T) {
	_, handler, seenActor := authProbe()

	expired := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}, testSecret)
	wrongKey := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}, "some-other-secret")
	wrongIssuer := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "not-the-gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	noExpiry := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
	}, testSecret)
	noSubject := signToken(t, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
		{"wrong issuer", "Bearer " + wrongIssuer},
		{"missing expiry claim", "Bearer " + noExpiry},
		{"missing subject", "Bearer " + noSubject},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			*seenActor = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/t1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, *seenActor)
		})
	}
}

// TestPurpose: Validates bearer scheme parsing is case-insensitive per
// RFC 7235 while still requiring a non-empty credential.
// Scope: Unit Test
// Expected: "bearer" lowercase is accepted; a bare scheme is not.
// Test Case ID: MID-03
func TestBearerToken_SchemeParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, "", bearerToken(req))

	req.Header.Del("Authorization")
	assert.Equal(t, "", bearerToken(req))
}
