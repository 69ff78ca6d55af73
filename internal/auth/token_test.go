package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret", "ai-workbench")
	identity := user.Identity{Subject: "user_alice", Email: "alice@example.com"}

	token, err := v.IssueToken(identity, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, identity, got)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("test-secret", "ai-workbench")
	valid, err := v.IssueToken(user.Identity{Subject: "user_alice"}, time.Hour)
	require.NoError(t, err)

	expired, err := v.IssueToken(user.Identity{Subject: "user_alice"}, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewVerifier("other-secret", "ai-workbench").IssueToken(user.Identity{Subject: "user_alice"}, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier("test-secret", "someone-else").IssueToken(user.Identity{Subject: "user_alice"}, time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_alice", Issuer: "ai-workbench"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"alg none":     noneAlg,
		"tampered":     valid[:len(valid)-2] + "xx",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	_, err := NewVerifier("s", "").IssueToken(user.Identity{}, time.Hour)
	require.Error(t, err)
}
