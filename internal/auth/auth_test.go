package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

func TestHasher(t *testing.T) {
	h := Hasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, h.Check(hash, "hunter22"))
	assert.ErrorIs(t, h.Check(hash, "hunter23"), ErrInvalidCredentials)
	assert.ErrorIs(t, h.Check("not-a-hash", "hunter22"), ErrInvalidCredentials)

	_, err = h.Hash("short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	principals := []domain.Principal{
		{Role: domain.RoleTeacher, UserID: "t1", TeacherID: "t1", Name: "Grace"},
		{Role: domain.RoleStudentApproved, UserID: "s1", TeacherID: "t1", ClassID: "c1", Name: "Ada"},
		{Role: domain.RoleStudentPending, UserID: "s2", TeacherID: "t1", ClassID: "c1"},
		{Role: domain.RoleObserver, UserID: "observer:c1", TeacherID: "t1", ClassID: "c1"},
	}
	for _, p := range principals {
		t.Run(p.Role.String(), func(t *testing.T) {
			token, exp, err := iss.Issue(p)
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

			got, err := iss.Parse(token)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestIssuer_Rejects(t *testing.T) {
	iss, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	other, err := NewIssuer("other-secret", time.Hour)
	require.NoError(t, err)

	good, _, err := other.Issue(domain.Principal{Role: domain.RoleTeacher, UserID: "t1"})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "teacher"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"wrong secret", good},
		{"alg none", none},
		{"unknown role", badRole},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Parse(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssuer_Expired(t *testing.T) {
	iss, err := NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, _, err := iss.Issue(domain.Principal{Role: domain.RoleTeacher, UserID: "t1"})
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Parse(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestNewIssuer_EmptySecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	p := domain.Principal{Role: domain.RoleObserver, ClassID: "c1"}
	got, ok := PrincipalFrom(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	assert.Equal(t, p, got)
}
