package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, userID, orgID uuid.UUID, exp time.Time) string {
	t.Helper()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		OrgID: orgID.String(),
		Email: "user@example.com",
		Role:  "admin",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestExtractClaims(t *testing.T) {
	userID := uuid.New()
	orgID := uuid.New()
	exp := time.Now().Add(15 * time.Minute)

	t.Run("valid token", func(t *testing.T) {
		parsed, err := ExtractClaims(mintToken(t, userID, orgID, exp))
		require.NoError(t, err)
		assert.Equal(t, userID, parsed.UserID)
		assert.Equal(t, orgID, parsed.OrgID)
		assert.Equal(t, "user@example.com", parsed.Email)
		assert.Equal(t, RoleAdmin, parsed.Role)
		assert.False(t, parsed.Expired())
	})

	t.Run("expired token still parses", func(t *testing.T) {
		parsed, err := ExtractClaims(mintToken(t, userID, orgID, time.Now().Add(-time.Minute)))
		require.NoError(t, err)
		assert.True(t, parsed.Expired())
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := ExtractClaims("not-a-jwt")
		assert.Error(t, err)
	})

	t.Run("missing org claim", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = ExtractClaims(signed)
		assert.ErrorIs(t, err, ErrMissingClaim)
	})
}

func TestUserProfile_Memberships(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()

	profile := &UserProfile{
		ID:            uuid.New(),
		Email:         "user@example.com",
		AccountStatus: AccountVerified,
		CurrentOrgID:  &orgA,
		Memberships: []Membership{
			{OrgID: orgA, OrgName: "Acme", Role: RoleOwner},
			{OrgID: orgB, OrgName: "Globex", Role: RoleMember},
		},
	}

	t.Run("membership lookup", func(t *testing.T) {
		m := profile.MembershipFor(orgB)
		require.NotNil(t, m)
		assert.Equal(t, "Globex", m.OrgName)
		assert.Nil(t, profile.MembershipFor(uuid.New()))
	})

	t.Run("current membership follows current org", func(t *testing.T) {
		m := profile.CurrentMembership()
		require.NotNil(t, m)
		assert.Equal(t, orgA, m.OrgID)
	})

	t.Run("role predicates", func(t *testing.T) {
		assert.True(t, profile.CanManageOrg(orgA))
		assert.False(t, profile.CanManageOrg(orgB))
		assert.True(t, profile.IsVerified())
	})
}
