package auth

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/client"
	"github.com/huddleapp/huddle-go/internal/stubapi"
	"github.com/huddleapp/huddle-go/storage"
)

type testEnv struct {
	svc        *Service
	backend    *stubapi.Server
	store      *storage.MemoryStore
	orgSwitch  *int32
	sessionEnd *int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := stubapi.New(zap.NewNop())
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	var orgSwitch, sessionEnd int32

	api := client.New(client.Config{
		BaseURL:          srv.URL,
		Store:            store,
		OnOrgSwitch:      func(uuid.UUID) { atomic.AddInt32(&orgSwitch, 1) },
		OnSessionExpired: func() { atomic.AddInt32(&sessionEnd, 1) },
	})

	return &testEnv{
		svc:        NewService(api, zap.NewNop()),
		backend:    backend,
		store:      store,
		orgSwitch:  &orgSwitch,
		sessionEnd: &sessionEnd,
	}
}

func TestLoginWithPassword(t *testing.T) {
	env := newTestEnv(t)
	env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")

	t.Run("success persists session", func(t *testing.T) {
		session, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{
			Identifier: "user@example.com",
			Password:   "hunter2secret",
		})
		require.NoError(t, err)
		require.NotNil(t, session.User)
		assert.Equal(t, "user@example.com", session.User.Email)

		assert.Equal(t, session.Tokens.AccessToken, env.store.GetToken(storage.KeyAccessToken))
		assert.Equal(t, session.Tokens.RefreshToken, env.store.GetToken(storage.KeyRefreshToken))
		stored := env.store.GetUser()
		require.NotNil(t, stored)
		assert.Equal(t, session.User.ID, stored.ID)
	})

	t.Run("bad credentials surface unauthorized without refresh", func(t *testing.T) {
		_, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{
			Identifier: "user@example.com",
			Password:   "wrong-password",
		})
		assert.True(t, client.IsUnauthorizedError(err))
		assert.Equal(t, int32(0), env.backend.RefreshCalls())
	})

	t.Run("validation failure never reaches the wire", func(t *testing.T) {
		_, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{})
		assert.True(t, client.IsValidationError(err))
		assert.Contains(t, client.FieldErrors(err), "Identifier")
	})
}

func TestSignupWithEmail(t *testing.T) {
	env := newTestEnv(t)

	t.Run("success persists unverified session", func(t *testing.T) {
		session, err := env.svc.SignupWithEmail(context.Background(), SignupRequest{
			Email:    "new@example.com",
			Password: "longenough",
			Name:     "New User",
		})
		require.NoError(t, err)
		assert.False(t, session.User.IsVerified())
		assert.NotEmpty(t, env.store.GetToken(storage.KeyAccessToken))
	})

	t.Run("duplicate signup conflicts", func(t *testing.T) {
		_, err := env.svc.SignupWithEmail(context.Background(), SignupRequest{
			Email:    "new@example.com",
			Password: "longenough",
			Name:     "New User",
		})
		assert.True(t, client.IsConflictError(err))
	})

	t.Run("verify email upgrades the session", func(t *testing.T) {
		session, err := env.svc.VerifyEmail(context.Background(), VerifyEmailRequest{
			Email: "new@example.com",
			OTP:   stubapi.FixedOTP,
		})
		require.NoError(t, err)
		assert.True(t, session.User.IsVerified())
		assert.True(t, env.store.GetUser().EmailVerified)
	})

	t.Run("resend OTP is status only", func(t *testing.T) {
		before := env.store.GetToken(storage.KeyAccessToken)
		msg, err := env.svc.ResendOTP(context.Background(), ResendOTPRequest{Email: "new@example.com"})
		require.NoError(t, err)
		assert.NotEmpty(t, msg)
		assert.Equal(t, before, env.store.GetToken(storage.KeyAccessToken))
	})
}

func TestPhoneSignupFlow(t *testing.T) {
	env := newTestEnv(t)

	msg, err := env.svc.RequestPhoneSignup(context.Background(), PhoneSignupRequest{
		Phone: "+15550100123",
		Name:  "Phone User",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
	assert.Equal(t, "", env.store.GetToken(storage.KeyAccessToken))

	session, err := env.svc.VerifyPhoneSignup(context.Background(), PhoneVerifyRequest{
		Phone:    "+15550100123",
		OTP:      stubapi.FixedOTP,
		Password: "longenough",
	})
	require.NoError(t, err)
	require.NotNil(t, session.User)
	assert.NotEmpty(t, session.Tokens.AccessToken)
	assert.Equal(t, session.Tokens.AccessToken, env.store.GetToken(storage.KeyAccessToken))

	t.Run("wrong OTP rejected", func(t *testing.T) {
		_, err := env.svc.VerifyPhoneSignup(context.Background(), PhoneVerifyRequest{
			Phone:    "+15550100123",
			OTP:      "000000",
			Password: "longenough",
		})
		assert.True(t, client.IsValidationError(err))
	})
}

func TestPasswordRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")

	t.Run("forgot then reset leaves no session", func(t *testing.T) {
		_, err := env.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "user@example.com"})
		require.NoError(t, err)

		msg, err := env.svc.ResetPassword(context.Background(), ResetPasswordRequest{
			Token:       "reset-user@example.com",
			NewPassword: "evenlonger9",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg)
		assert.Equal(t, "", env.store.GetToken(storage.KeyAccessToken))

		// The new password works for a subsequent login.
		_, err = env.svc.LoginWithPassword(context.Background(), LoginRequest{
			Identifier: "user@example.com",
			Password:   "evenlonger9",
		})
		assert.NoError(t, err)
	})

	t.Run("change password keeps tokens", func(t *testing.T) {
		access := env.store.GetToken(storage.KeyAccessToken)
		require.NotEmpty(t, access)

		err := env.svc.ChangePassword(context.Background(), ChangePasswordRequest{
			CurrentPassword: "evenlonger9",
			NewPassword:     "freshpassword1",
		})
		require.NoError(t, err)
		assert.Equal(t, access, env.store.GetToken(storage.KeyAccessToken))
	})

	t.Run("wrong current password", func(t *testing.T) {
		err := env.svc.ChangePassword(context.Background(), ChangePasswordRequest{
			CurrentPassword: "not-the-password",
			NewPassword:     "freshpassword1",
		})
		assert.True(t, client.IsValidationError(err))
	})
}

func TestMe_ReadThroughCache(t *testing.T) {
	env := newTestEnv(t)
	env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")

	_, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{
		Identifier: "user@example.com",
		Password:   "hunter2secret",
	})
	require.NoError(t, err)

	user, err := env.svc.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, user.ID, env.store.GetUser().ID)
}

func TestMe_TransparentRefreshOnExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")

	// Start from an already-expired access token and a valid refresh token.
	pair := env.backend.IssueSession("user@example.com", -time.Minute)
	env.store.SetToken(storage.KeyAccessToken, pair.AccessToken)
	env.store.SetToken(storage.KeyRefreshToken, pair.RefreshToken)

	user, err := env.svc.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, int32(1), env.backend.RefreshCalls())
	assert.NotEqual(t, pair.AccessToken, env.store.GetToken(storage.KeyAccessToken))
}

func TestSwitchOrg(t *testing.T) {
	env := newTestEnv(t)
	acc := env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme", "Globex")
	orgA := acc.Memberships[0].OrgID
	orgB := acc.Memberships[1].OrgID

	session, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{
		Identifier: "user@example.com",
		Password:   "hunter2secret",
	})
	require.NoError(t, err)
	require.Equal(t, orgA, *session.User.CurrentOrgID)

	t.Run("success replaces the whole session", func(t *testing.T) {
		switched, err := env.svc.SwitchOrg(context.Background(), orgB)
		require.NoError(t, err)
		assert.Equal(t, orgB, *switched.User.CurrentOrgID)
		assert.NotEqual(t, session.Tokens.AccessToken, switched.Tokens.AccessToken)
		assert.Equal(t, int32(1), atomic.LoadInt32(env.orgSwitch))

		// Store and backend agree on the new scope.
		assert.Equal(t, orgB, *env.store.GetUser().CurrentOrgID)
		me, err := env.svc.Me(context.Background())
		require.NoError(t, err)
		assert.Equal(t, orgB, *me.CurrentOrgID)
	})

	t.Run("non-membership rejected locally", func(t *testing.T) {
		_, err := env.svc.SwitchOrg(context.Background(), uuid.New())
		assert.True(t, client.IsValidationError(err))
	})

	t.Run("backend failure leaves session intact", func(t *testing.T) {
		// Drop the cached profile so the local precondition cannot catch the
		// bogus org and the backend's 403 is exercised.
		env.store.SetUser(nil)
		access := env.store.GetToken(storage.KeyAccessToken)
		refresh := env.store.GetToken(storage.KeyRefreshToken)

		_, err := env.svc.SwitchOrg(context.Background(), uuid.New())
		assert.True(t, client.IsForbiddenError(err))
		assert.Equal(t, access, env.store.GetToken(storage.KeyAccessToken))
		assert.Equal(t, refresh, env.store.GetToken(storage.KeyRefreshToken))
	})
}

func TestLogout(t *testing.T) {
	t.Run("clears store and revokes refresh token", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")
		_, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{
			Identifier: "user@example.com",
			Password:   "hunter2secret",
		})
		require.NoError(t, err)

		require.NoError(t, env.svc.Logout(context.Background()))
		assert.Equal(t, "", env.store.GetToken(storage.KeyAccessToken))
		assert.Equal(t, "", env.store.GetToken(storage.KeyRefreshToken))
		assert.Nil(t, env.store.GetUser())
	})

	t.Run("clears store even when the backend call fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")
		_, err := env.svc.LoginWithPassword(context.Background(), LoginRequest{
			Identifier: "user@example.com",
			Password:   "hunter2secret",
		})
		require.NoError(t, err)

		env.backend.ForceLogoutFailure()
		err = env.svc.Logout(context.Background())
		assert.True(t, client.IsServerError(err))
		assert.Equal(t, "", env.store.GetToken(storage.KeyAccessToken))
		assert.Nil(t, env.store.GetUser())
	})
}

func TestConsumedRefreshTokenIsRevoked(t *testing.T) {
	env := newTestEnv(t)
	env.backend.SeedAccount("user@example.com", "hunter2secret", "Test User", "Acme")

	pair := env.backend.IssueSession("user@example.com", -time.Minute)
	env.store.SetToken(storage.KeyAccessToken, pair.AccessToken)
	env.store.SetToken(storage.KeyRefreshToken, pair.RefreshToken)

	// First call refreshes and rotates.
	_, err := env.svc.Me(context.Background())
	require.NoError(t, err)

	// Replaying the consumed refresh token tears the session down.
	env.store.SetToken(storage.KeyAccessToken, pair.AccessToken)
	env.store.SetToken(storage.KeyRefreshToken, pair.RefreshToken)
	_, err = env.svc.Me(context.Background())
	assert.True(t, client.IsForbiddenError(err))
	assert.Equal(t, "", env.store.GetToken(storage.KeyRefreshToken))
	assert.Equal(t, int32(1), atomic.LoadInt32(env.sessionEnd))
}
