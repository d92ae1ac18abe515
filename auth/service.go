// Package auth implements the typed operations against the Huddle auth API.
// Each operation is a request/response pair with a deterministic store
// post-condition: session-creating operations atomically replace the
// persisted token pair and user profile, status-only operations leave the
// session untouched.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/client"
	"github.com/huddleapp/huddle-go/models"
	"github.com/huddleapp/huddle-go/storage"
	"github.com/huddleapp/huddle-go/utils"
)

// Backend endpoint paths
const (
	pathExchange       = "/auth/login"
	pathSignupEmail    = "/auth/signup/email"
	pathPhoneRequest   = "/auth/signup/phone/request"
	pathPhoneVerify    = "/auth/signup/phone/verify"
	pathVerifyEmail    = "/auth/email/verify"
	pathResendOTP      = "/auth/email/resend"
	pathForgotPassword = "/auth/password/forgot"
	pathResetPassword  = "/auth/password/reset"
	pathChangePassword = "/auth/password/change"
	pathMe             = "/auth/me"
	pathSwitchOrg      = "/auth/switch-org"
	pathLogout         = "/auth/logout"
)

// Session is the active pairing of a token pair and a user profile
type Session struct {
	Tokens models.TokenPair
	User   *models.UserProfile
}

// sessionPayload is the backend response shape for session-creating operations
type sessionPayload struct {
	AccessToken  string              `json:"accessToken"`
	RefreshToken string              `json:"refreshToken"`
	User         *models.UserProfile `json:"user"`
}

// statusPayload is the backend response shape for status-only operations
type statusPayload struct {
	Message string `json:"message"`
}

// Service is the auth operations layer. It does not retry; the only retry in
// the subsystem is the HTTP client's single auth-refresh replay.
type Service struct {
	api    *client.Client
	store  storage.TokenStore
	logger *zap.Logger
}

// NewService creates an auth service on top of the given client
func NewService(api *client.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		api:    api,
		store:  api.Store(),
		logger: logger,
	}
}

// LoginWithPassword authenticates against the first-party credential backend
// and persists the returned session.
func (s *Service) LoginWithPassword(ctx context.Context, req LoginRequest) (*Session, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var payload sessionPayload
	if err := s.api.Post(ctx, client.PasswordLoginPath, req, &payload); err != nil {
		return nil, err
	}
	return s.commitSession(&payload, "password login")
}

// ExchangeProviderToken trades an identity provider's bearer token for a
// backend session. The provider token is consumable exactly once; the
// returned backend pair is authoritative from here on.
func (s *Service) ExchangeProviderToken(ctx context.Context, providerToken string) (*Session, error) {
	if providerToken == "" {
		return nil, client.NewAPIError(client.KindValidation, "provider token is required", nil)
	}

	var payload sessionPayload
	if err := s.api.Post(ctx, pathExchange, map[string]string{"token": providerToken}, &payload); err != nil {
		return nil, err
	}
	return s.commitSession(&payload, "provider exchange")
}

// SignupWithEmail creates an account and persists the returned session
func (s *Service) SignupWithEmail(ctx context.Context, req SignupRequest) (*Session, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var payload sessionPayload
	if err := s.api.Post(ctx, pathSignupEmail, req, &payload); err != nil {
		return nil, err
	}
	return s.commitSession(&payload, "email signup")
}

// RequestPhoneSignup asks the backend to send a signup OTP. No session side
// effect; only a status message is returned.
func (s *Service) RequestPhoneSignup(ctx context.Context, req PhoneSignupRequest) (string, error) {
	return s.statusOp(ctx, pathPhoneRequest, req)
}

// VerifyPhoneSignup completes a phone signup. The backend answers with a
// token pair; the profile is then filled through the me endpoint.
func (s *Service) VerifyPhoneSignup(ctx context.Context, req PhoneVerifyRequest) (*Session, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var pair models.TokenPair
	if err := s.api.Post(ctx, pathPhoneVerify, req, &pair); err != nil {
		return nil, err
	}

	s.store.SetToken(storage.KeyAccessToken, pair.AccessToken)
	if pair.RefreshToken != "" {
		s.store.SetToken(storage.KeyRefreshToken, pair.RefreshToken)
	}

	user, err := s.Me(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{Tokens: pair, User: user}, nil
}

// VerifyEmail confirms an email address with an OTP and persists the
// returned session
func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) (*Session, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var payload sessionPayload
	if err := s.api.Post(ctx, pathVerifyEmail, req, &payload); err != nil {
		return nil, err
	}
	return s.commitSession(&payload, "email verify")
}

// ResendOTP requests a fresh verification OTP. Status only.
func (s *Service) ResendOTP(ctx context.Context, req ResendOTPRequest) (string, error) {
	return s.statusOp(ctx, pathResendOTP, req)
}

// ForgotPassword starts a password reset. Status only.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (string, error) {
	return s.statusOp(ctx, pathForgotPassword, req)
}

// ResetPassword completes a password reset. No session is created; the user
// must log in with the new password.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	return s.statusOp(ctx, pathResetPassword, req)
}

// ChangePassword changes the authenticated user's password. Tokens are
// unaffected.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if err := validate(req); err != nil {
		return err
	}
	return s.api.Post(ctx, pathChangePassword, req, nil)
}

// Me fetches the user profile from the backend and refreshes the cached copy
func (s *Service) Me(ctx context.Context) (*models.UserProfile, error) {
	var user models.UserProfile
	if err := s.api.Get(ctx, pathMe, &user); err != nil {
		return nil, err
	}
	s.store.SetUser(&user)
	return &user, nil
}

// SwitchOrg swaps the active organization context. On success the store is
// overwritten with the new org-scoped pair and profile as one write and the
// org-switch invalidation hook fires; on any failure the previous session is
// fully intact.
func (s *Service) SwitchOrg(ctx context.Context, orgID uuid.UUID) (*Session, error) {
	if orgID == uuid.Nil {
		return nil, client.NewAPIError(client.KindValidation, "organization id is required", nil)
	}
	if cached := s.store.GetUser(); cached != nil && cached.MembershipFor(orgID) == nil {
		return nil, client.NewAPIError(client.KindValidation, "not a member of the target organization", nil)
	}

	var payload sessionPayload
	if err := s.api.Post(ctx, pathSwitchOrg, map[string]string{"orgId": orgID.String()}, &payload); err != nil {
		return nil, err
	}

	session, err := s.commitSession(&payload, "org switch")
	if err != nil {
		return nil, err
	}

	s.api.NotifyOrgSwitch(orgID)
	return session, nil
}

// Logout destroys the session. Local state is cleared unconditionally, even
// when the backend round trip fails; the returned error reports that round
// trip for observability only. Callers with an identity provider session
// must also navigate to the provider's logout surface (provider.Config's
// LogoutURL), or the reconciler will immediately re-establish the session.
func (s *Service) Logout(ctx context.Context) error {
	// Stop any in-flight refresh first so its result cannot land after the
	// store is cleared.
	s.api.CancelRefresh()

	var backendErr error
	if refreshToken := s.store.GetToken(storage.KeyRefreshToken); refreshToken != "" {
		backendErr = s.api.Post(ctx, pathLogout, map[string]string{"refreshToken": refreshToken}, nil)
		if backendErr != nil {
			s.logger.Warn("backend logout failed, clearing local session anyway", zap.Error(backendErr))
		}
	}

	s.store.ClearAll()
	return backendErr
}

// commitSession validates a session payload and persists it as one write
func (s *Service) commitSession(payload *sessionPayload, op string) (*Session, error) {
	if payload.AccessToken == "" || payload.User == nil {
		return nil, client.NewAPIError(client.KindServer, "incomplete session response", nil)
	}

	pair := models.TokenPair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	s.store.SetSession(&pair, payload.User)
	s.logger.Info("session established",
		zap.String("operation", op),
		zap.String("user_id", payload.User.ID.String()),
	)

	return &Session{Tokens: pair, User: payload.User}, nil
}

// statusOp runs a validated, status-only operation
func (s *Service) statusOp(ctx context.Context, path string, req interface{}) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	var payload statusPayload
	if err := s.api.Post(ctx, path, req, &payload); err != nil {
		return "", err
	}
	return payload.Message, nil
}

// validate maps client-side validation failures onto the API error taxonomy
func validate(req interface{}) error {
	err := utils.ValidateStruct(req)
	if err == nil {
		return nil
	}

	var vErr *utils.ValidationError
	if errors.As(err, &vErr) {
		apiErr := client.NewAPIError(client.KindValidation, vErr.Message, nil)
		apiErr.Status = http.StatusBadRequest
		apiErr.Fields = vErr.Fields
		return apiErr
	}
	return client.NewAPIError(client.KindValidation, "invalid request", err)
}
