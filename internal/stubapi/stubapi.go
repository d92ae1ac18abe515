// Package stubapi is an in-memory fake of the Huddle auth backend. It stands
// in for the real API in package tests and behind cmd/stub-backend for local
// development. Sessions are org-scoped HS256 tokens; refresh tokens rotate on
// every use and a consumed token is rejected with a 403.
package stubapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/models"
	"github.com/huddleapp/huddle-go/utils"
)

// FixedOTP is the OTP the stub always issues
const FixedOTP = "123456"

const defaultAccessTTL = 15 * time.Minute

// Account is a stub user record
type Account struct {
	ID            uuid.UUID
	Email         string
	Phone         string
	Name          string
	Password      string
	EmailVerified bool
	Status        models.AccountStatus
	CurrentOrg    uuid.UUID
	Memberships   []models.Membership
}

// refreshGrant tracks the session a refresh token belongs to
type refreshGrant struct {
	accountID uuid.UUID
	orgID     uuid.UUID
}

// Server is the fake backend. Counters let tests assert how many refresh and
// exchange round trips actually happened.
type Server struct {
	mu             sync.Mutex
	logger         *zap.Logger
	secret         []byte
	accessTTL      time.Duration
	accounts       map[string]*Account // keyed by email
	byPhone        map[string]*Account
	byID           map[uuid.UUID]*Account
	refreshGrants  map[string]refreshGrant
	providerTokens map[string]string // one-shot provider token -> email
	otps           map[string]string // email or phone -> otp
	resetTokens    map[string]string // reset token -> email
	failRefresh    int               // force a status from the refresh endpoint
	failLogout     bool

	refreshCalls  int32
	exchangeCalls int32
}

// New creates an empty stub backend
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:         logger,
		secret:         []byte("stub-signing-secret"),
		accessTTL:      defaultAccessTTL,
		accounts:       make(map[string]*Account),
		byPhone:        make(map[string]*Account),
		byID:           make(map[uuid.UUID]*Account),
		refreshGrants:  make(map[string]refreshGrant),
		providerTokens: make(map[string]string),
		otps:           make(map[string]string),
		resetTokens:    make(map[string]string),
	}
}

// SeedAccount registers a verified account with one membership per org name.
// The first org becomes the current one.
func (s *Server) SeedAccount(email, password, name string, orgNames ...string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := &Account{
		ID:            uuid.New(),
		Email:         email,
		Name:          name,
		Password:      password,
		EmailVerified: true,
		Status:        models.AccountVerified,
	}
	for i, orgName := range orgNames {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleOwner
		}
		m := models.Membership{OrgID: uuid.New(), OrgName: orgName, Role: role}
		acc.Memberships = append(acc.Memberships, m)
		if i == 0 {
			acc.CurrentOrg = m.OrgID
		}
	}

	s.accounts[email] = acc
	s.byID[acc.ID] = acc
	return acc
}

// SeedProviderToken registers a one-shot provider token for an account
func (s *Server) SeedProviderToken(token, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerTokens[token] = email
}

// IssueSession mints a token pair for a seeded account, optionally with a
// custom access-token TTL. Tests use negative TTLs to start from an expired
// access token.
func (s *Server) IssueSession(email string, accessTTL time.Duration) models.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[email]
	if acc == nil {
		return models.TokenPair{}
	}
	return models.TokenPair{
		AccessToken:  s.mintAccess(acc, acc.CurrentOrg, accessTTL),
		RefreshToken: s.mintRefresh(acc, acc.CurrentOrg),
	}
}

// ForceRefreshFailure makes the refresh endpoint answer with the given status
func (s *Server) ForceRefreshFailure(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = status
}

// ForceLogoutFailure makes the logout endpoint answer 500
func (s *Server) ForceLogoutFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogout = true
}

// RefreshCalls returns how many refresh round trips the stub served
func (s *Server) RefreshCalls() int32 {
	return atomic.LoadInt32(&s.refreshCalls)
}

// ExchangeCalls returns how many provider exchanges the stub served
func (s *Server) ExchangeCalls() int32 {
	return atomic.LoadInt32(&s.exchangeCalls)
}

// Handler returns the stub's HTTP surface
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login/password", s.handlePasswordLogin)
		r.Post("/login", s.handleExchange)
		r.Post("/signup/email", s.handleSignupEmail)
		r.Post("/signup/phone/request", s.handlePhoneRequest)
		r.Post("/signup/phone/verify", s.handlePhoneVerify)
		r.Post("/email/verify", s.handleVerifyEmail)
		r.Post("/email/resend", s.handleResendOTP)
		r.Post("/password/forgot", s.handleForgotPassword)
		r.Post("/password/reset", s.handleResetPassword)
		r.Post("/password/change", s.handleChangePassword)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/switch-org", s.handleSwitchOrg)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)
	})

	return r
}

func (s *Server) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[req.Identifier]
	if acc == nil || acc.Password != req.Password {
		_ = utils.WriteUnauthorized(w, "invalid credentials")
		return
	}
	s.writeSession(w, acc, acc.CurrentOrg)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.exchangeCalls, 1)

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.providerTokens[req.Token]
	if !ok {
		_ = utils.WriteUnauthorized(w, "provider token invalid or already used")
		return
	}
	// One-shot: a provider token is consumable exactly once.
	delete(s.providerTokens, req.Token)

	acc := s.accounts[email]
	if acc == nil {
		acc = &Account{
			ID:            uuid.New(),
			Email:         email,
			Name:          email,
			EmailVerified: true,
			Status:        models.AccountVerified,
		}
		m := models.Membership{OrgID: uuid.New(), OrgName: "Personal", Role: models.RoleOwner}
		acc.Memberships = []models.Membership{m}
		acc.CurrentOrg = m.OrgID
		s.accounts[email] = acc
		s.byID[acc.ID] = acc
	}
	s.writeSession(w, acc, acc.CurrentOrg)
}

func (s *Server) handleSignupEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accounts[req.Email] != nil {
		_ = utils.WriteConflict(w, "email already registered")
		return
	}

	acc := &Account{
		ID:       uuid.New(),
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Status:   models.AccountUnverified,
	}
	m := models.Membership{OrgID: uuid.New(), OrgName: "Personal", Role: models.RoleOwner}
	acc.Memberships = []models.Membership{m}
	acc.CurrentOrg = m.OrgID
	s.accounts[req.Email] = acc
	s.byID[acc.ID] = acc
	s.otps[req.Email] = FixedOTP

	s.writeSession(w, acc, acc.CurrentOrg)
}

func (s *Server) handlePhoneRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.byPhone[req.Phone]
	if acc == nil {
		acc = &Account{
			ID:     uuid.New(),
			Phone:  req.Phone,
			Name:   req.Name,
			Status: models.AccountUnverified,
		}
		m := models.Membership{OrgID: uuid.New(), OrgName: "Personal", Role: models.RoleOwner}
		acc.Memberships = []models.Membership{m}
		acc.CurrentOrg = m.OrgID
		s.byPhone[req.Phone] = acc
		s.byID[acc.ID] = acc
	}
	s.otps[req.Phone] = FixedOTP

	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
}

func (s *Server) handlePhoneVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		OTP      string `json:"otp"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.byPhone[req.Phone]
	if acc == nil || s.otps[req.Phone] != req.OTP {
		_ = utils.WriteBadRequest(w, "invalid verification code", map[string]string{"otp": "code does not match"})
		return
	}
	delete(s.otps, req.Phone)
	acc.Password = req.Password
	acc.Status = models.AccountVerified

	pair := models.TokenPair{
		AccessToken:  s.mintAccess(acc, acc.CurrentOrg, s.accessTTL),
		RefreshToken: s.mintRefresh(acc, acc.CurrentOrg),
	}
	_ = utils.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[req.Email]
	if acc == nil || s.otps[req.Email] != req.OTP {
		_ = utils.WriteBadRequest(w, "invalid verification code", map[string]string{"otp": "code does not match"})
		return
	}
	delete(s.otps, req.Email)
	acc.EmailVerified = true
	acc.Status = models.AccountVerified

	s.writeSession(w, acc, acc.CurrentOrg)
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	s.otps[req.Email] = FixedOTP
	s.mu.Unlock()

	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	if s.accounts[req.Email] != nil {
		s.resetTokens["reset-"+req.Email] = req.Email
	}
	s.mu.Unlock()

	// Same answer whether or not the account exists.
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, a reset link was sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.resetTokens[req.Token]
	if !ok {
		_ = utils.WriteBadRequest(w, "invalid reset token", map[string]string{"token": "token is invalid or expired"})
		return
	}
	delete(s.resetTokens, req.Token)
	s.accounts[email].Password = req.NewPassword

	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "password reset, please log in"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	acc, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.Password != req.CurrentPassword {
		_ = utils.WriteBadRequest(w, "current password incorrect", map[string]string{"currentPassword": "does not match"})
		return
	}
	acc.Password = req.NewPassword

	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.refreshCalls, 1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRefresh != 0 {
		_ = utils.WriteJSON(w, s.failRefresh, utils.ErrorResponse{Error: "forced", Message: "refresh unavailable"})
		return
	}

	grant, ok := s.refreshGrants[req.RefreshToken]
	if !ok {
		_ = utils.WriteForbidden(w, "refresh token revoked")
		return
	}
	// Rotation: the presented token is consumed.
	delete(s.refreshGrants, req.RefreshToken)

	acc := s.byID[grant.accountID]
	pair := models.TokenPair{
		AccessToken:  s.mintAccess(acc, grant.orgID, s.accessTTL),
		RefreshToken: s.mintRefresh(acc, grant.orgID),
	}
	_ = utils.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, orgID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = utils.WriteJSON(w, http.StatusOK, s.profileFor(acc, orgID))
}

func (s *Server) handleSwitchOrg(w http.ResponseWriter, r *http.Request) {
	acc, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req struct {
		OrgID string `json:"orgId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "malformed body", nil)
		return
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		_ = utils.WriteBadRequest(w, "invalid orgId", map[string]string{"orgId": "must be a UUID"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member := false
	for _, m := range acc.Memberships {
		if m.OrgID == orgID {
			member = true
			break
		}
	}
	if !member {
		_ = utils.WriteForbidden(w, "not a member of the target organization")
		return
	}

	acc.CurrentOrg = orgID
	s.writeSession(w, acc, orgID)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLogout {
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	delete(s.refreshGrants, req.RefreshToken)
	utils.WriteNoContent(w)
}

// authenticate parses and verifies the bearer token, answering 401 on failure
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*Account, uuid.UUID, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		_ = utils.WriteUnauthorized(w, "")
		return nil, uuid.Nil, false
	}

	claims := &models.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		_ = utils.WriteUnauthorized(w, "token invalid or expired")
		return nil, uuid.Nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		_ = utils.WriteUnauthorized(w, "")
		return nil, uuid.Nil, false
	}
	acc := s.byID[accountID]
	if acc == nil {
		_ = utils.WriteUnauthorized(w, "")
		return nil, uuid.Nil, false
	}
	orgID, _ := uuid.Parse(claims.OrgID)

	return acc, orgID, true
}

// writeSession answers with a full session payload. Caller holds s.mu.
func (s *Server) writeSession(w http.ResponseWriter, acc *Account, orgID uuid.UUID) {
	payload := map[string]interface{}{
		"accessToken":  s.mintAccess(acc, orgID, s.accessTTL),
		"refreshToken": s.mintRefresh(acc, orgID),
		"user":         s.profileFor(acc, orgID),
	}
	_ = utils.WriteJSON(w, http.StatusOK, payload)
}

// profileFor builds the profile view scoped to one org. Caller holds s.mu.
func (s *Server) profileFor(acc *Account, orgID uuid.UUID) *models.UserProfile {
	current := orgID
	return &models.UserProfile{
		ID:            acc.ID,
		Email:         acc.Email,
		Name:          acc.Name,
		AccountStatus: acc.Status,
		EmailVerified: acc.EmailVerified,
		CurrentOrgID:  &current,
		Memberships:   acc.Memberships,
	}
}

// mintAccess signs an org-scoped HS256 access token. Caller holds s.mu.
func (s *Server) mintAccess(acc *Account, orgID uuid.UUID, ttl time.Duration) string {
	role := models.RoleMember
	for _, m := range acc.Memberships {
		if m.OrgID == orgID {
			role = m.Role
			break
		}
	}

	claims := &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		OrgID: orgID.String(),
		Email: acc.Email,
		Role:  string(role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return ""
	}
	return signed
}

// mintRefresh issues an opaque refresh token. Caller holds s.mu.
func (s *Server) mintRefresh(acc *Account, orgID uuid.UUID) string {
	token := "rt-" + uuid.NewString()
	s.refreshGrants[token] = refreshGrant{accountID: acc.ID, orgID: orgID}
	return token
}
