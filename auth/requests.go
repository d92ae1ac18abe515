package auth

// Request DTOs for the auth operations. Each is validated client-side before
// the round trip; validation failures surface as *client.APIError with
// field-level messages, the same shape a backend 400 produces.

// LoginRequest authenticates with a first-party credential. Identifier is an
// email or username.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// SignupRequest creates an account with an email and password
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

// PhoneSignupRequest starts a phone signup by requesting an OTP
type PhoneSignupRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	Name  string `json:"name" validate:"required"`
}

// PhoneVerifyRequest completes a phone signup with the received OTP
type PhoneVerifyRequest struct {
	Phone    string `json:"phone" validate:"required,e164"`
	OTP      string `json:"otp" validate:"required,len=6"`
	Password string `json:"password" validate:"required,min=8"`
}

// VerifyEmailRequest confirms an email address with an OTP
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6"`
}

// ResendOTPRequest asks for a fresh verification OTP
type ResendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordRequest starts a password reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes a password reset with the emailed token.
// The user must log in afterwards; no session is created.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// ChangePasswordRequest changes the password of the authenticated user
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}
