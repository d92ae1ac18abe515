// Package provider abstracts the external identity provider session. The
// reconciler is its only consumer inside the SDK; it sees the provider as an
// opaque capability that can report the current identity and yield one
// bearer token for the backend exchange, regardless of which OAuth/OIDC
// vendor sits behind it.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Session is the capability view of a provider-side login. Identity returns
// a stable subject for the logged-in account, or "" when no provider session
// exists. Token returns a bearer token consumable once by the backend's
// exchange endpoint.
type Session interface {
	Identity(ctx context.Context) (string, error)
	Token(ctx context.Context) (string, error)
}

// Config holds the hosted-UI settings for an OAuth/OIDC provider
type Config struct {
	// Domain is the provider's base URL, e.g. https://huddle.auth0.com
	Domain string
	// ClientID identifies this application to the provider
	ClientID string
	// RedirectURI is the callback the provider returns to after login
	RedirectURI string
}

// AuthorizeURL builds the hosted-UI authorization URL. state is the CSRF
// token the callback handler must compare against.
func (c Config) AuthorizeURL(state string) string {
	base := strings.TrimSuffix(c.Domain, "/") + "/authorize"
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.ClientID},
		"redirect_uri":  {c.RedirectURI},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return base + "?" + params.Encode()
}

// LogoutURL builds the provider logout URL. Logout must navigate here as
// well as clearing local state: a lingering provider session would otherwise
// be reconciled straight back into a backend session.
func (c Config) LogoutURL() string {
	returnTo := c.RedirectURI
	if parsed, err := url.Parse(c.RedirectURI); err == nil && parsed.Host != "" {
		returnTo = parsed.Scheme + "://" + parsed.Host
	}
	base := strings.TrimSuffix(c.Domain, "/") + "/v2/logout"
	params := url.Values{
		"client_id": {c.ClientID},
		"returnTo":  {returnTo},
	}
	return base + "?" + params.Encode()
}

// GenerateState returns a URL-safe random state value for the authorize flow
func GenerateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StaticSession is a Session with fixed values. It backs tests and flows
// where the embedding application already holds a provider token.
type StaticSession struct {
	ID          string
	BearerToken string
}

// Identity returns the fixed identity
func (s *StaticSession) Identity(ctx context.Context) (string, error) {
	return s.ID, nil
}

// Token returns the fixed bearer token
func (s *StaticSession) Token(ctx context.Context) (string, error) {
	return s.BearerToken, nil
}
