// Package storage owns the durable client-side session state: the access
// token, the refresh token, and the cached user profile. All operations are
// synchronous and never return errors; a store whose backing medium is
// unavailable degrades to a silent no-op so call sites do not have to branch
// on persistence availability.
package storage

import (
	"github.com/huddleapp/huddle-go/models"
)

// Fixed keys under which session state is persisted
const (
	KeyAccessToken  = "huddle_access_token"
	KeyRefreshToken = "huddle_refresh_token"
	KeyUser         = "huddle_user"
)

// TokenStore is the contract for persisted session state. Implementations
// must be safe for concurrent use. GetToken returns the empty string and
// GetUser returns nil when the key is absent or the store is degraded.
type TokenStore interface {
	SetToken(key, value string)
	GetToken(key string) string
	RemoveToken(key string)
	SetUser(profile *models.UserProfile)
	GetUser() *models.UserProfile
	// SetSession replaces the token pair and user profile as one write, so
	// no reader can observe a token scoped to one org paired with a profile
	// from another. An empty RefreshToken keeps the stored one.
	SetSession(pair *models.TokenPair, profile *models.UserProfile)
	ClearAll()
}

// NoopStore is a TokenStore whose backing medium is unavailable. Every write
// is dropped and every read returns the zero value.
type NoopStore struct{}

// NewNoopStore returns a store that persists nothing
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (NoopStore) SetToken(key, value string)                                       {}
func (NoopStore) GetToken(key string) string                                       { return "" }
func (NoopStore) RemoveToken(key string)                                           {}
func (NoopStore) SetUser(profile *models.UserProfile)                              {}
func (NoopStore) GetUser() *models.UserProfile                                     { return nil }
func (NoopStore) SetSession(pair *models.TokenPair, profile *models.UserProfile)   {}
func (NoopStore) ClearAll()                                                        {}
