package storage

import (
	"sync"

	"github.com/huddleapp/huddle-go/models"
)

// MemoryStore is an in-process TokenStore. It backs tests and environments
// that must not touch disk; nothing survives the process.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]string
	user   *models.UserProfile
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]string),
	}
}

// SetToken stores a token value under the given key
func (s *MemoryStore) SetToken(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = value
}

// GetToken returns the token under key, or "" when absent
func (s *MemoryStore) GetToken(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[key]
}

// RemoveToken deletes the token under key
func (s *MemoryStore) RemoveToken(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
}

// SetUser caches the user profile
func (s *MemoryStore) SetUser(profile *models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = profile
}

// GetUser returns the cached user profile, or nil
func (s *MemoryStore) GetUser() *models.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetSession replaces tokens and profile under a single lock acquisition
func (s *MemoryStore) SetSession(pair *models.TokenPair, profile *models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[KeyAccessToken] = pair.AccessToken
	if pair.RefreshToken != "" {
		s.tokens[KeyRefreshToken] = pair.RefreshToken
	}
	s.user = profile
}

// ClearAll removes all session state
func (s *MemoryStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
	s.user = nil
}
