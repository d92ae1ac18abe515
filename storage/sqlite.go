package storage

import (
	"database/sql"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/huddleapp/huddle-go/models"
)

const probeKey = "huddle_probe"

// SQLiteStore is a TokenStore backed by a single local sqlite file. All
// errors after a successful open are swallowed and logged at debug level;
// losing persistence must never fail an auth operation.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the sqlite file at path and probes it
// with a trivial write/read/delete. When the open or the probe fails the
// returned store is a NoopStore, so callers never branch on persistence.
func NewSQLiteStore(path string, logger *zap.Logger) TokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Warn("session store unavailable, running without persistence", zap.Error(err))
		return NewNoopStore()
	}
	// One writer at a time keeps sqlite's locking out of the picture.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, logger)
}

// newSQLStore wraps an opened database handle. Split from NewSQLiteStore so
// tests can inject a mocked driver.
func newSQLStore(db *sql.DB, logger *zap.Logger) TokenStore {
	s := &SQLiteStore{db: db, logger: logger}
	if !s.probe() {
		logger.Warn("session store probe failed, running without persistence")
		_ = db.Close()
		return NewNoopStore()
	}
	return s
}

// probe verifies the medium accepts a trivial write, read, and delete
func (s *SQLiteStore) probe() bool {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS session_kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return false
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO session_kv (key, value) VALUES (?, ?)`, probeKey, "ok"); err != nil {
		return false
	}
	var v string
	if err := s.db.QueryRow(`SELECT value FROM session_kv WHERE key = ?`, probeKey).Scan(&v); err != nil || v != "ok" {
		return false
	}
	if _, err := s.db.Exec(`DELETE FROM session_kv WHERE key = ?`, probeKey); err != nil {
		return false
	}
	return true
}

// SetToken stores a token value under the given key
func (s *SQLiteStore) SetToken(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
}

// GetToken returns the token under key, or "" when absent
func (s *SQLiteStore) GetToken(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

// RemoveToken deletes the token under key
func (s *SQLiteStore) RemoveToken(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
}

// SetUser caches the serialized user profile
func (s *SQLiteStore) SetUser(profile *models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setUser(profile)
}

// GetUser returns the cached user profile, or nil
func (s *SQLiteStore) GetUser() *models.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := s.get(KeyUser)
	if raw == "" {
		return nil
	}
	var profile models.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.logger.Debug("stored user profile unreadable", zap.Error(err))
		return nil
	}
	return &profile
}

// SetSession replaces tokens and profile inside one transaction
func (s *SQLiteStore) SetSession(pair *models.TokenPair, profile *models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Debug("session store write failed", zap.Error(err))
		return
	}

	upsert := func(key, value string) {
		if err == nil {
			_, err = tx.Exec(`INSERT OR REPLACE INTO session_kv (key, value) VALUES (?, ?)`, key, value)
		}
	}

	upsert(KeyAccessToken, pair.AccessToken)
	if pair.RefreshToken != "" {
		upsert(KeyRefreshToken, pair.RefreshToken)
	}
	if raw, merr := json.Marshal(profile); merr == nil {
		upsert(KeyUser, string(raw))
	} else {
		err = merr
	}

	if err != nil {
		s.logger.Debug("session store write failed", zap.Error(err))
		_ = tx.Rollback()
		return
	}
	if err := tx.Commit(); err != nil {
		s.logger.Debug("session store commit failed", zap.Error(err))
	}
}

// ClearAll removes all session state
func (s *SQLiteStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM session_kv`); err != nil {
		s.logger.Debug("session store clear failed", zap.Error(err))
	}
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) set(key, value string) {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO session_kv (key, value) VALUES (?, ?)`, key, value); err != nil {
		s.logger.Debug("session store write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *SQLiteStore) get(key string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Debug("session store read failed", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return value
}

func (s *SQLiteStore) remove(key string) {
	if _, err := s.db.Exec(`DELETE FROM session_kv WHERE key = ?`, key); err != nil {
		s.logger.Debug("session store delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *SQLiteStore) setUser(profile *models.UserProfile) {
	if profile == nil {
		s.remove(KeyUser)
		return
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		s.logger.Debug("user profile marshal failed", zap.Error(err))
		return
	}
	s.set(KeyUser, string(raw))
}
