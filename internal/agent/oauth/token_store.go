package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"mcpauth/pkg/logging"
	pkgoauth "mcpauth/pkg/oauth"
)

const (
	// TokenFileName is the name of the token file inside the config directory.
	TokenFileName = "mcp-oauth.json"

	// lockTimeout bounds how long a writer waits for another process.
	lockTimeout = 5 * time.Second

	// lockRetryInterval is how often the file lock is retried.
	lockRetryInterval = 100 * time.Millisecond
)

// TokenStore persists token records for (host, resource) pairs in a single
// JSON file shared by all processes using the same config directory.
//
// SECURITY: This store handles sensitive OAuth credentials.
//   - The token file is written with 0600 permissions and chmod-ed again after rename
//   - The directory is created with 0700 permissions
//   - Writes go to a temporary file that is renamed over the target under a file lock
//   - Token values are NEVER logged (only keys)
type TokenStore struct {
	mu   sync.Mutex
	dir  string
	path string
}

// TokenStoreConfig configures the token store.
type TokenStoreConfig struct {
	// Dir is the directory holding the token file. Required.
	Dir string
}

// TokenEntry is one stored record together with its key.
type TokenEntry struct {
	Key   string
	Token *pkgoauth.TokenData
}

// tokenFile is the on-disk layout: a flat map from key to record.
type tokenFile map[string]*pkgoauth.TokenData

// NewTokenStore creates a token store rooted at cfg.Dir.
func NewTokenStore(cfg TokenStoreConfig) (*TokenStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("token store directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	return &TokenStore{
		dir:  cfg.Dir,
		path: filepath.Join(cfg.Dir, TokenFileName),
	}, nil
}

// Path returns the location of the token file.
func (s *TokenStore) Path() string {
	return s.path
}

// Save stores token under the key for host and resource, replacing any
// existing record for that key and keeping all others.
func (s *TokenStore) Save(host, resource string, token *pkgoauth.TokenData) error {
	if token == nil {
		return errors.New("token is nil")
	}
	key := pkgoauth.TokenKey(host, resource)

	err := s.update(func(tokens tokenFile) bool {
		tokens[key] = token
		return true
	})
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Event:   "token_store_failed",
			Message: "OAuth token storage failed",
			Server:  key,
			Err:     err,
		})
		return fmt.Errorf("failed to persist token: %w", err)
	}

	attrs := map[string]string{
		"has_refresh_token": fmt.Sprintf("%t", token.RefreshToken != ""),
	}
	if expiry := token.Expiry(); !expiry.IsZero() {
		attrs["expiry"] = expiry.Format(time.RFC3339)
	}
	logging.Audit(logging.AuditEvent{
		Event:      "token_stored",
		Message:    "OAuth token stored",
		Server:     key,
		Attributes: attrs,
	})
	return nil
}

// Load returns the record for host and resource. A missing file, a missing
// key and an unreadable or corrupt file all yield nil.
func (s *TokenStore) Load(host, resource string) *pkgoauth.TokenData {
	tokens := s.readAll()
	return tokens[pkgoauth.TokenKey(host, resource)]
}

// Delete removes the record for host and resource. Deleting a key that does
// not exist succeeds. When the last record is removed the file is deleted.
func (s *TokenStore) Delete(host, resource string) error {
	key := pkgoauth.TokenKey(host, resource)

	var existed bool
	err := s.update(func(tokens tokenFile) bool {
		_, existed = tokens[key]
		delete(tokens, key)
		return existed
	})
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Event:   "token_delete_failed",
			Message: "OAuth token deletion failed",
			Server:  key,
			Err:     err,
		})
		return err
	}

	if existed {
		logging.Audit(logging.AuditEvent{
			Event:   "token_deleted",
			Message: "OAuth token deleted",
			Server:  key,
		})
	}
	return nil
}

// ListByHost returns every record stored for host, sorted by key.
func (s *TokenStore) ListByHost(host string) []TokenEntry {
	prefix := pkgoauth.NormalizeHost(host) + "/"

	var entries []TokenEntry
	for _, entry := range s.List() {
		if strings.HasPrefix(entry.Key, prefix) {
			entries = append(entries, entry)
		}
	}
	return entries
}

// List returns every stored record, sorted by key.
func (s *TokenStore) List() []TokenEntry {
	tokens := s.readAll()

	entries := make([]TokenEntry, 0, len(tokens))
	for key, token := range tokens {
		if token == nil {
			continue
		}
		entries = append(entries, TokenEntry{Key: key, Token: token})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Clear removes the token file and with it every record.
func (s *TokenStore) Clear() error {
	count := 0
	err := s.update(func(tokens tokenFile) bool {
		count = len(tokens)
		for key := range tokens {
			delete(tokens, key)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Event:      "tokens_cleared",
		Message:    "All OAuth tokens cleared",
		Attributes: map[string]string{"tokens_cleared": fmt.Sprintf("%d", count)},
	})
	return nil
}

// readAll reads the token file without locking. Renames are atomic, so a
// reader sees either the old or the new file.
func (s *TokenStore) readAll() tokenFile {
	data, err := os.ReadFile(s.path) // #nosec G304 -- path is fixed inside the config directory
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("TokenStore", "Failed to read token file %s: %v", s.path, err)
		}
		return tokenFile{}
	}

	tokens := tokenFile{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		logging.Warn("TokenStore", "Ignoring corrupt token file %s: %v", s.path, err)
		return tokenFile{}
	}
	return tokens
}

// update performs a locked read-modify-write. mutate reports whether the
// file needs to be written. An empty result removes the file.
func (s *TokenStore) update(mutate func(tokens tokenFile) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileLock := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire token file lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire token file lock: timeout after %v", lockTimeout)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logging.Warn("TokenStore", "Failed to unlock %s: %v", s.path+".lock", err)
		}
	}()

	tokens := s.readAll()
	if !mutate(tokens) {
		return nil
	}

	if len(tokens) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove token file: %w", err)
		}
		return nil
	}

	return s.writeAll(tokens)
}

// writeAll atomically replaces the token file.
func (s *TokenStore) writeAll(tokens tokenFile) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, TokenFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary token file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpPath)
	}()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}

	// The final path must be owner-only regardless of umask.
	if err := os.Chmod(s.path, 0600); err != nil {
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	return nil
}
