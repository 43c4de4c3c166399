// Package session persists authenticated browser sessions between runs and
// decides when a stored one may be reused.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/fsutil"
)

const fileMode os.FileMode = 0o600

// Store reads and writes the session file. It assumes a single writer.
type Store struct {
	fs            afero.Fs
	path          string
	maxAgeMinutes int
	logger        *zap.Logger
	now           func() time.Time
}

// NewStore creates a store for path (which may start with ~). maxAgeMinutes
// applies to new bundles and to loaded ones that carry no limit of their own.
func NewStore(fs afero.Fs, path string, maxAgeMinutes int, logger *zap.Logger) (*Store, error) {
	expanded, err := fsutil.Expand(path)
	if err != nil {
		return nil, err
	}
	if maxAgeMinutes <= 0 {
		return nil, fmt.Errorf("max age must be positive, got %d", maxAgeMinutes)
	}
	return &Store{
		fs:            fs,
		path:          expanded,
		maxAgeMinutes: maxAgeMinutes,
		logger:        logger.Named("session_store"),
		now:           time.Now,
	}, nil
}

// Path returns the expanded session file path.
func (s *Store) Path() string { return s.path }

// Load returns the stored bundle, or nil when there is nothing reusable:
// a missing, malformed, unknown-version or empty file. Only I/O failures are
// reported as errors.
func (s *Store) Load(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("No session file found.", zap.String("path", s.path))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	b, err := decode(data, info.ModTime(), s.maxAgeMinutes)
	if err != nil {
		s.logger.Warn("Ignoring stored session.", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}

	s.logger.Info("Loaded stored session.",
		zap.String("username", b.Username),
		zap.String("created_at", b.CreatedAt),
		zap.String("last_verified", b.LastVerified),
		zap.Int("cookies", len(b.StorageState.Cookies)),
		zap.Int("origins", len(b.StorageState.Origins)),
	)
	return b, nil
}

// Age is the time since the bundle was last verified. It reports false when
// LastVerified is missing or unparsable.
func (s *Store) Age(b *Bundle) (time.Duration, bool) {
	if b == nil {
		return 0, false
	}
	verified, ok := b.Verified()
	if !ok {
		return 0, false
	}
	return s.now().Sub(verified), true
}

// IsUsable reports whether b may be reused without logging in.
func (s *Store) IsUsable(b *Bundle, forceRefresh bool) bool {
	if b == nil || forceRefresh {
		return false
	}
	if b.Version != CurrentVersion || b.StorageState.IsEmpty() {
		return false
	}
	age, ok := s.Age(b)
	if !ok {
		return false
	}
	maxAge := b.MaxAgeMinutes
	if maxAge <= 0 {
		maxAge = s.maxAgeMinutes
	}
	return age <= time.Duration(maxAge)*time.Minute
}

// Persist writes a fresh bundle for state and returns it. CreatedAt is
// carried over from previous when there is one, tokens are merged over the
// previous ones, and an empty state is still written.
func (s *Store) Persist(ctx context.Context, state *schemas.StorageState, tokens map[string]string, usernameHint string, previous *Bundle) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := formatTimestamp(s.now())
	b := &Bundle{
		Version:       CurrentVersion,
		CreatedAt:     now,
		LastVerified:  now,
		Username:      usernameHint,
		MaxAgeMinutes: s.maxAgeMinutes,
		StorageState:  normalizeState(state),
		Tokens:        make(map[string]string, len(tokens)),
	}

	if previous != nil {
		if previous.CreatedAt != "" {
			b.CreatedAt = previous.CreatedAt
		}
		if b.Username == "" {
			b.Username = previous.Username
		}
		for k, v := range previous.Tokens {
			b.Tokens[k] = v
		}
	}
	for k, v := range tokens {
		b.Tokens[k] = v
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session bundle: %w", err)
	}
	if err := fsutil.WriteAtomic(s.fs, s.path, data, fileMode); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if b.StorageState.IsEmpty() {
		s.logger.Warn("Persisted a session without cookies or origins; a later run may enrich it.", zap.String("path", s.path))
	} else {
		s.logger.Info("Session persisted.",
			zap.String("path", s.path),
			zap.Int("cookies", len(b.StorageState.Cookies)),
			zap.Int("origins", len(b.StorageState.Origins)),
			zap.Int("tokens", len(b.Tokens)),
		)
	}
	return b, nil
}

// normalizeState copies state with nil slices replaced by empty ones so the
// file always carries arrays.
func normalizeState(state *schemas.StorageState) schemas.StorageState {
	out := schemas.StorageState{Cookies: []schemas.Cookie{}, Origins: []schemas.OriginState{}}
	if c := state.Clone(); c != nil {
		if c.Cookies != nil {
			out.Cookies = c.Cookies
		}
		if c.Origins != nil {
			out.Origins = c.Origins
		}
	}
	return out
}
