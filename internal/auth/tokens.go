package auth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/poll"
)

//go:embed tokens.js
var probeScript string

// Key prefixes for harvested tokens, by where they were found.
const (
	PrefixLocal   = "local:"
	PrefixSession = "session:"
	PrefixGlobal  = "global:"
)

var tokenMarkers = []string{"token", "auth", "jwt", "bearer", "session"}

// minGlobalLength filters out short flag-like globals.
const minGlobalLength = 16

// Evaluator runs a script in the page.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, res interface{}) error
}

// Snapshot is the raw client-side state the probe script returns.
type Snapshot struct {
	Local   map[string]string `json:"local"`
	Session map[string]string `json:"session"`
	Globals map[string]string `json:"globals"`
}

func isTokenName(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range tokenMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Tokens returns the token-shaped entries of the snapshot, keyed by origin
// prefix and name.
func (s Snapshot) Tokens() map[string]string {
	out := make(map[string]string)
	for k, v := range s.Local {
		if isTokenName(k) {
			out[PrefixLocal+k] = v
		}
	}
	for k, v := range s.Session {
		if isTokenName(k) {
			out[PrefixSession+k] = v
		}
	}
	for k, v := range s.Globals {
		if isTokenName(k) && len(v) >= minGlobalLength {
			out[PrefixGlobal+k] = v
		}
	}
	return out
}

// HasTokens reports whether client storage holds a token-shaped key yet.
func (s Snapshot) HasTokens() bool {
	for k := range s.Local {
		if isTokenName(k) {
			return true
		}
	}
	for k := range s.Session {
		if isTokenName(k) {
			return true
		}
	}
	return false
}

// TokenHarvester captures auth tokens that live outside cookies.
type TokenHarvester struct {
	logger *zap.Logger
}

func NewTokenHarvester(logger *zap.Logger) *TokenHarvester {
	return &TokenHarvester{logger: logger.Named("tokens")}
}

// Snapshot runs the probe script once.
func (h *TokenHarvester) Snapshot(ctx context.Context, p Evaluator) (Snapshot, error) {
	var snap Snapshot
	if err := p.Evaluate(ctx, probeScript, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to probe client storage: %w", err)
	}
	return snap, nil
}

// Harvest returns the token-shaped values visible to page scripts. An empty
// map is a normal result.
func (h *TokenHarvester) Harvest(ctx context.Context, p Evaluator) (map[string]string, error) {
	snap, err := h.Snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	tokens := snap.Tokens()
	h.logger.Debug("Harvested tokens.", zap.Strings("names", sortedKeys(tokens)))
	return tokens, nil
}

// AwaitStorageSettled polls client storage until a token-shaped key shows up
// or timeout elapses, and returns the last snapshot either way. Probe errors
// while the app is still booting are retried.
func (h *TokenHarvester) AwaitStorageSettled(ctx context.Context, p Evaluator, timeout, interval time.Duration) (Snapshot, error) {
	var last Snapshot
	err := poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		snap, err := h.Snapshot(ctx, p)
		if err != nil {
			h.logger.Debug("Storage probe failed, retrying.", zap.Error(err))
			return false, nil
		}
		last = snap
		return snap.HasTokens(), nil
	})
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, poll.ErrTimeout):
		h.logger.Debug("No token-shaped storage key appeared before the deadline.", zap.Duration("timeout", timeout))
		return last, nil
	default:
		return last, err
	}
}

// TokenInfo describes one stored token for display.
type TokenInfo struct {
	Name      string
	JWT       bool
	ExpiresAt *time.Time
	Preview   string
}

// Expired reports whether the token carries an exp claim in the past.
func (t TokenInfo) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// InspectTokens decodes JWT-shaped values, without verifying them, to read
// their expiry. Results are sorted by name.
func InspectTokens(tokens map[string]string) []TokenInfo {
	parser := jwt.NewParser()
	infos := make([]TokenInfo, 0, len(tokens))
	for _, name := range sortedKeys(tokens) {
		value := tokens[name]
		info := TokenInfo{Name: name, Preview: preview(value)}

		raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(value, "Bearer "), "bearer "))
		if strings.Count(raw, ".") == 2 {
			claims := jwt.MapClaims{}
			if _, _, err := parser.ParseUnverified(raw, claims); err == nil {
				info.JWT = true
				if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
					t := exp.Time.UTC()
					info.ExpiresAt = &t
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// ReinjectionScript builds an init script restoring local: and session:
// tokens for origin before the app's own scripts run. Keys already present
// are left alone. It returns "" when there is nothing to restore.
func ReinjectionScript(origin string, tokens map[string]string) (string, error) {
	local := map[string]string{}
	session := map[string]string{}
	for k, v := range tokens {
		switch {
		case strings.HasPrefix(k, PrefixLocal):
			local[strings.TrimPrefix(k, PrefixLocal)] = v
		case strings.HasPrefix(k, PrefixSession):
			session[strings.TrimPrefix(k, PrefixSession)] = v
		}
	}
	if origin == "" || (len(local) == 0 && len(session) == 0) {
		return "", nil
	}

	encoded, err := json.Marshal(map[string]interface{}{
		"origin":  origin,
		"local":   local,
		"session": session,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode tokens: %w", err)
	}
	return fmt.Sprintf(`(() => {
	const t = %s;
	if (location.origin !== t.origin) return;
	const restore = (store, entries) => {
		for (const [k, v] of Object.entries(entries)) {
			try { if (store.getItem(k) === null) store.setItem(k, v); } catch (e) {}
		}
	};
	restore(window.localStorage, t.local);
	restore(window.sessionStorage, t.session);
})();`, encoded), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func preview(v string) string {
	if len(v) <= 12 {
		return strings.Repeat("*", len(v))
	}
	return v[:6] + "..." + v[len(v)-4:]
}
