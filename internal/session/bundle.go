package session

import (
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

// CurrentVersion is the only bundle format this build reads and writes.
const CurrentVersion = 1

var (
	ErrUnknownVersion = errors.New("unknown session bundle version")
	ErrEmptyState     = errors.New("session bundle has no cookies or origins")
	ErrUnrecognized   = errors.New("file is not a session bundle")
)

// Bundle is the persisted session: storage state plus the metadata needed to
// decide whether it can still be reused.
type Bundle struct {
	Version       int                  `json:"version"`
	CreatedAt     string               `json:"createdAt"`
	LastVerified  string               `json:"lastVerified"`
	Username      string               `json:"username"`
	MaxAgeMinutes int                  `json:"maxAgeMinutes"`
	StorageState  schemas.StorageState `json:"storageState"`
	Tokens        map[string]string    `json:"tokens"`
}

// Created parses CreatedAt.
func (b *Bundle) Created() (time.Time, bool) { return parseTimestamp(b.CreatedAt) }

// Verified parses LastVerified.
func (b *Bundle) Verified() (time.Time, bool) { return parseTimestamp(b.LastVerified) }

// timestampLayouts covers RFC 3339 plus the offset-less ISO forms older
// files were written with. Offset-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// legacyMeta is the snake_case metadata block of the {meta, storage_state} format.
type legacyMeta struct {
	Version       int    `json:"version"`
	CreatedAt     string `json:"created_at"`
	LastVerified  string `json:"last_verified"`
	Username      string `json:"username"`
	MaxAgeMinutes int    `json:"max_age_minutes"`
}

// fileProbe overlays every accepted layout so one decode can tell them apart.
type fileProbe struct {
	Version      *int                  `json:"version"`
	StorageState *schemas.StorageState `json:"storageState"`

	Meta        *legacyMeta           `json:"meta"`
	LegacyState *schemas.StorageState `json:"storage_state"`

	Cookies []schemas.Cookie      `json:"cookies"`
	Origins []schemas.OriginState `json:"origins"`
}

// decode turns file contents into a bundle. modTime stands in for the
// timestamps of a bare storage state, which carries none.
func decode(data []byte, modTime time.Time, defaultMaxAge int) (*Bundle, error) {
	var probe fileProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed session file: %w", err)
	}

	var b *Bundle
	switch {
	case probe.Meta != nil || probe.LegacyState != nil:
		if probe.Meta == nil || probe.LegacyState == nil {
			return nil, ErrUnrecognized
		}
		b = &Bundle{
			Version:       probe.Meta.Version,
			CreatedAt:     probe.Meta.CreatedAt,
			LastVerified:  probe.Meta.LastVerified,
			Username:      probe.Meta.Username,
			MaxAgeMinutes: probe.Meta.MaxAgeMinutes,
			StorageState:  *probe.LegacyState,
		}

	case probe.Version != nil || probe.StorageState != nil:
		b = &Bundle{}
		if err := json.Unmarshal(data, b); err != nil {
			return nil, fmt.Errorf("malformed session bundle: %w", err)
		}
		if probe.Version == nil {
			return nil, ErrUnknownVersion
		}

	case probe.Cookies != nil || probe.Origins != nil:
		stamp := formatTimestamp(modTime)
		b = &Bundle{
			Version:      CurrentVersion,
			CreatedAt:    stamp,
			LastVerified: stamp,
			StorageState: schemas.StorageState{Cookies: probe.Cookies, Origins: probe.Origins},
		}

	default:
		return nil, ErrUnrecognized
	}

	if b.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, b.Version)
	}
	if b.StorageState.IsEmpty() {
		return nil, ErrEmptyState
	}
	if b.MaxAgeMinutes <= 0 {
		b.MaxAgeMinutes = defaultMaxAge
	}
	if b.Tokens == nil {
		b.Tokens = map[string]string{}
	}
	return b, nil
}
