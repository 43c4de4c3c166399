package schemas

// -- Browser Persona Schemas --

// Persona encapsulates the properties applied to every page for a consistent fingerprint.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
	Timezone  string   `json:"timezoneId"`
	Locale    string   `json:"locale"`
}

// DefaultPersona provides a fallback persona if none is specified.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Width:     1280,
	Height:    800,
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// -- Snapshot Schemas --

// HiddenAttr tags elements that the rendered page hides. Snapshots carry it so
// that markup readers can skip what stylesheets hide.
const HiddenAttr = "data-harvest-hidden"

// -- Storage State Schemas --

// CookieSameSite defines the SameSite attribute for cookies.
type CookieSameSite string

const (
	CookieSameSiteStrict CookieSameSite = "Strict"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteNone   CookieSameSite = "None"
)

// Cookie represents a browser cookie as it is stored in a session file.
// Expires is seconds since the epoch; -1 marks a session cookie.
type Cookie struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Domain   string         `json:"domain"`
	Path     string         `json:"path"`
	Expires  float64        `json:"expires"`
	HTTPOnly bool           `json:"httpOnly"`
	Secure   bool           `json:"secure"`
	SameSite CookieSameSite `json:"sameSite,omitempty"`
}

// NameValue is a single local storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState holds the local storage snapshot for one origin.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// StorageState is the serialized cookie jar plus per-origin local storage, sufficient
// to rebuild an authenticated browser context without logging in again.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// IsEmpty reports whether the state carries neither cookies nor origins.
func (s *StorageState) IsEmpty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}

// Clone returns a deep copy so a browsing context can hold the state without sharing it.
func (s *StorageState) Clone() *StorageState {
	if s == nil {
		return nil
	}
	out := &StorageState{
		Cookies: make([]Cookie, len(s.Cookies)),
		Origins: make([]OriginState, len(s.Origins)),
	}
	copy(out.Cookies, s.Cookies)
	for i, o := range s.Origins {
		items := make([]NameValue, len(o.LocalStorage))
		copy(items, o.LocalStorage)
		out.Origins[i] = OriginState{Origin: o.Origin, LocalStorage: items}
	}
	return out
}

// MergeOrigin replaces (or appends) the local storage snapshot for an origin.
func (s *StorageState) MergeOrigin(origin OriginState) {
	for i := range s.Origins {
		if s.Origins[i].Origin == origin.Origin {
			s.Origins[i] = origin
			return
		}
	}
	s.Origins = append(s.Origins, origin)
}
