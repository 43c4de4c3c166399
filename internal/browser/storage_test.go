// internal/browser/storage_test.go
package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

func TestToCookieParams(t *testing.T) {
	params := toCookieParams([]schemas.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/app", Expires: 1893456000.5, HTTPOnly: true, Secure: true, SameSite: schemas.CookieSameSiteLax},
		{Name: "pref", Value: "dark", Domain: "example.com", Expires: -1},
	})
	require.Len(t, params, 2)

	sid := params[0]
	assert.Equal(t, "sid", sid.Name)
	assert.Equal(t, "/app", sid.Path)
	assert.True(t, sid.HTTPOnly)
	assert.Equal(t, network.CookieSameSiteLax, sid.SameSite)
	require.NotNil(t, sid.Expires)
	assert.Equal(t, int64(1893456000), sid.Expires.Time().Unix())
	assert.InDelta(t, 500*time.Millisecond, time.Duration(sid.Expires.Time().Nanosecond()), float64(time.Millisecond))

	pref := params[1]
	assert.Equal(t, "/", pref.Path, "empty path defaults to root")
	assert.Nil(t, pref.Expires, "session cookies carry no expiry")
	assert.Empty(t, pref.SameSite)
}

func TestFromNetworkCookies(t *testing.T) {
	cookies := fromNetworkCookies([]*network.Cookie{
		{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Expires: 1893456000, HTTPOnly: true, SameSite: network.CookieSameSiteStrict},
		nil,
		{Name: "tmp", Value: "1", Domain: "example.com", Path: "/", Expires: 0, Session: true},
	})
	require.Len(t, cookies, 2)
	assert.Equal(t, schemas.CookieSameSiteStrict, cookies[0].SameSite)
	assert.Equal(t, float64(1893456000), cookies[0].Expires)
	assert.Equal(t, float64(-1), cookies[1].Expires)
}

func TestPrimeScript(t *testing.T) {
	script, err := primeScript(schemas.OriginState{
		Origin: "https://app.example.com",
		LocalStorage: []schemas.NameValue{
			{Name: "auth_token", Value: `ey"quoted"`},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, script, `location.origin !== "https://app.example.com"`)
	assert.Contains(t, script, `"name":"auth_token"`)
	assert.Contains(t, script, `ey\"quoted\"`, "values are JSON encoded")
	assert.Contains(t, script, `sessionStorage.getItem("__harvest_primed")`)
}
