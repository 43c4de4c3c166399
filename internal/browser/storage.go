// internal/browser/storage.go
package browser

import (
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

// primedFlag marks a tab whose local storage has already been seeded, so a
// later navigation does not overwrite values the application changed.
const primedFlag = "__harvest_primed"

// captureOriginJS returns the current origin and its local storage entries.
const captureOriginJS = `(() => {
	const items = [];
	try {
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			items.push({ name: k, value: localStorage.getItem(k) });
		}
	} catch (e) {}
	return { origin: location.origin, localStorage: items };
})()`

// toCookieParams converts stored cookies into CDP cookie parameters.
func toCookieParams(cookies []schemas.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		// Session cookies (-1 or 0) are sent without an expiry.
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			p.Expires = &expires
		}
		switch c.SameSite {
		case schemas.CookieSameSiteStrict:
			p.SameSite = network.CookieSameSiteStrict
		case schemas.CookieSameSiteLax:
			p.SameSite = network.CookieSameSiteLax
		case schemas.CookieSameSiteNone:
			p.SameSite = network.CookieSameSiteNone
		}
		params = append(params, p)
	}
	return params
}

// fromNetworkCookies converts CDP cookies into their stored form.
func fromNetworkCookies(cookies []*network.Cookie) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		sc := schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: schemas.CookieSameSite(c.SameSite.String()),
		}
		if c.Session {
			sc.Expires = -1
		}
		out = append(out, sc)
	}
	return out
}

// primeScript builds an init script that seeds the local storage of one
// origin. It only acts on documents of that origin and only once per tab.
func primeScript(o schemas.OriginState) (string, error) {
	origin, err := json.Marshal(o.Origin)
	if err != nil {
		return "", err
	}
	items, err := json.Marshal(o.LocalStorage)
	if err != nil {
		return "", err
	}
	flag, _ := json.Marshal(primedFlag)

	return fmt.Sprintf(`(() => {
	if (location.origin !== %[1]s) return;
	try {
		if (sessionStorage.getItem(%[3]s)) return;
		const items = %[2]s;
		for (const it of items) localStorage.setItem(it.name, it.value);
		sessionStorage.setItem(%[3]s, "1");
	} catch (e) {}
})();`, origin, items, flag), nil
}
