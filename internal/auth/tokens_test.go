package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSnapshot_Tokens(t *testing.T) {
	snap := Snapshot{
		Local:   map[string]string{"authToken": "a", "theme": "dark", "JWT_cache": "j"},
		Session: map[string]string{"SessionId": "s", "scroll": "10"},
		Globals: map[string]string{
			"APP_BEARER":      "0123456789abcdef0123",
			"_session_hint":   "short",
			"__NEXT_DATA_KEY": "not-a-token-name-but-long",
		},
	}

	assert.Equal(t, map[string]string{
		"local:authToken":    "a",
		"local:JWT_cache":    "j",
		"session:SessionId":  "s",
		"global:APP_BEARER":  "0123456789abcdef0123",
	}, snap.Tokens())
	assert.True(t, snap.HasTokens())

	assert.False(t, Snapshot{Local: map[string]string{"theme": "dark"}}.HasTokens())
	assert.False(t, Snapshot{Globals: map[string]string{"APP_TOKEN": "0123456789abcdef"}}.HasTokens(),
		"globals alone do not signal settled storage")
	assert.Empty(t, Snapshot{}.Tokens())
}

func TestTokenHarvester_Harvest(t *testing.T) {
	h := NewTokenHarvester(zaptest.NewLogger(t))

	page := newFakePage()
	page.snapshot = Snapshot{Local: map[string]string{"access_token": "abc"}}
	tokens, err := h.Harvest(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"local:access_token": "abc"}, tokens)

	page.snapshotFn = func(int) (Snapshot, error) { return Snapshot{}, errors.New("boom") }
	_, err = h.Harvest(context.Background(), page)
	assert.Error(t, err)
}

func TestTokenHarvester_AwaitStorageSettled(t *testing.T) {
	h := NewTokenHarvester(zaptest.NewLogger(t))

	t.Run("returns once a token key appears", func(t *testing.T) {
		page := newFakePage()
		page.snapshotFn = func(call int) (Snapshot, error) {
			switch {
			case call == 1:
				return Snapshot{}, errors.New("execution context was destroyed")
			case call < 4:
				return Snapshot{Local: map[string]string{"theme": "dark"}}, nil
			default:
				return Snapshot{Local: map[string]string{"theme": "dark", "id_token": "x"}}, nil
			}
		}

		snap, err := h.AwaitStorageSettled(context.Background(), page, time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "x", snap.Local["id_token"])
		assert.Equal(t, 4, page.evaluated)
	})

	t.Run("timeout returns the last snapshot", func(t *testing.T) {
		page := newFakePage()
		page.snapshot = Snapshot{Local: map[string]string{"theme": "dark"}}

		snap, err := h.AwaitStorageSettled(context.Background(), page, 20*time.Millisecond, 5*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "dark", snap.Local["theme"])
	})

	t.Run("caller cancellation is reported", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.AwaitStorageSettled(ctx, newFakePage(), time.Second, time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInspectTokens(t *testing.T) {
	exp := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42", "exp": exp.Unix()}).SignedString([]byte("secret"))
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	infos := InspectTokens(map[string]string{
		"local:auth_token":  signed,
		"session:bearer":    "Bearer " + noExp,
		"global:APP_SESSION": "opaque-session-value-1234",
		"local:jwt_broken":  "a.b.c",
	})
	require.Len(t, infos, 4)

	byName := map[string]TokenInfo{}
	for _, i := range infos {
		byName[i.Name] = i
	}
	assert.Equal(t, "global:APP_SESSION", infos[0].Name, "sorted by name")

	tok := byName["local:auth_token"]
	assert.True(t, tok.JWT)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, tok.ExpiresAt.Equal(exp))
	assert.True(t, tok.Expired(exp.Add(time.Second)))
	assert.False(t, tok.Expired(exp.Add(-time.Second)))

	assert.True(t, byName["session:bearer"].JWT)
	assert.Nil(t, byName["session:bearer"].ExpiresAt)
	assert.False(t, byName["global:APP_SESSION"].JWT)
	assert.False(t, byName["local:jwt_broken"].JWT)
	assert.Equal(t, "opaque...1234", byName["global:APP_SESSION"].Preview)
	assert.Equal(t, "*****", byName["local:jwt_broken"].Preview)
}

func TestReinjectionScript(t *testing.T) {
	script, err := ReinjectionScript("https://app.example.com", map[string]string{
		"local:auth_token":   "abc",
		"session:sessionId":  "s1",
		"global:APP_SESSION": "ignored",
	})
	require.NoError(t, err)
	assert.Contains(t, script, `location.origin !== t.origin`)
	assert.Contains(t, script, `"origin":"https://app.example.com"`)
	assert.Contains(t, script, `"auth_token":"abc"`)
	assert.Contains(t, script, `"sessionId":"s1"`)
	assert.NotContains(t, script, "APP_SESSION")

	empty, err := ReinjectionScript("https://app.example.com", map[string]string{"global:APP_SESSION": "x"})
	require.NoError(t, err)
	assert.Empty(t, empty)

	empty, err = ReinjectionScript("", map[string]string{"local:a": "b"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
