package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// Script returns the evasion script bound to persona.
func Script(p schemas.Persona) (string, error) {
	cfg, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return fmt.Sprintf("%s(%s);", strings.TrimSpace(evasionsScript), cfg), nil
}

// AcceptLanguage renders the persona's languages as an Accept-Language header
// value with descending q weights.
func AcceptLanguage(languages []string) string {
	if len(languages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(languages))
	for i, lang := range languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Apply returns the CDP actions that make a headless tab present as persona.
func Apply(p schemas.Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(AcceptLanguage(p.Languages)),

		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}

	if p.Width > 0 && p.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1, false))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	return tasks
}
