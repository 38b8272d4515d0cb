package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/koscout/internal/models"
)

// Scopes for Key. A search caches both directions under ScopeBoth.
const (
	ScopeBoth  = "both"
	ScopeLong  = "long"
	ScopeShort = "short"
)

// Key derives a stable cache key from the underlying, the direction scope and
// the filter fields that change the result. Issuer order, case and spacing do
// not matter; two logically identical searches always share a key.
func Key(underlying, scope string, cfg models.FilterConfig) string {
	issuers := make([]string, 0, len(cfg.Issuers))
	seen := make(map[string]bool, len(cfg.Issuers))
	for _, issuer := range cfg.Issuers {
		n := models.NormalizeIssuerName(issuer)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		issuers = append(issuers, n)
	}
	sort.Strings(issuers)

	features := make([]string, 0, len(cfg.Features))
	for _, f := range cfg.Features {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			features = append(features, f)
		}
	}
	sort.Strings(features)

	parts := []string{
		"lev=" + formatFloat(cfg.MinLeverage),
		"spread=" + formatFloat(cfg.MaxSpreadPct),
		"dist=" + formatFloat(cfg.MinDistancePct),
		"issuers=" + strings.Join(issuers, "|"),
		"top=" + strconv.Itoa(cfg.TopN),
		"broker=" + strings.ToLower(strings.TrimSpace(cfg.Broker)),
		"features=" + strings.Join(features, "|"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))

	u := strings.ToLower(strings.Join(strings.Fields(underlying), " "))
	return "ko:" + u + ":" + strings.ToLower(scope) + ":" + hex.EncodeToString(sum[:8])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
