package knockouts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/koscout/internal/interfaces"
	"github.com/ternarybob/koscout/internal/models"
)

// Template placeholders.
const (
	placeholderUnderlying = "{underlying}"
	placeholderDirection  = "{direction}"
)

// URLConfig describes how listing URLs are built for the origin.
type URLConfig struct {
	// Template is an absolute URL containing {underlying} and {direction}.
	Template   string
	LongToken  string
	ShortToken string
	// BrokerParam and FeatureParam name the query parameters carrying the
	// optional discriminators. Empty disables them.
	BrokerParam  string
	FeatureParam string
}

// DefaultURLConfig returns the template for the default listings site.
func DefaultURLConfig() URLConfig {
	return URLConfig{
		Template:     "https://derivate.example.com/knock-outs/{underlying}?richtung={direction}",
		LongToken:    "long",
		ShortToken:   "short",
		BrokerParam:  "broker",
		FeatureParam: "merkmal",
	}
}

// URLBuilder maps an underlying name to the long and short listing URLs.
type URLBuilder struct {
	cfg URLConfig
}

var _ interfaces.URLBuilder = (*URLBuilder)(nil)

// NewURLBuilder validates the template and tokens.
func NewURLBuilder(cfg URLConfig) (*URLBuilder, error) {
	if !strings.Contains(cfg.Template, placeholderUnderlying) {
		return nil, fmt.Errorf("url template missing %s", placeholderUnderlying)
	}
	if !strings.Contains(cfg.Template, placeholderDirection) {
		return nil, fmt.Errorf("url template missing %s", placeholderDirection)
	}
	if cfg.LongToken == "" || cfg.ShortToken == "" || cfg.LongToken == cfg.ShortToken {
		return nil, errors.New("long and short tokens must be set and differ")
	}
	sample := strings.NewReplacer(placeholderUnderlying, "x", placeholderDirection, "x").Replace(cfg.Template)
	if _, err := parseAbsolute(sample); err != nil {
		return nil, fmt.Errorf("invalid url template: %w", err)
	}
	return &URLBuilder{cfg: cfg}, nil
}

// Build returns the long and short URLs for underlying.
func (b *URLBuilder) Build(underlying string, cfg models.FilterConfig) (string, string, error) {
	underlying = strings.Join(strings.Fields(underlying), " ")
	if underlying == "" {
		return "", "", errors.New("underlying is empty")
	}
	longURL, err := b.build(underlying, b.cfg.LongToken, cfg)
	if err != nil {
		return "", "", err
	}
	shortURL, err := b.build(underlying, b.cfg.ShortToken, cfg)
	if err != nil {
		return "", "", err
	}
	return longURL, shortURL, nil
}

func (b *URLBuilder) build(underlying, direction string, cfg models.FilterConfig) (string, error) {
	raw := strings.NewReplacer(
		placeholderUnderlying, url.PathEscape(underlying),
		placeholderDirection, url.QueryEscape(direction),
	).Replace(b.cfg.Template)

	u, err := parseAbsolute(raw)
	if err != nil {
		return "", fmt.Errorf("failed to build url for %q: %w", underlying, err)
	}

	query := u.Query()
	if b.cfg.BrokerParam != "" && cfg.Broker != "" {
		query.Set(b.cfg.BrokerParam, cfg.Broker)
	}
	if b.cfg.FeatureParam != "" {
		for _, f := range cfg.Features {
			if f = strings.TrimSpace(f); f != "" {
				query.Add(b.cfg.FeatureParam, f)
			}
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}
