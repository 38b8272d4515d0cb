package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilterConfig_Valid(t *testing.T) {
	cfg, err := NewFilterConfig(5, 2.0, 3.0, 10, []string{"Vontobel", "HSBC"}, WithBroker(" comdirect "), WithFeatures("open-end"))
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.MinLeverage)
	assert.Equal(t, "comdirect", cfg.Broker)
	assert.Equal(t, []string{"open-end"}, cfg.Features)
}

func TestNewFilterConfig_FailsFast(t *testing.T) {
	tests := []struct {
		name    string
		lev     float64
		spread  float64
		dist    float64
		topN    int
		issuers []string
	}{
		{"negative leverage", -1, 2, 0, 3, []string{"HSBC"}},
		{"negative spread", 5, -0.1, 0, 3, []string{"HSBC"}},
		{"negative distance", 5, 2, -3, 3, []string{"HSBC"}},
		{"NaN leverage", math.NaN(), 2, 0, 3, []string{"HSBC"}},
		{"zero top n", 5, 2, 0, 0, []string{"HSBC"}},
		{"empty issuers", 5, 2, 0, 3, nil},
		{"blank issuer", 5, 2, 0, 3, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilterConfig(tt.lev, tt.spread, tt.dist, tt.topN, tt.issuers)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidFilterConfig)
		})
	}
}

func TestIssuerAllowed(t *testing.T) {
	cfg, err := NewFilterConfig(0, 5, 0, 3, []string{"Société  Générale", "42"})
	require.NoError(t, err)

	id := 42
	other := 7
	assert.True(t, cfg.IssuerAllowed(Issuer{Name: "société générale"}))
	assert.True(t, cfg.IssuerAllowed(Issuer{Name: "Unknown", ID: &id}))
	assert.True(t, cfg.IssuerAllowed(Issuer{Name: "Société Générale", ID: &other}))
	assert.False(t, cfg.IssuerAllowed(Issuer{Name: "HSBC", ID: &other}))
	assert.False(t, cfg.IssuerAllowed(Issuer{}))
}

func TestScoringParamsValidate(t *testing.T) {
	require.NoError(t, DefaultScoringParams().Validate())
	assert.InDelta(t, 1.0, DefaultScoringParams().WeightSum(), 1e-9)
	assert.InDelta(t, 0.015, DefaultScoringParams().GateThreshold(), 1e-12)

	p := DefaultScoringParams()
	p.BandMax = p.BandMin / 2
	assert.ErrorIs(t, p.Validate(), ErrInvalidScoringParams)

	p = DefaultScoringParams()
	p.WeightEV = -0.1
	assert.ErrorIs(t, p.Validate(), ErrInvalidScoringParams)

	p = DefaultScoringParams()
	p.StopLoss = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidScoringParams)
}
