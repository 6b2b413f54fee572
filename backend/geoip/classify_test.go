package geoip

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"presence/backend/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload providerPayload
		want    model.Location
	}{
		{
			name:    "us state",
			payload: providerPayload{Status: "success", Country: "United States", CountryCode: "US", Region: "CA", RegionName: "California"},
			want: model.Location{
				Kind:         model.LocationKindUSState,
				CountryCode:  "US",
				CountryName:  "United States",
				CountryEmoji: "🇺🇸",
				StateCode:    "CA",
				StateName:    "California",
				FlagURL:      "https://flagcdn.com/w40/us-ca.png",
			},
		},
		{
			name:    "plain country",
			payload: providerPayload{Status: "success", Country: "France", CountryCode: "FR"},
			want: model.Location{
				Kind:         model.LocationKindCountry,
				CountryCode:  "FR",
				CountryName:  "France",
				CountryEmoji: "🇫🇷",
			},
		},
		{
			name:    "lowercase codes are normalized",
			payload: providerPayload{CountryCode: "us", Region: "tx"},
			want: model.Location{
				Kind:         model.LocationKindUSState,
				CountryCode:  "US",
				CountryName:  "US",
				CountryEmoji: "🇺🇸",
				StateCode:    "TX",
				StateName:    "Texas",
				FlagURL:      "https://flagcdn.com/w40/us-tx.png",
			},
		},
		{
			name:    "us with unknown region falls back to country",
			payload: providerPayload{Country: "United States", CountryCode: "US", Region: "ZZ"},
			want: model.Location{
				Kind:         model.LocationKindCountry,
				CountryCode:  "US",
				CountryName:  "United States",
				CountryEmoji: "🇺🇸",
			},
		},
		{
			name:    "empty payload",
			payload: providerPayload{},
			want:    model.UnknownLocation(true),
		},
		{
			name:    "provider failure status",
			payload: providerPayload{Status: "fail", CountryCode: "FR"},
			want:    model.UnknownLocation(true),
		},
		{
			name:    "malformed country code",
			payload: providerPayload{CountryCode: "FRA"},
			want:    model.UnknownLocation(true),
		},
		{
			name:    "non-alpha country code",
			payload: providerPayload{CountryCode: "F1"},
			want:    model.UnknownLocation(true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.payload))
		})
	}
}

func TestFlagEmojiNonEmpty(t *testing.T) {
	for _, cc := range []string{"FR", "US", "JP", "BR"} {
		assert.NotEmpty(t, flagEmoji(cc))
		assert.Len(t, []rune(flagEmoji(cc)), 2)
	}
}
