package geoip

import (
	"strings"

	"presence/backend/model"
)

// classify derives the location variant from a provider payload. A
// two-letter country code yields the country variant; US with a known
// state or territory code upgrades to us_state; everything else is
// unknown-but-resolved.
func classify(p providerPayload) model.Location {
	if p.Status != "" && p.Status != "success" {
		return model.UnknownLocation(true)
	}

	cc := strings.ToUpper(strings.TrimSpace(p.CountryCode))
	if !isCountryCode(cc) {
		return model.UnknownLocation(true)
	}

	name := p.Country
	if name == "" {
		name = cc
	}

	if cc == "US" {
		region := strings.ToUpper(strings.TrimSpace(p.Region))
		if stateName, ok := usStates[region]; ok {
			return model.Location{
				Kind:         model.LocationKindUSState,
				CountryCode:  cc,
				CountryName:  name,
				CountryEmoji: flagEmoji(cc),
				StateCode:    region,
				StateName:    stateName,
				FlagURL:      stateFlagURL(region),
			}
		}
	}

	return model.Location{
		Kind:         model.LocationKindCountry,
		CountryCode:  cc,
		CountryName:  name,
		CountryEmoji: flagEmoji(cc),
	}
}

func isCountryCode(cc string) bool {
	if len(cc) != 2 {
		return false
	}
	for _, c := range cc {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// flagEmoji maps a two-letter country code to its regional indicator pair,
// e.g. "FR" -> 🇫🇷. The mapping is fixed and deterministic.
func flagEmoji(cc string) string {
	const regionalIndicatorA = 0x1F1E6
	out := make([]rune, 0, 2)
	for _, c := range cc {
		out = append(out, regionalIndicatorA+(c-'A'))
	}
	return string(out)
}

func stateFlagURL(code string) string {
	return "https://flagcdn.com/w40/us-" + strings.ToLower(code) + ".png"
}

// usStates covers the 50 states, DC, and the inhabited territories.
var usStates = map[string]string{
	"AL": "Alabama",
	"AK": "Alaska",
	"AZ": "Arizona",
	"AR": "Arkansas",
	"CA": "California",
	"CO": "Colorado",
	"CT": "Connecticut",
	"DE": "Delaware",
	"FL": "Florida",
	"GA": "Georgia",
	"HI": "Hawaii",
	"ID": "Idaho",
	"IL": "Illinois",
	"IN": "Indiana",
	"IA": "Iowa",
	"KS": "Kansas",
	"KY": "Kentucky",
	"LA": "Louisiana",
	"ME": "Maine",
	"MD": "Maryland",
	"MA": "Massachusetts",
	"MI": "Michigan",
	"MN": "Minnesota",
	"MS": "Mississippi",
	"MO": "Missouri",
	"MT": "Montana",
	"NE": "Nebraska",
	"NV": "Nevada",
	"NH": "New Hampshire",
	"NJ": "New Jersey",
	"NM": "New Mexico",
	"NY": "New York",
	"NC": "North Carolina",
	"ND": "North Dakota",
	"OH": "Ohio",
	"OK": "Oklahoma",
	"OR": "Oregon",
	"PA": "Pennsylvania",
	"RI": "Rhode Island",
	"SC": "South Carolina",
	"SD": "South Dakota",
	"TN": "Tennessee",
	"TX": "Texas",
	"UT": "Utah",
	"VT": "Vermont",
	"VA": "Virginia",
	"WA": "Washington",
	"WV": "West Virginia",
	"WI": "Wisconsin",
	"WY": "Wyoming",
	"DC": "District of Columbia",
	"AS": "American Samoa",
	"GU": "Guam",
	"MP": "Northern Mariana Islands",
	"PR": "Puerto Rico",
	"VI": "U.S. Virgin Islands",
}
