package geocode

import (
	"net/url"
	"regexp"
	"strings"
)

// abbreviations expands common shorthand place names that the search
// corpus uses constantly but geocoders handle inconsistently.
var abbreviations = map[string]string{
	"la":            "Los Angeles",
	"nyc":           "New York City",
	"sf":            "San Francisco",
	"us":            "United States",
	"usa":           "United States",
	"uk":            "United Kingdom",
	"dc":            "Washington DC",
	"washington dc": "Washington DC",
	"on":            "Ontario",
	"ca":            "Canada",
	"new york":      "New York City",
}

// usStates maps two-letter USPS codes and lower-cased full names to the
// canonical state name.
var usStates = map[string]string{
	"al": "Alabama", "ak": "Alaska", "az": "Arizona", "ar": "Arkansas",
	"co": "Colorado", "ct": "Connecticut", "de": "Delaware", "fl": "Florida",
	"ga": "Georgia", "hi": "Hawaii", "id": "Idaho", "il": "Illinois",
	"in": "Indiana", "ia": "Iowa", "ks": "Kansas", "ky": "Kentucky",
	"me": "Maine", "md": "Maryland", "ma": "Massachusetts", "mi": "Michigan",
	"mn": "Minnesota", "ms": "Mississippi", "mo": "Missouri", "mt": "Montana",
	"ne": "Nebraska", "nv": "Nevada", "nh": "New Hampshire", "nj": "New Jersey",
	"nm": "New Mexico", "nc": "North Carolina", "nd": "North Dakota",
	"oh": "Ohio", "ok": "Oklahoma", "or": "Oregon", "pa": "Pennsylvania",
	"ri": "Rhode Island", "sc": "South Carolina", "sd": "South Dakota",
	"tn": "Tennessee", "tx": "Texas", "ut": "Utah", "vt": "Vermont",
	"va": "Virginia", "wa": "Washington", "wv": "West Virginia",
	"wi": "Wisconsin", "wy": "Wyoming", "pr": "Puerto Rico",
	"gu": "Guam", "as": "American Samoa", "mp": "Northern Mariana Islands",
}

func init() {
	// Full state names normalize to themselves, so "texas" and "TX" share
	// a cache key. Codes shadowed by abbreviations (la, ca, on, in...) keep
	// the more common meaning from the abbreviation table.
	names := make([]string, 0, len(usStates))
	for _, name := range usStates {
		names = append(names, name)
	}
	for _, name := range names {
		usStates[strings.ToLower(name)] = name
	}
}

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	digitsRe     = regexp.MustCompile(`^[0-9]+$`)
)

// Normalize derives the cache key for a raw place-name mention. The key
// is a pure function of the mention: case-folded, punctuation-stripped,
// whitespace-collapsed, with state and region shorthand expanded and the
// remainder title-cased. Normalize is idempotent.
func Normalize(location string) string {
	loc := strings.ToLower(location)
	loc = nonAlnumRe.ReplaceAllString(loc, "")
	loc = strings.TrimSpace(whitespaceRe.ReplaceAllString(loc, " "))
	if loc == "" {
		return ""
	}

	if expanded, ok := abbreviations[loc]; ok {
		return expanded
	}
	if state, ok := usStates[loc]; ok {
		return state
	}
	return titleCase(loc)
}

func titleCase(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// IsURL reports whether the mention is a bare URL rather than a place
// name, e.g. "example.com/fires" or "https://news.site".
func IsURL(s string) bool {
	probe := s
	if !strings.HasPrefix(probe, "http://") && !strings.HasPrefix(probe, "https://") {
		probe = "http://" + probe
	}
	u, err := url.Parse(probe)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != "" && strings.Contains(host, ".") && host != "www." && !strings.Contains(host, " ")
}

// IsNumeric reports whether the mention is purely digits.
func IsNumeric(s string) bool {
	return digitsRe.MatchString(strings.TrimSpace(s))
}
