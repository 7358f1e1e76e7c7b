// Package normalizers provides the pure field normalizers applied to imported lead data.
package normalizers

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("digits_only", DigitsOnly)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nwebsite", NormalizeWebsite)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value untouched.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// leadChains lists the normalizers run over each string field of a mapped lead.
var leadChains = []struct {
	get   func(*models.Lead) *string
	chain []string
}{
	{get: func(l *models.Lead) *string { return &l.Name }, chain: []string{"trim", "collapse_whitespace"}},
	{get: func(l *models.Lead) *string { return &l.Contact }, chain: []string{"trim", "collapse_whitespace"}},
	{get: func(l *models.Lead) *string { return &l.Phone }, chain: []string{"nphone"}},
	{get: func(l *models.Lead) *string { return &l.Email }, chain: []string{"nemail"}},
	{get: func(l *models.Lead) *string { return &l.Province }, chain: []string{"trim", "collapse_whitespace"}},
	{get: func(l *models.Lead) *string { return &l.City }, chain: []string{"trim", "collapse_whitespace"}},
	{get: func(l *models.Lead) *string { return &l.Website }, chain: []string{"nwebsite"}},
	{get: func(l *models.Lead) *string { return &l.GoogleURL }, chain: []string{"trim"}},
}

// NormalizeLead normalizes the string fields of a mapped candidate in place.
func NormalizeLead(lead *models.Lead) {
	if lead == nil {
		return
	}
	for _, c := range leadChains {
		field := c.get(lead)
		*field = ApplyChain(*field, c.chain...)
	}
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// CollapseWhitespace turns internal runs of whitespace into a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizePhone keeps the digits and a single leading '+'.
// "+54 (11) 1234-5678" becomes "+541112345678". Input without digits yields "".
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	digits := DigitsOnly(s)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(s, "+") {
		return "+" + digits
	}
	return digits
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var redirectParams = []string{"adurl", "url", "q"}

// NormalizeWebsite unwraps ad-redirect links to their destination and leaves maps
// listing links untouched. Anything else, including undecodable input, is returned trimmed.
func NormalizeWebsite(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.ToLower(u.Path)

	if isMapsURL(host, path) || !isRedirectURL(host, path) {
		return trimmed
	}

	query := u.Query()
	for _, param := range redirectParams {
		target := strings.TrimSpace(query.Get(param))
		if target == "" {
			continue
		}
		// some trackers double-encode the destination
		if strings.Contains(target, "%3A%2F%2F") || strings.Contains(target, "%3a%2f%2f") {
			if decoded, err := url.QueryUnescape(target); err == nil {
				target = decoded
			}
		}
		if dest, err := url.Parse(target); err == nil && (dest.Scheme == "http" || dest.Scheme == "https") && dest.Host != "" {
			return target
		}
	}

	return trimmed
}

func isGoogleHost(host string) bool {
	return host == "google.com" || strings.HasPrefix(host, "google.") || strings.Contains(host, ".google.")
}

func isMapsURL(host, path string) bool {
	switch {
	case strings.HasPrefix(host, "maps.google."):
		return true
	case host == "maps.app.goo.gl":
		return true
	case host == "goo.gl" && strings.HasPrefix(path, "/maps"):
		return true
	case isGoogleHost(host) && strings.HasPrefix(path, "/maps"):
		return true
	}
	return false
}

func isRedirectURL(host, path string) bool {
	if host == "googleadservices.com" || strings.HasSuffix(host, ".googleadservices.com") {
		return true
	}
	if isGoogleHost(host) {
		return path == "/url" || path == "/aclk" || strings.HasPrefix(path, "/aclk")
	}
	return false
}

var leadingNumber = regexp.MustCompile(`^[-+]?\d+(?:[.,]\d+)?`)

// NormalizeRating parses a rating such as "4.5" or "4,5". Unparsable input yields 0
// and the result is clamped to [0, 5].
func NormalizeRating(s string) float64 {
	match := leadingNumber.FindString(strings.TrimSpace(s))
	if match == "" {
		return 0
	}
	value, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return math.Max(0, math.Min(5, value))
}

var leadingInteger = regexp.MustCompile(`^[-+]?\d+`)

// NormalizeReviewCount parses counts like "(18)" or "1,234". Unparsable or negative input yields 0.
func NormalizeReviewCount(s string) int {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	s = strings.NewReplacer(",", "", ".", "", " ", "", "\u00a0", "").Replace(s)

	match := leadingInteger.FindString(s)
	if match == "" {
		return 0
	}
	value, err := strconv.Atoi(match)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
