package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"example.com/cityevents/services/ingestion/internal/models"
)

// dateLayouts are tried in order by NormalizeDate.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

// timeLayouts are tried in order by NormalizeTime. Parsing anchors to an
// arbitrary reference date; only the clock component matters.
var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
}

var dollarAmount = regexp.MustCompile(`\$\s*([0-9]+(?:\.[0-9]+)?)`)

// NormalizeDate coerces ISO-with-time, YYYY-MM-DD or best-effort free text
// into a YYYY-MM-DD string. Unparseable input yields "" and never an error.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// NormalizeTime coerces HH:MM, HH:MM AM/PM or free text into a 24-hour HH:MM
// string. On parse failure it returns the original input unchanged - the
// asymmetry with NormalizeDate is deliberate and covered by tests; do not
// unify the two.
func NormalizeTime(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	upper := strings.ToUpper(trimmed)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return t.Format("15:04")
		}
	}
	return s
}

// NormalizeCategory splits on comma, lowercases and trims each token, maps it
// through the synonym table and rejoins in the original order. Empty input
// resolves to "General" so category is always non-empty at rest.
func NormalizeCategory(s string, synonyms map[string]string) string {
	out := make([]string, 0, 4)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if mapped, ok := synonyms[tok]; ok {
			out = append(out, mapped)
		} else {
			out = append(out, titleCase(tok))
		}
	}
	if len(out) == 0 {
		return "General"
	}
	return strings.Join(out, ",")
}

// NormalizeCost coerces the raw cost value into the tagged Cost variant.
// Strings containing "free" map to the free variant, strings with a $-amount
// to fixed/USD; structured objects pass through with defaults filled in.
// Anything else is absent (nil).
func NormalizeCost(v interface{}) *models.Cost {
	switch c := v.(type) {
	case string:
		if strings.Contains(strings.ToLower(c), "free") {
			return &models.Cost{Type: models.CostFree}
		}
		if m := dollarAmount.FindStringSubmatch(c); m != nil {
			amount, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return nil
			}
			return &models.Cost{Type: models.CostFixed, Currency: "USD", Amount: amount}
		}
		return nil
	case map[string]interface{}:
		cost := &models.Cost{
			Type:     models.CostFixed,
			Currency: "USD",
		}
		if t, ok := c["type"].(string); ok && t != "" {
			cost.Type = models.CostType(strings.ToLower(t))
		}
		if cur, ok := c["currency"].(string); ok && cur != "" {
			cost.Currency = cur
		}
		cost.Amount = coerceFloat(c["amount"])
		if cost.Type == models.CostFree {
			cost.Currency = ""
			cost.Amount = 0
		}
		return cost
	case *models.Cost:
		return c
	default:
		return nil
	}
}

// NormalizeCoordinates coerces a "lat,lng" string, a [lat, lng] pair or a
// {latitude, longitude} object into the canonical "lat,lng" string, or ""
// when the input is unusable.
func NormalizeCoordinates(v interface{}) string {
	switch c := v.(type) {
	case string:
		parts := strings.Split(c, ",")
		if len(parts) != 2 {
			return ""
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return ""
		}
		return formatCoordinates(lat, lng)
	case []interface{}:
		if len(c) != 2 {
			return ""
		}
		lat, ok1 := toFloat(c[0])
		lng, ok2 := toFloat(c[1])
		if !ok1 || !ok2 {
			return ""
		}
		return formatCoordinates(lat, lng)
	case map[string]interface{}:
		lat, ok1 := toFloat(c["latitude"])
		lng, ok2 := toFloat(c["longitude"])
		if !ok1 {
			lat, ok1 = toFloat(c["lat"])
		}
		if !ok2 {
			lng, ok2 = toFloat(c["lng"])
		}
		if !ok1 || !ok2 {
			return ""
		}
		return formatCoordinates(lat, lng)
	default:
		return ""
	}
}

// titleCase uppercases the first letter of each space-separated word. Tokens
// not covered by the synonym table keep their own words, title-cased.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatCoordinates(lat, lng float64) string {
	return fmt.Sprintf("%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lng, 'f', -1, 64))
}

// toFloat accepts the numeric shapes a decoded JSON value can take.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// coerceFloat is toFloat with a 0 fallback, for fields where absence means
// zero rather than failure.
func coerceFloat(v interface{}) float64 {
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f
}
