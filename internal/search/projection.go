package search

import (
	"strconv"
	"strings"

	"example.com/cityevents/services/ingestion/internal/models"
)

// BuildEventDocument projects a canonical event into its index document.
// Coercions here are best-effort and never fail: a bad amount becomes 0, a
// stringly boolean becomes a real one.
func BuildEventDocument(event *models.Event) map[string]interface{} {
	doc := map[string]interface{}{
		"type":      "event",
		"title":     event.Title,
		"category":  CategoryTokens(event.Category),
		"source":    string(event.Source),
		"is_public": event.IsPublic,
		"createdAt": event.CreatedAt.Unix(),
	}

	putIfSet(doc, "description", event.Description)
	putIfSet(doc, "location", event.Location)
	putIfSet(doc, "venue", event.Venue)
	putIfSet(doc, "coordinates", event.Coordinates)
	putIfSet(doc, "start_date", event.StartDate)
	putIfSet(doc, "end_date", event.EndDate)
	putIfSet(doc, "start_time", event.StartTime)
	putIfSet(doc, "end_time", event.EndTime)
	putIfSet(doc, "url", event.URL)
	putIfSet(doc, "image_url", event.ImageURL)
	putIfSet(doc, "external_id", event.ExternalID)

	if event.Cost != nil {
		doc["cost"] = map[string]interface{}{
			"type":     string(event.Cost.Type),
			"currency": event.Cost.Currency,
			"amount":   CoerceAmount(event.Cost.Amount),
		}
	}
	if event.IsVirtual != nil {
		doc["is_virtual"] = *event.IsVirtual
	}
	if event.Confidence != nil {
		doc["confidence"] = *event.Confidence
	}
	if len(event.Socials) > 0 {
		doc["socials"] = event.Socials
	}

	return doc
}

// BuildGroupDocument projects a group into the same collection, tagged with
// the group type.
func BuildGroupDocument(group *models.Group) map[string]interface{} {
	doc := map[string]interface{}{
		"type":      "group",
		"title":     group.Name,
		"category":  CategoryTokens(group.Category),
		"source":    string(group.Source),
		"is_public": group.IsPublic,
		"createdAt": group.CreatedAt.Unix(),
	}

	putIfSet(doc, "description", group.Description)
	putIfSet(doc, "url", group.URL)

	if len(group.Schedules) > 0 {
		schedules := make([]map[string]interface{}, 0, len(group.Schedules))
		for _, s := range group.Schedules {
			schedules = append(schedules, map[string]interface{}{
				"day":      s.Day,
				"time":     s.Time,
				"location": s.Location,
			})
		}
		doc["schedules"] = schedules
	}

	return doc
}

// CategoryTokens explodes the comma-joined category text into discrete
// tokens so the index supports token-level filters.
func CategoryTokens(category string) []string {
	tokens := make([]string, 0, 4)
	for _, tok := range strings.Split(category, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		tokens = append(tokens, "General")
	}
	return tokens
}

// CoerceAmount normalizes any stored amount shape to a number, defaulting to
// 0 rather than failing the projection.
func CoerceAmount(v interface{}) float64 {
	switch a := v.(type) {
	case float64:
		return a
	case int:
		return float64(a)
	case int64:
		return float64(a)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// CoerceBool normalizes native and stringly boolean forms.
func CoerceBool(v interface{}, def bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}

func putIfSet(doc map[string]interface{}, key, value string) {
	if value != "" {
		doc[key] = value
	}
}
