package normalizer

import (
	"strings"

	"example.com/cityevents/services/ingestion/internal/models"
)

// fromOpenWebNinja maps the third-party events API shape: the title lives in
// "name", venue and coordinates are nested, and timing arrives as a single
// "YYYY-MM-DD HH:MM" string.
func (n *Normalizer) fromOpenWebNinja(raw models.RawRecord) *models.Event {
	event := &models.Event{
		Title:       raw.String("name"),
		Description: raw.String("description"),
		URL:         raw.String("link"),
		ImageURL:    raw.String("thumbnail"),
		ExternalID:  raw.String("event_id"),
		Category:    NormalizeCategory(joinTags(raw["tags"]), n.synonyms),
		Cost:        NormalizeCost(raw["ticket_info"]),
		IsPublic:    true,
	}

	if start := raw.String("start_time"); start != "" {
		event.StartDate = NormalizeDate(start)
		if date, clock, ok := strings.Cut(strings.TrimSpace(start), " "); ok && date != "" {
			event.StartTime = NormalizeTime(clock)
		}
	}
	if end := raw.String("end_time"); end != "" {
		event.EndDate = NormalizeDate(end)
		if _, clock, ok := strings.Cut(strings.TrimSpace(end), " "); ok {
			event.EndTime = NormalizeTime(clock)
		}
	}

	if venue := raw.Map("venue"); venue != nil {
		v := models.RawRecord(venue)
		event.Venue = v.String("name")
		event.Location = v.String("full_address")
		if event.Location == "" {
			event.Location = v.String("address")
		}
		event.Coordinates = NormalizeCoordinates(map[string]interface{}{
			"latitude":  venue["latitude"],
			"longitude": venue["longitude"],
		})
	}

	if virtual, ok := raw["is_virtual"].(bool); ok {
		event.IsVirtual = &virtual
	}

	return event
}

// fromWashingtonian maps the listings feed, which is already close to
// canonical apart from value formats.
func (n *Normalizer) fromWashingtonian(raw models.RawRecord) *models.Event {
	return &models.Event{
		Title:       raw.String("title"),
		Description: raw.String("description"),
		Location:    raw.String("location"),
		Venue:       raw.String("venue"),
		Coordinates: NormalizeCoordinates(raw["coordinates"]),
		StartDate:   NormalizeDate(raw.String("start_date")),
		EndDate:     NormalizeDate(raw.String("end_date")),
		StartTime:   NormalizeTime(raw.String("start_time")),
		EndTime:     NormalizeTime(raw.String("end_time")),
		Category:    NormalizeCategory(raw.String("category"), n.synonyms),
		Cost:        NormalizeCost(raw["cost"]),
		ImageURL:    raw.String("image_url"),
		URL:         raw.String("url"),
		IsPublic:    boolOrDefault(raw["is_public"], true),
	}
}

// fromCrawler maps the generic site-crawler output shape. Crawlers attach a
// confidence score to what they scraped.
func (n *Normalizer) fromCrawler(raw models.RawRecord) *models.Event {
	event := &models.Event{
		Title:       raw.String("title"),
		Description: raw.String("description"),
		Location:    raw.String("location"),
		Venue:       raw.String("venue"),
		Coordinates: NormalizeCoordinates(raw["coordinates"]),
		StartDate:   NormalizeDate(firstString(raw, "start_date", "date")),
		EndDate:     NormalizeDate(raw.String("end_date")),
		StartTime:   NormalizeTime(firstString(raw, "start_time", "time")),
		EndTime:     NormalizeTime(raw.String("end_time")),
		Category:    NormalizeCategory(raw.String("category"), n.synonyms),
		Cost:        NormalizeCost(raw["cost"]),
		ImageURL:    raw.String("image_url"),
		URL:         firstString(raw, "url", "source_url"),
		Socials:     stringMap(raw["socials"]),
		IsPublic:    boolOrDefault(raw["is_public"], true),
	}

	if conf, ok := toFloat(raw["confidence"]); ok {
		event.Confidence = &conf
	}

	return event
}

// fromCanonical passes through records that already carry canonical field
// names, e.g. manual seed files. Values are still coerced.
func (n *Normalizer) fromCanonical(raw models.RawRecord) *models.Event {
	event := n.fromWashingtonian(raw)
	event.ExternalID = raw.String("external_id")
	event.Socials = stringMap(raw["socials"])
	if virtual, ok := raw["is_virtual"].(bool); ok {
		event.IsVirtual = &virtual
	}
	return event
}

// firstString returns the first non-empty string value among keys.
func firstString(raw models.RawRecord, keys ...string) string {
	for _, key := range keys {
		if v := raw.String(key); v != "" {
			return v
		}
	}
	return ""
}

// joinTags flattens a tag list into the comma-separated form
// NormalizeCategory expects.
func joinTags(v interface{}) string {
	tags, ok := v.([]interface{})
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		if s, ok := t.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ",")
}

// stringMap coerces an arbitrary sub-map (socials) to string values, dropping
// anything that is not a string.
func stringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// boolOrDefault reads a boolean that may arrive as a bool or its string form.
func boolOrDefault(v interface{}, def bool) bool {
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
