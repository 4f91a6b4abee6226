// Package normalizer converts raw, source-specific records into the canonical
// Event and Group models. It is a pure transformation: no network, no storage,
// no clocks beyond the created/updated stamps set on new records.
package normalizer

import (
	"fmt"
	"time"

	"example.com/cityevents/services/ingestion/internal/identity"
	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config tunes the normalizer. Synonyms is injected so deployments can
// override category mappings without recompiling.
type Config struct {
	Synonyms map[string]string
	// Workers bounds the parallelism of NormalizeBatch. Zero means 8.
	Workers int
}

// DefaultSynonyms is the built-in category synonym table, merged under any
// configured overrides.
func DefaultSynonyms() map[string]string {
	return map[string]string{
		"jazz":       "Music",
		"music":      "Music",
		"concert":    "Music",
		"concerts":   "Music",
		"live music": "Music",
		"soccer":     "Sports",
		"sports":     "Sports",
		"fitness":    "Fitness",
		"running":    "Fitness",
		"yoga":       "Fitness",
		"food":       "Food & Drink",
		"drinks":     "Food & Drink",
		"dining":     "Food & Drink",
		"happy hour": "Food & Drink",
		"art":        "Arts & Culture",
		"arts":       "Arts & Culture",
		"museum":     "Arts & Culture",
		"theater":    "Arts & Culture",
		"theatre":    "Arts & Culture",
		"comedy":     "Comedy",
		"tech":       "Technology",
		"technology": "Technology",
		"networking": "Professional",
		"business":   "Professional",
		"community":  "Community",
		"volunteer":  "Community",
		"outdoors":   "Outdoors",
		"hiking":     "Outdoors",
		"festival":   "Festival",
		"market":     "Market",
		"general":    "General",
	}
}

// Normalizer maps raw records onto canonical models
type Normalizer struct {
	synonyms map[string]string
	workers  int
	now      func() time.Time
}

// New creates a normalizer. Configured synonyms override the defaults
// key-by-key.
func New(cfg Config) *Normalizer {
	synonyms := DefaultSynonyms()
	for k, v := range cfg.Synonyms {
		synonyms[k] = v
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}

	return &Normalizer{
		synonyms: synonyms,
		workers:  workers,
		now:      time.Now,
	}
}

// Skip records why a raw record was excluded from a batch. A skip is a normal
// outcome, never a batch failure.
type Skip struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Normalize converts one raw record into a canonical Event, dispatching on the
// source tag. A record without a usable title yields a Skip reason instead of
// an event.
func (n *Normalizer) Normalize(raw models.RawRecord, source models.Source) (*models.Event, string) {
	if raw == nil {
		return nil, "empty record"
	}

	var event *models.Event
	switch source {
	case models.SourceOpenWebNinja:
		event = n.fromOpenWebNinja(raw)
	case models.SourceWashingtonian:
		event = n.fromWashingtonian(raw)
	case models.SourceCrawler:
		event = n.fromCrawler(raw)
	case models.SourceManual:
		event = n.fromCanonical(raw)
	default:
		return nil, fmt.Sprintf("unknown source %q", source)
	}

	if event.Title == "" {
		return nil, "missing title"
	}

	event.Source = source
	event.ID = identity.EventID(source, event.Title, event.StartDate)
	if event.Category == "" {
		event.Category = "General"
	}

	now := n.now()
	event.CreatedAt = now
	event.UpdatedAt = now

	return event, ""
}

// BatchReport aggregates the per-record outcomes of one normalize pass.
type BatchReport struct {
	Events []*models.Event
	Skips  []Skip
}

// NormalizeBatch normalizes records independently with bounded parallelism.
// A failure on one record - including a panic inside a mapping function - is
// converted to a Skip and must not affect the others. Output order follows
// input order.
func (n *Normalizer) NormalizeBatch(raws []models.RawRecord, source models.Source) BatchReport {
	events := make([]*models.Event, len(raws))
	reasons := make([]string, len(raws))

	var g errgroup.Group
	g.SetLimit(n.workers)

	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			// Each goroutine owns its own slot, so no locking is needed.
			defer func() {
				if r := recover(); r != nil {
					events[i] = nil
					reasons[i] = fmt.Sprintf("panic during normalization: %v", r)
				}
			}()
			event, reason := n.Normalize(raw, source)
			events[i] = event
			reasons[i] = reason
			return nil
		})
	}
	// Mapping functions never return errors; failures surface as skips.
	_ = g.Wait()

	report := BatchReport{}
	for i := range raws {
		if events[i] != nil && reasons[i] == "" {
			report.Events = append(report.Events, events[i])
			continue
		}
		log.Warn().
			Int("index", i).
			Str("source", string(source)).
			Str("reason", reasons[i]).
			Msg("Skipping record")
		report.Skips = append(report.Skips, Skip{Index: i, Reason: reasons[i]})
	}

	return report
}

// GroupBatchReport aggregates the outcomes of one group normalize pass.
type GroupBatchReport struct {
	Groups []*models.Group
	Skips  []Skip
}

// NormalizeGroups converts raw group records into canonical Groups. Groups
// only arrive from seed files and crawlers, already close to canonical shape.
func (n *Normalizer) NormalizeGroups(raws []models.RawRecord, source models.Source) GroupBatchReport {
	report := GroupBatchReport{}
	for i, raw := range raws {
		group, reason := n.normalizeGroup(raw, source)
		if reason != "" {
			log.Warn().
				Int("index", i).
				Str("source", string(source)).
				Str("reason", reason).
				Msg("Skipping group record")
			report.Skips = append(report.Skips, Skip{Index: i, Reason: reason})
			continue
		}
		report.Groups = append(report.Groups, group)
	}
	return report
}

func (n *Normalizer) normalizeGroup(raw models.RawRecord, source models.Source) (*models.Group, string) {
	if raw == nil {
		return nil, "empty record"
	}

	name := raw.String("name")
	if name == "" {
		name = raw.String("title")
	}
	if name == "" {
		return nil, "missing name"
	}

	group := &models.Group{
		ID:          identity.GroupID(name),
		Name:        name,
		Description: raw.String("description"),
		Category:    NormalizeCategory(raw.String("category"), n.synonyms),
		URL:         raw.String("url"),
		Socials:     stringMap(raw["socials"]),
		Source:      source,
		IsPublic:    boolOrDefault(raw["is_public"], true),
	}

	if schedules, ok := raw["schedules"].([]interface{}); ok {
		for _, s := range schedules {
			entry, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			group.Schedules = append(group.Schedules, models.GroupSchedule{
				Day:      models.RawRecord(entry).String("day"),
				Time:     NormalizeTime(models.RawRecord(entry).String("time")),
				Location: models.RawRecord(entry).String("location"),
			})
		}
	}

	now := n.now()
	group.CreatedAt = now
	group.UpdatedAt = now

	return group, ""
}
