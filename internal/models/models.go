package models

import (
	"time"
)

// Source identifies where a raw record came from. The set is closed: adding a
// source means adding a mapping function in the normalizer.
type Source string

// Known record sources
const (
	SourceOpenWebNinja  Source = "openwebninja"
	SourceWashingtonian Source = "washingtonian"
	SourceCrawler       Source = "crawler"
	SourceManual        Source = "manual"
)

// KnownSources lists every source tag the pipeline accepts.
var KnownSources = []Source{
	SourceOpenWebNinja,
	SourceWashingtonian,
	SourceCrawler,
	SourceManual,
}

// Valid reports whether s is one of the known source tags.
func (s Source) Valid() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

// CostType tags the cost variant
type CostType string

// Cost variants
const (
	CostFree     CostType = "free"
	CostFixed    CostType = "fixed"
	CostVariable CostType = "variable"
)

// Cost is the tagged cost variant. At rest it is always one of free, fixed or
// variable - never a raw string or number.
type Cost struct {
	Type     CostType `json:"type" dynamodbav:"type"`
	Currency string   `json:"currency,omitempty" dynamodbav:"currency,omitempty"`
	Amount   float64  `json:"amount" dynamodbav:"amount"`
}

// RawRecord is a source-specific record as emitted by a source adapter. No
// shape is guaranteed beyond "some fields exist"; only the normalizer may
// interpret it.
type RawRecord map[string]interface{}

// String returns the string value for key, or "" when absent or not a string.
func (r RawRecord) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Map returns the nested map for key, or nil.
func (r RawRecord) Map(key string) map[string]interface{} {
	if v, ok := r[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// Event is the canonical representation used for storage and indexing,
// independent of any source's native schema.
type Event struct {
	ID          string `json:"id" dynamodbav:"id"`
	Title       string `json:"title" dynamodbav:"title"`
	Description string `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Location    string `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Venue       string `json:"venue,omitempty" dynamodbav:"venue,omitempty"`
	// Coordinates is the canonical "lat,lng" string, empty when unknown.
	Coordinates string `json:"coordinates,omitempty" dynamodbav:"coordinates,omitempty"`
	StartDate   string `json:"start_date,omitempty" dynamodbav:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty" dynamodbav:"end_date,omitempty"`
	StartTime   string `json:"start_time,omitempty" dynamodbav:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty" dynamodbav:"end_time,omitempty"`
	// Category is the comma-joined canonical label set; the index adapter
	// explodes it into discrete tokens.
	Category   string            `json:"category" dynamodbav:"category"`
	Cost       *Cost             `json:"cost,omitempty" dynamodbav:"cost,omitempty"`
	ImageURL   string            `json:"image_url,omitempty" dynamodbav:"image_url,omitempty"`
	URL        string            `json:"url,omitempty" dynamodbav:"url,omitempty"`
	Socials    map[string]string `json:"socials,omitempty" dynamodbav:"socials,omitempty"`
	Source     Source            `json:"source" dynamodbav:"source"`
	ExternalID string            `json:"external_id,omitempty" dynamodbav:"external_id,omitempty"`
	IsPublic   bool              `json:"is_public" dynamodbav:"is_public"`
	IsVirtual  *bool             `json:"is_virtual,omitempty" dynamodbav:"is_virtual,omitempty"`
	// Confidence is set only for crawler-sourced records.
	Confidence *float64  `json:"confidence,omitempty" dynamodbav:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"created_at,unixtime"`
	UpdatedAt  time.Time `json:"updated_at" dynamodbav:"updated_at,unixtime"`
}

// GroupSchedule is one recurring meeting slot of a group, distinct per
// (day, time, location) under the same group identity.
type GroupSchedule struct {
	Day      string `json:"day" dynamodbav:"day"`
	Time     string `json:"time" dynamodbav:"time"`
	Location string `json:"location,omitempty" dynamodbav:"location,omitempty"`
}

// Group is the canonical recurring-meeting group entity. It is persisted as
// one GROUP_INFO record plus one record per schedule, all sharing the group's
// identity prefix.
type Group struct {
	ID          string            `json:"id" dynamodbav:"id"`
	Name        string            `json:"name" dynamodbav:"name"`
	Description string            `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Category    string            `json:"category" dynamodbav:"category"`
	URL         string            `json:"url,omitempty" dynamodbav:"url,omitempty"`
	Socials     map[string]string `json:"socials,omitempty" dynamodbav:"socials,omitempty"`
	Source      Source            `json:"source" dynamodbav:"source"`
	IsPublic    bool              `json:"is_public" dynamodbav:"is_public"`
	Schedules   []GroupSchedule   `json:"schedules,omitempty" dynamodbav:"-"`
	CreatedAt   time.Time         `json:"created_at" dynamodbav:"created_at,unixtime"`
	UpdatedAt   time.Time         `json:"updated_at" dynamodbav:"updated_at,unixtime"`
}

// EntityType selects which canonical entity a batch carries
type EntityType string

// Batch entity types
const (
	EntityEvent EntityType = "event"
	EntityGroup EntityType = "group"
)
