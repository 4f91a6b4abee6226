// Package identity derives the deterministic IDs that make re-ingestion
// idempotent. IDs are pure functions of record content - no clock, counter or
// random component - so two ingestions of the same logical record always land
// on the same key.
package identity

import (
	"strings"

	"example.com/cityevents/services/ingestion/internal/models"
)

// Slugify lowercases s, collapses every run of non-alphanumeric characters
// into a single hyphen and trims leading/trailing hyphens.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// EventID computes the deterministic event identifier: the uppercased source
// tag (when present), the slugified title and the normalized start date
// (when present), hyphen-joined.
//
// When startDate is empty the ID collapses to (source, title), so two distinct
// undated events sharing a title alias to the same record. That is an accepted
// limitation of the scheme, not a case to special-handle here.
func EventID(source models.Source, title, startDate string) string {
	parts := make([]string, 0, 3)
	if source != "" {
		parts = append(parts, strings.ToUpper(string(source)))
	}
	parts = append(parts, Slugify(title))
	if startDate != "" {
		parts = append(parts, startDate)
	}
	return strings.Join(parts, "-")
}

// GroupID computes the shared identity prefix for a group and all of its
// schedule records.
func GroupID(name string) string {
	return "GROUP-" + Slugify(name)
}

// GroupInfoSortKey is the sort key of the single GROUP_INFO record.
const GroupInfoSortKey = "GROUP_INFO"

// ScheduleSortKey keys one schedule record under its group. Day, time and
// location together keep schedules distinct within the same group.
func ScheduleSortKey(s models.GroupSchedule) string {
	return "SCHEDULE#" + Slugify(s.Day) + "#" + Slugify(s.Time) + "#" + Slugify(s.Location)
}
