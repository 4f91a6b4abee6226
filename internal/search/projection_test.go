package search

import (
	"testing"
	"time"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/stretchr/testify/require"
)

func projectionEvent() *models.Event {
	return &models.Event{
		ID:        "CRAWLER-jazz-fest-2024-06-15",
		Title:     "Jazz Fest",
		Category:  "Music,Food & Drink",
		Cost:      &models.Cost{Type: models.CostFixed, Currency: "USD", Amount: 45},
		Source:    models.SourceCrawler,
		StartDate: "2024-06-15",
		IsPublic:  true,
		CreatedAt: time.Unix(1718400000, 0),
	}
}

func TestBuildEventDocument(t *testing.T) {
	doc := BuildEventDocument(projectionEvent())

	require.Equal(t, "event", doc["type"])
	// Category is exploded into discrete tokens, not a single string
	require.Equal(t, []string{"Music", "Food & Drink"}, doc["category"])
	require.Equal(t, "2024-06-15", doc["start_date"])
	require.Equal(t, int64(1718400000), doc["createdAt"])

	cost := doc["cost"].(map[string]interface{})
	require.Equal(t, "fixed", cost["type"])
	require.Equal(t, float64(45), cost["amount"])

	// Absent optionals stay out of the document
	require.NotContains(t, doc, "end_date")
	require.NotContains(t, doc, "confidence")
}

func TestBuildGroupDocument(t *testing.T) {
	doc := BuildGroupDocument(&models.Group{
		ID:       "GROUP-run-club-dc",
		Name:     "Run Club DC",
		Category: "Fitness",
		Source:   models.SourceManual,
		IsPublic: true,
		Schedules: []models.GroupSchedule{
			{Day: "Monday", Time: "18:30", Location: "Meridian Hill Park"},
		},
		CreatedAt: time.Unix(1718400000, 0),
	})

	require.Equal(t, "group", doc["type"])
	require.Equal(t, "Run Club DC", doc["title"])
	require.Len(t, doc["schedules"], 1)
}

func TestCategoryTokens(t *testing.T) {
	require.Equal(t, []string{"Music", "Food & Drink"}, CategoryTokens("Music,Food & Drink"))
	require.Equal(t, []string{"Music"}, CategoryTokens(" Music "))
	require.Equal(t, []string{"General"}, CategoryTokens(""))
}

func TestCoerceAmount(t *testing.T) {
	require.Equal(t, 45.0, CoerceAmount(45.0))
	require.Equal(t, 45.0, CoerceAmount("45"))
	require.Equal(t, 12.5, CoerceAmount(" 12.5 "))
	// Best-effort: failure is 0, never an error
	require.Equal(t, 0.0, CoerceAmount("a lot"))
	require.Equal(t, 0.0, CoerceAmount(nil))
}

func TestCoerceBool(t *testing.T) {
	require.True(t, CoerceBool(true, false))
	require.True(t, CoerceBool("true", false))
	require.False(t, CoerceBool("false", true))
	require.True(t, CoerceBool("maybe", true))
	require.True(t, CoerceBool(nil, true))
}
