package normalizer

import (
	"testing"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/stretchr/testify/require"
)

func TestNormalizeOpenWebNinja(t *testing.T) {
	n := New(Config{})

	raw := models.RawRecord{
		"name":        "Jazz in the Garden",
		"description": "Free outdoor jazz series",
		"start_time":  "2024-06-15 17:00",
		"end_time":    "2024-06-15 20:30",
		"event_id":    "own-12345",
		"link":        "https://example.com/jazz",
		"thumbnail":   "https://example.com/jazz.jpg",
		"ticket_info": "Free",
		"tags":        []interface{}{"jazz", "outdoors"},
		"venue": map[string]interface{}{
			"name":         "Sculpture Garden",
			"full_address": "700 Constitution Ave NW, Washington, DC",
			"latitude":     38.8913,
			"longitude":    -77.0227,
		},
		"is_virtual": false,
	}

	event, reason := n.Normalize(raw, models.SourceOpenWebNinja)
	require.Empty(t, reason)
	require.NotNil(t, event)

	require.Equal(t, "OPENWEBNINJA-jazz-in-the-garden-2024-06-15", event.ID)
	require.Equal(t, "Jazz in the Garden", event.Title)
	require.Equal(t, "2024-06-15", event.StartDate)
	require.Equal(t, "17:00", event.StartTime)
	require.Equal(t, "20:30", event.EndTime)
	require.Equal(t, "Sculpture Garden", event.Venue)
	require.Equal(t, "38.8913,-77.0227", event.Coordinates)
	require.Equal(t, "Music,Outdoors", event.Category)
	require.Equal(t, &models.Cost{Type: models.CostFree}, event.Cost)
	require.Equal(t, "own-12345", event.ExternalID)
	require.Equal(t, models.SourceOpenWebNinja, event.Source)
	require.NotNil(t, event.IsVirtual)
	require.False(t, *event.IsVirtual)
	require.True(t, event.IsPublic)
	require.False(t, event.CreatedAt.IsZero())
}

func TestNormalizeWashingtonian(t *testing.T) {
	n := New(Config{})

	event, reason := n.Normalize(models.RawRecord{
		"title":      "Cherry Blossom Gala",
		"start_date": "2024-04-01T18:00:00",
		"start_time": "6:00 PM",
		"category":   "food, Art",
		"cost":       "$45",
	}, models.SourceWashingtonian)
	require.Empty(t, reason)

	require.Equal(t, "WASHINGTONIAN-cherry-blossom-gala-2024-04-01", event.ID)
	require.Equal(t, "2024-04-01", event.StartDate)
	require.Equal(t, "18:00", event.StartTime)
	require.Equal(t, "Food & Drink,Arts & Culture", event.Category)
	require.Equal(t, &models.Cost{Type: models.CostFixed, Currency: "USD", Amount: 45}, event.Cost)
}

func TestNormalizeCrawlerConfidence(t *testing.T) {
	n := New(Config{})

	event, reason := n.Normalize(models.RawRecord{
		"title":      "Pop-up Market",
		"date":       "2024-05-04",
		"time":       "10:00",
		"source_url": "https://example.com/market",
		"confidence": 0.82,
	}, models.SourceCrawler)
	require.Empty(t, reason)

	require.Equal(t, "CRAWLER-pop-up-market-2024-05-04", event.ID)
	require.Equal(t, "https://example.com/market", event.URL)
	require.NotNil(t, event.Confidence)
	require.Equal(t, 0.82, *event.Confidence)
	// No category on the record resolves to General
	require.Equal(t, "General", event.Category)
}

func TestNormalizeSkipsTitleless(t *testing.T) {
	n := New(Config{})

	event, reason := n.Normalize(models.RawRecord{"description": "no title here"}, models.SourceCrawler)
	require.Nil(t, event)
	require.Equal(t, "missing title", reason)
}

func TestNormalizeBatchSkipIsolation(t *testing.T) {
	n := New(Config{Workers: 4})

	raws := make([]models.RawRecord, 0, 10)
	for i := 0; i < 9; i++ {
		raws = append(raws, models.RawRecord{
			"title":      "Event " + string(rune('A'+i)),
			"start_date": "2024-06-15",
		})
	}
	// One malformed, title-less record in the middle
	raws = append(raws[:5], append([]models.RawRecord{{"description": "broken"}}, raws[5:]...)...)

	report := n.NormalizeBatch(raws, models.SourceManual)

	require.Len(t, report.Events, 9)
	require.Len(t, report.Skips, 1)
	require.Equal(t, 5, report.Skips[0].Index)
	require.Equal(t, "missing title", report.Skips[0].Reason)
}

func TestNormalizeBatchDeterministicIDs(t *testing.T) {
	n := New(Config{})

	raw := models.RawRecord{"title": "Jazz Fest", "start_date": "2024-06-15"}
	first := n.NormalizeBatch([]models.RawRecord{raw}, models.SourceCrawler)
	second := n.NormalizeBatch([]models.RawRecord{raw}, models.SourceCrawler)

	require.Len(t, first.Events, 1)
	require.Len(t, second.Events, 1)
	require.Equal(t, first.Events[0].ID, second.Events[0].ID)
}

func TestNormalizeGroups(t *testing.T) {
	n := New(Config{})

	report := n.NormalizeGroups([]models.RawRecord{
		{
			"name":     "Run Club DC",
			"category": "running",
			"schedules": []interface{}{
				map[string]interface{}{"day": "Monday", "time": "6:30 PM", "location": "Meridian Hill Park"},
				map[string]interface{}{"day": "Saturday", "time": "8:00 AM", "location": "Rock Creek Park"},
			},
		},
		{"description": "nameless"},
	}, models.SourceManual)

	require.Len(t, report.Groups, 1)
	require.Len(t, report.Skips, 1)

	group := report.Groups[0]
	require.Equal(t, "GROUP-run-club-dc", group.ID)
	require.Equal(t, "Fitness", group.Category)
	require.Len(t, group.Schedules, 2)
	require.Equal(t, "18:30", group.Schedules[0].Time)
}
