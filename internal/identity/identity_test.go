package identity

import (
	"testing"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	require.Equal(t, "jazz-fest", Slugify("Jazz Fest"))
	require.Equal(t, "jazz-fest", Slugify("  Jazz -- Fest!! "))
	require.Equal(t, "rock-n-roll-2024", Slugify("Rock'n'Roll 2024"))
	require.Equal(t, "", Slugify("!!!"))
}

func TestEventID(t *testing.T) {
	id := EventID(models.SourceCrawler, "Jazz Fest", "2024-06-15")
	require.Equal(t, "CRAWLER-jazz-fest-2024-06-15", id)

	// No start date: ID collapses to (source, title)
	require.Equal(t, "CRAWLER-jazz-fest", EventID(models.SourceCrawler, "Jazz Fest", ""))

	// No source tag
	require.Equal(t, "jazz-fest-2024-06-15", EventID("", "Jazz Fest", "2024-06-15"))
}

func TestEventIDDeterministic(t *testing.T) {
	a := EventID(models.SourceOpenWebNinja, "A Night at the Opera!", "2024-12-01")
	b := EventID(models.SourceOpenWebNinja, "A Night at the Opera!", "2024-12-01")
	require.Equal(t, a, b)
}

func TestGroupKeys(t *testing.T) {
	require.Equal(t, "GROUP-run-club-dc", GroupID("Run Club DC"))

	sk := ScheduleSortKey(models.GroupSchedule{Day: "Monday", Time: "18:30", Location: "Meridian Hill Park"})
	require.Equal(t, "SCHEDULE#monday#18-30#meridian-hill-park", sk)
}
