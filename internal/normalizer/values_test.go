package normalizer

import (
	"testing"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDate(t *testing.T) {
	// Round-trip
	require.Equal(t, "2024-03-15", NormalizeDate("2024-03-15"))
	// ISO with time
	require.Equal(t, "2024-03-15", NormalizeDate("2024-03-15T19:00:00"))
	require.Equal(t, "2024-03-15", NormalizeDate("2024-03-15T19:00:00Z"))
	// Source-native forms
	require.Equal(t, "2024-03-15", NormalizeDate("2024-03-15 19:00"))
	require.Equal(t, "2024-06-01", NormalizeDate("June 1, 2024"))
	require.Equal(t, "2024-06-01", NormalizeDate("06/01/2024"))
	// Unparseable input is absent, never an error
	require.Equal(t, "", NormalizeDate("not a date"))
	require.Equal(t, "", NormalizeDate(""))
}

func TestNormalizeTime(t *testing.T) {
	require.Equal(t, "19:00", NormalizeTime("19:00"))
	require.Equal(t, "19:00", NormalizeTime("7:00 PM"))
	require.Equal(t, "19:00", NormalizeTime("7:00pm"))
	require.Equal(t, "19:00", NormalizeTime("7 PM"))
	require.Equal(t, "09:05", NormalizeTime("9:05 am"))
}

func TestNormalizeTimeFailureKeepsInput(t *testing.T) {
	// Unlike NormalizeDate, a failed parse returns the original input. The
	// asymmetry is intentional; this test pins it down.
	require.Equal(t, "doors at seven", NormalizeTime("doors at seven"))
	require.Equal(t, "", NormalizeTime(""))
}

func TestNormalizeCategory(t *testing.T) {
	synonyms := DefaultSynonyms()

	// Mapped tokens, order preserved
	require.Equal(t, "Music,Food & Drink", NormalizeCategory("jazz, Food", synonyms))
	require.Equal(t, "Sports", NormalizeCategory("soccer", synonyms))
	// Unmapped tokens are title-cased
	require.Equal(t, "Knitting", NormalizeCategory("knitting", synonyms))
	// Empty input resolves to General
	require.Equal(t, "General", NormalizeCategory("", synonyms))
	require.Equal(t, "General", NormalizeCategory(" , ", synonyms))
}

func TestNormalizeCost(t *testing.T) {
	require.Equal(t, &models.Cost{Type: models.CostFree}, NormalizeCost("free"))
	require.Equal(t, &models.Cost{Type: models.CostFree}, NormalizeCost("FREE admission"))
	require.Equal(t,
		&models.Cost{Type: models.CostFixed, Currency: "USD", Amount: 45},
		NormalizeCost("$45"))
	require.Equal(t,
		&models.Cost{Type: models.CostFixed, Currency: "USD", Amount: 12.5},
		NormalizeCost("tickets from $12.50"))

	// Structured input passes through with defaults filled in
	require.Equal(t,
		&models.Cost{Type: models.CostFixed, Currency: "USD", Amount: 0},
		NormalizeCost(map[string]interface{}{}))
	require.Equal(t,
		&models.Cost{Type: models.CostVariable, Currency: "EUR", Amount: 20},
		NormalizeCost(map[string]interface{}{"type": "variable", "currency": "EUR", "amount": 20.0}))

	// Anything else is absent
	require.Nil(t, NormalizeCost("call for pricing"))
	require.Nil(t, NormalizeCost(45))
	require.Nil(t, NormalizeCost(nil))
}

func TestNormalizeCoordinates(t *testing.T) {
	require.Equal(t, "38.9072,-77.0369", NormalizeCoordinates("38.9072, -77.0369"))
	require.Equal(t, "38.9072,-77.0369", NormalizeCoordinates([]interface{}{38.9072, -77.0369}))
	require.Equal(t, "38.9072,-77.0369", NormalizeCoordinates(map[string]interface{}{
		"latitude":  38.9072,
		"longitude": -77.0369,
	}))
	require.Equal(t, "38.9072,-77.0369", NormalizeCoordinates(map[string]interface{}{
		"lat": "38.9072",
		"lng": "-77.0369",
	}))

	require.Equal(t, "", NormalizeCoordinates("downtown"))
	require.Equal(t, "", NormalizeCoordinates([]interface{}{38.9072}))
	require.Equal(t, "", NormalizeCoordinates(nil))
}
