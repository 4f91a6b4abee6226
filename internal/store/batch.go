package store

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"example.com/cityevents/services/ingestion/internal/models"

	"github.com/rs/zerolog/log"
)

// maxChunkSize is the store's write batch cap.
const maxChunkSize = 25

// backoffBase is the first retry delay; each retry doubles it.
const backoffBase = 100 * time.Millisecond

// BatchResult accounts for every record handed to BatchCreateIfAbsent.
// CreatedCount + ExistingCount + len(FailedIDs) always equals the input size.
type BatchResult struct {
	CreatedCount  int      `json:"created_count"`
	ExistingCount int      `json:"existing_count"`
	FailedIDs     []string `json:"failed_ids,omitempty"`
}

// BatchCreateIfAbsent conditionally writes events in chunks of at most 25.
// Writes within a chunk run concurrently; the chunk boundary is a
// synchronization point with deliberate pacing in between, to respect the
// store's write-throughput limits. Throttled writes get bounded retries with
// exponential backoff; keys that still fail are reported in FailedIDs, never
// dropped silently.
func (s *EventStore) BatchCreateIfAbsent(ctx context.Context, events []*models.Event) (BatchResult, error) {
	result := BatchResult{}

	for start := 0; start < len(events); start += maxChunkSize {
		end := start + maxChunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		if start > 0 && s.chunkPause > 0 {
			s.sleep(s.chunkPause)
		}

		outcomes := make([]chunkOutcome, len(chunk))
		var wg sync.WaitGroup
		for i, event := range chunk {
			i, event := i, event
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i] = s.createWithRetry(ctx, event)
			}()
		}
		wg.Wait()

		for _, out := range outcomes {
			switch {
			case out.err != nil:
				log.Error().Err(out.err).Str("id", out.id).Msg("Failed to persist event after retries")
				result.FailedIDs = append(result.FailedIDs, out.id)
			case out.created:
				result.CreatedCount++
			default:
				result.ExistingCount++
			}
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	log.Info().
		Int("created", result.CreatedCount).
		Int("existing", result.ExistingCount).
		Int("failed", len(result.FailedIDs)).
		Msg("Batch persist finished")

	return result, nil
}

type chunkOutcome struct {
	id      string
	created bool
	err     error
}

// createWithRetry retries throttled conditional writes with exponential
// backoff and jitter. Conditional-check failures are terminal successes and
// are never retried.
func (s *EventStore) createWithRetry(ctx context.Context, event *models.Event) chunkOutcome {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(backoffBase)))
			s.sleep(delay)
		}

		created, id, err := s.CreateIfAbsent(ctx, event)
		if err == nil {
			return chunkOutcome{id: id, created: created}
		}
		if !isThrottled(err) {
			return chunkOutcome{id: event.ID, err: err}
		}
		lastErr = err
	}
	return chunkOutcome{id: event.ID, err: lastErr}
}
