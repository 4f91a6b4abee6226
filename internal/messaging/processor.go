package messaging

import (
	"context"
	"encoding/json"

	"example.com/cityevents/services/ingestion/internal/models"
	"example.com/cityevents/services/ingestion/internal/pipeline"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// IngestBatch is the only event type the worker consumes today. The envelope
// keeps an eventType so producers can evolve the queue without breaking us.
const IngestBatch = "IngestBatch"

// BusMessage is the common message envelope
type BusMessage struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// IngestCommand is the payload of an IngestBatch message
type IngestCommand struct {
	RunName    string             `json:"runName"`
	Source     string             `json:"source"`
	EntityType string             `json:"entityType"`
	Events     []models.RawRecord `json:"events"`
}

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Processor routes queue messages into the ingestion pipeline
type Processor struct {
	orchestrator *pipeline.Orchestrator
}

func NewProcessor(orchestrator *pipeline.Orchestrator) *Processor {
	return &Processor{orchestrator: orchestrator}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg BusMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return errors.Wrap(err, "error unmarshalling message")
	}

	log.Info().Str("eventType", msg.EventType).Msg("Processing message")

	switch msg.EventType {
	case IngestBatch:
		var cmd IngestCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return errors.Wrap(err, "error unmarshalling ingest command")
		}
		return p.handleIngest(ctx, cmd)

	default:
		return errors.Errorf("unsupported event type: %s", msg.EventType)
	}
}

func (p *Processor) handleIngest(ctx context.Context, cmd IngestCommand) error {
	entityType := models.EntityType(cmd.EntityType)
	if entityType == "" {
		entityType = models.EntityEvent
	}

	result, err := p.orchestrator.Run(ctx, pipeline.IngestRequest{
		RunName:    cmd.RunName,
		Events:     cmd.Events,
		Source:     cmd.Source,
		EntityType: entityType,
	})
	if err != nil {
		// A replayed run name means the batch already ran; completing the
		// message is the correct outcome, not a failure.
		if errors.Is(err, pipeline.ErrDuplicateRun) {
			log.Warn().Str("run", cmd.RunName).Msg("Skipping batch, run name already used")
			return nil
		}
		return err
	}

	log.Info().
		Str("run", cmd.RunName).
		Int("persisted", result.PersistedCount).
		Int("existing", result.ExistingCount).
		Int("indexed", result.IndexedCount).
		Msg("Queue batch ingested")
	return nil
}
