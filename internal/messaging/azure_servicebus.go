package messaging

import (
	"context"
	"encoding/json"
	"time"

	"example.com/cityevents/services/ingestion/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// receiveBatchSize is how many messages one receive call pulls off the queue.
const receiveBatchSize = 10

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}) error
	StartConsumer(ctx context.Context, processor MessageProcessor) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewServiceBusClient creates a new Azure Service Bus client
func NewServiceBusClient(cfg config.AzureConfig) (ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusClient{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// SendMessage sends a message to the Service Bus queue
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"time": time.Now().UTC().Format(time.RFC3339),
		},
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// StartConsumer receives messages from the queue and hands them to the
// processor until the context is cancelled. Failed messages are abandoned so
// the broker redelivers them; the run-name lock makes redelivery of a batch
// that already ran a no-op rejection rather than a double ingestion.
func (s *serviceBusClient) StartConsumer(ctx context.Context, processor MessageProcessor) error {
	log.Info().Str("queue", s.queueName).Msg("Starting Service Bus consumer")

	receiver, err := s.client.NewReceiverForQueue(s.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Error receiving messages, retrying")
			time.Sleep(2 * time.Second)
			continue
		}

		for _, message := range messages {
			if err := processor.ProcessMessage(ctx, message); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
			}
		}
	}
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}
