package realtime

import (
	"encoding/json"
	"fmt"

	"flowengine/internal/events"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBridge subscribes to run progress subjects and pushes messages into the Hub.
type NATSBridge struct {
	conn     *nats.Conn
	hub      *Hub
	tenantID string
	logger   zerolog.Logger
}

func NewNATSBridge(natsURL, tenantID string, hub *Hub, logger zerolog.Logger) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL, nats.Name("flowengine-realtime"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBridge{conn: nc, hub: hub, tenantID: tenantID, logger: logger}, nil
}

// Subscribe listens for progress on tenant.<tenantID>.run.*.progress
func (b *NATSBridge) Subscribe() error {
	subject := events.WildcardSubject(b.tenantID)
	if _, err := b.conn.Subscribe(subject, b.handle); err != nil {
		return fmt.Errorf("nats subscribe %q: %w", subject, err)
	}
	b.logger.Info().Str("subject", subject).Msg("NATS bridge subscribed")
	return nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	executionID, err := events.ExecutionIDFromSubject(msg.Subject)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Bad progress subject")
		return
	}
	var progress events.Progress
	if err := json.Unmarshal(msg.Data, &progress); err != nil {
		b.logger.Warn().Err(err).Str("executionId", executionID).Msg("Bad progress payload")
		return
	}

	// Wrap the raw progress payload in the outgoing envelope
	data, err := json.Marshal(outgoingMsg{
		Type:    "run.progress",
		RunID:   executionID,
		Payload: json.RawMessage(msg.Data),
	})
	if err != nil {
		b.logger.Warn().Err(err).Msg("Progress envelope marshal error")
		return
	}

	runIDs := []string{executionID}
	if progress.TaskID != "" {
		runIDs = append(runIDs, progress.TaskID)
	}
	send(b.hub, b.hub.broadcast, broadcastMsg{runIDs: runIDs, organizationID: progress.OrganizationID, payload: data})
}

// Close drains the NATS connection.
func (b *NATSBridge) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("NATS drain failed")
	}
}
