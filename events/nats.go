package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// subjectPrefix is the NATS subject family for execution events.
const subjectPrefix = "hookflow.executions."

// NATSPublisher mirrors bus events onto NATS subjects so external
// consumers can follow execution lifecycles. Publish failures are logged
// and never affect the engine.
type NATSPublisher struct {
	conn   *nats.Conn
	bus    *Bus
	logger *slog.Logger
}

// NewNATSPublisher wires a bus to an established NATS connection.
func NewNATSPublisher(conn *nats.Conn, bus *Bus, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, bus: bus, logger: logger}
}

// Subject maps an event kind to its NATS subject:
// "execution:started" becomes "hookflow.executions.started".
func Subject(k Kind) string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	return subjectPrefix + s
}

// Run forwards bus events to NATS until the context is cancelled.
func (p *NATSPublisher) Run(ctx context.Context) {
	ch, cancel := p.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.publish(e)
		}
	}
}

func (p *NATSPublisher) publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal execution event", "kind", e.Kind, "error", err)
		return
	}
	if err := p.conn.Publish(Subject(e.Kind), data); err != nil {
		p.logger.Error("publish execution event",
			"subject", Subject(e.Kind), "execution", e.ExecutionID, "error", err)
	}
}
