/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards playout events to external observers (the web
// panel, dashboards) over Redis or NATS while still delivering them in-process.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/config"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subjectPrefix namespaces every external channel / subject.
const subjectPrefix = "grimnir_tv."

// Bus is the event bus shared by the playout core and the ops listener.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// New builds the bus selected by cfg.EventBus. Connection failures degrade to
// in-memory delivery instead of failing startup.
func New(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = generateNodeID()
	}
	logger = logger.With().Str("component", "eventbus").Str("node_id", nodeID).Logger()

	switch cfg.EventBus {
	case config.EventBusMemory, "":
		return &MemoryBus{Bus: events.NewBus()}, nil
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger)
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, nodeID, logger)
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}
}

// MemoryBus is the in-process bus with a no-op Close.
type MemoryBus struct {
	*events.Bus
}

// Close implements Bus.
func (MemoryBus) Close() error { return nil }

// envelope is the wire format shared by the Redis and NATS transports.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "grimnirtv"
	}
	return host + "-" + uuid.NewString()[:8]
}
