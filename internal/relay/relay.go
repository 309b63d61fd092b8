// Package relay forwards engine notifications to external systems.
//
// A [Forwarder] subscribes to the notification bus and copies every event
// into a bounded queue. A single worker drains the queue and hands each
// [Envelope] to every configured [Publisher] in turn. The bus emitter never
// waits on the network: when the queue is full the event is dropped and
// counted. Each publisher runs behind its own circuit breaker so a dead
// broker is skipped quickly.
//
// Publishers ship for NATS ([NATSPublisher]) and MQTT ([MQTTPublisher]).
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrWong99/mindscope/internal/bus"
	"github.com/MrWong99/mindscope/pkg/types"
)

// Envelope is the wire form of one notification.
type Envelope struct {
	// SessionID is the capture session the event belongs to.
	SessionID string `json:"session_id,omitempty"`

	// Event is the notification name, e.g. "sampleClassified".
	Event string `json:"event"`

	// Time is when the envelope was created.
	Time time.Time `json:"time"`

	// Sample is set for sampleClassified.
	Sample *types.Sample `json:"sample,omitempty"`

	// Valence and Arousal place Sample's emotion on the circumplex.
	Valence *float64 `json:"valence,omitempty"`
	Arousal *float64 `json:"arousal,omitempty"`

	// Error is set for analysisError.
	Error string `json:"error,omitempty"`
}

// NewEnvelope builds an envelope for ev. payload must be a [types.Sample]
// for sampleClassified and an error for analysisError; it is ignored
// otherwise.
func NewEnvelope(ev bus.Event, sessionID string, at time.Time, payload any) Envelope {
	env := Envelope{SessionID: sessionID, Event: ev.String(), Time: at.UTC()}
	switch p := payload.(type) {
	case types.Sample:
		v, a := p.Emotion.Valence(), p.Emotion.Arousal()
		env.Sample = &p
		env.Valence = &v
		env.Arousal = &a
	case error:
		if p != nil {
			env.Error = p.Error()
		}
	}
	return env
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers envelopes to one external system. Implementations need
// not be safe for concurrent use; the [Forwarder] calls Publish from a
// single goroutine.
type Publisher interface {
	// Name identifies the publisher in logs and metrics.
	Name() string

	// Publish delivers env. It must honour ctx cancellation.
	Publish(ctx context.Context, env Envelope) error

	// Close flushes pending deliveries and releases the connection.
	Close() error
}
