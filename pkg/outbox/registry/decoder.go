package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// DecodeFunc turns an envelope's data into a typed payload.
type DecodeFunc func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry holds payload decoders keyed by event type and envelope version.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]DecodeFunc)}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	r.mu.Lock()
	r.decoders[decoderKey{eventType, version}] = fn
	r.mu.Unlock()
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.decoders[decoderKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return fn(payload)
}

// NewDecoderRegistryFromEvents registers a version 1 decoder for every published event.
func NewDecoderRegistryFromEvents(events *EventRegistry) *DecoderRegistry {
	reg := NewDecoderRegistry()
	if events == nil {
		return reg
	}
	for _, desc := range events.Descriptors() {
		factory := desc.PayloadFactory
		reg.Register(desc.EventType, 1, func(payload json.RawMessage) (any, error) {
			out := factory()
			if err := json.Unmarshal(payload, out); err != nil {
				return nil, err
			}
			return out, nil
		})
	}
	return reg
}
