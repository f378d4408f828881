package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Manager wraps a Bus with structured logging, so every emitted event
// leaves an audit trail even if nothing is subscribed yet.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager builds a Manager over bus, tagging its own log lines with
// component=events.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{bus: bus, log: log.With().Str("component", "events").Logger()}
}

// Bus exposes the underlying bus for direct Subscribe calls.
func (m *Manager) Bus() *Bus { return m.bus }

// Emit publishes a typed EventData payload and logs it at Info.
func (m *Manager) Emit(module string, data EventData) {
	dataMap := toMap(data)
	m.bus.Emit(data.EventType(), module, dataMap)

	m.log.Info().
		Str("event_type", string(data.EventType())).
		Str("module", module).
		Interface("data", dataMap).
		Msg("event emitted")
}

// EmitError emits an ErrorEventData event and logs at Warn, used by
// background loops that must keep running after a failure instead of
// propagating it.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := &ErrorEventData{Error: err.Error(), Context: context}
	dataMap := toMap(data)
	m.bus.Emit(ErrorOccurred, module, dataMap)

	m.log.Warn().
		Str("module", module).
		Err(err).
		Msg("error event emitted")
}

func toMap(data EventData) map[string]interface{} {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
