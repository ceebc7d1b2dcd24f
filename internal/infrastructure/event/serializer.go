package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/hms/backend/internal/domain/shared"
)

var ErrUnknownEventType = errors.New("unknown event type")

// EventSerializer turns events into outbox payloads and back. Payloads are
// plain JSON of the concrete event struct; the outbox row's event_type picks
// the struct to decode into.
type EventSerializer struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewEventSerializer() *EventSerializer {
	return &EventSerializer{types: make(map[string]reflect.Type)}
}

// Register binds eventType to the struct behind sample. sample may be a
// pointer or a value; decoding always yields a pointer.
func (s *EventSerializer) Register(eventType string, sample shared.DomainEvent) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[eventType] = t
}

func (s *EventSerializer) lookup(eventType string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[eventType]
	return t, ok
}

func (s *EventSerializer) IsRegistered(eventType string) bool {
	_, ok := s.lookup(eventType)
	return ok
}

func (s *EventSerializer) Serialize(event shared.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	return data, nil
}

func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	t, ok := s.lookup(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	v := reflect.New(t)
	if err := json.Unmarshal(data, v.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	event, ok := v.Interface().(shared.DomainEvent)
	if !ok {
		return nil, fmt.Errorf("%s is registered as %s, which is not a DomainEvent", eventType, t)
	}
	return event, nil
}

// RegisteredTypes lists the known event types in sorted order.
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.types))
	for name := range s.types {
		out = append(out, name)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}
