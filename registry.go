package outbox

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DecodeFunc materializes an event from its stored payload.
type DecodeFunc func(payload json.RawMessage) (Event, error)

// Resolver maps a type key and payload back to a concrete event.
type Resolver interface {
	Decode(typeKey string, payload json.RawMessage) (Event, error)
}

// Registry is an explicit type key to decoder table, built at startup.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// RegisterFunc binds a decoder to a type key.
func (r *Registry) RegisterFunc(typeKey string, decode DecodeFunc) error {
	if typeKey == "" {
		return ErrTypeKeyRequired
	}
	if decode == nil {
		return fmt.Errorf("outbox: nil decoder for %q", typeKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.decoders == nil {
		r.decoders = make(map[string]DecodeFunc)
	}
	if _, ok := r.decoders[typeKey]; ok {
		return fmt.Errorf("%w: %q", ErrTypeAlreadyRegistered, typeKey)
	}
	r.decoders[typeKey] = decode

	return nil
}

// Register binds the event type E using JSON decoding. The type key is taken from the zero
// value of E, so EventType must not depend on field values. E may be a struct or a pointer to one.
func Register[E Event](r *Registry) error {
	key := newEvent[E]().EventType()

	return r.RegisterFunc(key, func(payload json.RawMessage) (Event, error) {
		event := newEvent[E]()
		target := any(&event)
		if reflect.TypeFor[E]().Kind() == reflect.Pointer {
			target = event
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, err
		}

		return event, nil
	})
}

// MustRegister is like Register but panics on error.
func MustRegister[E Event](r *Registry) {
	if err := Register[E](r); err != nil {
		panic(err)
	}
}

func newEvent[E Event]() E {
	var zero E
	typ := reflect.TypeFor[E]()
	if typ.Kind() != reflect.Pointer {
		return zero
	}

	return reflect.New(typ.Elem()).Interface().(E)
}

// Decode materializes the event registered under typeKey.
func (r *Registry) Decode(typeKey string, payload json.RawMessage) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[typeKey]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typeKey)
	}

	event, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, typeKey, err)
	}
	if event == nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, typeKey, ErrNilEvent)
	}

	return event, nil
}

// Has reports whether typeKey is registered.
func (r *Registry) Has(typeKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[typeKey]

	return ok
}

// Keys returns the registered type keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.decoders))
	for key := range r.decoders {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)

	return keys
}
