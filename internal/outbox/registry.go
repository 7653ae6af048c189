package outbox

import "fmt"

// Decoder turns a raw payload into a typed domain event. Decoders are
// registered by type tag rather than discovered via reflection, so the set
// of publishable event types is explicit and closed at startup.
type Decoder func(payload []byte) (any, error)

// Registry is the C3 domain-event serializer's type-tag table: a closed
// mapping from type tag to decoder, populated once at startup via Register.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register binds a type tag to its decoder. Registering the same tag twice
// is a programmer error and panics at startup rather than silently
// overwriting, since a shadowed decoder would misroute every existing
// published record bearing that tag.
func (r *Registry) Register(typeTag string, decode Decoder) {
	if _, exists := r.decoders[typeTag]; exists {
		panic(fmt.Sprintf("%v: %s", ErrDuplicateTypeTag, typeTag))
	}
	r.decoders[typeTag] = decode
}

// Decode looks up the decoder for record.TypeTag and applies it to
// record.Payload. Returns ErrUnknownType if no decoder is registered for the
// tag, or ErrMalformed if the decoder itself fails.
func (r *Registry) Decode(record *Record) (any, error) {
	decode, ok := r.decoders[record.TypeTag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, record.TypeTag)
	}
	event, err := decode(record.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, record.TypeTag, err)
	}
	return event, nil
}
