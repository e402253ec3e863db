// Package registry maps event-type identifiers to the rule used to decode the
// payload of an envelope carrying that type.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// FieldSelector extracts the sub-message that constitutes the decoded event
// from a parsed payload. It reports false when the field is not set.
type FieldSelector func(msg protoreflect.Message) (protoreflect.Message, bool)

// Rule says how to decode the payload of one event type.
type Rule struct {
	EventType string
	// Schema is the top-level message the payload bytes are parsed as.
	Schema protoreflect.MessageDescriptor
	// Field names the selected field, kept for diagnostics.
	Field string
	// Select pulls the decoded event out of a parsed Schema message.
	Select FieldSelector
}

// Entry is one row of the declarative registry table.
type Entry struct {
	EventType string
	Schema    protoreflect.MessageDescriptor
	Field     protoreflect.Name
}

// Registry is an immutable lookup table of decoding rules. It is safe for
// concurrent use without locking.
type Registry struct {
	rules map[string]Rule
}

// New builds a Registry from table entries. Every entry is validated up front so
// that Lookup never has to deal with a broken rule.
func New(entries ...Entry) (*Registry, error) {
	rules := make(map[string]Rule, len(entries))
	for i, e := range entries {
		if e.EventType == "" {
			return nil, fmt.Errorf("registry entry %d: event type is required", i)
		}
		if e.Schema == nil {
			return nil, fmt.Errorf("registry entry %q: schema is required", e.EventType)
		}
		if _, dup := rules[e.EventType]; dup {
			return nil, fmt.Errorf("registry entry %q: duplicate event type", e.EventType)
		}
		sel, err := SubMessage(e.Schema, e.Field)
		if err != nil {
			return nil, fmt.Errorf("registry entry %q: %w", e.EventType, err)
		}
		rules[e.EventType] = Rule{
			EventType: e.EventType,
			Schema:    e.Schema,
			Field:     string(e.Field),
			Select:    sel,
		}
	}
	return &Registry{rules: rules}, nil
}

// Lookup returns the rule registered for eventType. It is total: any string,
// including the empty string, yields either a rule or false.
func (r *Registry) Lookup(eventType string) (Rule, bool) {
	if r == nil {
		return Rule{}, false
	}
	rule, ok := r.rules[eventType]
	return rule, ok
}

// EventTypes lists the registered event types in sorted order.
func (r *Registry) EventTypes() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.rules))
	for k := range r.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of registered event types.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// SubMessage builds a selector for a singular message-typed field of schema.
// The field descriptor is resolved here, once, not on every decode.
func SubMessage(schema protoreflect.MessageDescriptor, field protoreflect.Name) (FieldSelector, error) {
	if field == "" {
		return nil, errors.New("field selector is required")
	}
	fd := schema.Fields().ByName(field)
	if fd == nil {
		return nil, fmt.Errorf("field %q not found in %s", field, schema.FullName())
	}
	if fd.Message() == nil || fd.IsList() || fd.IsMap() {
		return nil, fmt.Errorf("field %q of %s is not a singular message", field, schema.FullName())
	}
	return func(msg protoreflect.Message) (protoreflect.Message, bool) {
		if msg == nil || msg.Descriptor().FullName() != schema.FullName() || !msg.Has(fd) {
			return nil, false
		}
		return msg.Get(fd).Message(), true
	}, nil
}
