package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Group is one of the Parameter Store's six mutually independent maps.
type Group string

const (
	GroupSession     Group = "session"
	GroupMonitor     Group = "monitor"
	GroupStimulus    Group = "stimulus"
	GroupCamera      Group = "camera"
	GroupAcquisition Group = "acquisition"
	GroupAnalysis    Group = "analysis"
)

// AllGroups lists every group, in the canonical order used when
// serializing the parameter file.
var AllGroups = []Group{GroupSession, GroupMonitor, GroupStimulus, GroupCamera, GroupAcquisition, GroupAnalysis}

// Subscriber is invoked after a successful UpdateGroup with the set of
// top-level keys that changed value.
type Subscriber func(changedKeys []string)

type groupEntry struct {
	mu          sync.RWMutex
	schemaType  reflect.Type
	current     map[string]any
	defaultVal  map[string]any
	subscribers []Subscriber
}

// Store is the Parameter Store (C11): six grouped maps, each validated
// against a schema struct's tags when loaded from file and on update, persisted
// as one JSON document with a rotated .backup. Reentrant in spirit: each
// group has its own lock, so a slow subscriber in one group never blocks
// reads of another.
type Store struct {
	path     string
	validate *validator.Validate
	groups   map[Group]*groupEntry
}

// Schema associates a group with the struct type (passed as a zero value,
// e.g. model.AcquisitionParams{}) whose `validate` tags define its schema,
// plus its default values.
type Schema struct {
	Group   Group
	Type    any
	Default map[string]any
}

// New constructs a Store from one schema per group and loads persisted
// state from path if it exists, otherwise seeding every group from its
// defaults.
func New(path string, schemas []Schema) (*Store, error) {
	s := &Store{
		path:     path,
		validate: validator.New(),
		groups:   make(map[Group]*groupEntry, len(schemas)),
	}
	for _, sc := range schemas {
		current := cloneMap(sc.Default)
		s.groups[sc.Group] = &groupEntry{
			schemaType: reflect.TypeOf(sc.Type),
			current:    current,
			defaultVal: cloneMap(sc.Default),
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("config: load parameter file: %w", err)
		}
	}
	return s, nil
}

// Subscribe registers fn to be called after every successful update to g.
// C4's cached invariants subscribe to monitor and stimulus (§4.11).
func (s *Store) Subscribe(g Group, fn Subscriber) error {
	e, ok := s.groups[g]
	if !ok {
		return fmt.Errorf("config: unknown group %q", g)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
	return nil
}

// GetGroup returns a defensive copy of g's current values.
func (s *Store) GetGroup(g Group) (map[string]any, error) {
	e, ok := s.groups[g]
	if !ok {
		return nil, fmt.Errorf("config: unknown group %q", g)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneMap(e.current), nil
}

// GetAll returns a defensive copy of every group's current values.
func (s *Store) GetAll() map[Group]map[string]any {
	out := make(map[Group]map[string]any, len(s.groups))
	for g := range s.groups {
		out[g], _ = s.GetGroup(g)
	}
	return out
}

// UpdateGroup merges patch into g's current values, validates the merged
// result against g's schema, and — only if valid — commits it, persists
// the whole store, and notifies subscribers with the changed keys.
func (s *Store) UpdateGroup(g Group, patch map[string]any) (changedKeys []string, err error) {
	e, ok := s.groups[g]
	if !ok {
		return nil, fmt.Errorf("config: unknown group %q", g)
	}

	e.mu.Lock()
	merged := cloneMap(e.current)
	for k, v := range patch {
		merged[k] = v
	}

	if err := validateAgainstSchema(s.validate, e.schemaType, merged); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("config: validate group %q: %w", g, err)
	}

	for k, v := range patch {
		if !reflect.DeepEqual(e.current[k], v) {
			changedKeys = append(changedKeys, k)
		}
	}
	e.current = merged
	subs := append([]Subscriber(nil), e.subscribers...)
	e.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, fmt.Errorf("config: persist after update group %q: %w", g, err)
	}

	sort.Strings(changedKeys)
	for _, fn := range subs {
		fn(changedKeys)
	}
	return changedKeys, nil
}

// ResetToDefaults restores g's current values to its defaults, persists,
// and notifies subscribers with every key as changed.
func (s *Store) ResetToDefaults(g Group) error {
	e, ok := s.groups[g]
	if !ok {
		return fmt.Errorf("config: unknown group %q", g)
	}
	e.mu.Lock()
	e.current = cloneMap(e.defaultVal)
	var changed []string
	for k := range e.current {
		changed = append(changed, k)
	}
	subs := append([]Subscriber(nil), e.subscribers...)
	e.mu.Unlock()

	if err := s.persist(); err != nil {
		return fmt.Errorf("config: persist after reset group %q: %w", g, err)
	}
	sort.Strings(changed)
	for _, fn := range subs {
		fn(changed)
	}
	return nil
}

// ParameterInfo describes one field's validator-derived constraints, the
// basis for the get_parameter_info IPC command.
type ParameterInfo struct {
	Name       string `json:"name"`
	Required   bool   `json:"required"`
	Constraint string `json:"constraint,omitempty"`
}

// ParameterInfo introspects g's schema struct tags via reflection, so
// constraints are always in sync with the validator tags that actually
// gate updates.
func (s *Store) ParameterInfo(g Group) ([]ParameterInfo, error) {
	e, ok := s.groups[g]
	if !ok {
		return nil, fmt.Errorf("config: unknown group %q", g)
	}
	var out []ParameterInfo
	for i := 0; i < e.schemaType.NumField(); i++ {
		f := e.schemaType.Field(i)
		tag := f.Tag.Get("validate")
		if tag == "" && f.Tag.Get("json") == "" {
			continue
		}
		out = append(out, ParameterInfo{
			Name:       jsonFieldName(f),
			Required:   tag == "required" || containsRule(tag, "required"),
			Constraint: tag,
		})
	}
	return out, nil
}

func containsRule(tag, rule string) bool {
	for _, part := range splitComma(tag) {
		if part == rule {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	name := f.Name
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			if i > 0 {
				name = tag[:i]
			}
			return name
		}
	}
	if tag != "" {
		return tag
	}
	return name
}

// validateAgainstSchema round-trips merged through JSON into a fresh
// instance of schemaType and runs the struct validator over it — the
// merged map is never trusted directly, only the typed value it decodes
// into.
func validateAgainstSchema(v *validator.Validate, schemaType reflect.Type, merged map[string]any) error {
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	instance := reflect.New(schemaType).Interface()
	if err := json.Unmarshal(data, instance); err != nil {
		return err
	}
	return v.Struct(instance)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
