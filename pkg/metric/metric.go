// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package metric provides primitives for collecting kernel metrics.
//
// Metrics are registered in a Registry, broken down by fields whose allowed
// values are fixed at registration, and read back as a Snapshot for export.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"rvcore.dev/rvcore/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidMetricName indicates a metric name is not a valid
	// Prometheus name once its slashes are replaced.
	ErrInvalidMetricName = errors.New("metric name contains invalid characters")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define
	// some allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// Name returns the field name.
func (f Field) Name() string {
	return f.name
}

// fieldMapper maps multi-dimensional field values to a single integer key.
type fieldMapper struct {
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible
	// field combinations.
	numFieldCombinations int
}

func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, fmt.Errorf("field %q: %w", f.name, ErrFieldHasNoAllowedValues)
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint32 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup returns the key of a field value combination. It must be called
// with one value per field, each of them allowed, or it will panic.
func (m fieldMapper) lookup(fieldValues ...string) int {
	if len(fieldValues) != len(m.fields) {
		panic(fmt.Sprintf("invalid field lookup depth: got %d values for %d fields", len(fieldValues), len(m.fields)))
	}
	idx := 0
	remaining := m.numFieldCombinations
Lookup:
	for i, val := range fieldValues {
		allowed := m.fields[i].allowedValues
		for valIdx, allowedVal := range allowed {
			if val == allowedVal {
				remaining /= len(allowed)
				idx += remaining * valIdx
				continue Lookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the inverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	values := make([]string, len(m.fields))
	remaining := m.numFieldCombinations
	for i, f := range m.fields {
		remaining /= len(f.allowedValues)
		values[i] = f.allowedValues[key/remaining]
		key %= remaining
	}
	return values
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored.
type Uint64Metric struct {
	metadata Metadata

	// fields holds one counter per field value combination.
	fields []atomic.Uint64

	fieldMapper fieldMapper
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will
// panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.fields[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will
// panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will
// panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(v)
}

// Metadata describes a registered metric.
type Metadata struct {
	// Name is the metric name, a slash separated path such as
	// "/kernel/syscalls".
	Name string

	Description string

	// Cumulative metrics only ever increase.
	Cumulative bool

	// Fields are the field names, in lookup order.
	Fields []string
}

// Value is the value of a metric for one field value combination.
type Value struct {
	// FieldValues has one value per field of the metric.
	FieldValues []string
	Value       uint64
}

// Snapshot is the state of one metric at a point in time.
type Snapshot struct {
	Metadata Metadata

	// Values holds every field combination with a non-zero value, in key
	// order. A metric without fields always has exactly one value.
	Values []Value
}

// Registry is a set of metrics.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*Uint64Metric)}
}

// validName returns true if name is a slash separated path of Prometheus
// name characters.
func validName(name string) bool {
	if !strings.HasPrefix(name, "/") || len(name) < 2 {
		return false
	}
	for _, c := range name[1:] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '/':
		default:
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new metric with the given name.
func (r *Registry) NewUint64Metric(name string, cumulative bool, description string, fields ...Field) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidMetricName)
	}
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", name, err)
	}
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		names = append(names, field.name)
	}
	m := &Uint64Metric{
		metadata: Metadata{
			Name:        name,
			Description: description,
			Cumulative:  cumulative,
			Fields:      names,
		},
		fields:      make([]atomic.Uint64, f.numFieldCombinations),
		fieldMapper: f,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNameInUse)
	}
	r.metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func (r *Registry) MustCreateNewUint64Metric(name string, cumulative bool, description string, fields ...Field) *Uint64Metric {
	m, err := r.NewUint64Metric(name, cumulative, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %v", name, err))
	}
	return m
}

// Snapshot returns the current value of every metric, sorted by name.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	metrics := make([]*Uint64Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		metrics = append(metrics, m)
	}
	r.mu.Unlock()
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].metadata.Name < metrics[j].metadata.Name
	})

	snaps := make([]Snapshot, 0, len(metrics))
	for _, m := range metrics {
		s := Snapshot{Metadata: m.metadata}
		for key := range m.fields {
			v := m.fields[key].Load()
			if v == 0 && len(m.fieldMapper.fields) > 0 {
				continue
			}
			s.Values = append(s.Values, Value{
				FieldValues: m.fieldMapper.keyToMultiField(key),
				Value:       v,
			})
		}
		snaps = append(snaps, s)
	}
	return snaps
}
