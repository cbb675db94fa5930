package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownLabel is returned for class names or codes outside the mapping.
var ErrUnknownLabel = errors.New("unknown label")

// LabelMapping is the bijection between class names and classifier codes.
// Codes are indices into the sorted class names.
type LabelMapping struct {
	classes []string
	index   map[string]int
}

// NewLabelMapping builds a mapping from the distinct names in names.
func NewLabelMapping(names []string) *LabelMapping {
	m := &LabelMapping{classes: sortedUnique(names)}
	m.buildIndex()
	return m
}

func (m *LabelMapping) buildIndex() {
	m.index = make(map[string]int, len(m.classes))
	for i, c := range m.classes {
		m.index[c] = i
	}
}

// Len returns the number of classes.
func (m *LabelMapping) Len() int {
	return len(m.classes)
}

// Classes returns the class names ordered by code.
func (m *LabelMapping) Classes() []string {
	return append([]string(nil), m.classes...)
}

// Code returns the code of a class name.
func (m *LabelMapping) Code(name string) (int, error) {
	c, ok := m.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
	}
	return c, nil
}

// Name returns the class name of a code.
func (m *LabelMapping) Name(code int) (string, error) {
	if code < 0 || code >= len(m.classes) {
		return "", fmt.Errorf("%w: code %d", ErrUnknownLabel, code)
	}
	return m.classes[code], nil
}

// Codes maps class names to codes.
func (m *LabelMapping) Codes(names []string) ([]int, error) {
	codes := make([]int, len(names))
	for i, n := range names {
		c, err := m.Code(n)
		if err != nil {
			return nil, err
		}
		codes[i] = c
	}
	return codes, nil
}

type labelMappingJSON struct {
	Classes []string `json:"classes"`
}

// MarshalJSON implements json.Marshaler.
func (m *LabelMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(labelMappingJSON{Classes: m.classes})
}

// UnmarshalJSON implements json.Unmarshaler. Classes must be sorted and distinct.
func (m *LabelMapping) UnmarshalJSON(data []byte) error {
	var v labelMappingJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v.Classes) == 0 {
		return errors.New("label mapping has no classes")
	}
	if !sort.StringsAreSorted(v.Classes) || len(sortedUnique(v.Classes)) != len(v.Classes) {
		return fmt.Errorf("label classes must be sorted and distinct: %v", v.Classes)
	}
	m.classes = v.Classes
	m.buildIndex()
	return nil
}
