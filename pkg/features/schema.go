package features

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SchemaVersion is the version of the column derivation rules below.
// Bump it whenever column naming or ordering changes.
const SchemaVersion = 1

var (
	// ErrSchemaMismatch indicates a record or vector does not fit the schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// CategoricalField is a categorical input with its enumerated domain.
// Domain is sorted; its first value is the reference level and has no column.
type CategoricalField struct {
	Name   string   `json:"name"`
	Domain []string `json:"domain"`
}

// Schema is the ordered output column set fixed at training time.
//
// Columns are the numeric fields in order, followed by one indicator per
// non-reference category of each categorical field, named "<field>_<value>".
type Schema struct {
	Version     int                `json:"version"`
	Numeric     []string           `json:"numeric"`
	Categorical []CategoricalField `json:"categorical"`
	Columns     []string           `json:"columns"`
	Fingerprint string             `json:"fingerprint"`
}

// NewSchema derives the column layout from numeric names and categorical domains.
func NewSchema(numeric []string, categorical []CategoricalField) (*Schema, error) {
	s := &Schema{
		Version: SchemaVersion,
		Numeric: append([]string(nil), numeric...),
	}
	for _, c := range categorical {
		s.Categorical = append(s.Categorical, CategoricalField{
			Name:   c.Name,
			Domain: sortedUnique(c.Domain),
		})
	}
	s.Columns = s.deriveColumns()
	s.Fingerprint = s.computeFingerprint()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// BuildSchema derives a schema from training records: all numeric fields and
// the categorical values observed in the data.
func BuildSchema(records []Record) (*Schema, error) {
	if len(records) == 0 {
		return nil, errors.New("no records to derive schema from")
	}

	domains := make(map[string]map[string]struct{}, len(categoricalFields))
	for _, name := range categoricalFields {
		domains[name] = make(map[string]struct{})
	}
	for i := range records {
		for _, name := range categoricalFields {
			v, _ := records[i].Categorical(name)
			if v != "" {
				domains[name][v] = struct{}{}
			}
		}
	}

	categorical := make([]CategoricalField, 0, len(categoricalFields))
	for _, name := range categoricalFields {
		values := make([]string, 0, len(domains[name]))
		for v := range domains[name] {
			values = append(values, v)
		}
		categorical = append(categorical, CategoricalField{Name: name, Domain: values})
	}

	return NewSchema(NumericFields(), categorical)
}

// IndicatorColumn names the indicator column for a categorical value.
func IndicatorColumn(field, value string) string {
	return field + "_" + value
}

// Validate checks that the schema is internally consistent and that the
// record type can produce every numeric column.
func (s *Schema) Validate() error {
	if s.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d (want %d)", ErrSchemaMismatch, s.Version, SchemaVersion)
	}
	if len(s.Numeric) == 0 && len(s.Categorical) == 0 {
		return fmt.Errorf("%w: empty schema", ErrSchemaMismatch)
	}

	for _, name := range s.Numeric {
		if _, ok := numericIndex[name]; !ok {
			return fmt.Errorf("%w: unknown numeric field %q", ErrSchemaMismatch, name)
		}
	}
	for _, c := range s.Categorical {
		if _, ok := (&Record{}).Categorical(c.Name); !ok {
			return fmt.Errorf("%w: unknown categorical field %q", ErrSchemaMismatch, c.Name)
		}
		if !sort.StringsAreSorted(c.Domain) {
			return fmt.Errorf("%w: domain of %q is not sorted", ErrSchemaMismatch, c.Name)
		}
	}

	seen := make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrSchemaMismatch, col)
		}
		seen[col] = struct{}{}
	}

	want := s.deriveColumns()
	if len(want) != len(s.Columns) {
		return fmt.Errorf("%w: %d columns, derivation yields %d", ErrSchemaMismatch, len(s.Columns), len(want))
	}
	for i := range want {
		if want[i] != s.Columns[i] {
			return fmt.Errorf("%w: column %d is %q, derivation yields %q", ErrSchemaMismatch, i, s.Columns[i], want[i])
		}
	}

	if fp := s.computeFingerprint(); s.Fingerprint != fp {
		return fmt.Errorf("%w: fingerprint %q does not match content", ErrSchemaMismatch, s.Fingerprint)
	}
	return nil
}

// Len returns the number of output columns.
func (s *Schema) Len() int {
	return len(s.Columns)
}

func (s *Schema) deriveColumns() []string {
	cols := append([]string(nil), s.Numeric...)
	for _, c := range s.Categorical {
		if len(c.Domain) < 2 {
			continue
		}
		for _, v := range c.Domain[1:] {
			cols = append(cols, IndicatorColumn(c.Name, v))
		}
	}
	return cols
}

func (s *Schema) computeFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\n", s.Version)
	fmt.Fprintf(h, "numeric:%s\n", strings.Join(s.Numeric, ","))
	for _, c := range s.Categorical {
		fmt.Fprintf(h, "categorical:%s=%s\n", c.Name, strings.Join(c.Domain, ","))
	}
	fmt.Fprintf(h, "columns:%s\n", strings.Join(s.Columns, ","))
	return hex.EncodeToString(h.Sum(nil))
}

func sortedUnique(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}
