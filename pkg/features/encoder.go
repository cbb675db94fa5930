package features

import "fmt"

// Encoder maps records onto the schema's column layout and applies scaling.
// It holds no mutable state and is safe for concurrent use.
type Encoder struct {
	schema *Schema
	scaler *Scaler

	numericPos  []int
	numericRefs []func(*Record) *float64
	// indicator positions by field, then by category value
	indicators map[string]map[string]int
}

// NewEncoder creates an encoder. A nil scaler yields unscaled vectors.
func NewEncoder(schema *Schema, scaler *Scaler) (*Encoder, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrSchemaMismatch)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if scaler != nil && scaler.Dim() != schema.Len() {
		return nil, fmt.Errorf("%w: scaler has %d columns, schema has %d", ErrSchemaMismatch, scaler.Dim(), schema.Len())
	}

	pos := make(map[string]int, schema.Len())
	for i, col := range schema.Columns {
		pos[col] = i
	}

	e := &Encoder{
		schema:     schema,
		scaler:     scaler,
		indicators: make(map[string]map[string]int, len(schema.Categorical)),
	}
	for _, name := range schema.Numeric {
		e.numericPos = append(e.numericPos, pos[name])
		e.numericRefs = append(e.numericRefs, numericFields[numericIndex[name]].ref)
	}
	for _, c := range schema.Categorical {
		values := make(map[string]int)
		for _, v := range c.Domain {
			if i, ok := pos[IndicatorColumn(c.Name, v)]; ok {
				values[v] = i
			}
		}
		e.indicators[c.Name] = values
	}

	return e, nil
}

// Schema returns the encoder's schema.
func (e *Encoder) Schema() *Schema {
	return e.schema
}

// Raw encodes a record without scaling. Numeric fields pass through;
// each categorical field sets at most one indicator. Reference-level and
// unknown categories leave the whole indicator block at zero.
func (e *Encoder) Raw(r *Record) ([]float64, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrSchemaMismatch)
	}

	vec := make([]float64, e.schema.Len())
	for i, ref := range e.numericRefs {
		vec[e.numericPos[i]] = *ref(r)
	}
	for field, values := range e.indicators {
		v, _ := r.Categorical(field)
		if i, ok := values[v]; ok {
			vec[i] = 1
		}
	}
	return vec, nil
}

// Encode encodes and scales a record.
func (e *Encoder) Encode(r *Record) ([]float64, error) {
	vec, err := e.Raw(r)
	if err != nil {
		return nil, err
	}
	if e.scaler == nil {
		return vec, nil
	}
	return e.scaler.Transform(vec)
}

// RawAll encodes many records without scaling.
func (e *Encoder) RawAll(records []Record) ([][]float64, error) {
	out := make([][]float64, len(records))
	for i := range records {
		vec, err := e.Raw(&records[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
