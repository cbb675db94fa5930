package features

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(NumericFields(), []CategoricalField{
		{Name: FieldProtocolType, Domain: []string{"tcp", "udp", "icmp"}},
		{Name: FieldService, Domain: []string{"http", "ftp", "smtp", "ssh", "dns"}},
		{Name: FieldFlag, Domain: []string{"SF", "S0", "REJ", "RSTO"}},
	})
	require.NoError(t, err)
	return s
}

func sampleRecord() Record {
	return Record{
		ProtocolType:           "tcp",
		Service:                "http",
		Flag:                   "SF",
		SrcBytes:               181,
		DstBytes:               5450,
		LoggedIn:               1,
		Count:                  8,
		SrvCount:               8,
		SameSrvRate:            1,
		DstHostCount:           9,
		DstHostSrvCount:        9,
		DstHostSameSrvRate:     1,
		DstHostSameSrcPortRate: 0.11,
	}
}

func TestEncoderRaw(t *testing.T) {
	s := testSchema(t)
	enc, err := NewEncoder(s, nil)
	require.NoError(t, err)

	rec := sampleRecord()
	vec, err := enc.Raw(&rec)
	require.NoError(t, err)
	require.Len(t, vec, s.Len())

	col := func(name string) float64 {
		for i, c := range s.Columns {
			if c == name {
				return vec[i]
			}
		}
		t.Fatalf("column %q not in schema", name)
		return 0
	}

	assert.Equal(t, 181.0, col("src_bytes"))
	assert.Equal(t, 5450.0, col("dst_bytes"))
	assert.Equal(t, 1.0, col("logged_in"))
	assert.Equal(t, 1.0, col("protocol_type_tcp"))
	assert.Equal(t, 0.0, col("protocol_type_udp"))
	assert.Equal(t, 1.0, col("service_http"))
	assert.Equal(t, 1.0, col("flag_SF"))
	assert.Equal(t, 0.0, col("flag_S0"))
}

func TestEncoderIndicatorBlocks(t *testing.T) {
	s := testSchema(t)
	enc, err := NewEncoder(s, nil)
	require.NoError(t, err)

	indicatorSum := func(vec []float64, field string) float64 {
		var sum float64
		for i, c := range s.Columns {
			if len(c) > len(field) && c[:len(field)+1] == field+"_" {
				sum += vec[i]
			}
		}
		return sum
	}

	tests := []struct {
		name    string
		service string
		want    float64
	}{
		{name: "known category", service: "ssh", want: 1},
		{name: "reference level", service: "dns", want: 0},
		{name: "unknown category", service: "smb", want: 0},
		{name: "empty value", service: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Service = tt.service
			vec, err := enc.Raw(&rec)
			require.NoError(t, err)
			assert.Len(t, vec, s.Len())
			assert.Equal(t, tt.want, indicatorSum(vec, FieldService))
			assert.Equal(t, 1.0, indicatorSum(vec, FieldProtocolType))
		})
	}
}

func TestEncoderDeterministic(t *testing.T) {
	s := testSchema(t)
	data := [][]float64{}
	enc, err := NewEncoder(s, nil)
	require.NoError(t, err)
	for _, svc := range []string{"http", "ftp", "dns"} {
		rec := sampleRecord()
		rec.Service = svc
		v, err := enc.Raw(&rec)
		require.NoError(t, err)
		data = append(data, v)
	}
	scaler, err := FitScaler(data)
	require.NoError(t, err)

	enc, err = NewEncoder(s, scaler)
	require.NoError(t, err)

	rec := sampleRecord()
	first, err := enc.Encode(&rec)
	require.NoError(t, err)
	second, err := enc.Encode(&rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncoderIgnoresUnseenFields(t *testing.T) {
	s := testSchema(t)
	enc, err := NewEncoder(s, nil)
	require.NoError(t, err)

	base := map[string]any{}
	for _, name := range NumericFields() {
		base[name] = 0
	}
	base[FieldProtocolType] = "udp"
	base[FieldService] = "dns"
	base[FieldFlag] = "S0"

	var lengths []int
	for _, extra := range []map[string]any{
		{},
		{"packets_per_second": 42.5},
		{"packets_per_second": 1, "ttl": 64, "type": "Ransomware"},
	} {
		m := map[string]any{}
		for k, v := range base {
			m[k] = v
		}
		for k, v := range extra {
			m[k] = v
		}
		data, err := json.Marshal(m)
		require.NoError(t, err)

		var rec Record
		require.NoError(t, json.Unmarshal(data, &rec))
		vec, err := enc.Raw(&rec)
		require.NoError(t, err)
		lengths = append(lengths, len(vec))
	}

	for _, n := range lengths {
		assert.Equal(t, s.Len(), n)
	}
}

func TestEncoderScalerMismatch(t *testing.T) {
	s := testSchema(t)
	_, err := NewEncoder(s, &Scaler{Mean: []float64{0}, Scale: []float64{1}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestScaler(t *testing.T) {
	data := [][]float64{
		{1, 10, 5},
		{3, 10, 5},
		{5, 10, 5},
	}
	s, err := FitScaler(data)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3, 10, 5}, s.Mean, 1e-12)
	assert.InDelta(t, 1.632993161855452, s.Scale[0], 1e-12)
	assert.Equal(t, 1.0, s.Scale[1], "constant column gets unit scale")

	out, err := s.Transform([]float64{3, 12, 5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 2, 0}, out, 1e-12)

	_, err = s.Transform([]float64{1})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = FitScaler(nil)
	assert.Error(t, err)
}
