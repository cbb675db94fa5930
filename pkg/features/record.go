// Package features turns raw connection records into the fixed-length,
// scaled numeric vectors consumed by the classifier and anomaly detector.
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Categorical field names.
const (
	FieldProtocolType = "protocol_type"
	FieldService      = "service"
	FieldFlag         = "flag"
)

// Record is a single NSL-KDD style connection record.
type Record struct {
	Duration               float64 `json:"duration"`
	ProtocolType           string  `json:"protocol_type"`
	Service                string  `json:"service"`
	Flag                   string  `json:"flag"`
	SrcBytes               float64 `json:"src_bytes"`
	DstBytes               float64 `json:"dst_bytes"`
	Land                   float64 `json:"land"`
	WrongFragment          float64 `json:"wrong_fragment"`
	Urgent                 float64 `json:"urgent"`
	Hot                    float64 `json:"hot"`
	NumFailedLogins        float64 `json:"num_failed_logins"`
	LoggedIn               float64 `json:"logged_in"`
	NumCompromised         float64 `json:"num_compromised"`
	RootShell              float64 `json:"root_shell"`
	SuAttempted            float64 `json:"su_attempted"`
	NumRoot                float64 `json:"num_root"`
	NumFileCreations       float64 `json:"num_file_creations"`
	NumShells              float64 `json:"num_shells"`
	NumAccessFiles         float64 `json:"num_access_files"`
	NumOutboundCmds        float64 `json:"num_outbound_cmds"`
	IsHostLogin            float64 `json:"is_host_login"`
	IsGuestLogin           float64 `json:"is_guest_login"`
	Count                  float64 `json:"count"`
	SrvCount               float64 `json:"srv_count"`
	SerrorRate             float64 `json:"serror_rate"`
	SrvSerrorRate          float64 `json:"srv_serror_rate"`
	RerrorRate             float64 `json:"rerror_rate"`
	SrvRerrorRate          float64 `json:"srv_rerror_rate"`
	SameSrvRate            float64 `json:"same_srv_rate"`
	DiffSrvRate            float64 `json:"diff_srv_rate"`
	SrvDiffHostRate        float64 `json:"srv_diff_host_rate"`
	DstHostCount           float64 `json:"dst_host_count"`
	DstHostSrvCount        float64 `json:"dst_host_srv_count"`
	DstHostSameSrvRate     float64 `json:"dst_host_same_srv_rate"`
	DstHostDiffSrvRate     float64 `json:"dst_host_diff_srv_rate"`
	DstHostSameSrcPortRate float64 `json:"dst_host_same_src_port_rate"`
	DstHostSrvDiffHostRate float64 `json:"dst_host_srv_diff_host_rate"`
	DstHostSerrorRate      float64 `json:"dst_host_serror_rate"`
	DstHostSrvSerrorRate   float64 `json:"dst_host_srv_serror_rate"`
	DstHostRerrorRate      float64 `json:"dst_host_rerror_rate"`
	DstHostSrvRerrorRate   float64 `json:"dst_host_srv_rerror_rate"`
}

// LabeledRecord pairs a record with its class name.
type LabeledRecord struct {
	Record
	Class      string
	Difficulty int
}

type numericField struct {
	name string
	ref  func(*Record) *float64
}

// numericFields is in NSL-KDD column order.
var numericFields = []numericField{
	{"duration", func(r *Record) *float64 { return &r.Duration }},
	{"src_bytes", func(r *Record) *float64 { return &r.SrcBytes }},
	{"dst_bytes", func(r *Record) *float64 { return &r.DstBytes }},
	{"land", func(r *Record) *float64 { return &r.Land }},
	{"wrong_fragment", func(r *Record) *float64 { return &r.WrongFragment }},
	{"urgent", func(r *Record) *float64 { return &r.Urgent }},
	{"hot", func(r *Record) *float64 { return &r.Hot }},
	{"num_failed_logins", func(r *Record) *float64 { return &r.NumFailedLogins }},
	{"logged_in", func(r *Record) *float64 { return &r.LoggedIn }},
	{"num_compromised", func(r *Record) *float64 { return &r.NumCompromised }},
	{"root_shell", func(r *Record) *float64 { return &r.RootShell }},
	{"su_attempted", func(r *Record) *float64 { return &r.SuAttempted }},
	{"num_root", func(r *Record) *float64 { return &r.NumRoot }},
	{"num_file_creations", func(r *Record) *float64 { return &r.NumFileCreations }},
	{"num_shells", func(r *Record) *float64 { return &r.NumShells }},
	{"num_access_files", func(r *Record) *float64 { return &r.NumAccessFiles }},
	{"num_outbound_cmds", func(r *Record) *float64 { return &r.NumOutboundCmds }},
	{"is_host_login", func(r *Record) *float64 { return &r.IsHostLogin }},
	{"is_guest_login", func(r *Record) *float64 { return &r.IsGuestLogin }},
	{"count", func(r *Record) *float64 { return &r.Count }},
	{"srv_count", func(r *Record) *float64 { return &r.SrvCount }},
	{"serror_rate", func(r *Record) *float64 { return &r.SerrorRate }},
	{"srv_serror_rate", func(r *Record) *float64 { return &r.SrvSerrorRate }},
	{"rerror_rate", func(r *Record) *float64 { return &r.RerrorRate }},
	{"srv_rerror_rate", func(r *Record) *float64 { return &r.SrvRerrorRate }},
	{"same_srv_rate", func(r *Record) *float64 { return &r.SameSrvRate }},
	{"diff_srv_rate", func(r *Record) *float64 { return &r.DiffSrvRate }},
	{"srv_diff_host_rate", func(r *Record) *float64 { return &r.SrvDiffHostRate }},
	{"dst_host_count", func(r *Record) *float64 { return &r.DstHostCount }},
	{"dst_host_srv_count", func(r *Record) *float64 { return &r.DstHostSrvCount }},
	{"dst_host_same_srv_rate", func(r *Record) *float64 { return &r.DstHostSameSrvRate }},
	{"dst_host_diff_srv_rate", func(r *Record) *float64 { return &r.DstHostDiffSrvRate }},
	{"dst_host_same_src_port_rate", func(r *Record) *float64 { return &r.DstHostSameSrcPortRate }},
	{"dst_host_srv_diff_host_rate", func(r *Record) *float64 { return &r.DstHostSrvDiffHostRate }},
	{"dst_host_serror_rate", func(r *Record) *float64 { return &r.DstHostSerrorRate }},
	{"dst_host_srv_serror_rate", func(r *Record) *float64 { return &r.DstHostSrvSerrorRate }},
	{"dst_host_rerror_rate", func(r *Record) *float64 { return &r.DstHostRerrorRate }},
	{"dst_host_srv_rerror_rate", func(r *Record) *float64 { return &r.DstHostSrvRerrorRate }},
}

var numericIndex = func() map[string]int {
	m := make(map[string]int, len(numericFields))
	for i, f := range numericFields {
		m[f.name] = i
	}
	return m
}()

var categoricalFields = []string{FieldProtocolType, FieldService, FieldFlag}

// NumericFields returns the numeric field names in NSL-KDD column order.
func NumericFields() []string {
	names := make([]string, len(numericFields))
	for i, f := range numericFields {
		names[i] = f.name
	}
	return names
}

// CategoricalFields returns the categorical field names.
func CategoricalFields() []string {
	return append([]string(nil), categoricalFields...)
}

// ColumnNames returns the 41 NSL-KDD feature columns in file order.
func ColumnNames() []string {
	names := make([]string, 0, len(numericFields)+len(categoricalFields))
	names = append(names, "duration", FieldProtocolType, FieldService, FieldFlag)
	for _, f := range numericFields[1:] {
		names = append(names, f.name)
	}
	return names
}

// Numeric returns the value of a numeric field by name.
func (r *Record) Numeric(name string) (float64, bool) {
	i, ok := numericIndex[name]
	if !ok {
		return 0, false
	}
	return *numericFields[i].ref(r), true
}

// SetNumeric sets a numeric field by name. It reports whether the field exists.
func (r *Record) SetNumeric(name string, v float64) bool {
	i, ok := numericIndex[name]
	if !ok {
		return false
	}
	*numericFields[i].ref(r) = v
	return true
}

// Categorical returns the value of a categorical field by name.
func (r *Record) Categorical(name string) (string, bool) {
	switch name {
	case FieldProtocolType:
		return r.ProtocolType, true
	case FieldService:
		return r.Service, true
	case FieldFlag:
		return r.Flag, true
	}
	return "", false
}

// SetCategorical sets a categorical field by name. It reports whether the field exists.
func (r *Record) SetCategorical(name, v string) bool {
	switch name {
	case FieldProtocolType:
		r.ProtocolType = v
	case FieldService:
		r.Service = v
	case FieldFlag:
		r.Flag = v
	default:
		return false
	}
	return true
}

// Set assigns a field from its textual form, as found in NSL-KDD files.
func (r *Record) Set(name, value string) error {
	if r.SetCategorical(name, value) {
		return nil
	}
	if _, ok := numericIndex[name]; !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	r.SetNumeric(name, v)
	return nil
}

// UnmarshalJSON decodes a flat JSON object. Every numeric field must be
// present; unknown keys are ignored and non-string categorical values are
// treated as unknown categories.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var rec Record
	var missing []string
	for _, f := range numericFields {
		msg, ok := raw[f.name]
		if !ok || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			missing = append(missing, f.name)
			continue
		}
		v, err := decodeNumber(msg)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.name, err)
		}
		*f.ref(&rec) = v
	}
	if len(missing) > 0 {
		return &MissingFieldError{Fields: missing}
	}

	for _, name := range categoricalFields {
		msg, ok := raw[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			continue
		}
		rec.SetCategorical(name, s)
	}

	*r = rec
	return nil
}

// decodeNumber accepts JSON numbers, booleans and numeric strings.
func decodeNumber(msg json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(msg, &v); err == nil {
		return v, nil
	}
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", msg)
	}
	return strconv.ParseFloat(s, 64)
}

// MissingFieldError reports required numeric fields absent from a record.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	fields := append([]string(nil), e.Fields...)
	sort.Strings(fields)
	return fmt.Sprintf("%v: missing required fields %v", ErrSchemaMismatch, fields)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrSchemaMismatch
}
