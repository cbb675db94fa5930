// Package client submits connection records to a running nidsguard server.
package client

import (
	"encoding/json"
	"math/rand"

	"github.com/hed1ad/nidsguard/pkg/features"
)

// Threat is the incident descriptor attached to a submission. Its protocol
// and service replace the template's.
type Threat struct {
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Details      string `json:"details"`
	Status       string `json:"status"`
	ProtocolType string `json:"protocol_type"`
	Service      string `json:"service"`
}

// SampleThreats are the descriptors RandomSubmission picks from.
var SampleThreats = []Threat{
	{
		Type:         "Ransomware",
		Severity:     "Critical",
		Source:       "192.168.1.45",
		Target:       "File Server",
		Details:      "Potential ransomware activity detected. Multiple encryption operations observed.",
		Status:       "Active",
		ProtocolType: "tcp",
		Service:      "smb",
	},
	{
		Type:         "Brute Force",
		Severity:     "High",
		Source:       "203.45.67.89",
		Target:       "Auth Gateway",
		Details:      "Multiple failed login attempts from external IP.",
		Status:       "Active",
		ProtocolType: "tcp",
		Service:      "ssh",
	},
	{
		Type:         "Data Exfiltration",
		Severity:     "High",
		Source:       "172.16.32.12",
		Target:       "Database Server",
		Details:      "Unusual data transfer patterns detected from internal database.",
		Status:       "Active",
		ProtocolType: "tcp",
		Service:      "ftp",
	},
	{
		Type:         "Phishing",
		Severity:     "Medium",
		Source:       "Email Gateway",
		Target:       "Multiple Users",
		Details:      "Suspicious email campaign targeting financial department.",
		Status:       "Active",
		ProtocolType: "tcp",
		Service:      "smtp",
	},
	{
		Type:         "Zero-Day Exploit",
		Severity:     "Critical",
		Source:       "91.204.55.78",
		Target:       "Web Application Server",
		Details:      "Unknown attack pattern detected. Possible zero-day exploit targeting application vulnerabilities.",
		Status:       "Active",
		ProtocolType: "tcp",
		Service:      "http",
	},
}

// Template returns the fixed connection every submission starts from: a
// short HTTP-like session with a 181 byte request and a 5450 byte response.
// Protocol and service are left for the threat descriptor.
func Template() features.Record {
	return features.Record{
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

// SampleRecord is the template as a tcp/http connection.
func SampleRecord() features.Record {
	r := Template()
	r.ProtocolType = "tcp"
	r.Service = "http"
	return r
}

// Submission is a connection record tagged with a threat descriptor.
type Submission struct {
	Record features.Record
	Threat Threat
}

// NewSubmission merges the template with a threat descriptor.
func NewSubmission(t Threat) Submission {
	r := Template()
	r.ProtocolType = t.ProtocolType
	r.Service = t.Service
	return Submission{Record: r, Threat: t}
}

// RandomSubmission picks one of SampleThreats.
func RandomSubmission(rng *rand.Rand) Submission {
	return NewSubmission(SampleThreats[rng.Intn(len(SampleThreats))])
}

// MarshalJSON flattens the record and the descriptor into one object;
// descriptor keys win on collision.
func (s Submission) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 48)
	for _, part := range []any{s.Record, s.Threat} {
		data, err := json.Marshal(part)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
