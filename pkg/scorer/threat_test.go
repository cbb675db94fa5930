package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreatLevelFor(t *testing.T) {
	tests := []struct {
		label     string
		anomalous bool
		want      ThreatLevel
	}{
		{ClassNormal, false, ThreatLow},
		{ClassNormal, true, ThreatMedium},
		{ClassProbe, false, ThreatHigh},
		{ClassProbe, true, ThreatHigh},
		{ClassDoS, false, ThreatHigh},
		{ClassDoS, true, ThreatHigh},
		{ClassR2L, false, ThreatCritical},
		{ClassR2L, true, ThreatCritical},
		{ClassU2R, false, ThreatCritical},
		{ClassU2R, true, ThreatCritical},
		{"other", false, ThreatUnknown},
		{"other", true, ThreatUnknown},
		{"", false, ThreatUnknown},
		{"Normal", false, ThreatUnknown},
		{"DOS", true, ThreatUnknown},
	}

	for _, tt := range tests {
		name := tt.label
		if tt.anomalous {
			name += "/anomalous"
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ThreatLevelFor(tt.label, tt.anomalous))
		})
	}
}
