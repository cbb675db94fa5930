package scorer

// ThreatLevel is the composite severity derived from the predicted class
// and the anomaly flag.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
	ThreatUnknown  ThreatLevel = "unknown"
)

// Class names produced by training.
const (
	ClassNormal = "normal"
	ClassDoS    = "dos"
	ClassProbe  = "probe"
	ClassR2L    = "r2l"
	ClassU2R    = "u2r"
)

// ThreatLevelFor maps a (label, anomaly flag) pair to a threat level.
// Any label not listed maps to ThreatUnknown.
func ThreatLevelFor(label string, anomalous bool) ThreatLevel {
	switch label {
	case ClassNormal:
		if anomalous {
			return ThreatMedium
		}
		return ThreatLow
	case ClassProbe, ClassDoS:
		return ThreatHigh
	case ClassR2L, ClassU2R:
		return ThreatCritical
	default:
		return ThreatUnknown
	}
}

// ThreatLevels lists every level in increasing severity, unknown last.
func ThreatLevels() []ThreatLevel {
	return []ThreatLevel{ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical, ThreatUnknown}
}
