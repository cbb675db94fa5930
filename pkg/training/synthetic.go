package training

import (
	"math/rand"

	"github.com/hed1ad/nidsguard/pkg/features"
)

var (
	syntheticProtocols = []string{"tcp", "udp", "icmp"}
	syntheticServices  = []string{"http", "ftp", "smtp", "ssh", "dns"}
	syntheticFlags     = []string{"SF", "S0", "REJ", "RSTO"}

	syntheticClasses = []string{"normal", "dos", "probe", "r2l", "u2r"}
	syntheticWeights = []float64{0.6, 0.2, 0.1, 0.07, 0.03}
)

// Synthetic generates n labeled records with uniform numeric features in
// [0, 1), uniformly drawn categories and the NSL-KDD class mix.
func Synthetic(n int, rng *rand.Rand) []features.LabeledRecord {
	numeric := features.NumericFields()
	out := make([]features.LabeledRecord, n)

	for i := range out {
		r := &out[i]
		for _, name := range numeric {
			r.SetNumeric(name, rng.Float64())
		}
		r.ProtocolType = syntheticProtocols[rng.Intn(len(syntheticProtocols))]
		r.Service = syntheticServices[rng.Intn(len(syntheticServices))]
		r.Flag = syntheticFlags[rng.Intn(len(syntheticFlags))]
		r.Class = syntheticClasses[weightedChoice(rng, syntheticWeights)]
		r.Difficulty = rng.Intn(21)
	}
	return out
}

func weightedChoice(rng *rand.Rand, weights []float64) int {
	x := rng.Float64()
	for i, w := range weights {
		if x < w {
			return i
		}
		x -= w
	}
	return len(weights) - 1
}
