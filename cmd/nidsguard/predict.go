package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/nidsguard/pkg/client"
	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

func newPredictCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "predict [record.json|-]",
		Short: "Score one connection record",
		Long: `Predict scores a single JSON connection record read from a file or, with
"-", from stdin. Without an argument the reference HTTP connection is scored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := client.SampleRecord()
			if len(args) == 1 {
				var err error
				rec, err = readRecord(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
			}

			_, s, err := a.loadScorer()
			if err != nil {
				return err
			}
			p, err := s.Score(&rec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			return writePrediction(out, p)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the prediction as JSON")
	return cmd
}

func readRecord(stdin io.Reader, path string) (features.Record, error) {
	var rec features.Record

	in := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return rec, err
		}
		defer f.Close()
		in = f
	}

	if err := json.NewDecoder(in).Decode(&rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func writePrediction(w io.Writer, p *scorer.Prediction) error {
	classes := make([]string, 0, len(p.ClassProbabilities))
	for c := range p.ClassProbabilities {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	fmt.Fprintln(w, "Prediction Results:")
	fmt.Fprintf(w, "Predicted class: %s\n", p.Prediction)
	fmt.Fprintf(w, "Threat level: %s\n", p.ThreatLevel)
	fmt.Fprintf(w, "Anomaly detected: %t (score: %.4f)\n", p.IsAnomaly, p.AnomalyScore)

	fmt.Fprintln(w, "\nClass probabilities:")
	for _, c := range classes {
		fmt.Fprintf(w, "  %s: %.4f\n", c, p.ClassProbabilities[c])
	}

	if len(p.Explanation.TopFeatures) == 0 {
		fmt.Fprintf(w, "\n%s\n", p.Explanation.Message)
	} else {
		fmt.Fprintln(w, "\nTop contributing features:")
		for i, name := range p.Explanation.TopFeatures {
			fmt.Fprintf(w, "  %s: %.4f\n", name, p.Explanation.ImportanceValues[i])
		}
	}
	_, err := fmt.Fprintf(w, "\nID: %s\nTimestamp: %s\n", p.ID, p.Timestamp.Format(time.RFC3339))
	return err
}
