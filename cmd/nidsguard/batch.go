package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	nidsio "github.com/hed1ad/nidsguard/pkg/io"
	"github.com/hed1ad/nidsguard/pkg/io/csv"
	"github.com/hed1ad/nidsguard/pkg/io/jsonl"
	"github.com/hed1ad/nidsguard/pkg/scorer"
	"github.com/hed1ad/nidsguard/pkg/training"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		output    string
		hasHeader bool
	)

	cmd := &cobra.Command{
		Use:   "batch <records.csv>",
		Short: "Score an NSL-KDD file and write predictions as JSON lines",
		Long: `Batch streams an NSL-KDD style file row by row, writes one prediction per
line and prints a summary per threat level. Labeled rows also report how
often the prediction matched the attack category.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := a.loadScorer()
			if err != nil {
				return err
			}

			r, err := csv.NewReader(args[0], csv.WithHeader(hasHeader), csv.WithClassMapper(training.CategorizeAttack))
			if err != nil {
				return err
			}
			defer r.Close()

			var w nidsio.Writer = jsonl.NewWriter(cmd.OutOrStdout())
			if output != "" && output != "-" {
				f, err := jsonl.Create(output)
				if err != nil {
					return err
				}
				w = f
			}
			defer w.Close()

			rows, err := r.Stream(cmd.Context())
			if err != nil {
				return err
			}

			var sum batchSummary
			sum.levels = make(map[scorer.ThreatLevel]int)
			for row := range rows {
				p, err := s.Score(&row.Record)
				if err != nil {
					return fmt.Errorf("row %d: %w", sum.rows+1, err)
				}
				if err := w.Write(p); err != nil {
					return err
				}
				sum.add(p, row.Class)
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if err := r.Err(); err != nil {
				return fmt.Errorf("read %s after %d rows: %w", args[0], sum.rows, err)
			}
			sum.skipped = r.Skipped()

			a.logger.Info("batch scored", slog.Int("rows", sum.rows), slog.Int("skipped", sum.skipped))
			return sum.write(cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file for JSON lines (- for stdout)")
	cmd.Flags().BoolVar(&hasHeader, "header", false, "the file starts with a header row")
	return cmd
}

type batchSummary struct {
	rows      int
	skipped   int
	anomalies int
	labeled   int
	correct   int
	levels    map[scorer.ThreatLevel]int
}

func (s *batchSummary) add(p *scorer.Prediction, class string) {
	s.rows++
	s.levels[p.ThreatLevel]++
	if p.IsAnomaly {
		s.anomalies++
	}
	if class != "" {
		s.labeled++
		if class == p.Prediction {
			s.correct++
		}
	}
}

func (s *batchSummary) write(w io.Writer) error {
	fmt.Fprintf(w, "Scored %d rows (%d malformed skipped), %d anomalous\n", s.rows, s.skipped, s.anomalies)
	for _, level := range scorer.ThreatLevels() {
		fmt.Fprintf(w, "  %-8s %d\n", level, s.levels[level])
	}
	if s.labeled > 0 {
		fmt.Fprintf(w, "Labeled rows: %d, prediction matched: %d (%.2f%%)\n",
			s.labeled, s.correct, 100*float64(s.correct)/float64(s.labeled))
	}
	return nil
}
