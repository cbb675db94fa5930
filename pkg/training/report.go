package training

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// FeatureImportance is a named classifier feature weight.
type FeatureImportance struct {
	Name       string
	Importance float64
}

// Report summarises a training run and its evaluation on held-out data.
type Report struct {
	TrainRows       int
	NormalRows      int
	TestRows        int
	SkippedTestRows int
	Classes         []string
	Classification  ClassificationReport
	Confusion       [][]int
	Anomaly         BinaryMetrics
	TopFeatures     []FeatureImportance
}

// WriteText renders the report as aligned plain text.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	p := func(format string, args ...any) {
		fmt.Fprintf(tw, format, args...)
	}

	p("Training rows: %d (normal: %d)\n", r.TrainRows, r.NormalRows)
	p("Test rows: %d", r.TestRows)
	if r.SkippedTestRows > 0 {
		p(" (%d with classes unseen in training skipped)", r.SkippedTestRows)
	}
	p("\n\nClassification Report:\n")
	p("\tprecision\trecall\tf1-score\tsupport\t\n")
	for _, m := range r.Classification.Classes {
		p("%s\t%.2f\t%.2f\t%.2f\t%d\t\n", m.Class, m.Precision, m.Recall, m.F1, m.Support)
	}
	p("\t\t\t\t\t\n")
	p("accuracy\t\t\t%.2f\t%d\t\n", r.Classification.Accuracy, r.Classification.Total)
	for _, m := range []ClassMetrics{r.Classification.MacroAvg, r.Classification.WeightedAvg} {
		p("%s\t%.2f\t%.2f\t%.2f\t%d\t\n", m.Class, m.Precision, m.Recall, m.F1, m.Support)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p("\nConfusion Matrix (rows: true, columns: predicted):\n")
	p("\t%s\t\n", strings.Join(r.Classes, "\t"))
	for i, row := range r.Confusion {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		p("%s\t%s\t\n", r.Classes[i], strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p("\nAnomaly Detection Results:\n")
	p("Accuracy: %.4f\n", r.Anomaly.Accuracy)
	p("Precision: %.4f\n", r.Anomaly.Precision)
	p("Recall: %.4f\n", r.Anomaly.Recall)
	p("F1 Score: %.4f\n", r.Anomaly.F1)

	if len(r.TopFeatures) > 0 {
		p("\nTop %d Feature Importances:\n", len(r.TopFeatures))
		for _, f := range r.TopFeatures {
			p("%s\t%.4f\t\n", f.Name, f.Importance)
		}
	}
	return tw.Flush()
}
