// Package training fits the feature schema, scaler, label mapping,
// classifier and anomaly detector from labeled connection records.
package training

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/hed1ad/nidsguard/pkg/artifacts"
	"github.com/hed1ad/nidsguard/pkg/classifiers"
	"github.com/hed1ad/nidsguard/pkg/classifiers/randomforest"
	"github.com/hed1ad/nidsguard/pkg/detectors/iforest"
	"github.com/hed1ad/nidsguard/pkg/features"
)

// ClassNormal is the class the anomaly detector is trained on.
const ClassNormal = "normal"

// Config holds training hyper-parameters.
type Config struct {
	Trees             int
	MaxDepth          int
	AnomalyTrees      int
	AnomalySampleSize int
	Contamination     float64
	Seed              int64
	TopFeatures       int
}

// DefaultConfig returns the standard training configuration.
func DefaultConfig() Config {
	return Config{
		Trees:             100,
		AnomalyTrees:      100,
		AnomalySampleSize: 256,
		Contamination:     0.1,
		Seed:              42,
		TopFeatures:       20,
	}
}

// Trainer runs the offline training procedure.
type Trainer struct {
	cfg    Config
	logger *slog.Logger
}

// NewTrainer creates a Trainer. A nil logger uses slog.Default.
func NewTrainer(cfg Config, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{cfg: cfg, logger: logger}
}

// Train fits every artifact on train and evaluates on test.
func (t *Trainer) Train(train, test []features.LabeledRecord) (*artifacts.Bundle, *Report, error) {
	if len(train) == 0 {
		return nil, nil, errors.New("no training records")
	}
	start := time.Now()

	records := make([]features.Record, len(train))
	names := make([]string, len(train))
	for i := range train {
		records[i] = train[i].Record
		names[i] = train[i].Class
	}

	t.logger.Info("encoding categorical features", slog.Int("rows", len(train)))
	schema, err := features.BuildSchema(records)
	if err != nil {
		return nil, nil, fmt.Errorf("build schema: %w", err)
	}
	rawEnc, err := features.NewEncoder(schema, nil)
	if err != nil {
		return nil, nil, err
	}
	raw, err := rawEnc.RawAll(records)
	if err != nil {
		return nil, nil, err
	}

	t.logger.Info("standardizing numerical features", slog.Int("columns", schema.Len()))
	scaler, err := features.FitScaler(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("fit scaler: %w", err)
	}
	data, err := scaler.TransformAll(raw)
	if err != nil {
		return nil, nil, err
	}

	labels := features.NewLabelMapping(names)
	codes, err := labels.Codes(names)
	if err != nil {
		return nil, nil, err
	}

	t.logger.Info("training classification model",
		slog.Int("trees", t.cfg.Trees),
		slog.Any("classes", labels.Classes()),
	)
	clf := randomforest.New(
		randomforest.WithTrees(t.cfg.Trees),
		randomforest.WithMaxDepth(t.cfg.MaxDepth),
		randomforest.WithSeed(t.cfg.Seed),
	)
	if err := clf.Fit(data, codes, labels.Len()); err != nil {
		return nil, nil, fmt.Errorf("fit classifier: %w", err)
	}

	var normal [][]float64
	for i := range train {
		if train[i].Class == ClassNormal {
			normal = append(normal, data[i])
		}
	}
	if len(normal) == 0 {
		return nil, nil, fmt.Errorf("no %q rows to train the anomaly detector on", ClassNormal)
	}

	t.logger.Info("training anomaly detection model",
		slog.Int("normal_rows", len(normal)),
		slog.Float64("contamination", t.cfg.Contamination),
	)
	det := iforest.New(
		iforest.WithTrees(t.cfg.AnomalyTrees),
		iforest.WithSampleSize(t.cfg.AnomalySampleSize),
		iforest.WithContamination(t.cfg.Contamination),
		iforest.WithSeed(t.cfg.Seed),
	)
	if err := det.Fit(normal); err != nil {
		return nil, nil, fmt.Errorf("fit anomaly detector: %w", err)
	}

	bundle, err := artifacts.NewBundle(schema, scaler, labels, clf, det)
	if err != nil {
		return nil, nil, err
	}

	report, err := t.evaluate(bundle, test)
	if err != nil {
		return nil, nil, err
	}
	report.TrainRows = len(train)
	report.NormalRows = len(normal)

	t.logger.Info("training completed",
		slog.Duration("elapsed", time.Since(start)),
		slog.Float64("accuracy", report.Classification.Accuracy),
	)
	return bundle, report, nil
}

func (t *Trainer) evaluate(b *artifacts.Bundle, test []features.LabeledRecord) (*Report, error) {
	r := &Report{
		TestRows: len(test),
		Classes:  b.Labels.Classes(),
	}

	enc, err := b.Encoder()
	if err != nil {
		return nil, err
	}

	var truth, pred []int
	var anomTruth, anomPred []bool
	for i := range test {
		vec, err := enc.Encode(&test[i].Record)
		if err != nil {
			return nil, fmt.Errorf("encode test row %d: %w", i, err)
		}

		score, err := b.Detector.Decide(vec)
		if err != nil {
			return nil, err
		}
		anomTruth = append(anomTruth, test[i].Class != ClassNormal)
		anomPred = append(anomPred, score.IsAnomaly)

		code, err := b.Labels.Code(test[i].Class)
		if err != nil {
			r.SkippedTestRows++
			continue
		}
		proba, err := b.Classifier.PredictProba(vec)
		if err != nil {
			return nil, err
		}
		truth = append(truth, code)
		pred = append(pred, classifiers.Argmax(proba))
	}
	if r.SkippedTestRows > 0 {
		t.logger.Warn("test rows with classes unseen in training skipped",
			slog.Int("rows", r.SkippedTestRows))
	}

	r.Classification = Classify(truth, pred, r.Classes)
	r.Confusion = ConfusionMatrix(truth, pred, len(r.Classes))
	r.Anomaly = Binary(anomTruth, anomPred)

	imp, err := b.Classifier.FeatureImportances()
	if err != nil {
		return nil, err
	}
	r.TopFeatures = topFeatures(b.Schema.Columns, imp, t.cfg.TopFeatures)
	return r, nil
}

func topFeatures(columns []string, imp []float64, n int) []FeatureImportance {
	all := make([]FeatureImportance, len(columns))
	for i, c := range columns {
		all[i] = FeatureImportance{Name: c, Importance: imp[i]}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Importance > all[b].Importance })
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Split shuffles records with seed and holds out the given fraction as a
// test set.
func Split(records []features.LabeledRecord, testFraction float64, seed int64) (train, test []features.LabeledRecord) {
	shuffled := append([]features.LabeledRecord(nil), records...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	nTest := int(float64(len(shuffled)) * testFraction)
	return shuffled[nTest:], shuffled[:nTest]
}
