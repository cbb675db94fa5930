// Package scorer applies the trained classifier and anomaly detector to
// encoded records and derives a threat level.
package scorer

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/nidsguard/pkg/classifiers"
	"github.com/hed1ad/nidsguard/pkg/detectors"
	"github.com/hed1ad/nidsguard/pkg/features"
)

// Classifier is the part of a trained classifier the scorer needs.
type Classifier interface {
	PredictProba(sample []float64) ([]float64, error)
	FeatureImportances() ([]float64, error)
}

// AnomalyDetector is the part of a trained detector the scorer needs.
type AnomalyDetector interface {
	Decide(sample []float64) (detectors.Score, error)
}

// Prediction is the result of scoring one record.
type Prediction struct {
	ID                 string             `json:"id"`
	Prediction         string             `json:"prediction"`
	ThreatLevel        ThreatLevel        `json:"threat_level"`
	ClassProbabilities map[string]float64 `json:"class_probabilities"`
	AnomalyScore       float64            `json:"anomaly_score"`
	IsAnomaly          bool               `json:"is_anomaly"`
	Explanation        Explanation        `json:"explanation"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Explanation lists the classifier's most important features.
type Explanation struct {
	TopFeatures      []string  `json:"top_features,omitempty"`
	ImportanceValues []float64 `json:"importance_values,omitempty"`
	Message          string    `json:"message,omitempty"`
}

func (e Explanation) clone() Explanation {
	return Explanation{
		TopFeatures:      slices.Clone(e.TopFeatures),
		ImportanceValues: slices.Clone(e.ImportanceValues),
		Message:          e.Message,
	}
}

// Scorer produces predictions. It only reads its artifacts and is safe for
// concurrent use.
type Scorer struct {
	encoder     *features.Encoder
	labels      *features.LabelMapping
	classifier  Classifier
	detector    AnomalyDetector
	explanation Explanation

	topN   int
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// WithIDGenerator overrides the prediction ID source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Scorer) {
		s.newID = gen
	}
}

// WithTopFeatures sets how many features the explanation lists.
func WithTopFeatures(n int) Option {
	return func(s *Scorer) {
		s.topN = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = l
	}
}

// New creates a Scorer from loaded artifacts.
func New(encoder *features.Encoder, labels *features.LabelMapping, classifier Classifier, detector AnomalyDetector, opts ...Option) (*Scorer, error) {
	if encoder == nil || labels == nil || classifier == nil || detector == nil {
		return nil, errors.New("scorer requires encoder, labels, classifier and detector")
	}
	if labels.Len() == 0 {
		return nil, errors.New("label mapping is empty")
	}

	s := &Scorer{
		encoder:    encoder,
		labels:     labels,
		classifier: classifier,
		detector:   detector,
		topN:       5,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.explanation = explain(classifier, encoder.Schema().Columns, s.topN)
	return s, nil
}

// explain ranks the columns by classifier importance, most important first.
func explain(c Classifier, columns []string, n int) Explanation {
	imp, err := c.FeatureImportances()
	if err != nil || len(imp) != len(columns) {
		return Explanation{Message: "Feature importance not available for this model"}
	}

	order := make([]int, len(imp))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return imp[order[a]] > imp[order[b]] })
	if n > len(order) {
		n = len(order)
	}

	e := Explanation{}
	for _, i := range order[:n] {
		e.TopFeatures = append(e.TopFeatures, columns[i])
		e.ImportanceValues = append(e.ImportanceValues, imp[i])
	}
	return e
}

// Score encodes a record and scores it.
func (s *Scorer) Score(r *features.Record) (*Prediction, error) {
	vec, err := s.encoder.Encode(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return s.ScoreVector(vec)
}

// ScoreVector scores an already encoded and scaled vector.
func (s *Scorer) ScoreVector(vec []float64) (*Prediction, error) {
	if len(vec) != s.encoder.Schema().Len() {
		return nil, fmt.Errorf("%w: vector has %d columns, schema has %d", features.ErrSchemaMismatch, len(vec), s.encoder.Schema().Len())
	}

	proba, err := s.classifier.PredictProba(vec)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if len(proba) != s.labels.Len() {
		return nil, fmt.Errorf("classifier returned %d probabilities for %d classes", len(proba), s.labels.Len())
	}

	probs := make(map[string]float64, len(proba))
	for i, p := range proba {
		name, _ := s.labels.Name(i)
		probs[name] = p
	}
	label, err := s.labels.Name(classifiers.Argmax(proba))
	if err != nil {
		return nil, err
	}

	score, err := s.detector.Decide(vec)
	if err != nil {
		return nil, fmt.Errorf("anomaly detection: %w", err)
	}

	p := &Prediction{
		ID:                 s.newID(),
		Prediction:         label,
		ThreatLevel:        ThreatLevelFor(label, score.IsAnomaly),
		ClassProbabilities: probs,
		AnomalyScore:       score.Decision,
		IsAnomaly:          score.IsAnomaly,
		Explanation:        s.explanation.clone(),
		Timestamp:          s.now().UTC(),
	}

	s.logger.Debug("record scored",
		slog.String("id", p.ID),
		slog.String("prediction", p.Prediction),
		slog.String("threat_level", string(p.ThreatLevel)),
		slog.Float64("anomaly_score", p.AnomalyScore),
		slog.Bool("is_anomaly", p.IsAnomaly),
	)
	return p, nil
}
