// Package artifacts persists and loads the trained model bundle: feature
// schema, scaling parameters, label mapping, classifier and anomaly detector.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hed1ad/nidsguard/pkg/classifiers/randomforest"
	"github.com/hed1ad/nidsguard/pkg/detectors/iforest"
	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

// FormatVersion is the on-disk bundle layout version.
const FormatVersion = 1

// File names inside a bundle directory.
const (
	ManifestFile   = "manifest.json"
	SchemaFile     = "feature_columns.json"
	ScalerFile     = "scaler.json"
	LabelsFile     = "label_encoder.json"
	ClassifierFile = "classification_model.gob"
	DetectorFile   = "anomaly_detector.gob"
)

// ErrIncompatible indicates artifacts that were not produced together.
var ErrIncompatible = errors.New("incompatible artifacts")

// Manifest ties the artifacts of one training run together.
type Manifest struct {
	FormatVersion     int       `json:"format_version"`
	SchemaVersion     int       `json:"schema_version"`
	SchemaFingerprint string    `json:"schema_fingerprint"`
	NumFeatures       int       `json:"num_features"`
	Classes           []string  `json:"classes"`
	CreatedAt         time.Time `json:"created_at"`
}

// Bundle is the complete set of trained artifacts. It is read-only once
// loaded.
type Bundle struct {
	Manifest   Manifest
	Schema     *features.Schema
	Scaler     *features.Scaler
	Labels     *features.LabelMapping
	Classifier *randomforest.Forest
	Detector   *iforest.IsolationForest
}

// NewBundle assembles a bundle and stamps its manifest.
func NewBundle(schema *features.Schema, scaler *features.Scaler, labels *features.LabelMapping, clf *randomforest.Forest, det *iforest.IsolationForest) (*Bundle, error) {
	if schema == nil || scaler == nil || labels == nil || clf == nil || det == nil {
		return nil, errors.New("bundle requires schema, scaler, labels, classifier and detector")
	}
	b := &Bundle{
		Manifest: Manifest{
			FormatVersion:     FormatVersion,
			SchemaVersion:     schema.Version,
			SchemaFingerprint: schema.Fingerprint,
			NumFeatures:       schema.Len(),
			Classes:           labels.Classes(),
			CreatedAt:         time.Now().UTC(),
		},
		Schema:     schema,
		Scaler:     scaler,
		Labels:     labels,
		Classifier: clf,
		Detector:   det,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate cross-checks every artifact against the manifest and schema.
func (b *Bundle) Validate() error {
	if err := b.Schema.Validate(); err != nil {
		return err
	}
	if err := b.Scaler.Validate(); err != nil {
		return err
	}

	m := b.Manifest
	switch {
	case m.FormatVersion != FormatVersion:
		return fmt.Errorf("%w: bundle format %d, want %d", ErrIncompatible, m.FormatVersion, FormatVersion)
	case m.SchemaFingerprint != b.Schema.Fingerprint:
		return fmt.Errorf("%w: manifest schema fingerprint %.12s, schema is %.12s", ErrIncompatible, m.SchemaFingerprint, b.Schema.Fingerprint)
	case m.NumFeatures != b.Schema.Len():
		return fmt.Errorf("%w: manifest has %d features, schema has %d", ErrIncompatible, m.NumFeatures, b.Schema.Len())
	case b.Scaler.Dim() != b.Schema.Len():
		return fmt.Errorf("%w: scaler has %d columns, schema has %d", ErrIncompatible, b.Scaler.Dim(), b.Schema.Len())
	case b.Classifier.NumFeatures() != b.Schema.Len():
		return fmt.Errorf("%w: classifier expects %d features, schema has %d", ErrIncompatible, b.Classifier.NumFeatures(), b.Schema.Len())
	case b.Classifier.NumClasses() != b.Labels.Len():
		return fmt.Errorf("%w: classifier has %d classes, label mapping has %d", ErrIncompatible, b.Classifier.NumClasses(), b.Labels.Len())
	case b.Detector.NumFeatures() != b.Schema.Len():
		return fmt.Errorf("%w: detector expects %d features, schema has %d", ErrIncompatible, b.Detector.NumFeatures(), b.Schema.Len())
	}

	classes := b.Labels.Classes()
	if len(classes) != len(m.Classes) {
		return fmt.Errorf("%w: manifest lists %d classes, label mapping has %d", ErrIncompatible, len(m.Classes), len(classes))
	}
	for i := range classes {
		if classes[i] != m.Classes[i] {
			return fmt.Errorf("%w: class %d is %q in manifest, %q in label mapping", ErrIncompatible, i, m.Classes[i], classes[i])
		}
	}
	return nil
}

// Encoder returns an encoder bound to the bundle's schema and scaler.
func (b *Bundle) Encoder() (*features.Encoder, error) {
	return features.NewEncoder(b.Schema, b.Scaler)
}

// NewScorer returns a scorer over the bundle's artifacts.
func (b *Bundle) NewScorer(opts ...scorer.Option) (*scorer.Scorer, error) {
	enc, err := b.Encoder()
	if err != nil {
		return nil, err
	}
	return scorer.New(enc, b.Labels, b.Classifier, b.Detector, opts...)
}

// Save writes the bundle into dir, creating it if needed.
func (b *Bundle) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	clf, err := b.Classifier.Save()
	if err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	det, err := b.Detector.Save()
	if err != nil {
		return fmt.Errorf("save anomaly detector: %w", err)
	}

	writes := []struct {
		name string
		v    any
		raw  []byte
	}{
		{name: SchemaFile, v: b.Schema},
		{name: ScalerFile, v: b.Scaler},
		{name: LabelsFile, v: b.Labels},
		{name: ClassifierFile, raw: clf},
		{name: DetectorFile, raw: det},
		// manifest last: its presence marks a complete bundle
		{name: ManifestFile, v: b.Manifest},
	}
	for _, w := range writes {
		data := w.raw
		if w.v != nil {
			data, err = json.MarshalIndent(w.v, "", "  ")
			if err != nil {
				return fmt.Errorf("encode %s: %w", w.name, err)
			}
		}
		if err := writeFile(filepath.Join(dir, w.name), data); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and validates a bundle from dir.
func Load(dir string) (*Bundle, error) {
	b := &Bundle{
		Schema: &features.Schema{},
		Scaler: &features.Scaler{},
		Labels: &features.LabelMapping{},
	}

	for _, r := range []struct {
		name string
		v    any
	}{
		{ManifestFile, &b.Manifest},
		{SchemaFile, b.Schema},
		{ScalerFile, b.Scaler},
		{LabelsFile, b.Labels},
	} {
		data, err := os.ReadFile(filepath.Join(dir, r.name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", r.name, err)
		}
		if err := json.Unmarshal(data, r.v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, ClassifierFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ClassifierFile, err)
	}
	b.Classifier = randomforest.New()
	if err := b.Classifier.Load(data); err != nil {
		return nil, err
	}

	data, err = os.ReadFile(filepath.Join(dir, DetectorFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", DetectorFile, err)
	}
	b.Detector = iforest.New()
	if err := b.Detector.Load(data); err != nil {
		return nil, err
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// writeFile writes through a temporary file so readers never see a partial artifact.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
