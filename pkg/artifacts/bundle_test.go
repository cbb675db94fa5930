package artifacts

import (
	"encoding/json"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/nidsguard/pkg/classifiers/randomforest"
	"github.com/hed1ad/nidsguard/pkg/detectors/iforest"
	"github.com/hed1ad/nidsguard/pkg/features"
)

func trainedBundle(t *testing.T) (*Bundle, [][]float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))

	protocols := []string{"tcp", "udp", "icmp"}
	services := []string{"http", "ftp", "dns"}
	flags := []string{"SF", "S0", "REJ"}
	classes := []string{"normal", "dos", "probe"}

	records := make([]features.Record, 120)
	names := make([]string, len(records))
	for i := range records {
		r := &records[i]
		for _, f := range features.NumericFields() {
			r.SetNumeric(f, rng.Float64())
		}
		r.ProtocolType = protocols[rng.Intn(3)]
		r.Service = services[rng.Intn(3)]
		r.Flag = flags[rng.Intn(3)]
		names[i] = classes[i%3]
	}

	schema, err := features.BuildSchema(records)
	require.NoError(t, err)
	raw, err := mustEncoder(t, schema, nil).RawAll(records)
	require.NoError(t, err)
	scaler, err := features.FitScaler(raw)
	require.NoError(t, err)
	data, err := scaler.TransformAll(raw)
	require.NoError(t, err)

	labels := features.NewLabelMapping(names)
	codes, err := labels.Codes(names)
	require.NoError(t, err)

	clf := randomforest.New(randomforest.WithTrees(5), randomforest.WithSeed(1))
	require.NoError(t, clf.Fit(data, codes, labels.Len()))
	det := iforest.New(iforest.WithTrees(10), iforest.WithSeed(1))
	require.NoError(t, det.Fit(data))

	b, err := NewBundle(schema, scaler, labels, clf, det)
	require.NoError(t, err)
	return b, data
}

func mustEncoder(t *testing.T, s *features.Schema, sc *features.Scaler) *features.Encoder {
	t.Helper()
	enc, err := features.NewEncoder(s, sc)
	require.NoError(t, err)
	return enc
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b, data := trainedBundle(t)
	dir := filepath.Join(t.TempDir(), "models")
	require.NoError(t, b.Save(dir))

	for _, name := range []string{ManifestFile, SchemaFile, ScalerFile, LabelsFile, ClassifierFile, DetectorFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, b.Schema.Columns, loaded.Schema.Columns)
	assert.Equal(t, b.Schema.Fingerprint, loaded.Manifest.SchemaFingerprint)
	assert.Equal(t, b.Labels.Classes(), loaded.Labels.Classes())
	assert.Equal(t, b.Scaler.Mean, loaded.Scaler.Mean)

	for _, row := range data[:10] {
		want, err := b.Classifier.PredictProba(row)
		require.NoError(t, err)
		got, err := loaded.Classifier.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		ws, err := b.Detector.Decide(row)
		require.NoError(t, err)
		gs, err := loaded.Detector.Decide(row)
		require.NoError(t, err)
		assert.Equal(t, ws, gs)
	}
}

func TestLoadedBundleScores(t *testing.T) {
	b, _ := trainedBundle(t)
	dir := t.TempDir()
	require.NoError(t, b.Save(dir))
	loaded, err := Load(dir)
	require.NoError(t, err)

	s, err := loaded.NewScorer()
	require.NoError(t, err)

	p, err := s.Score(&features.Record{ProtocolType: "tcp", Service: "http", Flag: "SF", SrcBytes: 0.5})
	require.NoError(t, err)
	assert.Contains(t, []string{"normal", "dos", "probe"}, p.Prediction)
	assert.Len(t, p.ClassProbabilities, 3)
}

func TestLoadMissingFile(t *testing.T) {
	b, _ := trainedBundle(t)
	dir := t.TempDir()
	require.NoError(t, b.Save(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, DetectorFile)))

	_, err := Load(dir)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = Load(filepath.Join(dir, "nope"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadRejectsForeignSchema(t *testing.T) {
	b, _ := trainedBundle(t)
	dir := t.TempDir()
	require.NoError(t, b.Save(dir))

	// Rewrite the manifest as if another training run had produced it.
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	m.SchemaFingerprint = "0000"
	data, err = json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644))

	_, err = Load(dir)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestLoadRejectsEditedSchema(t *testing.T) {
	b, _ := trainedBundle(t)
	dir := t.TempDir()
	require.NoError(t, b.Save(dir))

	var s features.Schema
	path := filepath.Join(dir, SchemaFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &s))
	n := len(s.Columns)
	s.Columns[n-1], s.Columns[n-2] = s.Columns[n-2], s.Columns[n-1]
	data, err = json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(dir)
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)
}

func TestNewBundleRequiresAll(t *testing.T) {
	_, err := NewBundle(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
