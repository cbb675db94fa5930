package main

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/nidsguard/pkg/artifacts"
	"github.com/hed1ad/nidsguard/pkg/client"
	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/scorer"
	"github.com/hed1ad/nidsguard/pkg/server"
	"github.com/hed1ad/nidsguard/pkg/training"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()

	cmd := newRootCmd()
	var out, errb bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errb)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))

	err := cmd.Execute()
	return result{stdout: out.String(), stderr: errb.String(), err: err}
}

func trainModels(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "models")

	res := run(t, "", "train", "--models-dir", dir,
		"--synthetic-train", "400", "--synthetic-test", "60", "--trees", "5", "--seed", "3")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Classification Report")
	assert.Contains(t, res.stdout, "Anomaly Detection Results")

	for _, name := range []string{artifacts.ManifestFile, artifacts.SchemaFile, artifacts.ClassifierFile, artifacts.DetectorFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	return dir
}

func kddLine(r features.LabeledRecord) string {
	var fields []string
	for _, name := range features.ColumnNames() {
		if v, ok := r.Numeric(name); ok {
			fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
			continue
		}
		v, _ := r.Categorical(name)
		fields = append(fields, v)
	}
	fields = append(fields, r.Class, strconv.Itoa(r.Difficulty))
	return strings.Join(fields, ",")
}

func TestTrainPredictBatch(t *testing.T) {
	dir := trainModels(t)

	t.Run("predict sample as json", func(t *testing.T) {
		res := run(t, "", "predict", "--models-dir", dir, "--json")
		require.NoError(t, res.err, res.stderr)

		var p scorer.Prediction
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &p))
		assert.Contains(t, []string{"normal", "dos", "probe", "r2l", "u2r"}, p.Prediction)
		assert.Equal(t, scorer.ThreatLevelFor(p.Prediction, p.IsAnomaly), p.ThreatLevel)
	})

	t.Run("predict from stdin as text", func(t *testing.T) {
		body, err := json.Marshal(client.SampleRecord())
		require.NoError(t, err)

		res := run(t, string(body), "predict", "--models-dir", dir, "-")
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Predicted class:")
		assert.Contains(t, res.stdout, "Threat level:")
		assert.Contains(t, res.stdout, "Top contributing features:")
	})

	t.Run("predict rejects incomplete record", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rec.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"protocol_type":"tcp"}`), 0o644))

		res := run(t, "", "predict", "--models-dir", dir, path)
		require.Error(t, res.err)
		assert.ErrorIs(t, res.err, features.ErrSchemaMismatch)
	})

	t.Run("batch", func(t *testing.T) {
		rows := training.Synthetic(3, rand.New(rand.NewSource(5)))
		var lines []string
		for _, r := range rows {
			lines = append(lines, kddLine(r))
		}
		lines = append(lines, "not,a,row")
		path := filepath.Join(t.TempDir(), "test.csv")
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

		res := run(t, "", "batch", "--models-dir", dir, path)
		require.NoError(t, res.err, res.stderr)

		out := strings.Split(strings.TrimSpace(res.stdout), "\n")
		require.Len(t, out, 3)
		for _, line := range out {
			var p scorer.Prediction
			require.NoError(t, json.Unmarshal([]byte(line), &p))
			assert.NotEmpty(t, p.ID)
		}
		assert.Contains(t, res.stderr, "Scored 3 rows (1 malformed skipped)")
		assert.Contains(t, res.stderr, "Labeled rows: 3")
	})

	t.Run("send", func(t *testing.T) {
		bundle, err := artifacts.Load(dir)
		require.NoError(t, err)
		srv, err := server.New(bundle)
		require.NoError(t, err)
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		res := run(t, "", "send", "--url", ts.URL+"/predict", "--type", "phishing")
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Status: 200")
		assert.Contains(t, res.stdout, `"threat_level"`)
	})
}

func TestTrainFromFileLogsSkippedRows(t *testing.T) {
	rows := training.Synthetic(200, rand.New(rand.NewSource(9)))
	lines := []string{"not,a,row"}
	for _, r := range rows {
		lines = append(lines, kddLine(r))
	}
	path := filepath.Join(t.TempDir(), "KDDTrain+.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	res := run(t, "", "train", "--models-dir", filepath.Join(t.TempDir(), "models"),
		"--train", path, "--trees", "3", "--log-format", "json")
	require.NoError(t, res.err, res.stderr)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(res.stderr), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) != nil || entry["msg"] != "skipped malformed rows" {
			continue
		}
		found = true
		assert.Equal(t, path, entry["file"])
		assert.Equal(t, 1.0, entry["rows"])
	}
	assert.True(t, found, "skipped rows should be logged through the command logger: %s", res.stderr)
}

func TestWritePredictionWithoutExplanation(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &scorer.Prediction{
		ID:                 "3f1c",
		Prediction:         "normal",
		ThreatLevel:        scorer.ThreatLow,
		ClassProbabilities: map[string]float64{"normal": 1},
		Explanation:        scorer.Explanation{Message: "no feature importances available"},
		Timestamp:          ts,
	}

	var out bytes.Buffer
	require.NoError(t, writePrediction(&out, p))
	assert.Contains(t, out.String(), "no feature importances available")
	assert.NotContains(t, out.String(), "Top contributing features:")
	assert.Contains(t, out.String(), "ID: 3f1c")
	assert.Contains(t, out.String(), "Timestamp: 2024-03-01T12:00:00Z")
}

func TestPredictWithoutModels(t *testing.T) {
	res := run(t, "", "predict", "--models-dir", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, fs.ErrNotExist)
}

func TestSendUnknownType(t *testing.T) {
	res := run(t, "", "send", "--type", "teleportation")
	assert.ErrorContains(t, res.err, "unknown threat type")
}

func TestCaptureNeedsSource(t *testing.T) {
	res := run(t, "", "capture")
	assert.ErrorContains(t, res.err, "exactly one of --file or --iface")
}

func TestInvalidLogLevel(t *testing.T) {
	res := run(t, "", "train", "--log-level", "shout")
	assert.ErrorContains(t, res.err, "logging.level")
}
