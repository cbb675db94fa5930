package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/nidsguard/pkg/features"
)

func TestSubmissionJSON(t *testing.T) {
	sub := NewSubmission(SampleThreats[0])

	data, err := json.Marshal(sub)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	for _, name := range features.NumericFields() {
		assert.Contains(t, fields, name)
	}
	assert.Equal(t, "Ransomware", fields["type"])
	assert.Equal(t, "Critical", fields["severity"])
	assert.Equal(t, "smb", fields["service"])
	assert.Equal(t, "tcp", fields["protocol_type"])
	assert.Equal(t, "SF", fields["flag"])
	assert.Equal(t, 5450.0, fields["dst_bytes"])
	assert.Equal(t, 0.11, fields["dst_host_same_src_port_rate"])

	// The server side decodes it as a record, ignoring the descriptor.
	var rec features.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, sub.Record, rec)
}

func TestRandomSubmission(t *testing.T) {
	seen := make(map[string]bool)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		sub := RandomSubmission(rng)
		assert.Equal(t, sub.Threat.Service, sub.Record.Service)
		assert.Equal(t, "tcp", sub.Record.ProtocolType)
		seen[sub.Threat.Type] = true
	}
	assert.Len(t, seen, len(SampleThreats))

	a := RandomSubmission(rand.New(rand.NewSource(9)))
	b := RandomSubmission(rand.New(rand.NewSource(9)))
	assert.Equal(t, a, b)
}

func TestSampleRecord(t *testing.T) {
	r := SampleRecord()
	assert.Equal(t, "tcp", r.ProtocolType)
	assert.Equal(t, "http", r.Service)
	assert.Equal(t, 181.0, r.SrcBytes)
	assert.Empty(t, Template().Service)
}

func TestSubmit(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction":"normal","threat_level":"low"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Submit(context.Background(), NewSubmission(SampleThreats[1]))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Brute Force", got["type"])
	assert.Equal(t, "ssh", got["service"])

	var body struct {
		Prediction  string `json:"prediction"`
		ThreatLevel string `json:"threat_level"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "normal", body.Prediction)
	assert.Equal(t, "low", body.ThreatLevel)
}

func TestSubmitErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		}))
		defer srv.Close()

		resp, err := New(srv.URL).Submit(context.Background(), NewSubmission(SampleThreats[0]))
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
		assert.Contains(t, se.Error(), "boom")
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("not json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>ok</html>"))
		}))
		defer srv.Close()

		_, err := New(srv.URL).Submit(context.Background(), NewSubmission(SampleThreats[0]))
		assert.ErrorContains(t, err, "failed to parse JSON response")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).Submit(context.Background(), NewSubmission(SampleThreats[0]))
		assert.ErrorContains(t, err, "request failed")
	})

	t.Run("timeout leaves a shared http client untouched", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		shared := &http.Client{}
		c := New(srv.URL, WithHTTPClient(shared), WithTimeout(50*time.Millisecond))
		assert.Zero(t, shared.Timeout)

		_, err := c.Submit(context.Background(), NewSubmission(SampleThreats[0]))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, shared.Timeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(url).Submit(context.Background(), NewSubmission(SampleThreats[0]))
		assert.Error(t, err)
	})
}
