package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Recorder = (*Collector)(nil)
var _ Recorder = Nop{}

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordValidation(ResultValid)
	c.RecordValidation(ResultValid)
	c.RecordValidation(ResultInvalid)
	c.RecordRotation()
	c.RecordSessionIssued()
	c.RecordLinkOutcome("rejected", "username_mismatch")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.validations.WithLabelValues(ResultValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.validations.WithLabelValues(ResultInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rotations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.linkOutcomes.WithLabelValues("rejected", "username_mismatch")))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSessionIssued()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "identity_sessions_issued_total 1"))
}
