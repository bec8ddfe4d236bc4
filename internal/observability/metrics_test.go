package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordFeedCall(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.FeedCalls.WithLabelValues("transactions", "error"))
	RecordFeedCall("transactions", 0.1, errors.New("boom"))
	after := testutil.ToFloat64(DefaultMetrics.FeedCalls.WithLabelValues("transactions", "error"))
	assert.Equal(t, before+1, after)
}

func TestRecordTransfersInserted(t *testing.T) {
	RecordTransfersInserted("D-metrics", "production", 3)
	RecordTransfersInserted("D-metrics", "production", 2)
	assert.Equal(t, 5.0, testutil.ToFloat64(DefaultMetrics.TransfersInserted.WithLabelValues("D-metrics", "production")))
}

func TestRecordSuccess(t *testing.T) {
	RecordSuccess("D-metrics", 1700000000)
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(DefaultMetrics.LastSuccessfulRun.WithLabelValues("D-metrics")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	RecordRun("update", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rewards_pipeline_runs_total"))
}
