package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("ShouldCountAnswersByStatus", func(t *testing.T) {
		m := New()
		m.ObserveAnswer("manuals", "ok", 20*time.Millisecond)
		m.ObserveAnswer("manuals", "ok", 30*time.Millisecond)
		m.ObserveAnswer("manuals", "refused", time.Millisecond)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.Questions.WithLabelValues("manuals", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Questions.WithLabelValues("manuals", "refused")))
	})

	t.Run("ShouldRecordBuilds", func(t *testing.T) {
		m := New()
		m.ObserveBuild("parts", "ok", time.Second, 2)
		m.SetIndexedChunks("parts", 42)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexBuilds.WithLabelValues("parts", "ok")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.SkippedDocs.WithLabelValues("parts")))
		assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexedChunks.WithLabelValues("parts")))
	})

	t.Run("ShouldBeNilSafe", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.ObserveAnswer("x", "ok", time.Second)
			m.ObserveBuild("x", "ok", time.Second, 1)
			m.SetIndexedChunks("x", 1)
		})
	})

	t.Run("ShouldServeExpositionFormat", func(t *testing.T) {
		m := New()
		m.ObserveAnswer("other", "ok", time.Millisecond)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `rag_questions_total{category="other",status="ok"} 1`)
	})
}
