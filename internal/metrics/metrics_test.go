package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/live-auction/internal/model"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.BidSubmitted("accepted")
	c.BidSubmitted("accepted")
	c.BidSubmitted("too_low")
	c.SettlementStage(model.StageCreditDebited, nil)
	c.SettlementStage(model.StageCreditDebited, errors.New("down"))
	c.SettlementDuration(time.Second)
	c.EventRelayed("bid.info", 3)
	c.FrameDropped("chat/a1")
	c.SessionsChanged(7)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.bids.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.settlementStages.WithLabelValues("CREDIT_DEBITED", "error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.relayed.WithLabelValues("bid.info")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.dropped.WithLabelValues("chat")))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.sessions))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.BidSubmitted("accepted")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "auction_bids_total")
}
