package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.SetOnlineUsers(3)
		m.StatusChanged("online")
		m.EventSent("ReceiveMessage")
		m.FrameDropped()
		m.CacheLookup("user", true)
		m.GatewayCall("token", nil)
		m.Invocation("SendMessage", errors.New("boom"))
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))

	m.CacheLookup("user", true)
	m.CacheLookup("user", false)
	m.CacheLookup("user", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("user", "miss")))

	m.GatewayCall("token", errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("token", "error")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.StatusChanged("busy")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `rtchat_presence_transitions_total{status="busy"} 1`))
}
