package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
)

func TestNilRegistryDisablesMetrics(t *testing.T) {
	assert.Nil(t, NewCacheMetrics(nil))
	assert.Nil(t, NewThrottleMetrics(nil))
	assert.Nil(t, NewNetworkListener(nil))
}

func TestCacheMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewCacheMetrics(reg).(*cacheMetrics)

	m.RecordHit()
	m.RecordHit()
	m.RecordMiss()
	m.RecordEviction(true, 100)
	m.RecordEviction(false, 50)
	m.RecordSize(3, 4096)
	m.ObserveStore(2048, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues("true")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.evictedBytes))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.sizeBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.entries))
}

func TestNetworkListener(t *testing.T) {
	reg := NewRegistry()
	l := NewNetworkListener(reg)
	m := l.(*networkMetrics)

	l.OnNetworkAvailable(netmon.TypeWiFi)
	l.OnNetworkTypeChanged(netmon.TypeWiFi, netmon.TypeCellular)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.online.WithLabelValues("CELLULAR")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.online))

	l.OnNetworkLost()
	assert.Equal(t, 0, testutil.CollectAndCount(m.online))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("lost", "NONE")))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	NewThrottleMetrics(reg).RecordActive(2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "andromuks_media_loads_active 2"))
}
