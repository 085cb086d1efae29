package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
)

func TestResolutionLog_KeepsOrderBelowCapacity(t *testing.T) {
	log := NewResolutionLog(5)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		log.Append(models.ResolutionDecision{Timestamp: base.Add(time.Duration(i) * time.Second), Capability: fmt.Sprintf("c%d", i)})
	}

	got := log.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "c0", got[0].Capability)
	assert.Equal(t, "c2", got[2].Capability)
}

func TestResolutionLog_OverwritesOldest(t *testing.T) {
	log := NewResolutionLog(3)
	for i := 0; i < 7; i++ {
		log.Append(models.ResolutionDecision{Capability: fmt.Sprintf("c%d", i)})
	}

	got := log.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c4", "c5", "c6"}, []string{got[0].Capability, got[1].Capability, got[2].Capability})
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, 3, log.Capacity())
}

func TestResolutionLog_DefaultCapacity(t *testing.T) {
	log := NewResolutionLog(0)
	for i := 0; i < 150; i++ {
		log.Record(Resolution{Capability: CapabilityForecast, Mode: ResolutionServer}, time.Now())
	}
	assert.Equal(t, 100, log.Len())
}

func TestResolutionLog_ConcurrentAppend(t *testing.T) {
	log := NewResolutionLog(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				log.Record(Resolution{Capability: CapabilityForecast, Mode: ResolutionClientFallback}, time.Now())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, log.Len())
	assert.Len(t, log.Snapshot(), 50)
}

func TestConfigCapabilityResolver(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("skip preference", func(t *testing.T) {
		r := NewConfigCapabilityResolver(config.ForecastConfig{Resolution: "skip"}, true, nil)
		assert.Equal(t, ResolutionSkip, r.Resolve(context.Background(), CapabilityForecast).Mode)
	})

	t.Run("client preference", func(t *testing.T) {
		r := NewConfigCapabilityResolver(config.ForecastConfig{Resolution: "client"}, true, nil)
		assert.Equal(t, ResolutionClientFallback, r.Resolve(context.Background(), CapabilityForecast).Mode)
	})

	t.Run("server without upstream", func(t *testing.T) {
		r := NewConfigCapabilityResolver(config.ForecastConfig{Resolution: "server"}, false, nil)
		res := r.Resolve(context.Background(), CapabilityForecast)
		assert.Equal(t, ResolutionClientFallback, res.Mode)
		assert.Contains(t, res.Reason, "not configured")
	})

	t.Run("server with open breaker", func(t *testing.T) {
		cb := newTestBreaker(&now)
		for i := 0; i < 3; i++ {
			_ = cb.Execute(context.Background(), failing)
		}
		r := NewConfigCapabilityResolver(config.ForecastConfig{Resolution: "server"}, true, cb)
		res := r.Resolve(context.Background(), CapabilityForecast)
		assert.Equal(t, ResolutionClientFallback, res.Mode)

		snap := r.Snapshot()
		assert.Equal(t, "client-fallback", snap[CapabilityForecast])
		assert.Equal(t, "open", snap["forecast_service.circuit"])
	})

	t.Run("server healthy", func(t *testing.T) {
		cb := newTestBreaker(&now)
		r := NewConfigCapabilityResolver(config.ForecastConfig{Resolution: "server"}, true, cb)
		assert.Equal(t, ResolutionServer, r.Resolve(context.Background(), CapabilityAnomalies).Mode)
		assert.Equal(t, "server", r.Snapshot()[CapabilityAnomalies])
	})
}
