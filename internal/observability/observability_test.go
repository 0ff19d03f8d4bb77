package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestNewMetrics_RegistersEveryCollectorWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ActiveConnections.Set(1)
	m.HeldLeaderLeases.Inc()
	m.RoomQueueLen.WithLabelValues("room-1").Set(2)
	m.CommandTotal.WithLabelValues("room.create").Inc()
	m.CommandReject.WithLabelValues("not_leader").Inc()
	m.DedupHitTotal.Inc()
	m.SchedulerWakeTotal.WithLabelValues("timer").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family registered")
	}
}

func TestZapToSlog_BridgesRecordsWithoutPanicking(t *testing.T) {
	logger := zap.NewNop()
	slogger := ZapToSlog(logger)
	slogger.Info("test message", "key", "value")
	slogger.With("scoped", true).Warn("scoped message")
}
