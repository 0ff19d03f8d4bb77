// Package observability wires structured logging, tracing, and metrics
// for the room server: zap for logs (bridged to slog for libraries that
// expect it), OpenTelemetry for traces, and Prometheus for metrics.
package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// Metrics holds every Prometheus collector the room server exposes on
// /metrics.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	ActiveRooms        prometheus.Gauge
	HeldLeaderLeases   prometheus.Gauge
	RoomQueueLen       *prometheus.GaugeVec
	CommandLatency     *prometheus.HistogramVec
	CommandTotal       *prometheus.CounterVec
	CommandReject      *prometheus.CounterVec
	DedupHitTotal      prometheus.Counter
	BroadcastLatency   prometheus.Observer
	SchedulerWakeTotal *prometheus.CounterVec
	FanoutPublishTotal prometheus.Counter
	FanoutReceiveTotal prometheus.Counter
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}
	return &Metrics{
		ActiveConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active websocket connections",
		}),
		ActiveRooms: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rooms_active",
			Help: "Number of room actors currently running in this instance",
		}),
		HeldLeaderLeases: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "leader_leases_held",
			Help: "Number of room leader leases currently held by this instance",
		}),
		RoomQueueLen: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "room_actor_queue_len",
			Help: "Buffered commands waiting per room actor",
		}, []string{"room_id"}),
		CommandLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "command_latency_ms",
			Help:    "Latency for processing commands",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"command_type"}),
		CommandTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "command_total",
			Help: "Commands handled by type",
		}, []string{"command_type"}),
		CommandReject: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "command_reject_total",
			Help: "Rejected commands by reason",
		}, []string{"reason"}),
		DedupHitTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dedup_hit_total",
			Help: "Number of dedup cache hits",
		}),
		BroadcastLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "broadcast_latency_ms",
			Help:    "Per-subscriber redaction and broadcast latency",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SchedulerWakeTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_wake_total",
			Help: "Phase scheduler wake-ups by cause",
		}, []string{"cause"}),
		FanoutPublishTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fanout_publish_total",
			Help: "Cross-instance fan-out messages published",
		}),
		FanoutReceiveTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fanout_receive_total",
			Help: "Cross-instance fan-out messages received",
		}),
	}
}

func SetupTracerProvider(ctx context.Context, serviceName string, stdout bool, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	var exporter *stdouttrace.Exporter
	var err error
	if stdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	}

	rs := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(rs),
	)
	if exporter != nil {
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	}
	otel.SetTracerProvider(tp)
	logger.Info("tracer initialized")
	return tp, nil
}

func SetupLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	return cfg.Build()
}

// ZapToSlog wraps a zap.Logger as an slog.Logger, for libraries (go-redis,
// amqp091) that take an slog-shaped logging interface.
func ZapToSlog(logger *zap.Logger) *slog.Logger {
	return slog.New(slogHandler{logger.Sugar()})
}

type slogHandler struct {
	sugar *zap.SugaredLogger
}

func (h slogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h slogHandler) Handle(ctx context.Context, r slog.Record) error {
	args := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, a.Key, a.Value.Any())
		return true
	})
	switch r.Level {
	case slog.LevelDebug:
		h.sugar.Debugw(r.Message, args...)
	case slog.LevelInfo:
		h.sugar.Infow(r.Message, args...)
	case slog.LevelWarn:
		h.sugar.Warnw(r.Message, args...)
	case slog.LevelError:
		h.sugar.Errorw(r.Message, args...)
	}
	return nil
}

func (h slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := make([]interface{}, 0, len(attrs)*2)
	for _, a := range attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	return slogHandler{h.sugar.With(args...)}
}

func (h slogHandler) WithGroup(name string) slog.Handler {
	return h
}
