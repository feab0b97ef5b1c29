package call

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsConfig конфигурация системы метрик.
type MetricsConfig struct {
	// Enabled включает/выключает сбор метрик
	Enabled bool

	// Namespace префикс для Prometheus метрик
	Namespace string

	// Subsystem подсистема для Prometheus метрик
	Subsystem string

	// Registerer реестр для регистрации метрик.
	// Если nil, используется prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:   true,
		Namespace: "callkit",
		Subsystem: "call",
	}
}

// MetricsCollector собирает и экспортирует метрики ядра вызовов.
//
// Предоставляет Prometheus метрики для внешнего мониторинга и атомарные
// performance counters для внутренней диагностики. Все методы thread-safe
// и безопасны на nil получателе.
type MetricsCollector struct {
	// Prometheus метрики
	callsTotal        *prometheus.CounterVec
	callsActive       prometheus.Gauge
	callDuration      prometheus.Histogram
	stateTransitions  *prometheus.CounterVec
	signalsDropped    *prometheus.CounterVec
	admissionRejected *prometheus.CounterVec
	engineAcquired    prometheus.Gauge

	// Performance counters (атомарные для fast path)
	totalCalls  atomic.Int64
	activeCalls atomic.Int64
	totalDrops  atomic.Int64

	// Времена старта вызовов для расчета длительности
	startTimes sync.Map // callID -> time.Time

	enabled bool
}

// NewMetricsCollector создает новый сборщик метрик.
func NewMetricsCollector(config *MetricsConfig) *MetricsCollector {
	if config == nil {
		config = DefaultMetricsConfig()
	}

	if !config.Enabled {
		return &MetricsCollector{enabled: false}
	}

	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	mc := &MetricsCollector{enabled: true}

	mc.callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "calls_total",
		Help:      "Total number of call sessions created",
	}, []string{"direction"})

	mc.callsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "calls_active",
		Help:      "Number of currently active call sessions",
	})

	mc.callDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "call_duration_seconds",
		Help:      "Call session duration from creation to termination",
		Buckets:   []float64{1, 5, 15, 30, 60, 180, 600, 1800, 3600},
	})

	mc.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "state_transitions_total",
		Help:      "Total number of call state transitions",
	}, []string{"from", "to"})

	mc.signalsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "signals_dropped_total",
		Help:      "Signaling events dropped without a matching session",
	}, []string{"type"})

	mc.admissionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "admission_rejected_total",
		Help:      "Call attempts rejected by admission control",
	}, []string{"reason"})

	mc.engineAcquired = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "media_engine_acquired",
		Help:      "Whether the shared media engine is currently acquired",
	})

	reg.MustRegister(
		mc.callsTotal,
		mc.callsActive,
		mc.callDuration,
		mc.stateTransitions,
		mc.signalsDropped,
		mc.admissionRejected,
		mc.engineAcquired,
	)

	return mc
}

// CallCreated уведомляет о создании новой сессии вызова.
func (mc *MetricsCollector) CallCreated(callID string, direction Direction) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.totalCalls.Add(1)
	mc.activeCalls.Add(1)
	mc.callsTotal.WithLabelValues(string(direction)).Inc()
	mc.callsActive.Inc()
	mc.startTimes.Store(callID, time.Now())
}

// CallTerminated уведомляет о завершении сессии вызова.
func (mc *MetricsCollector) CallTerminated(callID string) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.activeCalls.Add(-1)
	mc.callsActive.Dec()
	if start, ok := mc.startTimes.LoadAndDelete(callID); ok {
		if startTime, ok := start.(time.Time); ok {
			mc.callDuration.Observe(time.Since(startTime).Seconds())
		}
	}
}

// StateTransition уведомляет о переходе состояния сессии.
func (mc *MetricsCollector) StateTransition(from, to CallState) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// SignalDropped уведомляет об отброшенном сигнальном событии.
func (mc *MetricsCollector) SignalDropped(eventType EventType) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.totalDrops.Add(1)
	mc.signalsDropped.WithLabelValues(string(eventType)).Inc()
}

// AdmissionRejected уведомляет об отказе в допуске нового вызова.
func (mc *MetricsCollector) AdmissionRejected(code CallErrorCode) {
	if mc == nil || !mc.enabled {
		return
	}
	mc.admissionRejected.WithLabelValues(code.String()).Inc()
}

// EngineAcquired обновляет состояние общего медиа движка.
func (mc *MetricsCollector) EngineAcquired(acquired bool) {
	if mc == nil || !mc.enabled {
		return
	}
	if acquired {
		mc.engineAcquired.Set(1)
	} else {
		mc.engineAcquired.Set(0)
	}
}

// PerformanceCounters возвращает текущие performance counters.
func (mc *MetricsCollector) PerformanceCounters() map[string]int64 {
	if mc == nil || !mc.enabled {
		return nil
	}
	return map[string]int64{
		"total_calls":  mc.totalCalls.Load(),
		"active_calls": mc.activeCalls.Load(),
		"total_drops":  mc.totalDrops.Load(),
	}
}
