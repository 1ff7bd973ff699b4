package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the kernel's Prometheus collectors.
type Metrics struct {
	Operations   *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	Stages       *prometheus.CounterVec
	Rollbacks    *prometheus.CounterVec
	Commits      prometheus.Counter
	Verdicts     *prometheus.CounterVec
	Exchanges    *prometheus.HistogramVec
	Inconsistent *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_operations_total",
			Help: "Operations finished, by name and outcome status.",
		}, []string{"operation", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keel_operation_duration_seconds",
			Help:    "Time from admission to the final or prepared outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_stage_entries_total",
			Help: "Stage transitions of operation contexts.",
		}, []string{"stage"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_step_rollbacks_total",
			Help: "Compensated steps, by result.",
		}, []string{"result"}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keel_commits_total",
			Help: "Revisions published to the authoritative tree.",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_fleet_verdicts_total",
			Help: "Fleet verdicts issued.",
		}, []string{"verdict"}),
		Exchanges: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keel_participant_exchange_seconds",
			Help:    "Latency of propose and confirm exchanges with participants.",
			Buckets: prometheus.DefBuckets,
		}, []string{"participant", "phase", "status"}),
		Inconsistent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keel_inconsistent_participants",
			Help: "Participants marked inconsistent by their last verdict (1) or not (0).",
		}, []string{"participant"}),
	}

	for _, c := range []prometheus.Collector{
		m.Operations, m.Duration, m.Stages, m.Rollbacks, m.Commits, m.Verdicts, m.Exchanges, m.Inconsistent,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStage: func(_ context.Context, e *domain.StageEvent) {
			m.Stages.WithLabelValues(string(e.Stage)).Inc()
		},
		OnStepRollback: func(_ context.Context, e *domain.StepEvent) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.Rollbacks.WithLabelValues(result).Inc()
		},
		OnOutcome: func(_ context.Context, e *domain.OutcomeEvent) {
			m.Operations.WithLabelValues(e.Operation, string(e.Outcome.Status)).Inc()
			m.Duration.WithLabelValues(e.Operation).Observe(e.Duration.Seconds())
		},
		OnCommit: func(context.Context, *domain.CommitEvent) {
			m.Commits.Inc()
		},
		OnVerdict: func(_ context.Context, e *domain.VerdictEvent) {
			m.Verdicts.WithLabelValues(string(e.Verdict)).Inc()
			for name, p := range e.Participants {
				v := 0.0
				if p.Status == domain.OutcomeInconsistent {
					v = 1
				}
				m.Inconsistent.WithLabelValues(name).Set(v)
			}
		},
		OnParticipant: func(_ context.Context, e *domain.ParticipantEvent) {
			m.Exchanges.WithLabelValues(e.Participant, e.Phase, string(e.Status)).Observe(e.Duration.Seconds())
		},
	}
}

// LogHooks returns lifecycle hooks writing events to logger.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStage: func(ctx context.Context, e *domain.StageEvent) {
			logger.DebugContext(ctx, "stage", "tx_id", e.TxID, "operation", e.Operation, "address", e.Address.String(), "stage", e.Stage)
		},
		OnStepRollback: func(ctx context.Context, e *domain.StepEvent) {
			if e.Err != nil {
				logger.ErrorContext(ctx, "step compensation failed", "tx_id", e.TxID, "step", e.Step, "address", e.Address.String(), "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "step compensated", "tx_id", e.TxID, "step", e.Step, "address", e.Address.String())
		},
		OnOutcome: func(ctx context.Context, e *domain.OutcomeEvent) {
			attrs := []any{"tx_id", e.TxID, "operation", e.Operation, "address", e.Address.String(), "status", e.Outcome.Status, "duration", e.Duration}
			if e.Outcome.Failure != nil {
				attrs = append(attrs, "failure", e.Outcome.Failure.Message)
			}
			logger.InfoContext(ctx, "outcome", attrs...)
		},
		OnCommit: func(ctx context.Context, e *domain.CommitEvent) {
			logger.InfoContext(ctx, "commit", "process", e.Process, "revision", e.Revision)
		},
		OnVerdict: func(ctx context.Context, e *domain.VerdictEvent) {
			logger.InfoContext(ctx, "verdict", "tx_id", e.TxID, "verdict", e.Verdict, "participants", len(e.Participants))
		},
	}
}
