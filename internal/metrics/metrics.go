// Package metrics holds the Prometheus counters of the blocking core.
//
// Counters live on a private registry rather than the global default so
// several engines (and tests) can coexist in one process.
package metrics

import (
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "screentime"

// Metrics is the set of counters exported by the blocking core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	overlayShows     prometheus.Counter
	overlayHides     prometheus.Counter
	triggerFirings   *prometheus.CounterVec
	terminalUnblocks prometheus.Counter
	resumes          prometheus.Counter
	recoveries       *prometheus.CounterVec
	pollErrors       prometheus.Counter
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		overlayShows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "shows_total",
			Help:      "Overlay attachments performed by the blocking loop",
		}),
		overlayHides: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "hides_total",
			Help:      "Overlay detachments performed by the blocking loop",
		}),
		// Labels: kind (unblock, resume, restart, scheduled_block), tier (exact, backup, deferred)
		triggerFirings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "trigger_firings_total",
			Help:      "Deferred triggers delivered to the engine",
		}, []string{"kind", "tier"}),
		terminalUnblocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "terminal_unblocks_total",
			Help:      "Blocks ended by whichever trigger won the unblock claim",
		}),
		resumes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block",
			Name:      "resumes_total",
			Help:      "Paused blocks restored by the resume task",
		}),
		// Labels: action (restart_host, rearm, self_heal, resume)
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "actions_total",
			Help:      "Reconciliation actions taken by the recovery coordinator",
		}, []string{"action"}),
		pollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocker",
			Name:      "poll_errors_total",
			Help:      "Transient poll failures recovered by the blocking loop",
		}),
	}
}

// OverlayShown counts an overlay attachment.
func (m *Metrics) OverlayShown() {
	if m != nil {
		m.overlayShows.Inc()
	}
}

// OverlayHidden counts an overlay detachment.
func (m *Metrics) OverlayHidden() {
	if m != nil {
		m.overlayHides.Inc()
	}
}

// TriggerFired counts a delivered trigger.
func (m *Metrics) TriggerFired(kind, tier string) {
	if m != nil {
		m.triggerFirings.WithLabelValues(kind, tier).Inc()
	}
}

// TerminalUnblock counts a block ended by the winning unblock claim.
func (m *Metrics) TerminalUnblock() {
	if m != nil {
		m.terminalUnblocks.Inc()
	}
}

// Resumed counts a completed resume.
func (m *Metrics) Resumed() {
	if m != nil {
		m.resumes.Inc()
	}
}

// Recovery counts a reconciliation action.
func (m *Metrics) Recovery(action string) {
	if m != nil {
		m.recoveries.WithLabelValues(action).Inc()
	}
}

// PollError counts a recovered poll failure.
func (m *Metrics) PollError() {
	if m != nil {
		m.pollErrors.Inc()
	}
}

// Gather returns the current metric families.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m == nil {
		return nil, nil
	}
	return m.registry.Gather()
}

// WriteText prints every counter sample as "name{labels} value", sorted by name.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if _, err := fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), formatLabels(metric.GetLabel()), metric.GetCounter().GetValue()); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	out := "{"
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
	}
	return out + "}"
}
