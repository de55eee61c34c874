package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
//
// Metrics:
//   - meetjot_segments_total{channel}
//   - meetjot_transcription_gaps_total{channel}
//   - meetjot_transcription_seconds
//   - meetjot_extraction_candidates_total{outcome}
//   - meetjot_draft_transitions_total{from,to}
//   - meetjot_executions_total{tool_type,outcome}
//   - meetjot_execution_seconds{tool_type}
type Metrics struct {
	SegmentsTotal         *prometheus.CounterVec
	GapsTotal             *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	CandidatesTotal       *prometheus.CounterVec
	TransitionsTotal      *prometheus.CounterVec
	ExecutionsTotal       *prometheus.CounterVec
	ExecutionDuration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SegmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetjot_segments_total",
				Help: "Audio segments produced by the capture scheduler",
			},
			[]string{"channel"},
		),
		GapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetjot_transcription_gaps_total",
				Help: "Segments dropped after exhausting transcription retries",
			},
			[]string{"channel"},
		),
		TranscriptionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meetjot_transcription_seconds",
				Help:    "Duration of one segment transcription including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		CandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetjot_extraction_candidates_total",
				Help: "Extraction candidates by outcome (staged, repaired, discarded, duplicate)",
			},
			[]string{"outcome"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetjot_draft_transitions_total",
				Help: "Draft status transitions applied",
			},
			[]string{"from", "to"},
		),
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetjot_executions_total",
				Help: "Integration commits by outcome",
			},
			[]string{"tool_type", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetjot_execution_seconds",
				Help:    "Duration of integration commits including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_type"},
		),
	}
}

func (m *Metrics) Segment(channel string) {
	if m == nil {
		return
	}
	m.SegmentsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) Gap(channel string) {
	if m == nil {
		return
	}
	m.GapsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) Transcribed(d time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Observe(d.Seconds())
}

func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Executed(toolType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(toolType, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(toolType).Observe(d.Seconds())
}
