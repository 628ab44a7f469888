package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type KeeperMetrics struct {
	rounds        *prometheus.CounterVec
	sourceErrors  *prometheus.CounterVec
	lastAnswer    *prometheus.GaugeVec
	answerAge     *prometheus.GaugeVec
	sourceSamples *prometheus.GaugeVec
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mvault_keeper_rounds_total",
				Help: "Count of keeper round submissions by aggregator and outcome.",
			}, []string{"aggregator", "outcome"}),
			sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "mvault_keeper_source_errors_total",
				Help: "Number of failed price source polls by aggregator and source.",
			}, []string{"aggregator", "source"}),
			lastAnswer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "mvault_keeper_last_answer",
				Help: "Last answer written by the keeper, scaled by the aggregator decimals.",
			}, []string{"aggregator"}),
			answerAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "mvault_keeper_answer_age_seconds",
				Help: "Seconds since the aggregator last accepted an answer.",
			}, []string{"aggregator"}),
			sourceSamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "mvault_keeper_source_samples",
				Help: "Number of sources that answered in the latest poll.",
			}, []string{"aggregator"}),
		}
		prometheus.MustRegister(
			keeperRegistry.rounds,
			keeperRegistry.sourceErrors,
			keeperRegistry.lastAnswer,
			keeperRegistry.answerAge,
			keeperRegistry.sourceSamples,
		)
	})
	return keeperRegistry
}

func (m *KeeperMetrics) ObserveRound(aggregator string, err error) {
	if m == nil {
		return
	}
	if aggregator == "" {
		aggregator = "unknown"
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.rounds.WithLabelValues(aggregator, outcome).Inc()
}

func (m *KeeperMetrics) IncSourceError(aggregator, source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.sourceErrors.WithLabelValues(aggregator, source).Inc()
}

func (m *KeeperMetrics) SetLastAnswer(aggregator string, answer float64) {
	if m == nil {
		return
	}
	m.lastAnswer.WithLabelValues(aggregator).Set(answer)
}

func (m *KeeperMetrics) SetAnswerAge(aggregator string, age time.Duration) {
	if m == nil {
		return
	}
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.answerAge.WithLabelValues(aggregator).Set(seconds)
}

func (m *KeeperMetrics) SetSourceSamples(aggregator string, count int) {
	if m == nil {
		return
	}
	m.sourceSamples.WithLabelValues(aggregator).Set(float64(count))
}

func (m *KeeperMetrics) InitAggregator(aggregator string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(aggregator, "accepted").Add(0)
	m.rounds.WithLabelValues(aggregator, "rejected").Add(0)
}
