package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"mvault/native/decimals"
	"mvault/observability/metrics"
	"mvault/services/vaultd/storage"
)

// Target is the aggregator a job writes to. *feed.CustomAggregator
// satisfies it.
type Target interface {
	Decimals() uint8
	SetRoundDataSafe(caller common.Address, answer *big.Int) error
	LastTimestamp() (int64, error)
}

// Viewer grants shared access to committed state. *state.Manager satisfies it.
type Viewer interface {
	View(fn func() error) error
}

// Job binds an aggregator to the sources that price it. Reads of Target run
// inside State.View when State is set.
type Job struct {
	Name    string
	Target  Target
	State   Viewer
	Sources []Source
}

func (j Job) view(fn func() error) error {
	if j.State == nil {
		return fn()
	}
	return j.State.View(fn)
}

// Journal records samples and submissions. *storage.Storage satisfies it.
type Journal interface {
	RecordSample(ctx context.Context, sample storage.Sample) error
	RecordRound(ctx context.Context, round storage.Round) error
}

// Keeper periodically polls price sources and writes the median to the
// aggregators with the deviation-checked setter.
type Keeper struct {
	logger   *log.Logger
	journal  Journal
	identity common.Address
	jobs     []Job
	interval time.Duration
	maxAge   time.Duration
	minFeeds int
	metrics  *metrics.KeeperMetrics
	tracer   trace.Tracer
	rounds   metric.Int64Counter
	now      func() time.Time
	once     sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(k *Keeper) {
		k.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) {
		k.now = now
	}
}

// New constructs a keeper acting as identity, which must hold the price
// keeper or feed admin role on every target.
func New(journal Journal, identity common.Address, jobs []Job, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Keeper, error) {
	if journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if identity == (common.Address{}) {
		return nil, fmt.Errorf("keeper identity required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	k := &Keeper{
		logger:   log.Default(),
		journal:  journal,
		identity: identity,
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		metrics:  metrics.Keeper(),
		tracer:   otel.Tracer("vaultd/keeper"),
		rounds:   newRoundCounter(),
		now:      time.Now,
	}
	for _, job := range jobs {
		if job.Target == nil || len(job.Sources) == 0 {
			continue
		}
		k.jobs = append(k.jobs, job)
		k.metrics.InitAggregator(job.Name)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Jobs returns the number of aggregators the keeper maintains.
func (k *Keeper) Jobs() int { return len(k.jobs) }

// Run blocks, polling sources every interval until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Printf("vaultd: keeper started with %d aggregators", len(k.jobs))
	})
	for {
		if err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Printf("vaultd: keeper tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one polling cycle. Every job is attempted; failures are
// joined into the returned error.
func (k *Keeper) Tick(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	var errs []error
	for _, job := range k.jobs {
		jobCtx, span := k.tracer.Start(ctx, "keeper.round",
			trace.WithAttributes(attribute.String("aggregator", job.Name)))
		err := k.processJob(jobCtx, job)
		outcome := "accepted"
		if err != nil {
			outcome = "rejected"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		} else {
			span.SetStatus(codes.Ok, "round submitted")
		}
		span.End()
		k.rounds.Add(ctx, 1, metric.WithAttributes(
			attribute.String("aggregator", job.Name),
			attribute.String("outcome", outcome)))
	}
	return errors.Join(errs...)
}

func newRoundCounter() metric.Int64Counter {
	meter := otel.GetMeterProvider().Meter("mvault/vaultd")
	counter, err := meter.Int64Counter("mvault.keeper.rounds")
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("mvault/vaultd").Int64Counter("mvault.keeper.rounds")
	}
	return counter
}

func (k *Keeper) processJob(ctx context.Context, job Job) error {
	now := k.now()
	quotes := make([]*big.Rat, 0, len(job.Sources))
	feeders := make([]string, 0, len(job.Sources))
	for _, src := range job.Sources {
		if src == nil {
			continue
		}
		quote, err := src.Fetch(ctx)
		if err != nil {
			k.metrics.IncSourceError(job.Name, src.Name())
			k.logger.Printf("vaultd: source %s failed for %s: %v", src.Name(), job.Name, err)
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			k.metrics.IncSourceError(job.Name, src.Name())
			k.logger.Printf("vaultd: source %s returned invalid price", src.Name())
			continue
		}
		if quote.Timestamp.After(now.Add(5 * time.Second)) {
			k.logger.Printf("vaultd: source %s produced future timestamp", src.Name())
			continue
		}
		if quote.Timestamp.Before(now.Add(-k.maxAge)) {
			k.logger.Printf("vaultd: source %s quote expired", src.Name())
			continue
		}
		feeders = append(feeders, src.Name())
		quotes = append(quotes, new(big.Rat).Set(quote.Price))
		sample := storage.Sample{Aggregator: job.Name, Source: src.Name(), Answer: quote.Price.FloatString(18), ObservedAt: quote.Timestamp}
		if err := k.journal.RecordSample(ctx, sample); err != nil {
			k.logger.Printf("vaultd: record sample: %v", err)
		}
	}
	k.metrics.SetSourceSamples(job.Name, len(quotes))
	if len(quotes) < k.minFeeds {
		return fmt.Errorf("insufficient sources: %d of %d", len(quotes), k.minFeeds)
	}
	median := computeMedian(quotes)
	answer := scale(median, job.Target.Decimals())
	if answer.Sign() <= 0 {
		return fmt.Errorf("median rounds to zero")
	}

	submitErr := job.Target.SetRoundDataSafe(k.identity, answer)
	k.metrics.ObserveRound(job.Name, submitErr)
	round := storage.Round{
		Aggregator: job.Name,
		Answer:     decimals.FormatUnits(answer, job.Target.Decimals()),
		Sources:    feeders,
		Accepted:   submitErr == nil,
		RecordedAt: now,
	}
	if submitErr != nil {
		round.Error = submitErr.Error()
	}
	if err := k.journal.RecordRound(ctx, round); err != nil {
		k.logger.Printf("vaultd: record round: %v", err)
	}
	if submitErr != nil {
		return fmt.Errorf("submit answer: %w", submitErr)
	}
	price, _ := median.Float64()
	k.metrics.SetLastAnswer(job.Name, price)
	var updated int64
	if err := job.view(func() error {
		ts, err := job.Target.LastTimestamp()
		updated = ts
		return err
	}); err == nil {
		k.metrics.SetAnswerAge(job.Name, now.Sub(time.Unix(updated, 0)))
	}
	return nil
}

func computeMedian(quotes []*big.Rat) *big.Rat {
	sorted := make([]*big.Rat, 0, len(quotes))
	for _, q := range quotes {
		if q != nil {
			sorted = append(sorted, q)
		}
	}
	if len(sorted) == 0 {
		return new(big.Rat)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

// scale truncates price to an integer answer with the supplied decimals.
func scale(price *big.Rat, dec uint8) *big.Int {
	scaled := new(big.Rat).Mul(price, new(big.Rat).SetInt(decimals.Unit(dec)))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// Names lists the configured jobs, mainly for logs.
func Names(jobs []Job) string {
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name)
	}
	return strings.Join(names, ",")
}
