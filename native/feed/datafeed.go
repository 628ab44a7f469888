package feed

import (
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
)

var (
	ErrUnknownAggregator = errs.Validation("unknown aggregator")
	ErrFeedDeprecated    = errs.Oracle("feed is deprecated")
	ErrFeedUnhealthy     = errs.Oracle("feed is unhealthy")
	ErrInvalidBounds     = errs.Validation("invalid min/max answer")
)

// DataFeedConfig describes a feed at construction time. A zero HealthyDiff
// disables the staleness check and nil bounds disable the range check.
type DataFeedConfig struct {
	Address           common.Address
	Aggregator        common.Address
	HealthyDiff       time.Duration
	MinExpectedAnswer *big.Int
	MaxExpectedAnswer *big.Int
	AdminRole         access.Role
}

type storedFeedConfig struct {
	Aggregator  common.Address
	HealthyDiff uint64
	MinExpected string
	MaxExpected string
}

type storedFetch struct {
	Value     *big.Int
	Timestamp uint64
}

// DataFeed normalises an aggregator's latest answer into a base-18 price and
// refuses to serve deprecated, stale or out-of-range answers.
type DataFeed struct {
	state     State
	roles     Roles
	directory *Directory
	address   common.Address
	adminRole access.Role
	emitter   events.Emitter
	nowFn     func() int64
}

// NewDataFeed creates a feed. Parameters already persisted for the address
// take precedence over cfg so restarts keep admin changes.
func NewDataFeed(state State, roles Roles, directory *Directory, cfg DataFeedConfig) (*DataFeed, error) {
	if state == nil || roles == nil || directory == nil {
		return nil, errors.New("data feed: state, roles and directory required")
	}
	if cfg.Address == (common.Address{}) || cfg.Aggregator == (common.Address{}) {
		return nil, errs.ErrInvalidAddress
	}
	if _, ok := directory.Aggregator(cfg.Aggregator); !ok {
		return nil, ErrUnknownAggregator
	}
	if cfg.HealthyDiff < 0 {
		return nil, errs.Validation("invalid healthy diff")
	}
	if cfg.MinExpectedAnswer != nil && cfg.MaxExpectedAnswer != nil && cfg.MinExpectedAnswer.Cmp(cfg.MaxExpectedAnswer) >= 0 {
		return nil, ErrInvalidBounds
	}
	f := &DataFeed{
		state:     state,
		roles:     roles,
		directory: directory,
		address:   cfg.Address,
		adminRole: cfg.AdminRole,
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
	}
	err := state.Atomic(func() error {
		exists, err := state.KVGet(dataFeedConfigKey(cfg.Address), nil)
		if err != nil || exists {
			return err
		}
		return f.storeConfig(&storedFeedConfig{
			Aggregator:  cfg.Aggregator,
			HealthyDiff: uint64(cfg.HealthyDiff / time.Second),
			MinExpected: formatSigned(cfg.MinExpectedAnswer),
			MaxExpected: formatSigned(cfg.MaxExpectedAnswer),
		})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (f *DataFeed) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetNowFunc overrides the clock used for staleness checks.
func (f *DataFeed) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

func (f *DataFeed) Address() common.Address { return f.address }

// FeedParams is the current configuration of a feed.
type FeedParams struct {
	Aggregator        common.Address
	HealthyDiff       time.Duration
	MinExpectedAnswer *big.Int
	MaxExpectedAnswer *big.Int
}

// Params returns the persisted feed configuration.
func (f *DataFeed) Params() (*FeedParams, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	return &FeedParams{
		Aggregator:        cfg.Aggregator,
		HealthyDiff:       time.Duration(cfg.HealthyDiff) * time.Second,
		MinExpectedAnswer: parseSigned(cfg.MinExpected),
		MaxExpectedAnswer: parseSigned(cfg.MaxExpected),
	}, nil
}

func (f *DataFeed) loadConfig() (*storedFeedConfig, error) {
	cfg := new(storedFeedConfig)
	ok, err := f.state.KVGet(dataFeedConfigKey(f.address), cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound("feed not configured")
	}
	return cfg, nil
}

func (f *DataFeed) storeConfig(cfg *storedFeedConfig) error {
	return f.state.KVPut(dataFeedConfigKey(f.address), cfg)
}

// GetDataInBase18 reads the aggregator's latest answer and returns it scaled
// to 18 decimals. It never mutates state.
func (f *DataFeed) GetDataInBase18() (*big.Int, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	agg, ok := f.directory.Aggregator(cfg.Aggregator)
	if !ok {
		return nil, ErrUnknownAggregator
	}
	round, err := agg.LatestRoundData()
	if err != nil {
		return nil, err
	}
	if round == nil || round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, ErrFeedDeprecated
	}
	if cfg.HealthyDiff > 0 {
		age := f.nowFn() - round.UpdatedAt
		if age < 0 || uint64(age) > cfg.HealthyDiff {
			return nil, ErrFeedUnhealthy
		}
	}
	if lower := parseSigned(cfg.MinExpected); lower != nil && round.Answer.Cmp(lower) < 0 {
		return nil, ErrFeedUnhealthy
	}
	if upper := parseSigned(cfg.MaxExpected); upper != nil && round.Answer.Cmp(upper) > 0 {
		return nil, ErrFeedUnhealthy
	}
	return decimals.ToBase18(round.Answer, agg.Decimals())
}

// FetchDataInBase18 returns the same value as GetDataInBase18 and records it
// with the current timestamp.
func (f *DataFeed) FetchDataInBase18() (*big.Int, error) {
	var value *big.Int
	err := f.state.Atomic(func() error {
		var err error
		value, err = f.GetDataInBase18()
		if err != nil {
			return err
		}
		now := f.nowFn()
		if now < 0 {
			now = 0
		}
		return f.state.KVPut(lastFetchKey(f.address), &storedFetch{Value: value, Timestamp: uint64(now)})
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// LastRecordedDataFetch returns the value and timestamp stored by the most
// recent FetchDataInBase18. Both are zero before the first fetch.
func (f *DataFeed) LastRecordedDataFetch() (*big.Int, int64, error) {
	var record storedFetch
	ok, err := f.state.KVGet(lastFetchKey(f.address), &record)
	if err != nil {
		return nil, 0, err
	}
	if !ok || record.Value == nil {
		return new(big.Int), 0, nil
	}
	return record.Value, int64(record.Timestamp), nil
}

// ChangeAggregator points the feed at another registered aggregator.
func (f *DataFeed) ChangeAggregator(caller, aggregator common.Address) error {
	return f.state.Atomic(func() error {
		if err := f.roles.CheckRole(f.adminRole, caller); err != nil {
			return err
		}
		if aggregator == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		if _, ok := f.directory.Aggregator(aggregator); !ok {
			return ErrUnknownAggregator
		}
		cfg, err := f.loadConfig()
		if err != nil {
			return err
		}
		cfg.Aggregator = aggregator
		if err := f.storeConfig(cfg); err != nil {
			return err
		}
		f.emitter.Emit(events.AggregatorChanged{Feed: f.address, Aggregator: aggregator, Sender: caller})
		return nil
	})
}

// SetHealthyDiff sets the maximum accepted round age. Zero disables the check.
func (f *DataFeed) SetHealthyDiff(caller common.Address, diff time.Duration) error {
	if diff < 0 {
		return errs.Validation("invalid healthy diff")
	}
	seconds := uint64(diff / time.Second)
	return f.updateParam(caller, "healthyDiff", strconv.FormatUint(seconds, 10), func(cfg *storedFeedConfig) error {
		cfg.HealthyDiff = seconds
		return nil
	})
}

// SetMinExpectedAnswer sets the lowest answer the feed will serve. Nil clears
// the bound.
func (f *DataFeed) SetMinExpectedAnswer(caller common.Address, value *big.Int) error {
	return f.updateParam(caller, "minExpectedAnswer", formatSigned(value), func(cfg *storedFeedConfig) error {
		if upper := parseSigned(cfg.MaxExpected); value != nil && upper != nil && value.Cmp(upper) >= 0 {
			return ErrInvalidBounds
		}
		cfg.MinExpected = formatSigned(value)
		return nil
	})
}

// SetMaxExpectedAnswer sets the highest answer the feed will serve. Nil clears
// the bound.
func (f *DataFeed) SetMaxExpectedAnswer(caller common.Address, value *big.Int) error {
	return f.updateParam(caller, "maxExpectedAnswer", formatSigned(value), func(cfg *storedFeedConfig) error {
		if lower := parseSigned(cfg.MinExpected); value != nil && lower != nil && value.Cmp(lower) <= 0 {
			return ErrInvalidBounds
		}
		cfg.MaxExpected = formatSigned(value)
		return nil
	})
}

func (f *DataFeed) updateParam(caller common.Address, param, value string, apply func(*storedFeedConfig) error) error {
	return f.state.Atomic(func() error {
		if err := f.roles.CheckRole(f.adminRole, caller); err != nil {
			return err
		}
		cfg, err := f.loadConfig()
		if err != nil {
			return err
		}
		if err := apply(cfg); err != nil {
			return err
		}
		if err := f.storeConfig(cfg); err != nil {
			return err
		}
		f.emitter.Emit(events.FeedParamsChanged{Feed: f.address, Param: param, Value: value, Sender: caller})
		return nil
	})
}
