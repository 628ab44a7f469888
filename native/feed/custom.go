package feed

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
)

var (
	ErrAnswerOutOfBounds = errs.Oracle("answer out of bounds")
	ErrDeviationExceeded = errs.Oracle("deviation exceeds tolerance")
	ErrRoundNotFound     = errs.NotFound("round not found")
)

// AggregatorConfig describes a custom aggregator at construction time.
type AggregatorConfig struct {
	Address     common.Address
	Description string
	Decimals    uint8
	MinAnswer   *big.Int
	MaxAnswer   *big.Int
	// MaxAnswerDeviation is a percentage scaled by 10^Decimals.
	MaxAnswerDeviation *big.Int
}

type storedRound struct {
	Answer    string
	StartedAt uint64
	UpdatedAt uint64
}

// CustomAggregator is an oracle written by a trusted keeper. Every answer is
// bounded by [MinAnswer, MaxAnswer]; the safe write path additionally bounds
// the move relative to the previous answer.
type CustomAggregator struct {
	state   State
	roles   Roles
	cfg     AggregatorConfig
	emitter events.Emitter
	nowFn   func() int64
}

// NewCustomAggregator validates cfg and returns an aggregator persisting its
// rounds in state.
func NewCustomAggregator(state State, roles Roles, cfg AggregatorConfig) (*CustomAggregator, error) {
	if state == nil || roles == nil {
		return nil, errors.New("custom aggregator: state and roles required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, errs.ErrInvalidAddress
	}
	if cfg.MinAnswer == nil || cfg.MaxAnswer == nil || cfg.MinAnswer.Cmp(cfg.MaxAnswer) >= 0 {
		return nil, ErrInvalidBounds
	}
	limit := new(big.Int).Mul(big.NewInt(100), decimals.Unit(cfg.Decimals))
	if cfg.MaxAnswerDeviation == nil || cfg.MaxAnswerDeviation.Sign() < 0 || cfg.MaxAnswerDeviation.Cmp(limit) > 0 {
		return nil, errs.Validation("invalid max answer deviation")
	}
	cfg.Description = strings.TrimSpace(cfg.Description)
	cfg.MinAnswer = cloneBig(cfg.MinAnswer)
	cfg.MaxAnswer = cloneBig(cfg.MaxAnswer)
	cfg.MaxAnswerDeviation = cloneBig(cfg.MaxAnswerDeviation)
	return &CustomAggregator{
		state:   state,
		roles:   roles,
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (a *CustomAggregator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// SetNowFunc overrides the clock used to timestamp rounds.
func (a *CustomAggregator) SetNowFunc(now func() int64) {
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

func (a *CustomAggregator) Address() common.Address { return a.cfg.Address }
func (a *CustomAggregator) Decimals() uint8         { return a.cfg.Decimals }
func (a *CustomAggregator) Description() string     { return a.cfg.Description }

// Config returns a copy of the construction parameters.
func (a *CustomAggregator) Config() AggregatorConfig {
	cfg := a.cfg
	cfg.MinAnswer = cloneBig(a.cfg.MinAnswer)
	cfg.MaxAnswer = cloneBig(a.cfg.MaxAnswer)
	cfg.MaxAnswerDeviation = cloneBig(a.cfg.MaxAnswerDeviation)
	return cfg
}

// SetRoundData records answer as a new round after checking bounds.
func (a *CustomAggregator) SetRoundData(caller common.Address, answer *big.Int) error {
	return a.state.Atomic(func() error {
		return a.setRound(caller, answer, false)
	})
}

// SetRoundDataSafe behaves like SetRoundData but also rejects answers that move
// more than MaxAnswerDeviation away from the previous one.
func (a *CustomAggregator) SetRoundDataSafe(caller common.Address, answer *big.Int) error {
	return a.state.Atomic(func() error {
		return a.setRound(caller, answer, true)
	})
}

func (a *CustomAggregator) authorize(caller common.Address) error {
	if err := a.roles.CheckRole(access.CustomAggregatorFeedAdminRole, caller); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrMissingRole) {
		return err
	}
	return a.roles.CheckRole(access.PriceKeeperRole, caller)
}

func (a *CustomAggregator) setRound(caller common.Address, answer *big.Int, safe bool) error {
	if err := a.authorize(caller); err != nil {
		return err
	}
	if answer == nil {
		return errs.ErrInvalidAmount
	}
	if answer.Cmp(a.cfg.MinAnswer) < 0 || answer.Cmp(a.cfg.MaxAnswer) > 0 {
		return ErrAnswerOutOfBounds
	}
	latest, err := a.latestRoundID()
	if err != nil {
		return err
	}
	if safe && latest > 0 {
		last, err := a.loadRound(latest)
		if err != nil {
			return err
		}
		if a.deviation(last.Answer, answer).Cmp(a.cfg.MaxAnswerDeviation) > 0 {
			return ErrDeviationExceeded
		}
	}
	now := a.nowFn()
	if now < 0 {
		now = 0
	}
	next := latest + 1
	record := &storedRound{Answer: answer.String(), StartedAt: uint64(now), UpdatedAt: uint64(now)}
	if err := a.state.KVPut(roundKey(a.cfg.Address, next), record); err != nil {
		return err
	}
	if err := a.state.KVPut(latestRoundKey(a.cfg.Address), next); err != nil {
		return err
	}
	a.emitter.Emit(events.AnswerUpdated{
		Aggregator: a.cfg.Address,
		Answer:     cloneBig(answer),
		RoundID:    next,
		UpdatedAt:  now,
		Safe:       safe,
	})
	return nil
}

// deviation returns |next-last| * 100 * 10^decimals / |last|. A zero previous
// answer yields zero so the first non-zero answer is not blocked.
func (a *CustomAggregator) deviation(last, next *big.Int) *big.Int {
	if last == nil || last.Sign() == 0 {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(next, last)
	diff.Abs(diff)
	scaled := new(big.Int).Mul(diff, big.NewInt(100))
	scaled.Mul(scaled, decimals.Unit(a.cfg.Decimals))
	return scaled.Quo(scaled, new(big.Int).Abs(last))
}

func (a *CustomAggregator) latestRoundID() (uint64, error) {
	var id uint64
	if _, err := a.state.KVGet(latestRoundKey(a.cfg.Address), &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (a *CustomAggregator) loadRound(id uint64) (*RoundData, error) {
	var record storedRound
	ok, err := a.state.KVGet(roundKey(a.cfg.Address, id), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoundNotFound
	}
	return &RoundData{
		RoundID:         id,
		Answer:          parseSigned(record.Answer),
		StartedAt:       int64(record.StartedAt),
		UpdatedAt:       int64(record.UpdatedAt),
		AnsweredInRound: id,
	}, nil
}

// LatestRound returns the id of the most recent round, zero before the first
// write.
func (a *CustomAggregator) LatestRound() (uint64, error) {
	return a.latestRoundID()
}

// LatestRoundData returns the most recent round. Before any write it returns an
// empty round with a zero answer.
func (a *CustomAggregator) LatestRoundData() (*RoundData, error) {
	latest, err := a.latestRoundID()
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return &RoundData{Answer: new(big.Int)}, nil
	}
	return a.loadRound(latest)
}

// GetRoundData returns a historical round.
func (a *CustomAggregator) GetRoundData(id uint64) (*RoundData, error) {
	if id == 0 {
		return nil, ErrRoundNotFound
	}
	return a.loadRound(id)
}

// LastAnswer returns the answer of the latest round.
func (a *CustomAggregator) LastAnswer() (*big.Int, error) {
	round, err := a.LatestRoundData()
	if err != nil {
		return nil, err
	}
	return round.Answer, nil
}

// LastTimestamp returns the update time of the latest round.
func (a *CustomAggregator) LastTimestamp() (int64, error) {
	round, err := a.LatestRoundData()
	if err != nil {
		return 0, err
	}
	return round.UpdatedAt, nil
}
