package events

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"mvault/core/types"
)

const (
	TypeAnswerUpdated     = "feed.answerUpdated"
	TypeAggregatorChanged = "feed.aggregatorChanged"
	TypeFeedParamsChanged = "feed.paramsChanged"
)

// AnswerUpdated is emitted for every round written to a custom aggregator.
type AnswerUpdated struct {
	Aggregator ethcommon.Address
	Answer     *big.Int
	RoundID    uint64
	UpdatedAt  int64
	Safe       bool
}

func (AnswerUpdated) EventType() string { return TypeAnswerUpdated }

func (e AnswerUpdated) Event() *types.Event {
	safe := "false"
	if e.Safe {
		safe = "true"
	}
	return &types.Event{
		Type: TypeAnswerUpdated,
		Attributes: map[string]string{
			"aggregator": formatAddress(e.Aggregator),
			"answer":     formatAmount(e.Answer),
			"roundId":    uintToString(e.RoundID),
			"updatedAt":  intToString(e.UpdatedAt),
			"safe":       safe,
		},
	}
}

// AggregatorChanged records a price feed switching to a new upstream aggregator.
type AggregatorChanged struct {
	Feed       ethcommon.Address
	Aggregator ethcommon.Address
	Sender     ethcommon.Address
}

func (AggregatorChanged) EventType() string { return TypeAggregatorChanged }

func (e AggregatorChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeAggregatorChanged,
		Attributes: map[string]string{
			"feed":       formatAddress(e.Feed),
			"aggregator": formatAddress(e.Aggregator),
			"sender":     formatAddress(e.Sender),
		},
	}
}

// FeedParamsChanged records an update of a feed health parameter.
type FeedParamsChanged struct {
	Feed   ethcommon.Address
	Param  string
	Value  string
	Sender ethcommon.Address
}

func (FeedParamsChanged) EventType() string { return TypeFeedParamsChanged }

func (e FeedParamsChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeFeedParamsChanged,
		Attributes: map[string]string{
			"feed":   formatAddress(e.Feed),
			"param":  e.Param,
			"value":  e.Value,
			"sender": formatAddress(e.Sender),
		},
	}
}
