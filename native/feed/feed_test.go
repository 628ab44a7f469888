package feed

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/core/state"
	"mvault/core/types"
	"mvault/native/access"
	"mvault/native/errs"
	"mvault/storage"
)

var (
	admin    = common.HexToAddress("0xad")
	keeper   = common.HexToAddress("0xbeef")
	stranger = common.HexToAddress("0x5157")
)

type fixture struct {
	mgr      *state.Manager
	registry *access.Registry
	dir      *Directory
	agg      *CustomAggregator
	now      int64
	emitted  []events.Event
}

func newFixture(t *testing.T, deviation *big.Int) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	fx := &fixture{mgr: state.NewManager(db), dir: NewDirectory(), now: 1_700_000_000}
	fx.registry = access.NewRegistry(fx.mgr)
	if err := fx.registry.Initialize(admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := fx.registry.GrantRole(admin, access.PriceKeeperRole, keeper); err != nil {
		t.Fatalf("grant keeper: %v", err)
	}
	agg, err := NewCustomAggregator(fx.mgr, fx.registry, AggregatorConfig{
		Address:            types.ComponentAddress("aggregator/mtbill"),
		Description:        "mTBILL/USD",
		Decimals:           8,
		MinAnswer:          big.NewInt(1),
		MaxAnswer:          big.NewInt(1_000_000_000_000),
		MaxAnswerDeviation: deviation,
	})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	agg.SetNowFunc(func() int64 { return fx.now })
	agg.SetEmitter(fx.mgr.Emitter(events.EmitterFunc(func(evt events.Event) {
		fx.emitted = append(fx.emitted, evt)
	})))
	if err := fx.dir.RegisterAggregator(agg); err != nil {
		t.Fatalf("register aggregator: %v", err)
	}
	fx.agg = agg
	return fx
}

func onePercent() *big.Int { return big.NewInt(100_000_000) }

func TestCustomAggregatorConstruction(t *testing.T) {
	fx := newFixture(t, onePercent())
	_, err := NewCustomAggregator(fx.mgr, fx.registry, AggregatorConfig{
		Address: types.ComponentAddress("bad"), Decimals: 8,
		MinAnswer: big.NewInt(10), MaxAnswer: big.NewInt(10), MaxAnswerDeviation: onePercent(),
	})
	if !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected invalid bounds, got %v", err)
	}
	tooWide := new(big.Int).Mul(big.NewInt(101), big.NewInt(100_000_000))
	_, err = NewCustomAggregator(fx.mgr, fx.registry, AggregatorConfig{
		Address: types.ComponentAddress("bad"), Decimals: 8,
		MinAnswer: big.NewInt(1), MaxAnswer: big.NewInt(10), MaxAnswerDeviation: tooWide,
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected deviation validation error, got %v", err)
	}
}

func TestSetRoundDataBoundsAndRoles(t *testing.T) {
	fx := newFixture(t, onePercent())
	if err := fx.agg.SetRoundData(stranger, big.NewInt(100)); !errors.Is(err, errs.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if err := fx.agg.SetRoundData(keeper, big.NewInt(0)); !errors.Is(err, ErrAnswerOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
	if err := fx.agg.SetRoundData(admin, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("set round: %v", err)
	}
	fx.now += 60
	if err := fx.agg.SetRoundData(keeper, big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("unsafe path ignores deviation: %v", err)
	}
	latest, err := fx.agg.LatestRoundData()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.RoundID != 2 || latest.Answer.Int64() != 2_000_000_000 || latest.UpdatedAt != fx.now {
		t.Fatalf("unexpected latest round %+v", latest)
	}
	first, err := fx.agg.GetRoundData(1)
	if err != nil || first.Answer.Int64() != 1_000_000_000 {
		t.Fatalf("unexpected first round %+v %v", first, err)
	}
	if _, err := fx.agg.GetRoundData(3); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected round not found, got %v", err)
	}
	if len(fx.emitted) != 2 {
		t.Fatalf("expected two AnswerUpdated events, got %d", len(fx.emitted))
	}
}

func TestSetRoundDataSafeDeviation(t *testing.T) {
	fx := newFixture(t, onePercent())
	ten := big.NewInt(1_000_000_000)
	if err := fx.agg.SetRoundDataSafe(keeper, ten); err != nil {
		t.Fatalf("first safe write skips deviation: %v", err)
	}
	if err := fx.agg.SetRoundDataSafe(keeper, big.NewInt(1_100_000_000)); !errors.Is(err, ErrDeviationExceeded) {
		t.Fatalf("expected 10 -> 11 to exceed 1%%, got %v", err)
	}
	if err := fx.agg.SetRoundDataSafe(keeper, big.NewInt(1_005_000_000)); err != nil {
		t.Fatalf("expected 10 -> 10.05 to pass: %v", err)
	}
	last, err := fx.agg.LastAnswer()
	if err != nil || last.Int64() != 1_005_000_000 {
		t.Fatalf("unexpected last answer %v %v", last, err)
	}
	round, err := fx.agg.LatestRound()
	if err != nil || round != 2 {
		t.Fatalf("rejected write must not consume a round id, got %d %v", round, err)
	}
}

func newDataFeed(t *testing.T, fx *fixture, cfg DataFeedConfig) *DataFeed {
	t.Helper()
	if cfg.Address == (common.Address{}) {
		cfg.Address = types.ComponentAddress("feed/mtbill")
	}
	cfg.Aggregator = fx.agg.Address()
	f, err := NewDataFeed(fx.mgr, fx.registry, fx.dir, cfg)
	if err != nil {
		t.Fatalf("new data feed: %v", err)
	}
	f.SetNowFunc(func() int64 { return fx.now })
	return f
}

func TestDataFeedNormalisesAndChecksHealth(t *testing.T) {
	fx := newFixture(t, onePercent())
	f := newDataFeed(t, fx, DataFeedConfig{
		HealthyDiff:       time.Hour,
		MinExpectedAnswer: big.NewInt(50_000_000),
		MaxExpectedAnswer: big.NewInt(500_000_000),
	})
	if _, err := f.GetDataInBase18(); !errors.Is(err, ErrFeedDeprecated) {
		t.Fatalf("expected deprecated before the first round, got %v", err)
	}
	if err := fx.agg.SetRoundData(keeper, big.NewInt(102_500_000)); err != nil {
		t.Fatalf("set round: %v", err)
	}
	price, err := f.GetDataInBase18()
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if price.String() != "1025000000000000000" {
		t.Fatalf("unexpected base18 price %s", price)
	}
	fx.now += int64(2 * time.Hour / time.Second)
	if _, err := f.GetDataInBase18(); !errors.Is(err, ErrFeedUnhealthy) {
		t.Fatalf("expected stale answer to be unhealthy, got %v", err)
	}
	if err := fx.agg.SetRoundData(keeper, big.NewInt(600_000_000)); err != nil {
		t.Fatalf("set round: %v", err)
	}
	if _, err := f.GetDataInBase18(); !errors.Is(err, ErrFeedUnhealthy) {
		t.Fatalf("expected out of range answer to be unhealthy, got %v", err)
	}
	if err := f.SetMaxExpectedAnswer(stranger, big.NewInt(1)); !errors.Is(err, errs.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if err := f.SetMaxExpectedAnswer(admin, big.NewInt(10)); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected max below min to fail, got %v", err)
	}
	if err := f.SetMaxExpectedAnswer(admin, nil); err != nil {
		t.Fatalf("clear max: %v", err)
	}
	price, err = f.FetchDataInBase18()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	recorded, at, err := f.LastRecordedDataFetch()
	if err != nil {
		t.Fatalf("last fetch: %v", err)
	}
	if recorded.Cmp(price) != 0 || at != fx.now {
		t.Fatalf("unexpected recorded fetch %s @ %d", recorded, at)
	}
}

func TestChangeAggregator(t *testing.T) {
	fx := newFixture(t, onePercent())
	f := newDataFeed(t, fx, DataFeedConfig{})
	if err := f.ChangeAggregator(admin, common.Address{}); !errors.Is(err, errs.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	other := types.ComponentAddress("aggregator/other")
	if err := f.ChangeAggregator(admin, other); !errors.Is(err, ErrUnknownAggregator) {
		t.Fatalf("expected unknown aggregator, got %v", err)
	}
	agg, err := NewCustomAggregator(fx.mgr, fx.registry, AggregatorConfig{
		Address: other, Decimals: 18,
		MinAnswer: big.NewInt(1), MaxAnswer: new(big.Int).Lsh(big.NewInt(1), 100),
		MaxAnswerDeviation: big.NewInt(0),
	})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	if err := fx.dir.RegisterAggregator(agg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.ChangeAggregator(stranger, other); !errors.Is(err, errs.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if err := f.ChangeAggregator(admin, other); err != nil {
		t.Fatalf("change aggregator: %v", err)
	}
	params, err := f.Params()
	if err != nil || params.Aggregator != other {
		t.Fatalf("unexpected params %+v %v", params, err)
	}
}
