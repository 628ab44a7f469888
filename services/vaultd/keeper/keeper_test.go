package keeper

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"mvault/core/state"
	"mvault/core/types"
	"mvault/native/access"
	"mvault/native/feed"
	"mvault/services/vaultd/storage"
	kvstore "mvault/storage"
)

var keeperAddr = common.HexToAddress("0xabc")

type fakeTarget struct {
	decimals uint8
	answers  []*big.Int
	callers  []common.Address
	reject   error
}

func (f *fakeTarget) Decimals() uint8 { return f.decimals }

func (f *fakeTarget) SetRoundDataSafe(caller common.Address, answer *big.Int) error {
	if f.reject != nil {
		return f.reject
	}
	f.callers = append(f.callers, caller)
	f.answers = append(f.answers, new(big.Int).Set(answer))
	return nil
}

func (f *fakeTarget) LastTimestamp() (int64, error) { return 1_700_000_000, nil }

type memJournal struct {
	mu      sync.Mutex
	samples []storage.Sample
	rounds  []storage.Round
}

func (j *memJournal) RecordSample(_ context.Context, s storage.Sample) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.samples = append(j.samples, s)
	return nil
}

func (j *memJournal) RecordRound(_ context.Context, r storage.Round) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rounds = append(j.rounds, r)
	return nil
}

func priceServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSource(srv *httptest.Server, name, field string) *HTTPSource {
	return NewHTTPSource(srv.Client(), name, srv.URL, field, map[string]string{"X-Api-Key": "secret"})
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestHTTPSourceExtractsNestedField(t *testing.T) {
	numeric := priceServer(t, `{"data":{"price":1.0215}}`)
	quoted := priceServer(t, `{"price":"1.03"}`)

	quote, err := newSource(numeric, "numeric", "data.price").Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, quote.Price.Cmp(big.NewRat(10215, 10000)))

	quote, err = newSource(quoted, "quoted", "price").Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, quote.Price.Cmp(big.NewRat(103, 100)))

	_, err = newSource(numeric, "missing", "data.bid").Fetch(context.Background())
	require.ErrorContains(t, err, "missing")

	unauthorized := NewHTTPSource(numeric.Client(), "", numeric.URL, "data.price", nil)
	require.Equal(t, numeric.URL, unauthorized.Name())
	_, err = unauthorized.Fetch(context.Background())
	require.ErrorContains(t, err, "unexpected status 401")
}

func TestTickSubmitsMedianAnswer(t *testing.T) {
	low := priceServer(t, `{"price":"1.00"}`)
	mid := priceServer(t, `{"price":"1.02"}`)
	high := priceServer(t, `{"price":"1.50"}`)
	target := &fakeTarget{decimals: 8}
	journal := &memJournal{}
	now := time.Unix(1_700_000_100, 0)

	k, err := New(journal, keeperAddr, []Job{{
		Name:    "mtbill-usd",
		Target:  target,
		Sources: []Source{newSource(low, "low", "price"), newSource(mid, "mid", "price"), newSource(high, "high", "price")},
	}}, time.Minute, time.Minute, 2, WithLogger(quietLogger()), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	for _, src := range k.jobs[0].Sources {
		src.(*HTTPSource).now = func() time.Time { return now }
	}

	require.NoError(t, k.Tick(context.Background()))
	require.Len(t, target.answers, 1)
	require.Zero(t, big.NewInt(102_000_000).Cmp(target.answers[0]))
	require.Equal(t, []common.Address{keeperAddr}, target.callers)
	require.Len(t, journal.samples, 3)
	require.Len(t, journal.rounds, 1)
	require.True(t, journal.rounds[0].Accepted)
	require.Equal(t, "1.02", journal.rounds[0].Answer)
	require.Equal(t, []string{"low", "mid", "high"}, journal.rounds[0].Sources)
}

func TestTickRequiresMinimumSources(t *testing.T) {
	ok := priceServer(t, `{"price":"1.00"}`)
	broken := priceServer(t, `{"price":"abc"}`)
	target := &fakeTarget{decimals: 8}
	journal := &memJournal{}

	k, err := New(journal, keeperAddr, []Job{{
		Name:    "usdc-usd",
		Target:  target,
		Sources: []Source{newSource(ok, "ok", "price"), newSource(broken, "broken", "price")},
	}}, time.Minute, time.Minute, 2, WithLogger(quietLogger()))
	require.NoError(t, err)

	err = k.Tick(context.Background())
	require.ErrorContains(t, err, "insufficient sources: 1 of 2")
	require.Empty(t, target.answers)
	require.Empty(t, journal.rounds)
}

func TestTickRecordsRejectedRound(t *testing.T) {
	srv := priceServer(t, `{"price":"2"}`)
	rejection := errors.New("deviation exceeds tolerance")
	target := &fakeTarget{decimals: 8, reject: rejection}
	journal := &memJournal{}

	k, err := New(journal, keeperAddr, []Job{{Name: "eur-usd", Target: target, Sources: []Source{newSource(srv, "only", "price")}}},
		time.Minute, time.Minute, 1, WithLogger(quietLogger()))
	require.NoError(t, err)

	err = k.Tick(context.Background())
	require.ErrorIs(t, err, rejection)
	require.Len(t, journal.rounds, 1)
	require.False(t, journal.rounds[0].Accepted)
	require.Equal(t, rejection.Error(), journal.rounds[0].Error)
}

func TestComputeMedianEvenCount(t *testing.T) {
	median := computeMedian([]*big.Rat{big.NewRat(3, 1), big.NewRat(1, 1), big.NewRat(2, 1), big.NewRat(4, 1)})
	require.Equal(t, 0, median.Cmp(big.NewRat(5, 2)))
	require.Zero(t, big.NewInt(250).Cmp(scale(median, 2)))
	require.Equal(t, 0, computeMedian(nil).Sign())
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, keeperAddr, nil, time.Minute, 0, 0)
	require.Error(t, err)
	_, err = New(&memJournal{}, common.Address{}, nil, time.Minute, 0, 0)
	require.Error(t, err)
	_, err = New(&memJournal{}, keeperAddr, nil, 0, 0, 0)
	require.Error(t, err)
	k, err := New(&memJournal{}, keeperAddr, []Job{{Name: "empty", Target: &fakeTarget{}}}, time.Minute, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, k.Jobs())
}

func TestTickReadsAggregatorUnderStateLock(t *testing.T) {
	db := kvstore.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	registry := access.NewRegistry(mgr)
	admin := common.HexToAddress("0xad")
	require.NoError(t, registry.Initialize(admin))
	require.NoError(t, registry.GrantRole(admin, access.PriceKeeperRole, keeperAddr))
	agg, err := feed.NewCustomAggregator(mgr, registry, feed.AggregatorConfig{
		Address:            types.ComponentAddress("aggregator/mtbill-usd"),
		Description:        "mTBILL/USD",
		Decimals:           8,
		MinAnswer:          big.NewInt(1),
		MaxAnswer:          big.NewInt(1_000_000_000_000),
		MaxAnswerDeviation: big.NewInt(100_000_000),
	})
	require.NoError(t, err)

	src := priceServer(t, `{"price":"1.02"}`)
	job := Job{Name: "mtbill-usd", Target: agg, State: mgr, Sources: []Source{newSource(src, "primary", "price")}}
	k, err := New(&memJournal{}, keeperAddr, []Job{job}, time.Minute, time.Hour, 1, WithLogger(quietLogger()))
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); ; i++ {
			select {
			case <-done:
				return
			default:
			}
			account := common.BigToAddress(big.NewInt(0x10000 + i))
			if err := registry.GrantRole(admin, access.PriceKeeperRole, account); err != nil {
				t.Errorf("grant: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		require.NoError(t, k.Tick(context.Background()))
	}
	close(done)
	wg.Wait()

	var latest uint64
	require.NoError(t, mgr.View(func() error {
		var err error
		latest, err = agg.LatestRound()
		return err
	}))
	require.Equal(t, uint64(20), latest)
}
