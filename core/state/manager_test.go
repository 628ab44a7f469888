package state

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/core/types"
	"mvault/native/errs"
	"mvault/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

type testEvent string

func (e testEvent) EventType() string { return string(e) }

type storedRecord struct {
	Name  string
	Value *big.Int
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestKVReadWrite(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("vault/record")
	if ok, err := mgr.KVGet(key, new(storedRecord)); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := mgr.KVPut(key, &storedRecord{Name: "alpha", Value: big.NewInt(42)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var loaded storedRecord
	ok, err := mgr.KVGet(key, &loaded)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.Name != "alpha" || loaded.Value.Int64() != 42 {
		t.Fatalf("unexpected record %+v", loaded)
	}
	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet(key, nil); ok {
		t.Fatalf("expected key removed")
	}
	if err := mgr.KVPut(nil, 1); err == nil {
		t.Fatalf("expected empty key rejection")
	}
}

func TestKVListHelpers(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("vault/index")
	for _, value := range []string{"a", "b", "a", "c"} {
		if err := mgr.KVAppend(key, []byte(value)); err != nil {
			t.Fatalf("append %s: %v", value, err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected deduplicated list of 3, got %d", len(list))
	}
	if err := mgr.KVRemove(key, []byte("b")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "a" || string(list[1]) != "c" {
		t.Fatalf("unexpected list after removal: %q", list)
	}
	var empty [][]byte
	if err := mgr.KVGetList([]byte("missing"), &empty); err != nil {
		t.Fatalf("get missing list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice for missing list")
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	mgr := newTestManager(t)
	sink := &recordingEmitter{}
	emitter := mgr.Emitter(sink)
	key := []byte("counter")
	if err := mgr.KVPut(key, uint64(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	failure := errors.New("boom")
	err := mgr.Atomic(func() error {
		if err := mgr.KVPut(key, uint64(2)); err != nil {
			return err
		}
		var staged uint64
		if _, err := mgr.KVGet(key, &staged); err != nil {
			return err
		}
		if staged != 2 {
			t.Fatalf("expected staged write to be visible inside the transaction, got %d", staged)
		}
		emitter.Emit(testEvent("discarded"))
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure, got %v", err)
	}
	var value uint64
	if _, err := mgr.KVGet(key, &value); err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected rollback to keep 1, got %d", value)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events from a failed operation must not be delivered")
	}

	err = mgr.Atomic(func() error {
		if err := mgr.KVDelete(key); err != nil {
			return err
		}
		emitter.Emit(testEvent("kept"))
		if len(sink.events) != 0 {
			t.Fatalf("events must be buffered until commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if ok, _ := mgr.KVGet(key, nil); ok {
		t.Fatalf("expected committed delete")
	}
	if len(sink.events) != 1 || sink.events[0].EventType() != "kept" {
		t.Fatalf("unexpected delivered events %+v", sink.events)
	}
}

func TestEmitterOutsideTransaction(t *testing.T) {
	mgr := newTestManager(t)
	sink := &recordingEmitter{}
	mgr.Emitter(sink).Emit(testEvent("direct"))
	if len(sink.events) != 1 {
		t.Fatalf("expected immediate delivery outside a transaction")
	}
}

func TestLedgerTransfers(t *testing.T) {
	mgr := newTestManager(t)
	token := types.ComponentAddress("usdc")
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	vault := common.HexToAddress("0x03")

	if err := mgr.RegisterToken(token, "usdc", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.RegisterToken(token, "USDC", 6); !errors.Is(err, errs.ErrState) {
		t.Fatalf("expected duplicate registration to fail, got %v", err)
	}
	if dec, err := mgr.Decimals(token); err != nil || dec != 6 {
		t.Fatalf("decimals: %d %v", dec, err)
	}
	if _, err := mgr.Decimals(bob); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if err := mgr.Mint(token, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.Transfer(token, alice, bob, big.NewInt(1_001)); !errors.Is(err, errs.ErrInsufficientBal) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := mgr.Transfer(token, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := mgr.TransferFrom(token, vault, alice, vault, big.NewInt(100)); !errors.Is(err, errs.ErrInsufficientAllw) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := mgr.Approve(token, alice, vault, big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := mgr.TransferFrom(token, vault, alice, vault, big.NewInt(100)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := mgr.Allowance(token, alice, vault)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Int64() != 50 {
		t.Fatalf("expected remaining allowance 50, got %s", allowance)
	}
	if err := mgr.Burn(token, bob, big.NewInt(150)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	expect := map[common.Address]int64{alice: 500, bob: 250, vault: 100}
	for holder, want := range expect {
		balance, err := mgr.BalanceOf(token, holder)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if balance.Int64() != want {
			t.Fatalf("holder %s: want %d got %s", holder.Hex(), want, balance)
		}
	}
	supply, err := mgr.TotalSupply(token)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Int64() != 850 {
		t.Fatalf("expected supply 850, got %s", supply)
	}
	tokens, err := mgr.Tokens()
	if err != nil || len(tokens) != 1 || tokens[0] != token {
		t.Fatalf("unexpected token list %v %v", tokens, err)
	}
}

func TestViewNeverObservesStagedWrites(t *testing.T) {
	mgr := newTestManager(t)
	left, right := []byte("pair/left"), []byte("pair/right")
	if err := mgr.Atomic(func() error {
		if err := mgr.KVPut(left, uint64(0)); err != nil {
			return err
		}
		return mgr.KVPut(right, uint64(0))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 200; i++ {
			if err := mgr.Atomic(func() error {
				if err := mgr.KVPut(left, i); err != nil {
					return err
				}
				return mgr.KVPut(right, i)
			}); err != nil {
				t.Errorf("write %d: %v", i, err)
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		var l, r uint64
		if err := mgr.View(func() error {
			if _, err := mgr.KVGet(left, &l); err != nil {
				return err
			}
			_, err := mgr.KVGet(right, &r)
			return err
		}); err != nil {
			t.Fatalf("view: %v", err)
		}
		if l != r {
			t.Fatalf("observed half-applied write: left=%d right=%d", l, r)
		}
	}
	wg.Wait()
}
