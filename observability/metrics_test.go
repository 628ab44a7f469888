package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mvault/core/events"
)

func TestVaultMetricsObserve(t *testing.T) {
	m := Vault()
	before := testutil.ToFloat64(m.operations.WithLabelValues("observe-vault", "deposit", "error"))
	m.Observe("observe-vault", "deposit", time.Millisecond, errors.New("boom"))
	after := testutil.ToFloat64(m.operations.WithLabelValues("observe-vault", "deposit", "error"))
	if after-before != 1 {
		t.Fatalf("expected one error observation, got %v", after-before)
	}
}

func TestMetricsEmitterTracksRequests(t *testing.T) {
	vaultAddr := common.HexToAddress("0x1234")
	emitter := NewMetricsEmitter(map[common.Address]string{vaultAddr: "emitter-vault"})
	emitter.Emit(events.InitiateRequest{Vault: vaultAddr, RequestID: 1, AmountUsd: new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))})
	emitter.Emit(events.InitiateRequest{Vault: vaultAddr, RequestID: 2, AmountUsd: big.NewInt(0)})
	emitter.Emit(events.FulfillRequest{Vault: vaultAddr, RequestID: 1})
	emitter.Emit(events.VaultAdminAction{Kind: events.TypeChangePauseState, Vault: vaultAddr, Value: "true"})

	if got := testutil.ToFloat64(Vault().pending.WithLabelValues("emitter-vault")); got != 1 {
		t.Fatalf("expected one pending request, got %v", got)
	}
	if got := testutil.ToFloat64(Vault().flows.WithLabelValues("emitter-vault", "in")); got != 5 {
		t.Fatalf("expected 5 units inflow, got %v", got)
	}
	if got := testutil.ToFloat64(Vault().paused.WithLabelValues("emitter-vault")); got != 1 {
		t.Fatalf("expected paused gauge, got %v", got)
	}
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues(events.TypeInitiateRequest)); got < 2 {
		t.Fatalf("expected event counter to include initiations, got %v", got)
	}
}

func TestBase18ToFloat(t *testing.T) {
	if got := base18ToFloat(big.NewInt(-1)); got != 0 {
		t.Fatalf("negative amounts collapse to zero, got %v", got)
	}
	if got := base18ToFloat(new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18))); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}
