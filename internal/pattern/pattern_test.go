package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

func sanctionsChecker(sanctioned string) LabelChecker {
	return func(ctx context.Context, chain domain.Chain, address, kind string) (bool, error) {
		return kind == "sanctions" && address == sanctioned, nil
	}
}

func TestDetector_SanctionsTouch(t *testing.T) {
	d := New(DefaultThresholds(), sanctionsChecker("bad-addr"), nil, nil)
	tx := domain.Transaction{
		Chain: domain.ChainBitcoin, TxHash: "tx1", Timestamp: time.Now(),
		Inputs:  []domain.TxIO{{Address: "clean-addr", Amount: 1}},
		Outputs: []domain.TxIO{{Address: "bad-addr", Amount: 1}},
	}

	matches, err := d.Ingest(context.Background(), tx)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Kind != domain.PatternSanctionsTouch {
		t.Fatalf("matches = %+v, want one sanctions_touch match", matches)
	}
}

func TestDetector_SanctionsTouch_Idempotent(t *testing.T) {
	d := New(DefaultThresholds(), sanctionsChecker("bad-addr"), nil, nil)
	tx := domain.Transaction{
		Chain: domain.ChainBitcoin, TxHash: "tx1", Timestamp: time.Now(),
		Outputs: []domain.TxIO{{Address: "bad-addr", Amount: 1}},
	}

	first, err := d.Ingest(context.Background(), tx)
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	second, err := d.Ingest(context.Background(), tx)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Errorf("expected same match ID on re-detection of identical participant set, got %s vs %s", first[0].ID, second[0].ID)
	}
}

func TestDetector_NoSanctionsTouch(t *testing.T) {
	d := New(DefaultThresholds(), sanctionsChecker("bad-addr"), nil, nil)
	tx := domain.Transaction{
		Chain: domain.ChainBitcoin, TxHash: "tx1", Timestamp: time.Now(),
		Outputs: []domain.TxIO{{Address: "clean-addr", Amount: 1}},
	}

	matches, err := d.Ingest(context.Background(), tx)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %+v, want none", matches)
	}
}

func TestDetector_PeelingChain(t *testing.T) {
	th := DefaultThresholds()
	th.PeelingMinChainLength = 3
	d := New(th, nil, nil, nil)

	base := time.Now()
	source := "src"
	var last []domain.PatternMatch
	for i := 0; i < 3; i++ {
		tx := domain.Transaction{
			Chain: domain.ChainBitcoin, TxHash: "peel" + string(rune('a'+i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
			Inputs:  []domain.TxIO{{Address: source, Amount: 100}},
			Outputs: []domain.TxIO{{Address: "change" + string(rune('a'+i)), Amount: 95}, {Address: "peel" + string(rune('a'+i)), Amount: 5}},
		}
		source = "change" + string(rune('a'+i))
		matches, err := d.Ingest(context.Background(), tx)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		last = matches
	}

	if len(last) != 1 || last[0].Kind != domain.PatternPeelingChain {
		t.Fatalf("matches = %+v, want one peeling_chain match on the final transfer", last)
	}
}

func TestDetector_RapidMovement(t *testing.T) {
	th := DefaultThresholds()
	th.RapidMovementMinHops = 2
	th.RapidMovementWindow = time.Hour
	d := New(th, nil, nil, nil)

	base := time.Now()
	for i := 0; i < 2; i++ {
		tx := domain.Transaction{
			Chain: domain.ChainBitcoin, TxHash: "rm" + string(rune('a'+i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
			Outputs: []domain.TxIO{{Address: "target", Amount: 1}},
		}
		matches, err := d.Ingest(context.Background(), tx)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if i == 1 && (len(matches) != 1 || matches[0].Kind != domain.PatternRapidMovement) {
			t.Fatalf("matches on second transfer = %+v, want one rapid_movement match", matches)
		}
	}
}

func TestDetector_Layering(t *testing.T) {
	th := DefaultThresholds()
	th.LayeringMinBranches = 3
	d := New(th, nil, nil, nil)

	tx := domain.Transaction{
		Chain: domain.ChainBitcoin, TxHash: "split1", Timestamp: time.Now(),
		Inputs: []domain.TxIO{{Address: "src", Amount: 10}},
		Outputs: []domain.TxIO{
			{Address: "r1", Amount: 3}, {Address: "r2", Amount: 3}, {Address: "r3", Amount: 4},
		},
	}

	matches, err := d.Ingest(context.Background(), tx)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Kind != domain.PatternLayering {
		t.Fatalf("matches = %+v, want one layering match", matches)
	}
}

func TestDetector_BridgeHop(t *testing.T) {
	th := DefaultThresholds()
	th.BridgeHopWindow = time.Hour
	d := New(th, nil, nil, nil)

	withdrawal := domain.Transaction{
		Chain: domain.ChainBitcoin, TxHash: "withdraw1", Timestamp: time.Now(),
		Inputs: []domain.TxIO{{Address: "bridge-out", Amount: 5}},
	}
	if _, err := d.Ingest(context.Background(), withdrawal); err != nil {
		t.Fatalf("Ingest(withdrawal) error = %v", err)
	}

	deposit := domain.Transaction{
		Chain: domain.ChainEthereum, TxHash: "deposit1", Timestamp: withdrawal.Timestamp.Add(time.Minute),
		Outputs: []domain.TxIO{{Address: "bridge-in", Amount: 5}},
	}
	matches, err := d.Ingest(context.Background(), deposit)
	if err != nil {
		t.Fatalf("Ingest(deposit) error = %v", err)
	}
	if len(matches) != 1 || matches[0].Kind != domain.PatternBridgeHop {
		t.Fatalf("matches = %+v, want one bridge_hop match", matches)
	}
}

func TestParticipantKey_OrderIndependent(t *testing.T) {
	k1 := participantKey(domain.PatternLayering, []string{"a", "b", "c"})
	k2 := participantKey(domain.PatternLayering, []string{"c", "b", "a"})
	if k1 != k2 {
		t.Errorf("participantKey should be order-independent: %s != %s", k1, k2)
	}
}
