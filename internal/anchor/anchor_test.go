package anchor

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

func sampleChain() []*ledger.CustodyRecord {
	return []*ledger.CustodyRecord{
		{ShipmentID: 1, Sequence: 0, Holder: "origin", Height: 3, Location: common.HexToHash("0x01"), Verified: true},
		{ShipmentID: 1, Sequence: 1, Holder: "carrier", Height: 4, Location: common.HexToHash("0x02")},
		{ShipmentID: 1, Sequence: 2, Holder: "dest", Height: 5, Location: common.HexToHash("0x03")},
	}
}

func TestChainDigestDeterministic(t *testing.T) {
	first := ChainDigest(sampleChain())
	second := ChainDigest(sampleChain())
	if first != second {
		t.Fatalf("identical chains must produce identical digests: %s vs %s", first.Hex(), second.Hex())
	}
}

func TestChainDigestOrderSensitive(t *testing.T) {
	chain := sampleChain()
	reversed := []*ledger.CustodyRecord{chain[2], chain[1], chain[0]}
	if ChainDigest(chain) == ChainDigest(reversed) {
		t.Fatalf("record order must change the digest")
	}
}

func TestChainDigestContentSensitive(t *testing.T) {
	base := ChainDigest(sampleChain())

	mutated := sampleChain()
	mutated[1].Holder = "someone-else"
	if ChainDigest(mutated) == base {
		t.Fatalf("holder change must change the digest")
	}

	mutated = sampleChain()
	mutated[0].Verified = false
	if ChainDigest(mutated) == base {
		t.Fatalf("verified flag must change the digest")
	}
}

func TestChainDigestSkipsNilRecords(t *testing.T) {
	chain := sampleChain()
	withNil := []*ledger.CustodyRecord{chain[0], nil, chain[1], chain[2]}
	without := []*ledger.CustodyRecord{chain[0], chain[1], chain[2]}
	if ChainDigest(withNil) != ChainDigest(without) {
		t.Fatalf("nil records must not affect the digest")
	}
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	receipt := Receipt{
		ShipmentID:  7,
		Digest:      ChainDigest(sampleChain()),
		Records:     3,
		ChainID:     "1",
		BlockNumber: 1234,
		AnchoredAt:  1700000000,
	}
	if err := journal.Record(receipt); err != nil {
		t.Fatalf("record receipt: %v", err)
	}

	latest := journal.Latest(10)
	if len(latest) != 1 || latest[0].ShipmentID != 7 {
		t.Fatalf("unexpected latest receipts: %+v", latest)
	}

	// Receipts survive a reopen.
	reopened, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	latest = reopened.Latest(10)
	if len(latest) != 1 || latest[0].Digest != receipt.Digest {
		t.Fatalf("unexpected receipts after reopen: %+v", latest)
	}
}
