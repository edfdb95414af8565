package ledger

import (
	"context"
	"errors"
	"testing"

	xerrors "github.com/VictoryV20/SecureChain/internal/errors"
)

func TestMemoryStoreRollbackOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutParticipant(&Participant{ID: "acme", Reputation: InitialReputation, Active: true}); err != nil {
			return err
		}
		if _, err := tx.NextShipmentID(); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	// Nothing from the failed transaction may be visible.
	err = store.View(ctx, func(tx ReadTx) error {
		if _, err := tx.Participant("acme"); !errors.Is(err, ErrParticipantNotFound) {
			t.Fatalf("participant must not survive rollback, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// The discarded allocation must not advance the counter.
	err = store.Update(ctx, func(tx Tx) error {
		id, err := tx.NextShipmentID()
		if err != nil {
			return err
		}
		if id != 1 {
			t.Fatalf("expected first shipment id 1 after rollback, got %d", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestMemoryStoreReadsSeeStagedWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutParticipant(&Participant{ID: "acme", Reputation: 40, Active: true}); err != nil {
			return err
		}
		p, err := tx.Participant("acme")
		if err != nil {
			return err
		}
		if p.Reputation != 40 {
			t.Fatalf("staged write must be visible in the same transaction, got %+v", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestMemoryStoreCustodyContiguity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.PutShipment(&Shipment{ID: 1, Origin: "a", Holder: "a", Destination: "b", Status: StatusCreated}); err != nil {
			return err
		}
		return tx.AppendCustody(&CustodyRecord{ShipmentID: 1, Sequence: 0, Holder: "a", Verified: true})
	})
	if err != nil {
		t.Fatalf("seed shipment: %v", err)
	}

	// A gap in the sequence is rejected.
	err = store.Update(ctx, func(tx Tx) error {
		return tx.AppendCustody(&CustodyRecord{ShipmentID: 1, Sequence: 2, Holder: "b"})
	})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict for sequence gap, got %v", err)
	}

	// So is an overwrite of an existing sequence.
	err = store.Update(ctx, func(tx Tx) error {
		return tx.AppendCustody(&CustodyRecord{ShipmentID: 1, Sequence: 0, Holder: "b"})
	})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict for overwrite, got %v", err)
	}

	err = store.Update(ctx, func(tx Tx) error {
		return tx.AppendCustody(&CustodyRecord{ShipmentID: 1, Sequence: 1, Holder: "b"})
	})
	if err != nil {
		t.Fatalf("append next sequence: %v", err)
	}

	err = store.View(ctx, func(tx ReadTx) error {
		chain, err := tx.CustodyChain(1)
		if err != nil {
			return err
		}
		if len(chain) != 2 {
			t.Fatalf("expected 2 custody records, got %d", len(chain))
		}
		for i, record := range chain {
			if record.Sequence != uint64(i) {
				t.Fatalf("expected sequence %d at position %d, got %d", i, i, record.Sequence)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view chain: %v", err)
	}
}

func TestMemoryStoreAlertConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx Tx) error {
		return tx.AppendAlert(&FraudAlert{ID: 1, ShipmentID: 1, Reporter: "a", Severity: AlertSeverityLow})
	})
	if err != nil {
		t.Fatalf("append alert: %v", err)
	}

	err = store.Update(ctx, func(tx Tx) error {
		return tx.AppendAlert(&FraudAlert{ID: 1, ShipmentID: 2, Reporter: "b", Severity: AlertSeverityLow})
	})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict for duplicate alert id, got %v", err)
	}
}

func TestMemoryStoreCounterMonotonicity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var ids []uint64
	err := store.Update(ctx, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			id, err := tx.NextShipmentID()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("allocate ids: %v", err)
	}
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("expected id %d, got %d", i+1, id)
		}
	}

	// Allocation continues across transactions.
	err = store.Update(ctx, func(tx Tx) error {
		id, err := tx.NextShipmentID()
		if err != nil {
			return err
		}
		if id != 4 {
			t.Fatalf("expected id 4 in the next transaction, got %d", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("allocate follow-up id: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Update(ctx, func(tx Tx) error {
		return tx.PutParticipant(&Participant{ID: "acme", Reputation: 60, Active: true})
	})
	if err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	err = store.View(ctx, func(tx ReadTx) error {
		p, err := tx.Participant("acme")
		if err != nil {
			return err
		}
		p.Reputation = 0
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = store.View(ctx, func(tx ReadTx) error {
		p, err := tx.Participant("acme")
		if err != nil {
			return err
		}
		if p.Reputation != 60 {
			t.Fatalf("mutating a read result must not leak into the store, got %d", p.Reputation)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMemoryStoreLastHeight(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.View(ctx, func(tx ReadTx) error {
		h, err := tx.LastHeight()
		if err != nil {
			return err
		}
		if h != 0 {
			t.Fatalf("empty store must report height 0, got %d", h)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = store.Update(ctx, func(tx Tx) error {
		if err := tx.PutParticipant(&Participant{ID: "acme", Reputation: InitialReputation, Active: true, RegisteredAt: 3}); err != nil {
			return err
		}
		if err := tx.PutShipment(&Shipment{ID: 1, Origin: "acme", Holder: "acme", Destination: "acme", Status: StatusCreated, CreatedAt: 5, UpdatedAt: 9}); err != nil {
			return err
		}
		return tx.AppendAlert(&FraudAlert{ID: 1, ShipmentID: 1, Reporter: "acme", Severity: AlertSeverityLow, Height: 7})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx ReadTx) error {
		h, err := tx.LastHeight()
		if err != nil {
			return err
		}
		if h != 9 {
			t.Fatalf("expected max recorded height 9, got %d", h)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
