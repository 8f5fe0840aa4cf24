package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/knock/internal/market"
	"github.com/shopspring/decimal"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertTestKnock admits a pending knock the way SubmitKnock does and returns its id.
func insertTestKnock(t *testing.T, s *Store, sender, receiver, bid string, day market.Day) int64 {
	t.Helper()
	amount, err := decimal.NewFromString(bid)
	if err != nil {
		t.Fatalf("bad bid %q: %v", bid, err)
	}
	var id int64
	err = s.Update(context.Background(), func(tx *Tx) error {
		k := &market.Knock{
			Sender:    sender,
			Receiver:  receiver,
			Bid:       amount,
			ContentID: "content",
			CreatedAt: day.Start().Add(time.Hour),
			SettleDay: day,
			Status:    market.StatusPending,
		}
		var err error
		if id, err = tx.InsertKnock(context.Background(), k, "tx-test"); err != nil {
			return err
		}
		if _, err := tx.AppendBucket(context.Background(), receiver, day, id); err != nil {
			return err
		}
		return tx.AddPending(context.Background(), sender, id)
	})
	if err != nil {
		t.Fatalf("insert knock: %v", err)
	}
	return id
}
