package risk

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreRecentBySender(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Record(ctx, &Assessment{
			ID:            fmt.Sprintf("rsk_%d", i),
			TransactionID: fmt.Sprintf("txn_%d", i),
			Sender:        senderAddr,
			RiskLevel:     LevelLow,
			CreatedAt:     time.Now(),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	_ = s.Record(ctx, &Assessment{ID: "rsk_other", Sender: recipientAddr, CreatedAt: time.Now()})

	got, err := s.RecentBySender(ctx, senderAddr, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].ID != "rsk_4" {
		t.Errorf("newest = %s", got[0].ID)
	}

	n, _ := s.Count(ctx)
	if n != 6 {
		t.Errorf("count = %d, want 6", n)
	}
}

func TestEngineRecentAssessments(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(Config{}, store, nil)
	ctx := context.Background()

	if _, err := e.AnalyzeTransaction(ctx, tx(senderAddr, recipientAddr, "100")); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// The audit write is asynchronous.
	deadline := time.Now().Add(time.Second)
	for {
		got, err := e.RecentAssessments(ctx, senderAddr, 10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(got) == 1 {
			if got[0].Sender != senderAddr {
				t.Errorf("sender = %s", got[0].Sender)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("assessment never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
