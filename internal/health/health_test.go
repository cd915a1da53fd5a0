package health

import (
	"context"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAggregation(t *testing.T) {
	r := NewRegistry()
	r.Register("mandates", func(_ context.Context) Status {
		return Status{Name: "mandates", Healthy: true}
	})
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: false, Detail: "connection refused"}
	})
	r.Register("risk", func(_ context.Context) Status {
		return Status{Name: "risk", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with an unhealthy checker should report unhealthy")
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}

	// Results keep registration order even though checks run concurrently.
	if statuses[0].Name != "mandates" || statuses[1].Name != "database" || statuses[2].Name != "risk" {
		t.Errorf("unexpected status order: %+v", statuses)
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("policies", func(_ context.Context) Status {
		return Status{Name: "policies", Healthy: false, Detail: "stale"}
	})
	r.Register("policies", func(_ context.Context) Status {
		return Status{Name: "policies", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("replacement checker should win")
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status after re-register, got %d", len(statuses))
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
