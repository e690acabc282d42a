package ratelimit

import (
	"context"
	"testing"
	"time"
)

// =============================================================================
// Memory Limiter Tests
// =============================================================================

func TestMemory_AllowsUpToLimit(t *testing.T) {
	limiter := NewMemory(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Check(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("check %d: unexpected error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("check %d: expected allow within limit", i)
		}
	}

	allowed, err := limiter.Check(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected deny once the window quota is spent")
	}
}

func TestMemory_WindowRefill(t *testing.T) {
	limiter := NewMemory(1, time.Minute)

	current := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	ctx := context.Background()

	if allowed, _ := limiter.Check(ctx, "tenant-a"); !allowed {
		t.Fatal("first check should be allowed")
	}
	if allowed, _ := limiter.Check(ctx, "tenant-a"); allowed {
		t.Fatal("second check in the same window should be denied")
	}

	// Just short of the window boundary: still denied.
	current = current.Add(59 * time.Second)
	if allowed, _ := limiter.Check(ctx, "tenant-a"); allowed {
		t.Error("check before the window elapses should be denied")
	}

	// Window rolls over: quota refills.
	current = current.Add(time.Second)
	if allowed, _ := limiter.Check(ctx, "tenant-a"); !allowed {
		t.Error("check in the next window should be allowed")
	}
}

func TestMemory_TenantsIsolated(t *testing.T) {
	limiter := NewMemory(1, time.Minute)
	ctx := context.Background()

	if allowed, _ := limiter.Check(ctx, "tenant-a"); !allowed {
		t.Fatal("tenant-a first check should be allowed")
	}
	if allowed, _ := limiter.Check(ctx, "tenant-a"); allowed {
		t.Fatal("tenant-a should be exhausted")
	}

	// A different tenant has its own bucket.
	if allowed, _ := limiter.Check(ctx, "tenant-b"); !allowed {
		t.Error("tenant-b must not be affected by tenant-a's quota")
	}
}

// =============================================================================
// Redis Key Tests
// =============================================================================

// TestRedis_KeyPerWindow verifies that the counter key changes exactly
// at window boundaries, which is what scopes the quota to a window.
func TestRedis_KeyPerWindow(t *testing.T) {
	limiter := NewRedis(nil, 10, time.Minute)

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	k1 := limiter.key("tenant-a", base)
	k2 := limiter.key("tenant-a", base.Add(59*time.Second))
	k3 := limiter.key("tenant-a", base.Add(60*time.Second))

	if k1 != k2 {
		t.Errorf("keys within one window must match: %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Errorf("keys across windows must differ: %q", k1)
	}

	other := limiter.key("tenant-b", base)
	if other == k1 {
		t.Error("tenant keys must not collide")
	}
}
