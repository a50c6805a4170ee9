package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsUpToBurstThenDenies(testContext *testing.T) {
	now := time.Unix(5000, 0)
	limiter := NewMemoryLimiter(MemoryConfig{
		Window: time.Minute,
		Limit:  3,
		Clock:  func() time.Time { return now },
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(context.Background(), "user-1", "execute")
		if err != nil {
			testContext.Fatalf("check %d: %v", i, err)
		}
		if !result.Allowed {
			testContext.Fatalf("expected request %d to be allowed", i)
		}
	}

	result, err := limiter.Check(context.Background(), "user-1", "execute")
	if err != nil {
		testContext.Fatalf("check: %v", err)
	}
	if result.Allowed {
		testContext.Fatal("expected request beyond the burst to be denied")
	}
}

func TestMemoryLimiterTracksUsersIndependently(testContext *testing.T) {
	now := time.Unix(6000, 0)
	limiter := NewMemoryLimiter(MemoryConfig{
		Window: time.Minute,
		Limit:  1,
		Clock:  func() time.Time { return now },
	})
	defer limiter.Stop()

	first, err := limiter.Check(context.Background(), "user-a", "execute")
	if err != nil || !first.Allowed {
		testContext.Fatalf("expected user-a allowed, got %+v err=%v", first, err)
	}
	second, err := limiter.Check(context.Background(), "user-b", "execute")
	if err != nil || !second.Allowed {
		testContext.Fatalf("expected user-b allowed independently, got %+v err=%v", second, err)
	}
}
