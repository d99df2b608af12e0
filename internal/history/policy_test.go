package history

import (
	"testing"
	"time"
)

func TestClassifyTiers(t *testing.T) {
	policy := Policy{MaxAge: 5 * time.Second}
	written := baseTime
	meta := &Meta{Version: SchemaVersion, Timestamp: written.UnixMilli()}

	cases := []struct {
		name string
		age  time.Duration
		want Freshness
	}{
		{"just written", 0, Fresh},
		{"within max age", 4 * time.Second, Fresh},
		{"at max age", 5 * time.Second, Stale},
		{"past max age", 6 * time.Second, Stale},
		{"inside default stale window", 5*time.Second + 2*time.Minute - time.Millisecond, Stale},
		{"at stale threshold", 5*time.Second + 2*time.Minute, Expired},
		{"long expired", time.Hour, Expired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Classify(meta, written.Add(tc.age)); got != tc.want {
				t.Fatalf("Classify at age %v = %s, want %s", tc.age, got, tc.want)
			}
		})
	}
}

func TestClassifyNilMetaIsExpired(t *testing.T) {
	if got := DefaultPolicy().Classify(nil, baseTime); got != Expired {
		t.Fatalf("expected expired for missing meta, got %s", got)
	}
}

func TestClassifyFutureTimestampIsFresh(t *testing.T) {
	meta := &Meta{Timestamp: baseTime.Add(time.Hour).UnixMilli()}
	if got := DefaultPolicy().Classify(meta, baseTime); got != Fresh {
		t.Fatalf("expected fresh for clock skew, got %s", got)
	}
}

func TestStaleThresholdNotAboveMaxAgeDisablesStaleTier(t *testing.T) {
	policy := Policy{MaxAge: time.Minute, StaleThreshold: 30 * time.Second}
	meta := &Meta{Timestamp: baseTime.UnixMilli()}
	if got := policy.Classify(meta, baseTime.Add(time.Minute)); got != Expired {
		t.Fatalf("expected expired without a stale tier, got %s", got)
	}
	if got := policy.Classify(meta, baseTime.Add(59*time.Second)); got != Fresh {
		t.Fatalf("expected fresh below max age, got %s", got)
	}
}

func TestZeroPolicyUsesDefaults(t *testing.T) {
	meta := &Meta{Timestamp: baseTime.UnixMilli()}
	var policy Policy
	if got := policy.Classify(meta, baseTime.Add(4*time.Minute)); got != Fresh {
		t.Fatalf("expected fresh at 4m, got %s", got)
	}
	if got := policy.Classify(meta, baseTime.Add(6*time.Minute)); got != Stale {
		t.Fatalf("expected stale at 6m, got %s", got)
	}
	if got := policy.Classify(meta, baseTime.Add(8*time.Minute)); got != Expired {
		t.Fatalf("expected expired at 8m, got %s", got)
	}
}
