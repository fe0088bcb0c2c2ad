package relay

import (
	"testing"
	"time"
)

func TestFixedDelay(t *testing.T) {
	p := FixedDelay{Delay: 2 * time.Second, MaxAttempts: 3}
	for failures := 1; failures <= 3; failures++ {
		d, ok := p.Next(failures)
		if !ok || d != 2*time.Second {
			t.Fatalf("failures=%d: got %v %v", failures, d, ok)
		}
	}
	if _, ok := p.Next(4); ok {
		t.Fatal("expected policy to give up after MaxAttempts")
	}

	if _, ok := DefaultPolicy().Next(10000); !ok {
		t.Fatal("default policy must retry forever")
	}
}

func TestExponential(t *testing.T) {
	tests := []struct {
		name     string
		policy   Exponential
		failures int
		want     time.Duration
		ok       bool
	}{
		{"first", Exponential{Initial: time.Second, Max: time.Minute}, 1, time.Second, true},
		{"doubles", Exponential{Initial: time.Second, Max: time.Minute}, 4, 8 * time.Second, true},
		{"capped", Exponential{Initial: time.Second, Max: time.Minute}, 10, time.Minute, true},
		{"multiplier", Exponential{Initial: time.Second, Max: time.Minute, Multiplier: 3}, 3, 9 * time.Second, true},
		{"default cap", Exponential{Initial: time.Second}, 64, 5 * time.Minute, true},
		{"zero failures", Exponential{Initial: time.Second}, 0, time.Second, true},
		{"exhausted", Exponential{Initial: time.Second, MaxAttempts: 2}, 3, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.policy.Next(tt.failures)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("Next(%d) = %v, %v; want %v, %v", tt.failures, got, ok, tt.want, tt.ok)
			}
		})
	}
}
