package supervisor

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name         string
		attempt      int
		wantMinDelay time.Duration
		wantMaxDelay time.Duration
	}{
		{"first attempt (0) around 2s", 0, 2 * time.Second, 3 * time.Second},
		{"second attempt (1) around 4s", 1, 4 * time.Second, 6 * time.Second},
		{"third attempt (2) around 8s", 2, 8 * time.Second, 12 * time.Second},
		{"sixth attempt (5) capped at 60s", 5, 60 * time.Second, 90 * time.Second},
		{"large attempt stays capped at 60s", 100, 60 * time.Second, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				got := CalculateBackoff(tt.attempt)
				if got < tt.wantMinDelay {
					t.Errorf("CalculateBackoff(%d) = %v, want >= %v", tt.attempt, got, tt.wantMinDelay)
				}
				if got > tt.wantMaxDelay {
					t.Errorf("CalculateBackoff(%d) = %v, want <= %v", tt.attempt, got, tt.wantMaxDelay)
				}
			}
		})
	}
}

func TestCalculateBackoffJitterVariability(t *testing.T) {
	results := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		results[CalculateBackoff(2)] = true
	}
	if len(results) < 5 {
		t.Errorf("expected jitter to produce at least 5 unique values, got %d", len(results))
	}
}
