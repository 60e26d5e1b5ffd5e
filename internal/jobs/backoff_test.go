package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, 30 * time.Second},
		{"second attempt", 2, 2 * time.Minute},
		{"third attempt", 3, 270 * time.Second},
		{"tenth attempt", 10, 50 * time.Minute},
		{"capped at one hour", 12, time.Hour},
		{"large attempt stays capped", 1000, time.Hour},
		{"zero attempt treated as first", 0, 30 * time.Second},
		{"negative attempt treated as first", -5, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryDelay(tt.attempt))
		})
	}
}

func TestRetryDelay_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := retryDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay should never shrink between attempts")
		assert.LessOrEqual(t, d, time.Hour)
		prev = d
	}
}
