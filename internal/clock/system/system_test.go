package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowIsUTCMicroseconds(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()

	assert.Equal(t, time.UTC, got.Location())
	assert.Zero(t, got.Nanosecond()%int(time.Microsecond))
	assert.WithinRange(t, got, before, time.Now().Add(time.Second))
}

func TestNowNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	assert.False(t, clk.Now().Before(first))
}
