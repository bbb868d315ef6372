package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	tk := c.NewTicker(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-tk.C():
		assert.Equal(t, start.Add(5*time.Second), at)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFakeTickerResetAndStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(30 * time.Second)
	require.Equal(t, 1, c.ActiveTickers())

	tk.Reset(5 * time.Second)
	c.Advance(5 * time.Second)
	assert.Len(t, tk.C(), 1)
	<-tk.C()

	tk.Stop()
	assert.Equal(t, 0, c.ActiveTickers())
	c.Advance(time.Minute)
	assert.Len(t, tk.C(), 0)
}
