package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_RunPendingIncludesNestedPosts(t *testing.T) {
	m := NewManual()
	var got []string
	m.Post(func() {
		got = append(got, "a")
		m.Post(func() { got = append(got, "c") })
	})
	m.Post(func() { got = append(got, "b") })

	assert.Equal(t, 3, m.RunPending())
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestManual_AdvanceFiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(300*time.Millisecond, func() { got = append(got, "late") })
	m.AfterFunc(100*time.Millisecond, func() { got = append(got, "early") })
	m.AfterFunc(100*time.Millisecond, func() { got = append(got, "early-second") })

	m.Advance(99 * time.Millisecond)
	assert.Empty(t, got)
	assert.Equal(t, 3, m.PendingTimers())

	m.Advance(time.Second)
	assert.Equal(t, []string{"early", "early-second", "late"}, got)
	assert.Equal(t, 0, m.PendingTimers())
	assert.Equal(t, 1099*time.Millisecond, m.Now())
}

func TestManual_TimerArmedDuringAdvance(t *testing.T) {
	m := NewManual()
	count := 0
	var rearm func()
	rearm = func() {
		count++
		if count < 3 {
			m.AfterFunc(100*time.Millisecond, rearm)
		}
	}
	m.AfterFunc(100*time.Millisecond, rearm)

	m.Advance(250 * time.Millisecond)
	assert.Equal(t, 2, count)

	m.Advance(50 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestManual_StopPreventsFire(t *testing.T) {
	m := NewManual()
	fired := false
	stop := m.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop())

	m.Advance(2 * time.Second)
	assert.False(t, fired)
}
