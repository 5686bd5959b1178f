package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func TestRollingWindow_Empty(t *testing.T) {
	w := NewRollingWindow(4)

	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 4, w.Cap())
	assert.Zero(t, w.Mean())
	assert.Zero(t, w.StdDev())
	_, ok := w.Latest()
	assert.False(t, ok)
	_, ok = w.Previous()
	assert.False(t, ok)
	assert.Empty(t, w.Points())
}

func TestRollingWindow_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultWindowCapacity, NewRollingWindow(0).Cap())
}

func TestRollingWindow_Stats(t *testing.T) {
	w := NewRollingWindow(8)
	for i, v := range []float64{10, 20, 30} {
		w.Push(t0.Add(time.Duration(i)*time.Minute), v)
	}

	assert.InDelta(t, 20.0, w.Mean(), 1e-9)
	assert.InDelta(t, 10.0, w.StdDev(), 1e-9)

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 30.0, latest)
	prev, ok := w.Previous()
	require.True(t, ok)
	assert.Equal(t, 20.0, prev)
}

func TestRollingWindow_SinglePoint(t *testing.T) {
	w := NewRollingWindow(8)
	w.Push(t0, 42)

	assert.Equal(t, 42.0, w.Mean())
	assert.Zero(t, w.StdDev())
	_, ok := w.Previous()
	assert.False(t, ok)
}

func TestRollingWindow_Bound(t *testing.T) {
	const capacity = 5
	w := NewRollingWindow(capacity)

	for i := 0; i < 23; i++ {
		w.Push(t0.Add(time.Duration(i)*time.Second), float64(i))
		assert.LessOrEqual(t, w.Len(), capacity)
	}

	points := w.Points()
	require.Len(t, points, capacity)
	for i, p := range points {
		want := float64(23 - capacity + i)
		assert.Equal(t, want, p.Value)
		assert.Equal(t, t0.Add(time.Duration(want)*time.Second), p.Timestamp)
	}
	assert.InDelta(t, 20.0, w.Mean(), 1e-9)

	latest, _ := w.Latest()
	prev, _ := w.Previous()
	assert.Equal(t, 22.0, latest)
	assert.Equal(t, 21.0, prev)
}

func TestRollingWindow_ArrivalOrderKept(t *testing.T) {
	w := NewRollingWindow(3)
	w.Push(t0.Add(time.Minute), 1)
	w.Push(t0, 2) // late arrival is not reordered

	points := w.Points()
	require.Len(t, points, 2)
	assert.Equal(t, 1.0, points[0].Value)
	assert.Equal(t, 2.0, points[1].Value)
}

func TestRollingWindow_PointsIsCopy(t *testing.T) {
	w := NewRollingWindow(3)
	w.Push(t0, 1)
	points := w.Points()
	points[0].Value = 99

	latest, _ := w.Latest()
	assert.Equal(t, 1.0, latest)
}

func TestRollingWindow_OverflowSelfHeals(t *testing.T) {
	SetStrictInvariants(false)
	w := NewRollingWindow(2)
	w.count = 3
	w.checkBound()
	assert.Equal(t, 2, w.Len())

	SetStrictInvariants(true)
	defer SetStrictInvariants(false)
	w.count = 3
	assert.Panics(t, w.checkBound)
}
