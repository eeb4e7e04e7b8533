package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory[int](3)
	for i := 1; i <= 5; i++ {
		h.Push(i)
	}

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []int{3, 4, 5}, h.Items())

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestHistory_PartiallyFilled(t *testing.T) {
	h := NewHistory[int](4)
	h.Push(7)
	h.Push(8)

	assert.Equal(t, []int{7, 8}, h.Items())
	assert.Equal(t, []int{8}, h.Tail(1))
	assert.Equal(t, []int{7, 8}, h.Tail(10))
}

func TestHistory_EmptyAndClear(t *testing.T) {
	h := NewHistory[float64](2)
	_, ok := h.Last()
	assert.False(t, ok)
	assert.Empty(t, h.Items())

	h.Push(1)
	h.Push(2)
	h.Push(3)
	h.Clear()

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 2, h.Cap())
	assert.Empty(t, h.Items())
}

func TestSampleHistory_RejectsOlderPoints(t *testing.T) {
	h := NewSampleHistory(DefaultHistorySize)

	assert.True(t, h.Add(Point{T: 1, V: 10}))
	assert.True(t, h.Add(Point{T: 2, V: 20}))
	assert.False(t, h.Add(Point{T: 1.5, V: 15}))
	assert.True(t, h.Add(Point{T: 2, V: 25}), "equal timestamps are kept")

	assert.Equal(t, []Point{{1, 10}, {2, 20}, {2, 25}}, h.Items())
}

func TestSampleHistory_Capacity(t *testing.T) {
	h := NewSampleHistory(DefaultHistorySize)
	for i := 0; i < 25; i++ {
		h.Add(Point{T: float64(i), V: float64(i)})
	}

	items := h.Items()
	require.Len(t, items, DefaultHistorySize)
	assert.Equal(t, Point{T: 15, V: 15}, items[0])
	assert.Equal(t, Point{T: 24, V: 24}, items[len(items)-1])
}

func TestReading(t *testing.T) {
	assert.Equal(t, "", Absent.String())
	assert.Equal(t, 3.5, Absent.Or(3.5))
	assert.Equal(t, "0", Present(0).String())
	assert.Equal(t, 0.0, Present(0).Or(3.5))
	assert.Equal(t, "12.25", Present(12.25).String())
}

func TestSnapshot_Moving(t *testing.T) {
	var s Snapshot
	assert.False(t, s.Moving(1))

	s.SpeedKph = Present(0.5)
	assert.False(t, s.Moving(1))

	s.SpeedKph = Present(12)
	assert.True(t, s.Moving(1))
}

func TestReading_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Reading `json:"a"`
		B Reading `json:"b"`
	}{A: Present(1.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(data))
}

func TestReading_UnmarshalJSON(t *testing.T) {
	var got struct {
		A Reading `json:"a"`
		B Reading `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":0,"b":null}`), &got))
	assert.Equal(t, Present(0), got.A)
	assert.Equal(t, Absent, got.B)
}
