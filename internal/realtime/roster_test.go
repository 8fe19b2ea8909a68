package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoster_ReplaceDeduplicates(t *testing.T) {
	r := newRoster()
	r.replace([]string{"a", "b", "a", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, r.snapshot())
	assert.Equal(t, 3, r.size())
}

func TestRoster_AddIsIdempotent(t *testing.T) {
	r := newRoster()
	assert.True(t, r.add("a"))
	assert.False(t, r.add("a"))
	assert.Equal(t, []string{"a"}, r.snapshot())
}

func TestRoster_RemoveAbsentIsNoOp(t *testing.T) {
	r := newRoster()
	r.replace([]string{"a", "b"})
	assert.False(t, r.remove("z"))
	assert.True(t, r.remove("a"))
	assert.False(t, r.remove("a"))
	assert.Equal(t, []string{"b"}, r.snapshot())
}

func TestRoster_PreservesArrivalOrder(t *testing.T) {
	r := newRoster()
	r.add("c")
	r.add("a")
	r.add("b")
	r.remove("a")
	r.add("a")
	assert.Equal(t, []string{"c", "b", "a"}, r.snapshot())
}

func TestRoster_Clear(t *testing.T) {
	r := newRoster()
	r.replace([]string{"a", "b"})
	r.clear()
	assert.Empty(t, r.snapshot())
	assert.False(t, r.contains("a"))
}
