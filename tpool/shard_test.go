package tpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingGrowthPreservesOrder(t *testing.T) {
	r := newRing(4)
	next, expect := 0, 0
	// Interleave pushes and pops so the cursors wrap before each growth.
	for round := 0; round < 6; round++ {
		for i := 0; i < 3*(round+1); i++ {
			r.push(Task{Args: next})
			next++
		}
		for i := 0; i < round+1; i++ {
			got, ok := r.pop()
			require.True(t, ok)
			require.Equal(t, expect, got.Args)
			expect++
		}
	}
	assert.Greater(t, r.capacity(), 4)
	for {
		got, ok := r.pop()
		if !ok {
			break
		}
		require.Equal(t, expect, got.Args)
		expect++
	}
	assert.Equal(t, next, expect)
}

func TestRingGrowWrapped(t *testing.T) {
	r := newRing(4)
	for i := 0; i < 3; i++ {
		r.push(Task{Args: i})
	}
	r.pop()
	r.pop()
	// tail is at slot 2, so the next pushes wrap to slots 0 and 1.
	for i := 3; i < 6; i++ {
		r.push(Task{Args: i})
	}
	require.Equal(t, 4, r.len())
	r.push(Task{Args: 6})
	assert.Equal(t, 8, r.capacity())
	for want := 2; want <= 6; want++ {
		got, ok := r.pop()
		require.True(t, ok)
		assert.Equal(t, want, got.Args)
	}
	_, ok := r.pop()
	assert.False(t, ok)
}

func TestRingCapacityMustBePowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { newRing(3) })
	assert.Panics(t, func() { newRing(0) })
}

func TestShardTryOperations(t *testing.T) {
	s := newShard(DefaultShardCapacity)
	_, ok := s.TryPop()
	assert.False(t, ok)

	require.True(t, s.TryPush(Task{Args: 1}))
	assert.Equal(t, 1, s.Len())

	s.mu.Lock()
	assert.False(t, s.TryPush(Task{Args: 2}))
	_, ok = s.TryPop()
	assert.False(t, ok)
	s.mu.Unlock()

	got, ok := s.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, got.Args)
	assert.Equal(t, 0, s.Len())
}

func TestShardPopBlocks(t *testing.T) {
	s := newShard(DefaultShardCapacity)
	done := make(chan Task)
	go func() { done <- s.Pop() }()

	select {
	case <-done:
		t.Fatal("pop returned on an empty shard")
	case <-time.After(30 * time.Millisecond):
	}
	s.Push(Task{Args: "x"})
	select {
	case got := <-done:
		assert.Equal(t, "x", got.Args)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestShardManyPushesGrow(t *testing.T) {
	s := newShard(DefaultShardCapacity)
	for i := 0; i < 3*DefaultShardCapacity; i++ {
		s.Push(Task{Args: i})
	}
	for i := 0; i < 3*DefaultShardCapacity; i++ {
		got := s.Pop()
		require.Equal(t, i, got.Args)
	}
}
