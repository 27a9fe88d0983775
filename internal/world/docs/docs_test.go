package docs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()
	s.Open("file:///b.ttl", "turtle", 1, "a")
	s.Open("file:///a.ttl", "turtle", 1, "b")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"file:///a.ttl", "file:///b.ttl"}, s.URIs())

	d, ok := s.Change("file:///a.ttl", 2, "changed")
	require.True(t, ok)
	assert.Equal(t, int32(2), d.Version)

	_, ok = s.Change("file:///a.ttl", 1, "stale")
	assert.False(t, ok, "older versions are rejected")
	_, ok = s.Change("file:///missing.ttl", 5, "x")
	assert.False(t, ok)

	got, ok := s.Get("file:///a.ttl")
	require.True(t, ok)
	assert.Equal(t, "changed", got.Text)
	got.Text = "mutated copy"
	again, _ := s.Get("file:///a.ttl")
	assert.Equal(t, "changed", again.Text)

	assert.True(t, s.Close("file:///a.ttl"))
	assert.False(t, s.Close("file:///a.ttl"))
	_, ok = s.Get("file:///a.ttl")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}
