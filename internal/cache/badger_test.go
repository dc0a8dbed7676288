package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBadgerCache_SetGetDelete(t *testing.T) {
	c, err := NewBadgerCache(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	c.Delete("k")
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestBadgerCache_Clear(t *testing.T) {
	c, err := NewBadgerCache(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1, time.Minute)
	c.Clear()
	_, ok := c.Get("a")
	require.False(t, ok)
}
