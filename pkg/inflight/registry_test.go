package inflight

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire(t *testing.T) {
	r := New()

	release, ok := r.TryAcquire("blog.example.com")
	require.True(t, ok)
	assert.True(t, r.Busy("blog.example.com"))

	_, ok = r.TryAcquire("blog.example.com")
	assert.False(t, ok)

	other, ok := r.TryAcquire("shop.example.com")
	require.True(t, ok)
	assert.Equal(t, []string{"blog.example.com", "shop.example.com"}, r.Names())

	release()
	release()
	other()
	assert.False(t, r.Busy("blog.example.com"))
	assert.Empty(t, r.Names())

	_, ok = r.TryAcquire("blog.example.com")
	assert.True(t, ok)
}

func TestTryAcquireSingleWinner(t *testing.T) {
	r := New()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.TryAcquire("blog.example.com"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
