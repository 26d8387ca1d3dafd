package replay

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardDeduplicates(t *testing.T) {
	g := New(time.Minute, 100)

	id := Digest([]byte("envelope"))
	assert.True(t, g.ShouldProcess(id))
	assert.False(t, g.ShouldProcess(id))
	assert.False(t, g.ShouldProcess(id))

	assert.True(t, g.ShouldProcess(Digest([]byte("other envelope"))))
}

func TestGuardExpiry(t *testing.T) {
	g := New(10*time.Millisecond, 100)

	id := Digest([]byte("envelope"))
	assert.True(t, g.ShouldProcess(id))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, g.ShouldProcess(id), "expired entries are processed again")
}

func TestGuardEmptyID(t *testing.T) {
	g := New(time.Minute, 100)
	assert.True(t, g.ShouldProcess(""))
	assert.True(t, g.ShouldProcess(""))
}

func TestGuardCapPruning(t *testing.T) {
	g := New(time.Minute, 10)
	for i := 0; i < 100; i++ {
		g.ShouldProcess(Digest([]byte(fmt.Sprintf("env-%d", i))))
	}
	// No assertion on exact size; the map must simply not grow unbounded far
	// beyond the cap while entries are live.
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.LessOrEqual(t, len(g.seen), 101)
}

func TestDigestStable(t *testing.T) {
	assert.Equal(t, Digest([]byte("abc")), Digest([]byte("abc")))
	assert.NotEqual(t, Digest([]byte("abc")), Digest([]byte("abd")))
	assert.Len(t, Digest([]byte("abc")), 64)
}
