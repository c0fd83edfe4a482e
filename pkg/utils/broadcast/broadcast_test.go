package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestServer_Fanout(t *testing.T) {
	source := make(chan int)
	s := New("test", source)
	a, cancelA := s.Subscribe()
	b, cancelB := s.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, s.Listeners())

	source <- 1
	assert.Equal(t, 1, <-a)
	assert.Equal(t, 1, <-b)

	cancelA()
	_, ok := <-a
	assert.False(t, ok, "cancelled subscription is closed")
	cancelA()

	source <- 2
	assert.Equal(t, 2, <-b)
	s.Close()
	_, ok = <-b
	assert.False(t, ok, "subscription closed with server")

	c, _ := s.Subscribe()
	_, ok = <-c
	assert.False(t, ok, "subscribe after close")
}

func TestServer_SlowListenerIsSkipped(t *testing.T) {
	source := make(chan int)
	s := New("test", source, WithSendTimeout[int](10*time.Millisecond))
	slow, _ := s.Subscribe()
	fast, cancel := s.Subscribe()
	defer cancel()

	for i := range 3 {
		source <- i
		require.Equal(t, i, <-fast)
	}
	s.Close()
	// buffer holds the first message, later ones were skipped
	assert.Equal(t, 0, <-slow)
	assert.Equal(t, int64(2), s.numSkip.Load())
}

func TestServer_SourceClosed(t *testing.T) {
	source := make(chan string)
	s := New("test", source)
	c, _ := s.Subscribe()
	close(source)
	_, ok := <-c
	assert.False(t, ok)
	s.Close()
}
