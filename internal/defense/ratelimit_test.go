package defense

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimits(t *testing.T) {
	tests := []struct {
		policy string
		want   []Limit
	}{
		{"10/minute;100/hour", []Limit{{10, time.Minute}, {100, time.Hour}}},
		{"100 per hour", []Limit{{100, time.Hour}}},
		{" 5/second , 1000/days ", []Limit{{5, time.Second}, {1000, 24 * time.Hour}}},
		{"100/Minute; 1000/HOUR", []Limit{{100, time.Minute}, {1000, time.Hour}}},
	}
	for _, tt := range tests {
		got, err := ParseLimits(tt.policy)
		require.NoError(t, err, tt.policy)
		assert.Equal(t, tt.want, got, tt.policy)
	}
}

func TestParseLimits_Invalid(t *testing.T) {
	for _, policy := range []string{"", ";", "ten/minute", "10/fortnight", "0/minute", "-1/hour", "10 minute"} {
		_, err := ParseLimits(policy)
		assert.Error(t, err, policy)
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	// start of an hour, so minute and hour windows are aligned
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryStore_EleventhWriteRejected(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	store.now = clock.now
	limits := []Limit{{10, time.Minute}, {100, time.Hour}}

	for i := 0; i < 10; i++ {
		d, err := store.Allow(context.Background(), "write:1.2.3.4", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
		clock.advance(time.Second)
	}

	d, err := store.Allow(context.Background(), "write:1.2.3.4", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50*time.Second, d.RetryAfter)

	// other clients are unaffected
	d, err = store.Allow(context.Background(), "write:5.6.7.8", limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// next minute window opens again
	clock.advance(50 * time.Second)
	d, err = store.Allow(context.Background(), "write:1.2.3.4", limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_DeniedRequestsAreNotCounted(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	store.now = clock.now
	limits := []Limit{{2, time.Minute}, {3, time.Hour}}

	allowed := 0
	for minute := 0; minute < 3; minute++ {
		for i := 0; i < 5; i++ {
			d, err := store.Allow(context.Background(), "k", limits)
			require.NoError(t, err)
			if d.Allowed {
				allowed++
			}
		}
		clock.advance(time.Minute)
	}
	// 2 in the first minute, 1 in the second, hour window full afterwards
	assert.Equal(t, 3, allowed)
}

func TestMemoryStore_HourWindowRetryAfter(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	store.now = clock.now
	limits := []Limit{{10, time.Minute}, {2, time.Hour}}

	for i := 0; i < 2; i++ {
		d, _ := store.Allow(context.Background(), "k", limits)
		require.True(t, d.Allowed)
	}
	clock.advance(10 * time.Minute)
	d, _ := store.Allow(context.Background(), "k", limits)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50*time.Minute, d.RetryAfter)
}

func TestMemoryStore_SweepsExpiredCounters(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	store.now = clock.now
	limits := []Limit{{5, time.Minute}}

	for i := 0; i < 20; i++ {
		_, err := store.Allow(context.Background(), "client-"+string(rune('a'+i)), limits)
		require.NoError(t, err)
	}
	assert.Equal(t, 20, store.Len())

	clock.advance(2 * time.Minute)
	_, err := store.Allow(context.Background(), "fresh", limits)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Allow(ctx, "k", []Limit{{1, time.Minute}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	require.NoError(t, s.Close())

	s, err = NewStore("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore("memcached://localhost")
	assert.Error(t, err)
}
