package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestStore_AllowBurstPerKey(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 2, time.Minute)

	assert.True(t, s.Allow("1.1.1.1:/deposit"))
	assert.True(t, s.Allow("1.1.1.1:/deposit"))
	assert.False(t, s.Allow("1.1.1.1:/deposit"))

	// 不同 key 互不影响
	assert.True(t, s.Allow("2.2.2.2:/deposit"))
	assert.Equal(t, 2, s.Len())
}

func TestStore_CleanupDropsIdleKeys(t *testing.T) {
	s := NewStore(rate.Limit(10), 1, time.Minute)
	s.Allow("a")
	s.Allow("b")

	s.cleanup(time.Now())
	assert.Equal(t, 2, s.Len())

	s.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
}

var errNode = errors.New("node down")
var errNotFound = errors.New("not found")

func TestManager_TripsOnConsecutiveFailures(t *testing.T) {
	var transitions []gobreaker.State
	m := NewManager(Rule{TripConsecutiveFailures: 3, Timeout: time.Minute}, nil,
		WithStateChange(func(_ string, _, to gobreaker.State) { transitions = append(transitions, to) }),
	)

	for i := 0; i < 3; i++ {
		_, err := Execute(m, "eth_getTransactionByHash", func() (int, error) { return 0, errNode })
		require.ErrorIs(t, err, errNode)
	}

	_, err := Execute(m, "eth_getTransactionByHash", func() (int, error) { return 1, nil })
	assert.True(t, IsRejected(err))
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	// 其它方法的熔断器不受影响
	v, err := Execute(m, "eth_blockNumber", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestManager_IsSuccessfulExcludesBusinessErrors(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, nil,
		WithIsSuccessful(func(err error) bool { return err == nil || errors.Is(err, errNotFound) }),
	)

	for i := 0; i < 5; i++ {
		_, err := Execute(m, "lookup", func() (string, error) { return "", errNotFound })
		require.ErrorIs(t, err, errNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, m.Get("lookup").State())
}

func TestManager_PerNameRule(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 100}, map[string]Rule{
		"strict": {TripConsecutiveFailures: 1, Timeout: time.Minute},
	})
	_, _ = Execute(m, "strict", func() (int, error) { return 0, errNode })
	assert.Equal(t, gobreaker.StateOpen, m.Get("strict").State())

	_, _ = Execute(m, "loose", func() (int, error) { return 0, errNode })
	assert.Equal(t, gobreaker.StateClosed, m.Get("loose").State())
}
