package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/xredis"
)

type fakeProc struct {
	mu        sync.Mutex
	due       []*domain.PendingClaim
	dueErr    error
	submitted []string
	dropped   []string
	failOn    string
}

func (f *fakeProc) SubmitClaim(_ context.Context, c domain.Claim) (*domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.TxHash == f.failOn {
		return nil, errors.New("db down")
	}
	f.submitted = append(f.submitted, c.TxHash)
	return &domain.Result{Outcome: domain.OutcomeDone, TxHash: c.TxHash}, nil
}

func (f *fakeProc) Due(context.Context, int) ([]*domain.PendingClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, f.dueErr
}

func (f *fakeProc) Drop(_ context.Context, h string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, h)
	return nil
}

func (f *fakeProc) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func TestRunOnce(t *testing.T) {
	now := time.Now()
	proc := &fakeProc{
		due: []*domain.PendingClaim{
			{TxHash: "0xa", FirstSeenAt: now.Add(-time.Minute)},
			{TxHash: "0xb", FirstSeenAt: now.Add(-48 * time.Hour)},
			{TxHash: "0xc", FirstSeenAt: now.Add(-time.Minute)},
		},
		failOn: "0xc",
	}
	r := NewRepoller(Config{MaxAge: 24 * time.Hour, LockKey: "k"}, proc, xredis.NewRedisLockMaster(nil))
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"0xa"}, proc.submitted)
	assert.Equal(t, []string{"0xb"}, proc.dropped)
}

func TestRunOnce_DueError(t *testing.T) {
	r := NewRepoller(Config{}, &fakeProc{dueErr: errors.New("db down")}, xredis.NewRedisLockMaster(nil))
	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStart_OnlyMasterWorks(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := xredis.NewRedis(context.Background(), &xredis.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	// 锁被别的副本占着
	other := xredis.NewRedisLockMaster(rdb)
	require.True(t, other.TryAcquireMaster(context.Background(), "lock:repoller", time.Minute))

	proc := &fakeProc{due: []*domain.PendingClaim{{TxHash: "0xa", FirstSeenAt: time.Now()}}}
	r := NewRepoller(Config{Interval: 10 * time.Millisecond, LockKey: "lock:repoller", LockTTL: time.Minute},
		proc, xredis.NewRedisLockMaster(rdb))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, proc.submittedCount())

	// 对方释放后接管
	other.Release(context.Background(), "lock:repoller")
	assert.Eventually(t, func() bool { return proc.submittedCount() > 0 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	// 退出时释放锁
	assert.False(t, mr.Exists("lock:repoller"))
}
