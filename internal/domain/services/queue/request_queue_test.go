package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarena/castarena_service/internal/domain/entities"
	domainerrors "github.com/castarena/castarena_service/internal/domain/errors"
	"github.com/castarena/castarena_service/pkg/logger"
)

func testQueueConfig() Config {
	return Config{
		MaxQueueSize:      5,
		MaxWaitTime:       2 * time.Minute,
		InterRequestDelay: 0,
	}
}

func okProcessor(code entities.ResultCode) Processor {
	return func(ctx context.Context) (*entities.ProcessingResult, error) {
		return &entities.ProcessingResult{Code: code}, nil
	}
}

func TestEnqueueProcessesAndReturnsResult(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	result, err := q.Enqueue(context.Background(), "0xaaa", "req-1", okProcessor(entities.ResultCharged))
	require.NoError(t, err)
	assert.Equal(t, entities.ResultCharged, result.Code)
}

func TestEnqueuePropagatesProcessorError(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	wantErr := errors.New("chain unreachable")
	_, err := q.Enqueue(context.Background(), "0xaaa", "req-1",
		func(ctx context.Context) (*entities.ProcessingResult, error) {
			return nil, wantErr
		})
	assert.ErrorIs(t, err, wantErr)
}

func TestPerAddressSerialFIFO(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	var mu sync.Mutex
	var order []int
	var inFlight, maxInFlight int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		n := i
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), "0xaaa", "req-"+strconv.Itoa(n),
				func(ctx context.Context) (*entities.ProcessingResult, error) {
					cur := atomic.AddInt32(&inFlight, 1)
					for {
						prev := atomic.LoadInt32(&maxInFlight)
						if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
							break
						}
					}
					time.Sleep(10 * time.Millisecond)
					mu.Lock()
					order = append(order, n)
					mu.Unlock()
					atomic.AddInt32(&inFlight, -1)
					return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
				})
			assert.NoError(t, err)
		}()
		// Stagger submissions so FIFO order is deterministic
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "one in-flight request per address")
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestAddressesProcessInParallel(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	var inFlight, maxInFlight int32
	slow := func(ctx context.Context) (*entities.ProcessingResult, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
	}

	var wg sync.WaitGroup
	for _, address := range []string{"0xaaa", "0xbbb", "0xccc"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), addr, "req-1", slow)
			assert.NoError(t, err)
		}(address)
	}
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&maxInFlight), int32(1), "distinct addresses overlap")
}

func TestQueueFullRejection(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	release := make(chan struct{})
	blocker := func(ctx context.Context) (*entities.ProcessingResult, error) {
		<-release
		return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 10)
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), "0xaaa", "req-"+strconv.Itoa(n), blocker)
			errCh <- err
		}(i)
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	close(errCh)

	rejected := 0
	for err := range errCh {
		if errors.Is(err, domainerrors.ErrQueueFull) {
			rejected++
		} else {
			assert.NoError(t, err)
		}
	}
	// First occupies the worker, five fill the queue, the rest bounce
	assert.Equal(t, 1, rejected)
}

func TestSaturatedAddressDoesNotBlockOthers(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	release := make(chan struct{})
	defer close(release)
	blocker := func(ctx context.Context) (*entities.ProcessingResult, error) {
		<-release
		return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
	}

	// Saturate 0xaaa: one in flight plus a full queue
	for i := 0; i < 6; i++ {
		go q.Enqueue(context.Background(), "0xaaa", "req-"+strconv.Itoa(i), blocker) //nolint:errcheck
	}
	time.Sleep(50 * time.Millisecond)

	_, err := q.Enqueue(context.Background(), "0xaaa", "req-overflow", blocker)
	require.ErrorIs(t, err, domainerrors.ErrQueueFull)

	// A different address still gets processed promptly
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := q.Enqueue(context.Background(), "0xbbb", "req-1", okProcessor(entities.ResultCharged))
		assert.NoError(t, err)
		assert.Equal(t, entities.ResultCharged, result.Code)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent address blocked behind a saturated one")
	}
}

func TestAgedOutEntryRejectedWithoutProcessing(t *testing.T) {
	config := testQueueConfig()
	config.MaxWaitTime = 30 * time.Millisecond
	q := New(config, logger.NewNop(), nil)

	release := make(chan struct{})
	blocker := func(ctx context.Context) (*entities.ProcessingResult, error) {
		<-release
		return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
	}

	go q.Enqueue(context.Background(), "0xaaa", "req-1", blocker) //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	var processed int32
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), "0xaaa", "req-2",
			func(ctx context.Context) (*entities.ProcessingResult, error) {
				atomic.AddInt32(&processed, 1)
				return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
			})
		errCh <- err
	}()

	// Hold the worker past req-2's deadline, then release
	time.Sleep(60 * time.Millisecond)
	close(release)

	err := <-errCh
	assert.ErrorIs(t, err, domainerrors.ErrQueueTimeout)
	assert.Equal(t, int32(0), atomic.LoadInt32(&processed))
}

func TestEnqueueRespectsCancelledContext(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	release := make(chan struct{})
	defer close(release)
	go q.Enqueue(context.Background(), "0xaaa", "req-1", //nolint:errcheck
		func(ctx context.Context) (*entities.ProcessingResult, error) {
			<-release
			return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
		})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, "0xaaa", "req-2", okProcessor(entities.ResultCharged))
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestShutdownDrainsAndRejectsNewWork(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	started := make(chan struct{})
	go q.Enqueue(context.Background(), "0xaaa", "req-1", //nolint:errcheck
		func(ctx context.Context) (*entities.ProcessingResult, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
		})
	<-started

	require.NoError(t, q.Shutdown(time.Second))

	_, err := q.Enqueue(context.Background(), "0xaaa", "req-2", okProcessor(entities.ResultCharged))
	assert.Error(t, err)
}

func TestStatsReportsDepthAndProcessing(t *testing.T) {
	q := New(testQueueConfig(), logger.NewNop(), nil)

	release := make(chan struct{})
	defer close(release)
	blocker := func(ctx context.Context) (*entities.ProcessingResult, error) {
		<-release
		return &entities.ProcessingResult{Code: entities.ResultCharged}, nil
	}

	for i := 0; i < 3; i++ {
		go q.Enqueue(context.Background(), "0xaaa", "req-"+strconv.Itoa(i), blocker) //nolint:errcheck
	}
	time.Sleep(50 * time.Millisecond)

	stats := q.Stats()
	require.Contains(t, stats, "0xaaa")
	assert.True(t, stats["0xaaa"].Processing)
	assert.Equal(t, 2, stats["0xaaa"].Depth)
}
