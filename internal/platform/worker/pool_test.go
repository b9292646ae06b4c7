package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Expected 4 workers, got %d", pool.Workers())
	}
	if pool.DropPolicy() != DropPolicyBlock {
		t.Errorf("Expected DropPolicyBlock, got %d", pool.DropPolicy())
	}
}

func TestNewPoolWithConfig_ZeroWorkers(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 0, QueueSize: 10})
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Expected 1 worker (default), got %d", pool.Workers())
	}
}

func TestPool_Submit_Success(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	resultCh := make(chan int, 1)
	err := pool.Submit(Job{
		ID: "test-job",
		Execute: func(ctx context.Context) error {
			resultCh <- 42
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case result := <-resultCh:
		if result != 42 {
			t.Errorf("Expected 42, got %d", result)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for job execution")
	}
}

func TestPool_DropPolicyDrop_QueueFull(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:    1,
		QueueSize:  1,
		DropPolicy: DropPolicyDrop,
	})
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	// Occupy the only worker
	_ = pool.Submit(Job{ID: "blocker", Execute: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	// Fill the queue
	if err := pool.Submit(Job{ID: "queued", Execute: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Expected queued job to be accepted, got %v", err)
	}

	err := pool.Submit(Job{ID: "overflow", Execute: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	pool.Wait()
}

func TestPool_OnErrorReceivesFailuresAndPanics(t *testing.T) {
	var mu sync.Mutex
	failed := map[string]error{}

	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   2,
		QueueSize: 4,
		OnError: func(jobID string, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed[jobID] = err
		},
	})
	defer pool.Close()

	boom := errors.New("write failed")
	_ = pool.Submit(Job{ID: "error", Execute: func(ctx context.Context) error { return boom }})
	_ = pool.Submit(Job{ID: "panic", Execute: func(ctx context.Context) error { panic("unexpected") }})
	_ = pool.Submit(Job{ID: "ok", Execute: func(ctx context.Context) error { return nil }})
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(failed["error"], boom) {
		t.Errorf("Expected job error to be reported, got %v", failed["error"])
	}
	if failed["panic"] == nil {
		t.Error("Expected panic to be reported as error")
	}
	if _, ok := failed["ok"]; ok {
		t.Error("Expected successful job not to be reported")
	}
}

func TestPool_JobTimeout(t *testing.T) {
	errCh := make(chan error, 1)
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:    1,
		JobTimeout: 20 * time.Millisecond,
		OnError:    func(_ string, err error) { errCh <- err },
	})
	defer pool.Close()

	_ = pool.Submit(Job{ID: "slow", Execute: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for job deadline")
	}
}

func TestPool_WaitDrainsSubmittedJobs(t *testing.T) {
	pool := NewPool(context.Background(), 4, 100)
	defer pool.Close()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Submit(Job{Execute: func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&counter, 1)
				return nil
			}})
		}()
	}
	wg.Wait()
	pool.Wait()

	if got := atomic.LoadInt64(&counter); got != 100 {
		t.Errorf("Expected 100 completed jobs, got %d", got)
	}
}

func TestPool_Close(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)

	var ran int64
	for i := 0; i < 5; i++ {
		_ = pool.Submit(Job{Execute: func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}})
	}

	pool.Close()
	pool.Close()

	if got := atomic.LoadInt64(&ran); got != 5 {
		t.Errorf("Expected queued jobs to finish before Close returns, got %d", got)
	}

	err := pool.Submit(Job{Execute: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func BenchmarkPool_Submit(b *testing.B) {
	pool := NewPool(context.Background(), 4, 1000)
	defer pool.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(Job{Execute: func(ctx context.Context) error { return nil }})
	}
	pool.Wait()
}
