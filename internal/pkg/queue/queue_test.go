package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/pkg/logger"
)

func TestPool_RunsAllJobs(t *testing.T) {
	p := NewPool(logger.Discard(), 3, 10)
	p.Start(context.Background())

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		err := p.Submit(Job{Name: "sleep", Run: func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			completed.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if completed.Load() != 5 {
		t.Fatalf("expected 5 completed jobs, got %d", completed.Load())
	}
	stats := p.Stats()
	if stats.Submitted != 5 || stats.Succeeded != 5 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPool_ErrorsAndPanics(t *testing.T) {
	p := NewPool(logger.Discard(), 2, 5)

	var (
		mu     sync.Mutex
		failed = map[string]error{}
	)
	p.SetErrorHandler(func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed[name] = err
	})
	p.Start(context.Background())

	jobs := []Job{
		{Name: "ok", Run: func(context.Context) error { return nil }},
		{Name: "mirror", Run: func(context.Context) error { return errors.New("db down") }},
		{Name: "email", Run: func(context.Context) error { panic("boom") }},
	}
	for _, j := range jobs {
		if err := p.Submit(j); err != nil {
			t.Fatalf("submit %s: %v", j.Name, err)
		}
	}
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	stats := p.Stats()
	if stats.Succeeded != 1 || stats.Failed != 2 || stats.Panics != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(failed) != 2 || failed["mirror"] == nil || failed["email"] == nil {
		t.Fatalf("unexpected failures %v", failed)
	}
}

func TestPool_Submit(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		p := NewPool(logger.Discard(), 1, 1)
		// 未启动 worker，第二个任务必然被拒绝
		noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}
		if err := p.Submit(noop); err != nil {
			t.Fatalf("first submit: %v", err)
		}
		if err := p.Submit(noop); !errors.Is(err, ErrFull) {
			t.Fatalf("expected ErrFull, got %v", err)
		}
		if p.Stats().Dropped != 1 || p.Len() != 1 {
			t.Fatalf("unexpected stats %+v len=%d", p.Stats(), p.Len())
		}
	})

	t.Run("closed", func(t *testing.T) {
		p := NewPool(logger.Discard(), 1, 1)
		p.Start(context.Background())
		if err := p.Shutdown(time.Second); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
		err := p.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }})
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
		if err := p.Shutdown(time.Second); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed on second shutdown, got %v", err)
		}
	})

	t.Run("nil_func", func(t *testing.T) {
		p := NewPool(logger.Discard(), 1, 1)
		if err := p.Submit(Job{Name: "empty"}); err == nil {
			t.Fatal("expected error for job without func")
		}
	})
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := NewPool(logger.Discard(), 1, 1)
	p.Start(context.Background())

	release := make(chan struct{})
	defer close(release)
	if err := p.Submit(Job{Name: "stuck", Run: func(context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Shutdown(50 * time.Millisecond); err == nil {
		t.Fatal("expected shutdown timeout")
	}
}

func TestPool_StopsOnContextCancel(t *testing.T) {
	p := NewPool(logger.Discard(), 2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}
