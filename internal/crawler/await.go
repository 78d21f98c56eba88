package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errAwaitTimeout = errors.New("timeout")

// awaitResult 在 goroutine 中执行 start，并最多等待 timeout。
// rod 的调用在浏览器卡住时可能不返回，所以不能直接同步调用。
// 超时或 ctx 结束后，迟到的成功结果会在后台交给 release 释放。
func awaitResult[T any](ctx context.Context, timeout time.Duration, start func() (T, error), release func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := start()
		ch <- result{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		err = fmt.Errorf("%w after %v", errAwaitTimeout, timeout)
	case <-ctx.Done():
		err = fmt.Errorf("context cancelled: %w", ctx.Err())
	}

	go func() {
		if r := <-ch; r.err == nil && release != nil {
			release(r.v)
		}
	}()
	var zero T
	return zero, err
}
