package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/silencecat2007/pokepark-kanto/internal/pkg/metrics"
)

// JitterOptions 配置本地节奏控制。
type JitterOptions struct {
	Enabled  bool
	MinDelay time.Duration
	MaxDelay time.Duration
	// RequestsPerSecond 为 0 时不启用令牌桶，只做随机间隔。
	RequestsPerSecond float64
	Burst             int
}

// Jitter 在请求前等待 [MinDelay, MaxDelay) 的随机时长，可叠加本地令牌桶。
type Jitter struct {
	opts    JitterOptions
	limiter *rate.Limiter
	rnd     func(n int64) int64
}

func NewJitter(opts JitterOptions) *Jitter {
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	j := &Jitter{opts: opts, rnd: rand.Int63n}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		j.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return j
}

func (j *Jitter) Wait(ctx context.Context) error {
	if j == nil || !j.opts.Enabled {
		return nil
	}
	start := time.Now()
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		}
	}
	if err := sleep(ctx, j.delay()); err != nil {
		metrics.RateLimitTimeoutTotal.Inc()
		return ErrRateLimitTimeout
	}
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (j *Jitter) delay() time.Duration {
	span := int64(j.opts.MaxDelay - j.opts.MinDelay)
	if span <= 0 {
		return j.opts.MinDelay
	}
	return j.opts.MinDelay + time.Duration(j.rnd(span))
}
