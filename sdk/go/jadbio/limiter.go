// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"net/http"
	"sync"
	"time"
)

var requestLimiterQuietPeriod = time.Second

// requestLimiter bounds the number of concurrent requests a Client
// sends. The bound starts out unlimited, is halved whenever the
// server answers 503 (at most once per quiet period), and grows back
// by 10% per successful response.
type requestLimiter struct {
	current    int64
	limit      int64 // 0 means unlimited
	lock       sync.Mutex
	cond       *sync.Cond
	quietUntil time.Time
}

// Acquire reserves one request slot, waiting if necessary.
//
// Acquire returns early if ctx is done before a slot is available. The
// caller is expected to notice ctx.Err() != nil and call Release().
func (rl *requestLimiter) Acquire(ctx context.Context) {
	rl.lock.Lock()
	if rl.cond == nil {
		rl.cond = sync.NewCond(&rl.lock)
	}
	for ctx.Err() == nil {
		delay := time.Until(rl.quietUntil)
		if delay <= 0 {
			break
		}
		rl.lock.Unlock()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		rl.lock.Lock()
	}
	if ctx.Err() != nil {
		rl.current++
		rl.lock.Unlock()
		return
	}

	// Wake the waiting loop below if ctx is done before a slot
	// frees up.
	stop := context.AfterFunc(ctx, func() {
		rl.lock.Lock()
		rl.cond.Broadcast()
		rl.lock.Unlock()
	})
	defer stop()
	for rl.limit > 0 && rl.current >= rl.limit && ctx.Err() == nil {
		rl.cond.Wait()
	}
	// Note current may exceed limit if ctx is done; the caller
	// will Release() right away.
	rl.current++
	rl.lock.Unlock()
}

// Release releases a slot reserved with Acquire.
func (rl *requestLimiter) Release() {
	rl.lock.Lock()
	rl.current--
	if rl.cond != nil {
		rl.cond.Signal()
	}
	rl.lock.Unlock()
}

// Report adjusts the limit according to the outcome of one attempt.
// Network errors do not change the limit.
func (rl *requestLimiter) Report(resp *http.Response, err error) {
	if err != nil || resp == nil {
		return
	}
	rl.lock.Lock()
	defer rl.lock.Unlock()
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		if rl.limit == 0 {
			rl.limit = rl.current
		}
		if time.Now().After(rl.quietUntil) {
			rl.limit = (rl.limit + 1) / 2
			rl.quietUntil = time.Now().Add(requestLimiterQuietPeriod)
		}
	case resp.StatusCode >= 200 && resp.StatusCode < 400 && rl.limit > 0:
		increase := rl.limit / 10
		if increase < 1 {
			increase = 1
		}
		rl.limit += increase
		if max := rl.current * 2; max > rl.limit {
			rl.limit = max
		}
		if rl.cond != nil {
			rl.cond.Broadcast()
		}
	}
}

// Limit returns the current concurrency limit (0 means unlimited).
func (rl *requestLimiter) Limit() int64 {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	return rl.limit
}
