// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	. "gopkg.in/check.v1"
)

var _ = Suite(&limiterSuite{})

type limiterSuite struct{}

func (*limiterSuite) TestUnlimitedBeforeFirstReport(c *C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rl := requestLimiter{}

	var wg sync.WaitGroup
	wg.Add(500)
	for i := 0; i < 500; i++ {
		go func() {
			defer wg.Done()
			rl.Acquire(ctx)
		}()
	}
	wg.Wait()
	c.Check(rl.current, Equals, int64(500))
	c.Check(rl.Limit(), Equals, int64(0))
	wg.Add(500)
	for i := 0; i < 500; i++ {
		go func() {
			defer wg.Done()
			rl.Release()
		}()
	}
	wg.Wait()
	c.Check(rl.current, Equals, int64(0))
}

func (*limiterSuite) TestCancelWhileWaitingForAcquire(c *C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rl := requestLimiter{limit: 1}

	rl.Acquire(ctx)
	ctxShort, cancelShort := context.WithTimeout(ctx, time.Millisecond)
	defer cancelShort()
	rl.Acquire(ctxShort)
	c.Check(rl.current, Equals, int64(2))
	c.Check(ctxShort.Err(), NotNil)
	rl.Release()
	rl.Release()
	c.Check(rl.current, Equals, int64(0))
}

func (*limiterSuite) TestWaitForRelease(c *C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rl := requestLimiter{limit: 1}
	rl.Acquire(ctx)

	acquired := make(chan struct{})
	go func() {
		rl.Acquire(ctx)
		close(acquired)
	}()
	select {
	case <-acquired:
		c.Fatal("Acquire returned while limit was reached")
	case <-time.After(50 * time.Millisecond):
	}
	rl.Release()
	select {
	case <-acquired:
	case <-time.After(10 * time.Second):
		c.Fatal("Acquire did not return after Release")
	}
	rl.Release()
}

func (*limiterSuite) TestReducedLimitAndQuietPeriod(c *C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rl := requestLimiter{}

	defer func(orig time.Duration) { requestLimiterQuietPeriod = orig }(requestLimiterQuietPeriod)
	requestLimiterQuietPeriod = time.Second / 10

	for i := 0; i < 5; i++ {
		rl.Acquire(ctx)
	}
	rl.Report(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	c.Check(rl.Limit(), Equals, int64(3))
	// A second 503 within the quiet period does not reduce the
	// limit again.
	rl.Report(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	c.Check(rl.Limit(), Equals, int64(3))
	for i := 0; i < 5; i++ {
		rl.Release()
	}

	// Nothing can be acquired during the quiet period. If ctx
	// expires first, Acquire returns without waiting for the end
	// of the quiet period.
	t0 := time.Now()
	ctxShort, cancelShort := context.WithTimeout(ctx, requestLimiterQuietPeriod/10)
	defer cancelShort()
	rl.Acquire(ctxShort)
	c.Check(ctxShort.Err(), Equals, context.DeadlineExceeded)
	c.Check(time.Since(t0) < requestLimiterQuietPeriod/2, Equals, true)
	rl.Release()

	// Otherwise, Acquire waits for the end of the quiet period.
	ctxLong, cancelLong := context.WithTimeout(ctx, requestLimiterQuietPeriod*2)
	defer cancelLong()
	t0 = time.Now()
	rl.Acquire(ctxLong)
	c.Check(time.Since(t0) > requestLimiterQuietPeriod/10, Equals, true)
	c.Check(time.Since(t0) < requestLimiterQuietPeriod, Equals, true)
	c.Check(ctxLong.Err(), IsNil)
	rl.Release()

	// Successful responses raise the limit again.
	rl.Report(&http.Response{StatusCode: http.StatusOK}, nil)
	c.Check(rl.Limit(), Equals, int64(4))

	// Network errors leave the limit alone.
	rl.Report(nil, errors.New("network error"))
	c.Check(rl.Limit(), Equals, int64(4))
}
