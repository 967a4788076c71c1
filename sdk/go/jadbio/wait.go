// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the interval between status requests used
// by the WaitFor* methods when neither WaitOptions.Interval nor
// Client.PollInterval is set.
const DefaultPollInterval = 3 * time.Second

// WaitOptions control the WaitFor* methods.
type WaitOptions struct {
	// Interval between status requests.
	Interval time.Duration
	// OnPoll, if not nil, is called with the state (and progress
	// percentage, if reported) after each status request.
	OnPoll func(state string, progress float64)
}

// StateError is returned by the WaitFor* methods when the work ends
// in a failure state.
type StateError struct {
	Op    string
	ID    ID
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s ended in state %q", e.Op, e.ID, e.State)
}

func (c *Client) pollInterval(opts WaitOptions) time.Duration {
	switch {
	case opts.Interval > 0:
		return opts.Interval
	case c.PollInterval > 0:
		return c.PollInterval
	default:
		return DefaultPollInterval
	}
}

// poll calls status until it reports a finished or failed state, or
// ctx is done.
func (c *Client) poll(ctx context.Context, op string, id ID, opts WaitOptions, status func(context.Context) (state string, progress float64, err error)) error {
	interval := c.pollInterval(opts)
	log := c.logger(ctx).WithFields(logrus.Fields{"Op": op, "ID": id})
	lastState := ""
	for {
		state, progress, err := status(ctx)
		if err != nil {
			return err
		}
		if opts.OnPoll != nil {
			opts.OnPoll(state, progress)
		}
		if state != lastState {
			log.WithField("State", state).Info("state changed")
			lastState = state
		} else if progress > 0 {
			log.WithField("Progress", progress).Debug("still waiting")
		}
		switch {
		case IsFinished(state):
			return nil
		case IsFailed(state):
			return &StateError{Op: op, ID: id, State: state}
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %s: %w", op, id, ctx.Err())
		case <-timer.C:
		}
	}
}

// WaitForTask polls a task until it finishes, and returns its final
// status.
func (c *Client) WaitForTask(ctx context.Context, taskID ID, opts WaitOptions) (TaskStatus, error) {
	var ts TaskStatus
	err := c.poll(ctx, "Wait for task", taskID, opts, func(ctx context.Context) (string, float64, error) {
		var err error
		ts, err = c.GetTaskStatus(ctx, taskID)
		return ts.State, 0, err
	})
	return ts, err
}

// WaitForAnalysis polls an analysis until it finishes, and returns
// its final status.
func (c *Client) WaitForAnalysis(ctx context.Context, analysisID ID, opts WaitOptions) (AnalysisStatus, error) {
	var st AnalysisStatus
	err := c.poll(ctx, "Wait for analysis", analysisID, opts, func(ctx context.Context) (string, float64, error) {
		var err error
		st, err = c.GetAnalysisStatus(ctx, analysisID)
		return st.State, st.Progress, err
	})
	return st, err
}

// WaitForPrediction polls a prediction until it finishes, and
// returns its final status.
func (c *Client) WaitForPrediction(ctx context.Context, predictionID ID, opts WaitOptions) (PredictionStatus, error) {
	var st PredictionStatus
	err := c.poll(ctx, "Wait for prediction", predictionID, opts, func(ctx context.Context) (string, float64, error) {
		var err error
		st, err = c.GetPredictionStatus(ctx, predictionID)
		return st.State, 0, err
	})
	return st, err
}
