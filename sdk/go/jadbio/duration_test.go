// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"encoding/json"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&DurationSuite{})

type DurationSuite struct{}

func (s *DurationSuite) TestMarshalJSON(c *check.C) {
	var d struct {
		D Duration
	}
	err := json.Unmarshal([]byte(`{"D":"1.5s"}`), &d)
	c.Check(err, check.IsNil)
	c.Check(d.D, check.Equals, Duration(1500*time.Millisecond))
	buf, err := json.Marshal(d)
	c.Check(err, check.IsNil)
	c.Check(string(buf), check.Equals, `{"D":"1.5s"}`)

	for _, trial := range []struct {
		d   time.Duration
		out string
	}{
		{3 * time.Second, "3s"},
		{90 * time.Second, "1m30s"},
		{2 * time.Hour, "2h0m0s"},
		{0, "0s"},
	} {
		buf, err := json.Marshal(Duration(trial.d))
		c.Check(err, check.IsNil)
		c.Check(string(buf), check.Equals, `"`+trial.out+`"`)
	}
}

func (s *DurationSuite) TestUnmarshalJSON(c *check.C) {
	var d struct {
		D Duration
	}
	err := json.Unmarshal([]byte(`{"D":2.5}`), &d)
	c.Check(err, check.ErrorMatches, `.*missing unit in duration "?2\.5"?`)
	err = json.Unmarshal([]byte(`{"D":"7"}`), &d)
	c.Check(err, check.ErrorMatches, `.*missing unit in duration "?7"?`)
	err = json.Unmarshal([]byte(`{"D":"soon"}`), &d)
	c.Check(err, check.ErrorMatches, `.*invalid duration "?soon"?`)
	err = json.Unmarshal([]byte(`{"D":"5m"}`), &d)
	c.Check(err, check.IsNil)
	c.Check(d.D.Duration(), check.Equals, 5*time.Minute)

	d.D = Duration(time.Second)
	err = json.Unmarshal([]byte(`{"D":0}`), &d)
	c.Check(err, check.IsNil)
	c.Check(d.D.Duration(), check.Equals, time.Duration(0))
}

func (s *DurationSuite) TestSet(c *check.C) {
	var d Duration
	c.Check(d.Set("250ms"), check.IsNil)
	c.Check(d.Duration(), check.Equals, 250*time.Millisecond)
	c.Check(d.UnmarshalText([]byte("2h")), check.IsNil)
	c.Check(d.String(), check.Equals, "2h0m0s")
	c.Check(d.Set("later"), check.NotNil)
}
