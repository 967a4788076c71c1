// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"encoding/json"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&idSuite{})

type idSuite struct{}

func (*idSuite) TestUnmarshal(c *check.C) {
	for _, trial := range []struct {
		in  string
		out ID
	}{
		{`{"projectId":"123"}`, "123"},
		{`{"projectId":123}`, "123"},
		{`{"projectId":12345678901234567890}`, "12345678901234567890"},
		{`{"projectId":null}`, ""},
		{`{}`, ""},
	} {
		var p Project
		err := json.Unmarshal([]byte(trial.in), &p)
		c.Check(err, check.IsNil, check.Commentf("%s", trial.in))
		c.Check(p.ProjectID, check.Equals, trial.out)
	}

	var p Project
	err := json.Unmarshal([]byte(`{"projectId":[1]}`), &p)
	c.Check(err, check.ErrorMatches, `.*id must be a string or number.*`)
}

func (*idSuite) TestMarshal(c *check.C) {
	buf, err := json.Marshal(Project{ProjectID: "42", Name: "p"})
	c.Check(err, check.IsNil)
	c.Check(string(buf), check.Equals, `{"projectId":"42","name":"p"}`)
	c.Check(ID("a/b").pathSegment(), check.Equals, "a%2Fb")
	c.Check(ID("7").String(), check.Equals, "7")
}

func (*idSuite) TestExtraAlgorithmJSON(c *check.C) {
	buf, err := json.Marshal(ExtraAlgorithm{Name: "SVM", Parameters: map[string]interface{}{"gamma": 0.5, "cost": 2}})
	c.Check(err, check.IsNil)
	c.Check(string(buf), check.Equals, `{"name":"SVM","parameters":[{"key":"cost","value":2},{"key":"gamma","value":0.5}]}`)

	var alg ExtraAlgorithm
	c.Check(json.Unmarshal(buf, &alg), check.IsNil)
	c.Check(alg.Name, check.Equals, "SVM")
	c.Check(alg.Parameters, check.DeepEquals, map[string]interface{}{"cost": 2.0, "gamma": 0.5})

	c.Check(json.Unmarshal([]byte(`{"name":"LASSO","parameters":{"penalty":0.1}}`), &alg), check.IsNil)
	c.Check(alg.Parameters, check.DeepEquals, map[string]interface{}{"penalty": 0.1})

	c.Check(json.Unmarshal([]byte(`{"name":"RF"}`), &alg), check.IsNil)
	c.Check(alg.Parameters, check.HasLen, 0)
}
