// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/jadbio/jadbio-go/sdk/go/jadbiotest"
	"github.com/prometheus/client_golang/prometheus"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&apiSuite{})

type apiSuite struct {
	srv    *jadbiotest.Server
	client *jadbio.Client
	ctx    context.Context
}

func (s *apiSuite) SetUpSuite(c *check.C) {
	s.srv = jadbiotest.NewServer()
}

func (s *apiSuite) TearDownSuite(c *check.C) {
	s.srv.Close()
}

func (s *apiSuite) SetUpTest(c *check.C) {
	s.srv.Reset()
	s.srv.PollsToFinish = 1
	s.client = s.srv.NewClient(true)
	s.client.Logger = ctxlog.TestLogger(c)
	s.ctx = context.Background()
}

const testTable = `id,age,weight,target
s1,34,70.1,0
s2,51,82.3,1
s3,29,65.0,0
s4,62,90.2,1
s5,45,77.7,0
s6,38,68.4,1
s7,57,88.8,1
s8,41,72.5,0
s9,33,61.9,0
s10,66,95.0,1
s11,48,80.0,1
s12,27,59.3,0
`

func (s *apiSuite) writeTable(c *check.C) string {
	path := filepath.Join(c.MkDir(), "table.csv")
	c.Assert(os.WriteFile(path, []byte(testTable), 0644), check.IsNil)
	return path
}

func (s *apiSuite) newProject(c *check.C, name string) jadbio.ID {
	pid, err := s.client.CreateProject(s.ctx, name, "for testing")
	c.Assert(err, check.IsNil)
	c.Assert(pid, check.Not(check.Equals), jadbio.ID(""))
	return pid
}

func (s *apiSuite) newDataset(c *check.C, pid jadbio.ID, name string) jadbio.ID {
	did, err := s.client.UploadDataset(s.ctx, pid, name, s.writeTable(c), jadbio.DatasetOptions{})
	c.Assert(err, check.IsNil)
	return did
}

func (s *apiSuite) finishedAnalysis(c *check.C, did jadbio.ID) jadbio.ID {
	aid, err := s.client.AnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{
		Name:    "analysis",
		Outcome: jadbio.ClassificationOutcome("target"),
	})
	c.Assert(err, check.IsNil)
	_, err = s.client.WaitForAnalysis(s.ctx, aid, jadbio.WaitOptions{})
	c.Assert(err, check.IsNil)
	return aid
}

func (s *apiSuite) requested(req string) int {
	n := 0
	for _, r := range s.srv.Requests() {
		if r == req {
			n++
		}
	}
	return n
}

func (s *apiSuite) TestVersion(c *check.C) {
	client := s.srv.NewClient(false)
	v, err := client.Version(s.ctx)
	c.Check(err, check.IsNil)
	c.Check(v, check.Equals, jadbiotest.Version)
	sv, err := client.CheckVersion(s.ctx)
	c.Check(err, check.IsNil)
	c.Check(sv.Major, check.Equals, uint64(1))
}

func (s *apiSuite) TestLoginLogout(c *check.C) {
	client := s.srv.NewClient(false)
	_, err := client.ListProjects(s.ctx, jadbio.ListOptions{})
	c.Check(jadbio.IsUnauthorized(err), check.Equals, true, check.Commentf("%v", err))

	err = client.Login(s.ctx, jadbiotest.Username, "wrong")
	c.Check(err, check.ErrorMatches, `Login: Invalid username or password, code: InvalidCredentials`)
	c.Check(client.AuthToken, check.Equals, "")

	err = client.Login(s.ctx, jadbiotest.Username, jadbiotest.Password)
	c.Assert(err, check.IsNil)
	c.Check(client.AuthToken, check.Not(check.Equals), "")
	_, err = client.ListProjects(s.ctx, jadbio.ListOptions{})
	c.Check(err, check.IsNil)

	client.Logout(s.ctx)
	c.Check(client.AuthToken, check.Equals, "")
	_, err = client.ListProjects(s.ctx, jadbio.ListOptions{})
	c.Check(jadbio.IsUnauthorized(err), check.Equals, true)

	err = client.LoginFromConfig(s.ctx, &jadbio.Config{Username: jadbiotest.Username, Password: jadbiotest.Password})
	c.Check(err, check.IsNil)
	c.Check(client.AuthToken, check.Not(check.Equals), "")
	client.Logout(s.ctx)
	err = client.LoginFromConfig(s.ctx, &jadbio.Config{})
	c.Check(err, check.ErrorMatches, `no token or username configured`)
}

func (s *apiSuite) TestProjects(c *check.C) {
	pid := s.newProject(c, "first")
	p, err := s.client.GetProject(s.ctx, pid)
	c.Check(err, check.IsNil)
	c.Check(p.ProjectID, check.Equals, pid)
	c.Check(p.Name, check.Equals, "first")
	c.Check(p.Description, check.Equals, "for testing")

	for i := 0; i < 104; i++ {
		s.newProject(c, fmt.Sprintf("project %d", i))
	}
	page, err := s.client.ListProjects(s.ctx, jadbio.ListOptions{Offset: 1, Count: 2})
	c.Check(err, check.IsNil)
	c.Check(page.Offset, check.Equals, 1)
	c.Check(page.TotalCount, check.Equals, 105)
	c.Check(page.Items, check.HasLen, 2)
	c.Check(page.Items[0].Name, check.Equals, "project 0")

	page, err = s.client.ListProjects(s.ctx, jadbio.ListOptions{})
	c.Check(err, check.IsNil)
	c.Check(page.Items, check.HasLen, jadbio.DefaultListCount)

	all, err := s.client.AllProjects(s.ctx)
	c.Check(err, check.IsNil)
	c.Check(all, check.HasLen, 105)
	c.Check(s.requested("GET projects/owned/0/100"), check.Equals, 1)
	c.Check(s.requested("GET projects/owned/100/100"), check.Equals, 1)

	deleted, err := s.client.DeleteProject(s.ctx, pid)
	c.Check(err, check.IsNil)
	c.Check(deleted.Name, check.Equals, "first")
	_, err = s.client.GetProject(s.ctx, pid)
	c.Check(jadbio.IsNotFound(err), check.Equals, true, check.Commentf("%v", err))
	_, err = s.client.DeleteProject(s.ctx, pid)
	c.Check(jadbio.IsNotFound(err), check.Equals, true)
}

func (s *apiSuite) TestDatasets(c *check.C) {
	pid := s.newProject(c, "datasets")
	did := s.newDataset(c, pid, "patients")

	ds, err := s.client.GetDataset(s.ctx, did)
	c.Assert(err, check.IsNil)
	c.Check(ds.ProjectID, check.Equals, pid)
	c.Check(ds.Name, check.Equals, "patients")
	c.Check(ds.SampleCount, check.Equals, int64(12))
	c.Check(ds.FeatureCount, check.Equals, int64(3))
	c.Check(ds.SizeInBytes, check.Equals, int64(len(testTable)))

	// The same name can't be used twice in a project.
	_, err = s.client.UploadDataset(s.ctx, pid, "patients", s.writeTable(c), jadbio.DatasetOptions{})
	var re *jadbio.ResponseError
	c.Assert(errors.As(err, &re), check.Equals, true, check.Commentf("%v", err))
	c.Check(re.Code, check.Equals, "DatasetNameAlreadyExists")

	pid2 := s.newProject(c, "other")
	att, err := s.client.AttachDataset(s.ctx, did, pid2, "patients copy")
	c.Check(err, check.IsNil)
	c.Check(att.ProjectID, check.Equals, pid2)
	c.Check(att.DatasetID, check.Not(check.Equals), did)
	c.Check(att.SampleCount, check.Equals, int64(12))

	s.newDataset(c, pid, "patients 2")
	list, err := s.client.ListDatasets(s.ctx, pid, jadbio.ListOptions{Count: 1})
	c.Check(err, check.IsNil)
	c.Check(list.ProjectID, check.Equals, pid)
	c.Check(list.TotalCount, check.Equals, 2)
	c.Check(list.Items, check.HasLen, 1)
	all, err := s.client.AllDatasets(s.ctx, pid)
	c.Check(err, check.IsNil)
	c.Check(all, check.HasLen, 2)

	deleted, err := s.client.DeleteDataset(s.ctx, did)
	c.Check(err, check.IsNil)
	c.Check(deleted.DatasetID, check.Equals, did)
	_, err = s.client.GetDataset(s.ctx, did)
	c.Check(jadbio.IsNotFound(err), check.Equals, true)
}

func (s *apiSuite) TestCreateDatasetStepByStep(c *check.C) {
	pid := s.newProject(c, "steps")
	fid := jadbio.NewFileID()
	c.Check(fid, check.Matches, `[0-9a-f]{32}`)
	size, err := s.client.UploadFileFromPath(s.ctx, fid, s.writeTable(c))
	c.Assert(err, check.IsNil)
	c.Check(size, check.Equals, int64(len(testTable)))
	buf, ok := s.srv.UploadedFile(fid)
	c.Check(ok, check.Equals, true)
	c.Check(string(buf), check.Equals, testTable)

	_, err = s.client.CreateDataset(s.ctx, fid, pid, "wrong size", size+1, jadbio.DatasetOptions{})
	c.Check(err, check.ErrorMatches, `Create dataset: .*, code: FileSizeMismatch`)

	tid, err := s.client.CreateDataset(s.ctx, fid, pid, "no headers", size, jadbio.DatasetOptions{NoSampleHeaders: true, Description: "d"})
	c.Assert(err, check.IsNil)
	ts, err := s.client.GetTaskStatus(s.ctx, tid)
	c.Check(err, check.IsNil)
	c.Check(ts.State, check.Equals, jadbio.StateRunning)
	var states []string
	ts, err = s.client.WaitForTask(s.ctx, tid, jadbio.WaitOptions{
		Interval: time.Millisecond,
		OnPoll:   func(state string, _ float64) { states = append(states, state) },
	})
	c.Check(err, check.IsNil)
	c.Check(states, check.DeepEquals, []string{jadbio.StateFinished})
	c.Check(ts.DatasetID, check.Not(check.Equals), jadbio.ID(""))
	ds, err := s.client.GetDataset(s.ctx, ts.DatasetID)
	c.Check(err, check.IsNil)
	c.Check(ds.FeatureCount, check.Equals, int64(4))
	c.Check(ds.Description, check.Equals, "d")

	_, err = s.client.UploadDataset(s.ctx, pid, "missing file", filepath.Join(c.MkDir(), "nope.csv"), jadbio.DatasetOptions{})
	c.Check(os.IsNotExist(errors.Unwrap(err)), check.Equals, true, check.Commentf("%v", err))
}

func (s *apiSuite) TestChangeFeatureTypes(c *check.C) {
	pid := s.newProject(c, "types")
	did := s.newDataset(c, pid, "patients")

	changes := []jadbio.FeatureTypeChange{{
		Matcher: jadbio.FeatureMatcher{ByName: []string{"target"}},
		NewType: jadbio.FeatureNumerical,
	}}
	cr, err := s.client.CheckChangeFeatureTypes(s.ctx, did, "patients", changes)
	c.Check(err, check.IsNil)
	c.Check(cr.OK(), check.Equals, false)
	c.Check(cr.Errors, check.DeepEquals, []string{"DatasetNameAlreadyExists"})
	c.Check(cr.Warnings, check.DeepEquals, []string{"IdentityTransformation"})

	changes[0].NewType = jadbio.FeatureCategorical
	cr, err = s.client.CheckChangeFeatureTypes(s.ctx, did, "patients categorical", changes)
	c.Check(err, check.IsNil)
	c.Check(cr.OK(), check.Equals, true)
	c.Check(cr.Warnings, check.HasLen, 0)

	tid, err := s.client.ChangeFeatureTypes(s.ctx, did, "patients categorical", changes)
	c.Assert(err, check.IsNil)
	ts, err := s.client.WaitForTask(s.ctx, tid, jadbio.WaitOptions{})
	c.Assert(err, check.IsNil)
	ds, err := s.client.GetDataset(s.ctx, ts.DatasetID)
	c.Check(err, check.IsNil)
	c.Check(ds.Name, check.Equals, "patients categorical")
	c.Check(ds.SampleCount, check.Equals, int64(12))
}

func (s *apiSuite) TestAnalysis(c *check.C) {
	s.client.Cache, _ = jadbio.NewResultCache(16)
	pid := s.newProject(c, "analysis")
	did := s.newDataset(c, pid, "patients")

	s.srv.PollsToFinish = 3
	aid, err := s.client.AnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{
		Name:    "first try",
		Outcome: jadbio.ClassificationOutcome("target"),
	})
	c.Assert(err, check.IsNil)
	c.Check(s.requested("POST dataset/"+string(did)+"/analyze"), check.Equals, 1)

	a, err := s.client.GetAnalysis(s.ctx, aid)
	c.Check(err, check.IsNil)
	c.Check(a.State, check.Equals, jadbio.StateRunning)
	c.Check(a.ProjectID, check.Equals, pid)
	c.Check(a.Parameters.DatasetID, check.Equals, did)
	c.Check(a.Parameters.Thoroughness, check.Equals, jadbio.ThoroughnessPreliminary)
	c.Check(a.Parameters.ModelsConsidered, check.Equals, jadbio.ModelsAll)
	c.Check(a.Parameters.CoreCount, check.Equals, 1)

	_, err = s.client.GetAnalysisResult(s.ctx, aid)
	c.Check(err, check.ErrorMatches, `.*code: AnalysisNotFinished`)

	var progress []float64
	st, err := s.client.WaitForAnalysis(s.ctx, aid, jadbio.WaitOptions{
		OnPoll: func(state string, p float64) { progress = append(progress, p) },
	})
	c.Assert(err, check.IsNil)
	c.Check(st.State, check.Equals, jadbio.StateFinished)
	c.Check(st.StartTime, check.NotNil)
	c.Check(progress, check.DeepEquals, []float64{25, 50, 75, 100})

	res, err := s.client.GetAnalysisResult(s.ctx, aid)
	c.Assert(err, check.IsNil)
	c.Check(res.AnalysisID, check.Equals, aid)
	c.Check(res.Models, check.HasLen, 2)
	best := res.Models["best"]
	c.Check(best.Signatures, check.DeepEquals, [][]string{{"age", "weight"}})
	c.Check(best.Performance["Area Under the ROC Curve"], check.Equals, 0.98)
	c.Check(res.Models["interpretable"].ModelView, check.Not(check.HasLen), 0)

	// Results of finished analyses come from the cache.
	_, err = s.client.GetAnalysisResult(s.ctx, aid)
	c.Check(err, check.IsNil)
	c.Check(s.requested("GET analysis/"+string(aid)+"/result"), check.Equals, 2)
	c.Check(s.client.Cache.Len(), check.Equals, 1)

	csv, err := s.client.AnalysisModelPredictions(s.ctx, aid, "best")
	c.Check(err, check.IsNil)
	c.Check(strings.Split(csv, "\n")[1], check.Equals, "s1,0,1")
	_, err = s.client.AnalysisModelPredictions(s.ctx, aid, "worst")
	c.Check(err, check.ErrorMatches, `.*code: ModelNotFound`)

	s.finishedAnalysis(c, did)
	list, err := s.client.ListAnalyses(s.ctx, pid, jadbio.ListOptions{})
	c.Check(err, check.IsNil)
	c.Check(list.TotalCount, check.Equals, 2)
	all, err := s.client.AllAnalyses(s.ctx, pid)
	c.Check(err, check.IsNil)
	c.Check(all, check.HasLen, 2)

	deleted, err := s.client.DeleteAnalysis(s.ctx, aid)
	c.Check(err, check.IsNil)
	c.Check(deleted.AnalysisID, check.Equals, aid)
	c.Check(s.client.Cache.Len(), check.Equals, 0)
	_, err = s.client.GetAnalysis(s.ctx, aid)
	c.Check(jadbio.IsNotFound(err), check.Equals, true)
}

func (s *apiSuite) TestAnalyzeEndpoints(c *check.C) {
	pid := s.newProject(c, "endpoints")
	did := s.newDataset(c, pid, "patients")
	path := "POST dataset/" + string(did)

	params := jadbio.AnalyzeParams{
		Name:        "with extras",
		Outcome:     jadbio.ClassificationOutcome("target"),
		ExtraModels: []jadbio.ExtraAlgorithm{{Name: "SVM", Parameters: map[string]interface{}{"cost": 1.5}}},
	}
	cr, err := s.client.CheckAnalyzeDataset(s.ctx, did, params)
	c.Check(err, check.IsNil)
	c.Check(cr.OK(), check.Equals, true)
	c.Check(s.requested(path+"/extra/check/analyze"), check.Equals, 1)
	aid, err := s.client.AnalyzeDataset(s.ctx, did, params)
	c.Check(err, check.IsNil)
	c.Check(s.requested(path+"/extra/analyze"), check.Equals, 1)
	a, err := s.client.GetAnalysis(s.ctx, aid)
	c.Check(err, check.IsNil)
	c.Assert(a.Parameters.ExtraModels, check.HasLen, 1)
	c.Check(a.Parameters.ExtraModels[0].Parameters["cost"], check.Equals, 1.5)

	_, err = s.client.AnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{
		Name:          "with preprocessing",
		Outcome:       jadbio.RegressionOutcome("weight"),
		Preprocessing: []jadbio.PreprocessingScript{{Type: jadbio.ScriptPython, Script: "def f(x): return x"}},
	})
	c.Check(err, check.IsNil)
	c.Check(s.requested(path+"/analyzeCustomPreprocessing"), check.Equals, 1)

	cr, err = s.client.CheckAnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{
		Name:         "too much",
		Outcome:      jadbio.SurvivalOutcome("target", "age"),
		Thoroughness: jadbio.ThoroughnessExtensive,
		CoreCount:    8,
	})
	c.Check(err, check.IsNil)
	c.Check(s.requested(path+"/check/analyze"), check.Equals, 1)
	c.Check(cr.Errors, check.DeepEquals, []string{"SubscriptionDoesNotSupportExtensiveAnalysis", "CoreCountLimitExceeded"})
	_, err = s.client.AnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{
		Name:         "too much",
		Outcome:      jadbio.SurvivalOutcome("target", "age"),
		Thoroughness: jadbio.ThoroughnessExtensive,
	})
	c.Check(err, check.ErrorMatches, `Analyze dataset: .*, code: SubscriptionDoesNotSupportExtensiveAnalysis`)

	_, err = s.client.AnalyzeDataset(s.ctx, "999999", jadbio.AnalyzeParams{Name: "x", Outcome: jadbio.RegressionOutcome("y")})
	c.Check(jadbio.IsNotFound(err), check.Equals, true)
}

func (s *apiSuite) TestExtraAlgorithms(c *check.C) {
	s.client.Cache, _ = jadbio.NewResultCache(16)
	models, err := s.client.ExtraModels(s.ctx, jadbio.OutcomeClassification)
	c.Assert(err, check.IsNil)
	c.Assert(models, check.HasLen, 1)
	c.Check(models[0].Name, check.Equals, "SVM")
	c.Check(models[0].Parameters[0].Name, check.Equals, "cost")
	_, err = s.client.ExtraModels(s.ctx, jadbio.OutcomeClassification)
	c.Check(err, check.IsNil)
	c.Check(s.requested("GET analysis/extra/classification/models"), check.Equals, 1)

	fs, err := s.client.ExtraFeatureSelectors(s.ctx, jadbio.OutcomeSurvival)
	c.Assert(err, check.IsNil)
	c.Assert(fs, check.HasLen, 1)
	c.Check(fs[0].Name, check.Equals, "LASSO")
	c.Check(s.client.Cache.Len(), check.Equals, 2)
	s.client.Cache.Purge()
	c.Check(s.client.Cache.Len(), check.Equals, 0)
}

func (s *apiSuite) TestPlots(c *check.C) {
	pid := s.newProject(c, "plots")
	aid := s.finishedAnalysis(c, s.newDataset(c, pid, "patients"))

	names, err := s.client.AvailablePlots(s.ctx, aid, "best")
	c.Check(err, check.IsNil)
	c.Check(names.ModelKey, check.Equals, "best")
	c.Check(names.Plots, check.DeepEquals, []string{"Feature Importance", "Progressive Feature Importance"})

	p, err := s.client.GetPlot(s.ctx, aid, "best", "Feature Importance")
	c.Check(err, check.IsNil)
	c.Check(p.AnalysisID, check.Equals, aid)
	c.Check(string(p.Plot["Feature Importance"]), check.Matches, `\[\{.*"name":"age".*\}\]`)

	_, err = s.client.GetPlot(s.ctx, aid, "best", "Pie Chart")
	c.Check(err, check.ErrorMatches, `Get plot: .*, code: PlotNotFound`)

	ps, err := s.client.GetPlots(s.ctx, aid, "interpretable")
	c.Check(err, check.IsNil)
	c.Check(ps.Plots, check.HasLen, 2)
}

func (s *apiSuite) TestPredictions(c *check.C) {
	pid := s.newProject(c, "predictions")
	did := s.newDataset(c, pid, "patients")
	aid := s.finishedAnalysis(c, did)

	cr, err := s.client.CheckPredictOutcome(s.ctx, aid, did, "best", 0)
	c.Check(err, check.IsNil)
	c.Check(cr.OK(), check.Equals, true)
	cr, err = s.client.CheckPredictOutcome(s.ctx, aid, did, "best", 3)
	c.Check(err, check.IsNil)
	c.Check(cr.Errors, check.DeepEquals, []string{"SignatureIndexOutOfRange"})

	predID, err := s.client.PredictOutcome(s.ctx, aid, did, "best", 0)
	c.Assert(err, check.IsNil)
	p, err := s.client.GetPrediction(s.ctx, predID)
	c.Check(err, check.IsNil)
	c.Check(p.Parameters.AnalysisID, check.Equals, aid)
	c.Check(p.Parameters.DatasetID, check.Equals, did)
	c.Check(p.Parameters.ModelKey, check.Equals, "best")
	c.Check(p.State, check.Equals, jadbio.StateRunning)

	_, err = s.client.PredictionResult(s.ctx, predID)
	var te *jadbio.TransactionError
	c.Check(errors.As(err, &te), check.Equals, true)

	st, err := s.client.WaitForPrediction(s.ctx, predID, jadbio.WaitOptions{})
	c.Check(err, check.IsNil)
	c.Check(st.State, check.Equals, jadbio.StateFinished)

	csv, err := s.client.PredictionResult(s.ctx, predID)
	c.Check(err, check.IsNil)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	c.Check(lines, check.HasLen, 13)
	c.Check(lines[0], check.Equals, "Sample name,Prob ( class = 0 ),Prob ( class = 1 )")
	c.Check(lines[2], check.Equals, "s2,0.1,0.9")
	var buf bytes.Buffer
	c.Check(s.client.WritePredictionResult(s.ctx, predID, &buf), check.IsNil)
	c.Check(buf.String(), check.Equals, csv)

	list, err := s.client.ListPredictions(s.ctx, aid, jadbio.ListOptions{})
	c.Check(err, check.IsNil)
	c.Check(list.AnalysisID, check.Equals, aid)
	c.Check(list.TotalCount, check.Equals, 1)
	all, err := s.client.AllPredictions(s.ctx, aid)
	c.Check(err, check.IsNil)
	c.Check(all, check.HasLen, 1)

	deleted, err := s.client.DeletePrediction(s.ctx, predID)
	c.Check(err, check.IsNil)
	c.Check(deleted.PredictionID, check.Equals, predID)
	_, err = s.client.GetPredictionStatus(s.ctx, predID)
	c.Check(jadbio.IsNotFound(err), check.Equals, true)
}

func (s *apiSuite) TestWaitFailures(c *check.C) {
	pid := s.newProject(c, "failures")
	did := s.newDataset(c, pid, "patients")
	aid, err := s.client.AnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{Name: "doomed", Outcome: jadbio.ClassificationOutcome("target")})
	c.Assert(err, check.IsNil)
	s.srv.ForceState(aid, "Failed")
	_, err = s.client.WaitForAnalysis(s.ctx, aid, jadbio.WaitOptions{})
	var se *jadbio.StateError
	c.Assert(errors.As(err, &se), check.Equals, true, check.Commentf("%v", err))
	c.Check(se.ID, check.Equals, aid)
	c.Check(se.State, check.Equals, "Failed")
	c.Check(err, check.ErrorMatches, `Wait for analysis: .* ended in state "Failed"`)

	s.srv.PollsToFinish = 1 << 30
	aid, err = s.client.AnalyzeDataset(s.ctx, did, jadbio.AnalyzeParams{Name: "slow", Outcome: jadbio.ClassificationOutcome("target")})
	c.Assert(err, check.IsNil)
	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	_, err = s.client.WaitForAnalysis(ctx, aid, jadbio.WaitOptions{Interval: 5 * time.Millisecond})
	c.Check(errors.Is(err, context.DeadlineExceeded), check.Equals, true, check.Commentf("%v", err))
}

func (s *apiSuite) TestImageDataset(c *check.C) {
	pid := s.newProject(c, "images")
	dir := c.MkDir()
	target := filepath.Join(dir, "target.csv")
	c.Assert(os.WriteFile(target, []byte("sample,label\ncat1,cat\ndog1,dog\n"), 0644), check.IsNil)
	var samples []jadbio.ImageSample
	for _, name := range []string{"cat1", "dog1"} {
		path := filepath.Join(dir, name+".png")
		c.Assert(os.WriteFile(path, []byte("\x89PNG fake "+name), 0644), check.IsNil)
		samples = append(samples, jadbio.ImageSample{SampleID: name, Path: path})
	}
	tid, err := s.client.UploadImageDataset(s.ctx, jadbio.ImageDataset{
		ProjectID:         pid,
		Name:              "pets",
		TargetCSV:         target,
		HasFeatureHeaders: true,
		Samples:           samples,
	})
	c.Assert(err, check.IsNil)
	c.Check(s.requested("POST image/initUpload"), check.Equals, 1)
	c.Check(s.requested("POST image/"+string(tid)+"/add"), check.Equals, 2)
	c.Check(s.requested("GET image/"+string(tid)+"/commit"), check.Equals, 1)

	ts, err := s.client.WaitForTask(s.ctx, tid, jadbio.WaitOptions{})
	c.Assert(err, check.IsNil)
	ds, err := s.client.GetDataset(s.ctx, ts.DatasetID)
	c.Check(err, check.IsNil)
	c.Check(ds.Name, check.Equals, "pets")
	c.Check(ds.SampleCount, check.Equals, int64(2))

	// A committed upload can't take more samples.
	err = s.client.ImageUploadAddSample(s.ctx, tid, "late", samples[0].Path)
	c.Check(jadbio.IsNotFound(err), check.Equals, true)
}

func (s *apiSuite) TestRetries(c *check.C) {
	pid := s.newProject(c, "retries")

	s.srv.Fail(jadbiotest.Failure{Prefix: "project/", StatusCode: http.StatusServiceUnavailable, RetryAfter: "0", Count: 2})
	_, err := s.client.GetProject(s.ctx, pid)
	c.Check(err, check.IsNil)
	c.Check(s.requested("GET project/"+string(pid)), check.Equals, 3)

	s.srv.Fail(jadbiotest.Failure{Method: "POST", Prefix: "createProject", StatusCode: http.StatusInternalServerError, Count: 1})
	_, err = s.client.CreateProject(s.ctx, "not retried", "")
	var te *jadbio.TransactionError
	c.Assert(errors.As(err, &te), check.Equals, true, check.Commentf("%v", err))
	c.Check(te.StatusCode, check.Equals, http.StatusInternalServerError)
	c.Check(s.requested("POST createProject"), check.Equals, 2)

	s.srv.Fail(jadbiotest.Failure{Method: "POST", Prefix: "createProject", StatusCode: http.StatusTooManyRequests, RetryAfter: "0", Count: 1})
	_, err = s.client.CreateProject(s.ctx, "retried", "")
	c.Check(err, check.IsNil)
	c.Check(s.requested("POST createProject"), check.Equals, 4)
}

func (s *apiSuite) TestMetrics(c *check.C) {
	reg := prometheus.NewRegistry()
	s.client.Metrics = jadbio.NewMetrics(s.client, reg)
	pid := s.newProject(c, "metrics")
	_, err := s.client.GetProject(s.ctx, pid)
	c.Check(err, check.IsNil)
	_, err = s.client.GetProject(s.ctx, "0")
	c.Check(err, check.NotNil)

	mfs, err := reg.Gather()
	c.Assert(err, check.IsNil)
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "jadbio_client_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			counts[labels["operation"]+" "+labels["method"]+" "+labels["code"]] = m.GetCounter().GetValue()
		}
	}
	c.Check(counts, check.DeepEquals, map[string]float64{
		"Create project POST 2xx": 1,
		"Get project GET 2xx":     1,
		"Get project GET 4xx":     1,
	})
}
