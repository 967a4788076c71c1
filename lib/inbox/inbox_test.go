// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package inbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jadbio/jadbio-go/lib/cmdtest"
	"github.com/jadbio/jadbio-go/sdk/go/ctxlog"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/jadbio/jadbio-go/sdk/go/jadbiotest"
	check "gopkg.in/check.v1"
)

// Gocheck boilerplate
func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&inboxSuite{})

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

type inboxSuite struct {
	srv    *jadbiotest.Server
	client *jadbio.Client
	pid    jadbio.ID
	aid    jadbio.ID
	dir    string
}

func (s *inboxSuite) SetUpSuite(c *check.C) {
	s.srv = jadbiotest.NewServer()
}

func (s *inboxSuite) TearDownSuite(c *check.C) {
	s.srv.Close()
}

func (s *inboxSuite) SetUpTest(c *check.C) {
	ctx := context.Background()
	s.srv.Reset()
	s.client = s.srv.NewClient(true)
	var err error
	s.pid, err = s.client.CreateProject(ctx, "inbox", "")
	c.Assert(err, check.IsNil)
	s.dir = c.MkDir()
	train := filepath.Join(c.MkDir(), "train.csv")
	c.Assert(os.WriteFile(train, []byte(testTable), 0644), check.IsNil)
	did, err := s.client.UploadDataset(ctx, s.pid, "train", train, jadbio.DatasetOptions{})
	c.Assert(err, check.IsNil)
	s.aid, err = s.client.AnalyzeDataset(ctx, did, jadbio.AnalyzeParams{
		Name:    "analysis",
		Outcome: jadbio.ClassificationOutcome("target"),
	})
	c.Assert(err, check.IsNil)
	_, err = s.client.WaitForAnalysis(ctx, s.aid, jadbio.WaitOptions{})
	c.Assert(err, check.IsNil)
}

func (s *inboxSuite) newService(c *check.C) *Service {
	return &Service{
		Client: s.client,
		Logger: ctxlog.TestLogger(c),
		Config: Config{
			Dir:             s.dir,
			ProjectID:       s.pid,
			AnalysisID:      s.aid,
			SettleDelay:     5 * time.Millisecond,
			ManagementToken: "mgmt",
		},
	}
}

// start runs svc in a goroutine and returns a func that stops it and
// returns Run's error.
func (s *inboxSuite) start(c *check.C, svc *Service) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			c.Fatal("timed out waiting for Run to return")
			return nil
		}
	}
}

// waitState waits for path to reach state, and returns its status.
func (s *inboxSuite) waitState(c *check.C, svc *Service, path, state string) FileStatus {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, fs := range svc.Status() {
			if fs.Path == path && fs.State == state {
				return fs
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("timed out waiting for %s to reach state %q: %+v", path, state, svc.Status())
	return FileStatus{}
}

func (s *inboxSuite) TestNewAndExistingFiles(c *check.C) {
	existing := filepath.Join(s.dir, "existing.csv")
	c.Assert(os.WriteFile(existing, []byte(testTable), 0644), check.IsNil)
	done := filepath.Join(s.dir, "done.csv")
	c.Assert(os.WriteFile(done, []byte(testTable), 0644), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.dir, "done"+OutputSuffix), []byte("old"), 0644), check.IsNil)

	svc := s.newService(c)
	stop := s.start(c, svc)
	fs := s.waitState(c, svc, existing, StateDone)
	c.Check(fs.Output, check.Equals, filepath.Join(s.dir, "existing"+OutputSuffix))
	c.Check(fs.DatasetID, check.Not(check.Equals), jadbio.ID(""))
	c.Check(fs.PredictionID, check.Not(check.Equals), jadbio.ID(""))

	added := filepath.Join(s.dir, "added.csv")
	c.Assert(os.WriteFile(added, []byte(testTable), 0644), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.dir, "ignored.txt"), []byte(testTable), 0644), check.IsNil)
	fs = s.waitState(c, svc, added, StateDone)
	c.Check(stop(), check.IsNil)

	buf, err := os.ReadFile(fs.Output)
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	c.Check(lines, check.HasLen, 13)
	c.Check(lines[1], check.Equals, "s1,0,1")

	buf, err = os.ReadFile(filepath.Join(s.dir, "done"+OutputSuffix))
	c.Check(err, check.IsNil)
	c.Check(string(buf), check.Equals, "old")

	for _, fs := range svc.Status() {
		c.Check(fs.Path, check.Not(check.Equals), done)
		c.Check(strings.HasSuffix(fs.Path, ".txt"), check.Equals, false)
	}
	for _, req := range s.srv.Requests() {
		c.Check(strings.HasSuffix(req, "/delete"), check.Equals, false, check.Commentf("%s", req))
	}
}

func (s *inboxSuite) TestCleanupAndOutputDir(c *check.C) {
	svc := s.newService(c)
	svc.Config.Cleanup = true
	svc.Config.OutputDir = filepath.Join(c.MkDir(), "out")
	stop := s.start(c, svc)
	defer stop()

	path := filepath.Join(s.dir, "samples.csv")
	c.Assert(os.WriteFile(path, []byte(testTable), 0644), check.IsNil)
	fs := s.waitState(c, svc, path, StateDone)
	c.Check(fs.Output, check.Equals, filepath.Join(svc.Config.OutputDir, "samples"+OutputSuffix))
	_, err := os.Stat(fs.Output)
	c.Check(err, check.IsNil)

	reqs := strings.Join(s.srv.Requests(), "\n")
	c.Check(reqs, check.Matches, `(?ms).*POST dataset/`+string(fs.DatasetID)+`/delete\n.*`)
	c.Check(reqs, check.Matches, `(?ms).*POST prediction/`+string(fs.PredictionID)+`/delete(\n.*)?`)
}

func (s *inboxSuite) TestFailure(c *check.C) {
	svc := s.newService(c)
	svc.Config.AnalysisID = "99999"
	stop := s.start(c, svc)
	defer stop()

	path := filepath.Join(s.dir, "samples.csv")
	c.Assert(os.WriteFile(path, []byte(testTable), 0644), check.IsNil)
	fs := s.waitState(c, svc, path, StateFailed)
	c.Check(fs.Error, check.Matches, `.*404.*`)
	_, err := os.Stat(filepath.Join(s.dir, "samples"+OutputSuffix))
	c.Check(os.IsNotExist(err), check.Equals, true)

	resp := s.get(svc, "/metrics", "mgmt")
	c.Check(resp.Code, check.Equals, http.StatusOK)
	c.Check(resp.Body.String(), check.Matches, `(?ms).*jadbio_inbox_files_total{result="failure"} 1\n.*`)
}

func (s *inboxSuite) get(svc *Service, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	svc.Handler().ServeHTTP(resp, req)
	return resp
}

func (s *inboxSuite) TestManagementAPI(c *check.C) {
	svc := s.newService(c)
	c.Check(s.get(svc, "/status", "").Code, check.Equals, http.StatusUnauthorized)
	c.Check(s.get(svc, "/status", "wrong").Code, check.Equals, http.StatusForbidden)

	resp := s.get(svc, "/status", "mgmt")
	c.Check(resp.Code, check.Equals, http.StatusOK)
	c.Check(resp.Header().Get("X-Request-Id"), check.Not(check.Equals), "")
	var sr StatusResponse
	c.Check(json.NewDecoder(resp.Body).Decode(&sr), check.IsNil)
	c.Check(sr.Files, check.HasLen, 0)

	resp = s.get(svc, "/_health/api", "mgmt")
	c.Check(resp.Code, check.Equals, http.StatusOK)
	c.Check(resp.Body.String(), check.Equals, `{"health":"OK"}`+"\n")

	svc = s.newService(c)
	svc.Config.ManagementToken = ""
	c.Check(s.get(svc, "/status", "").Code, check.Equals, http.StatusForbidden)
}

func (s *inboxSuite) TestListen(c *check.C) {
	svc := s.newService(c)
	svc.Config.Listen = "127.0.0.1:0"
	stop := s.start(c, svc)
	defer stop()
	for deadline := time.Now().Add(5 * time.Second); svc.Addr() == "" && time.Now().Before(deadline); {
		time.Sleep(time.Millisecond)
	}
	c.Assert(svc.Addr(), check.Not(check.Equals), "")
	req, err := http.NewRequest("GET", "http://"+svc.Addr()+"/metrics", nil)
	c.Assert(err, check.IsNil)
	req.Header.Set("Authorization", "Bearer mgmt")
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, check.IsNil)
	defer resp.Body.Close()
	c.Check(resp.StatusCode, check.Equals, http.StatusOK)
	buf, err := io.ReadAll(resp.Body)
	c.Check(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?ms).*jadbio_inbox_in_progress 0\n.*`)
}

func (s *inboxSuite) TestConfigDefaults(c *check.C) {
	cfg := Config{}
	c.Check(cfg.setDefaults(), check.ErrorMatches, `no inbox directory configured`)
	cfg = Config{Dir: "/tmp/in"}
	c.Check(cfg.setDefaults(), check.ErrorMatches, `project and analysis ids are required`)
	cfg = Config{Dir: "/tmp/in", ProjectID: "1", AnalysisID: "2", Pattern: "[x"}
	c.Check(cfg.setDefaults(), check.ErrorMatches, `invalid pattern "\[x"`)
	for _, pattern := range []string{"**/*.csv", "sub/*.csv"} {
		cfg = Config{Dir: "/tmp/in", ProjectID: "1", AnalysisID: "2", Pattern: pattern}
		c.Check(cfg.setDefaults(), check.ErrorMatches, `invalid pattern ".*": subdirectories are not watched`)
	}
	cfg = Config{Dir: "/tmp/in", ProjectID: "1", AnalysisID: "2"}
	c.Check(cfg.setDefaults(), check.IsNil)
	c.Check(cfg.OutputDir, check.Equals, "/tmp/in")
	c.Check(cfg.Pattern, check.Equals, "*.csv")
	c.Check(cfg.ModelKey, check.Equals, "best")
	c.Check(cfg.Workers, check.Equals, 2)
	c.Check(cfg.SettleDelay, check.Equals, time.Second)
}

func (s *inboxSuite) TestWanted(c *check.C) {
	svc := s.newService(c)
	svc.Config.Pattern = "batch-*.csv"
	svc.setupOnce.Do(svc.setup)
	c.Check(svc.wanted(filepath.Join(s.dir, "batch-1.csv")), check.Equals, true)
	c.Check(svc.wanted(filepath.Join(s.dir, "other.csv")), check.Equals, false)
	c.Check(svc.wanted(filepath.Join(s.dir, ".batch-1.csv.123")), check.Equals, false)
	c.Check(svc.wanted(filepath.Join(s.dir, "batch-1"+OutputSuffix)), check.Equals, false)
	c.Check(svc.wanted(filepath.Join(s.dir, "sub", "batch-1.csv")), check.Equals, false)
}

func (s *inboxSuite) TestEnqueueCancelled(c *check.C) {
	svc := s.newService(c)
	svc.setupOnce.Do(svc.setup)
	c.Assert(svc.setupErr, check.IsNil)
	// no workers, so the send blocks until ctx is done
	svc.queue = make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.enqueue(ctx, filepath.Join(s.dir, "a.csv"))
	c.Check(svc.Status(), check.HasLen, 0)
	resp := s.get(svc, "/metrics", "mgmt")
	c.Check(resp.Code, check.Equals, http.StatusOK)
	c.Check(resp.Body.String(), check.Matches, `(?ms).*^jadbio_inbox_queued 0\n.*`)
}

func (s *inboxSuite) TestDatasetName(c *check.C) {
	c.Check(datasetName("/x/plate 7.csv"), check.Matches, `plate 7-[0-9a-f]{8}`)
	c.Check([]rune(datasetName("/x/"+strings.Repeat("é", 60)+".csv")), check.HasLen, 49)
}

func (s *inboxSuite) TestCommandUsage(c *check.C) {
	res := cmdtest.Run(c, Command, "jadbio-client inbox", []string{"--dir", s.dir, "extra"}, "")
	c.Check(res.Code, check.Equals, 2)
	c.Check(res.Stderr, check.Matches, `unrecognized command line arguments: \[extra\].*\n`)

	res = cmdtest.Run(c, Command, "jadbio-client inbox", []string{"-f", "bogus"}, "")
	c.Check(res.Code, check.Equals, 2)
	c.Check(res.Stderr, check.Matches, `.*unknown output format "bogus".*\n`)
}
