// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package jadbiotest provides an in-memory fake of the JADBio public
// API for tests.
package jadbiotest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jadbio/jadbio-go/sdk/go/auth"
	"github.com/jadbio/jadbio-go/sdk/go/httpserver"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/sirupsen/logrus"
)

// Credentials accepted by a new Server.
const (
	Username = "test@example.com"
	Password = "secret"
	Version  = "1.0-beta"
)

// Failure is an injected response for requests whose path (below
// /api/public/v1/) starts with Prefix.
type Failure struct {
	Method     string // empty matches any method
	Prefix     string
	StatusCode int
	RetryAfter string
	// Remaining number of requests to fail. Negative means
	// forever.
	Count int
}

// Server is a fake JADBio API server. Tasks, analyses, and
// predictions report "running" for PollsToFinish status requests,
// then "finished".
type Server struct {
	*httptest.Server

	// Status requests before long-running work finishes.
	PollsToFinish int
	// Logger for request logging. Defaults to a logger that
	// discards everything.
	Logger logrus.FieldLogger

	mtx         sync.Mutex
	nextID      int
	tokens      map[string]bool
	failures    []*Failure
	requests    []string
	files       map[string][]byte
	projects    map[string]*jadbio.Project
	datasets    map[string]*storedDataset
	tasks       map[string]*storedTask
	analyses    map[string]*storedAnalysis
	predictions map[string]*storedPrediction
	images      map[string]*storedImageUpload
	users       map[string]string
	forceState  map[string]string
}

// NewServer starts and returns a new fake server. The caller should
// call Close when done.
func NewServer() *Server {
	s := &Server{PollsToFinish: 1}
	s.Reset()
	logger := logrus.New()
	logger.Out = io.Discard
	s.Logger = logger
	s.Server = httptest.NewServer(httpserver.AddRequestIDs(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httpserver.LogRequests(s.Logger, s.router()).ServeHTTP(w, req)
	})))
	return s
}

// Reset discards all stored state and injected failures.
func (s *Server) Reset() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.nextID = 100
	s.tokens = map[string]bool{}
	s.failures = nil
	s.requests = nil
	s.files = map[string][]byte{}
	s.projects = map[string]*jadbio.Project{}
	s.datasets = map[string]*storedDataset{}
	s.tasks = map[string]*storedTask{}
	s.analyses = map[string]*storedAnalysis{}
	s.predictions = map[string]*storedPrediction{}
	s.images = map[string]*storedImageUpload{}
	s.users = map[string]string{Username: Password}
	s.forceState = map[string]string{}
}

// NewClient returns a client for the fake server. If login is true,
// the client is logged in with the default credentials.
func (s *Server) NewClient(login bool) *jadbio.Client {
	c := jadbio.NewClient(s.URL)
	c.Client = s.Server.Client()
	c.Timeout = 10 * time.Second
	c.PollInterval = time.Millisecond
	if login {
		s.mtx.Lock()
		token := s.newIDLocked("token")
		s.tokens[token] = true
		s.mtx.Unlock()
		c.AuthToken = token
	}
	return c
}

// Fail injects failure responses. See Failure.
func (s *Server) Fail(f Failure) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.failures = append(s.failures, &f)
}

// ForceState makes the task, analysis, or prediction with the given
// id report state (e.g. "failed") from now on.
func (s *Server) ForceState(id jadbio.ID, state string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.forceState[string(id)] = state
}

// Requests returns "METHOD path" for each request received so far,
// with paths relative to /api/public/v1/.
func (s *Server) Requests() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]string(nil), s.requests...)
}

// UploadedFile returns the content uploaded under fileID.
func (s *Server) UploadedFile(fileID string) ([]byte, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	buf, ok := s.files[fileID]
	return buf, ok
}

func (s *Server) newIDLocked(kind string) string {
	s.nextID++
	if kind == "token" {
		return "tok" + strconv.Itoa(s.nextID)
	}
	return strconv.Itoa(s.nextID)
}

const apiPrefix = "/api/public/v1/"

func (s *Server) router() http.Handler {
	rtr := mux.NewRouter()
	api := rtr.PathPrefix(strings.TrimSuffix(apiPrefix, "/")).Subrouter()
	api.Use(s.recordRequests, s.injectFailures, s.requireToken)

	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/login", s.handleLogin).Methods("POST")

	api.HandleFunc("/createProject", s.handleCreateProject).Methods("POST")
	api.HandleFunc("/project/{id}", s.handleGetProject).Methods("GET")
	api.HandleFunc("/project/{id}/delete", s.handleDeleteProject).Methods("POST")
	api.HandleFunc("/projects/owned/{offset}/{count}", s.handleListProjects).Methods("GET")

	api.HandleFunc("/file/{fid}/upload", s.handleUploadFile).Methods("POST")
	api.HandleFunc("/file/{fid}/createDataset", s.handleCreateDataset).Methods("POST")
	api.HandleFunc("/dataset/{id}", s.handleGetDataset).Methods("GET")
	api.HandleFunc("/dataset/{id}/attachToProject/{pid}", s.handleAttachDataset).Methods("POST")
	api.HandleFunc("/datasets/{pid}/{offset}/{count}", s.handleListDatasets).Methods("GET")
	api.HandleFunc("/dataset/{id}/delete", s.handleDeleteDataset).Methods("POST")
	api.HandleFunc("/dataset/{id}/changeFeatureTypes", s.handleChangeFeatureTypes).Methods("POST")
	api.HandleFunc("/dataset/{id}/check/changeFeatureTypes", s.handleCheckChangeFeatureTypes).Methods("POST")
	api.HandleFunc("/task/{id}/status", s.handleTaskStatus).Methods("GET")

	api.HandleFunc("/dataset/{id}/analyze", s.handleAnalyze("plain")).Methods("POST")
	api.HandleFunc("/dataset/{id}/analyzeCustomPreprocessing", s.handleAnalyze("preprocessing")).Methods("POST")
	api.HandleFunc("/dataset/{id}/extra/analyze", s.handleAnalyze("extra")).Methods("POST")
	api.HandleFunc("/dataset/{id}/check/analyze", s.handleCheckAnalyze).Methods("POST")
	api.HandleFunc("/dataset/{id}/extra/check/analyze", s.handleCheckAnalyze).Methods("POST")
	api.HandleFunc("/analysis/extra/{type}/models", s.handleExtra("extraModels")).Methods("GET")
	api.HandleFunc("/analysis/extra/{type}/featureSelectors", s.handleExtra("extraFeatureSelectors")).Methods("GET")
	api.HandleFunc("/analysis/{id}", s.handleGetAnalysis).Methods("GET")
	api.HandleFunc("/analyses/all/{pid}/{offset}/{count}", s.handleListAnalyses).Methods("GET")
	api.HandleFunc("/analysis/{id}/status", s.handleAnalysisStatus).Methods("GET")
	api.HandleFunc("/analysis/{id}/result", s.handleAnalysisResult).Methods("GET")
	api.HandleFunc("/analysis/{id}/model/{mk}/predictions", s.handleModelPredictions).Methods("GET")
	api.HandleFunc("/analysis/{id}/delete", s.handleDeleteAnalysis).Methods("POST")
	api.HandleFunc("/analysis/{id}/availablePlots", s.handleAvailablePlots).Methods("GET")
	api.HandleFunc("/analysis/{id}/getPlot", s.handleGetPlot).Methods("GET")
	api.HandleFunc("/analysis/{id}/getPlots", s.handleGetPlots).Methods("GET")

	api.HandleFunc("/analysis/{id}/predict/{did}", s.handlePredict).Methods("POST")
	api.HandleFunc("/analysis/{id}/check/predict/{did}", s.handleCheckPredict).Methods("POST")
	api.HandleFunc("/prediction/{id}", s.handleGetPrediction).Methods("GET")
	api.HandleFunc("/analysis/{id}/predictions/{offset}/{count}", s.handleListPredictions).Methods("GET")
	api.HandleFunc("/prediction/{id}/status", s.handlePredictionStatus).Methods("GET")
	api.HandleFunc("/prediction/{id}/result", s.handlePredictionResult).Methods("GET")
	api.HandleFunc("/prediction/{id}/delete", s.handleDeletePrediction).Methods("POST")

	api.HandleFunc("/image/initUpload", s.handleImageInit).Methods("POST")
	api.HandleFunc("/image/{tid}/add", s.handleImageAdd).Methods("POST")
	api.HandleFunc("/image/{tid}/commit", s.handleImageCommit).Methods("GET")

	rtr.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httpserver.Error(w, "no such endpoint: "+req.URL.Path, "NotFound", http.StatusNotFound)
	})
	return rtr
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.mtx.Lock()
		s.requests = append(s.requests, req.Method+" "+strings.TrimPrefix(req.URL.Path, apiPrefix))
		s.mtx.Unlock()
		next.ServeHTTP(w, req)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := strings.TrimPrefix(req.URL.Path, apiPrefix)
		s.mtx.Lock()
		var hit *Failure
		for _, f := range s.failures {
			if f.Count != 0 && strings.HasPrefix(path, f.Prefix) && (f.Method == "" || f.Method == req.Method) {
				hit = f
				if f.Count > 0 {
					f.Count--
				}
				break
			}
		}
		s.mtx.Unlock()
		if hit == nil {
			next.ServeHTTP(w, req)
			return
		}
		if hit.RetryAfter != "" {
			w.Header().Set("Retry-After", hit.RetryAfter)
		}
		http.Error(w, http.StatusText(hit.StatusCode), hit.StatusCode)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := strings.TrimPrefix(req.URL.Path, apiPrefix)
		if path == "version" || path == "login" {
			next.ServeHTTP(w, req)
			return
		}
		ok := false
		s.mtx.Lock()
		for _, token := range auth.CredentialsFromRequest(req).Tokens {
			ok = ok || s.tokens[token]
		}
		s.mtx.Unlock()
		if !ok {
			httpserver.Error(w, "Unauthorized", "401", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}
