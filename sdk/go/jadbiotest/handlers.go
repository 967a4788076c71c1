// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbiotest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/jadbio/jadbio-go/sdk/go/httpserver"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
)

type storedDataset struct {
	jadbio.Dataset
	features    []string
	sampleNames []string
}

type storedTask struct {
	status  jadbio.TaskStatus
	polls   int
	pending *storedDataset
}

type storedAnalysis struct {
	jadbio.Analysis
	polls     int
	startTime time.Time
}

type storedPrediction struct {
	jadbio.Prediction
	polls int
}

type storedImageUpload struct {
	projectID jadbio.ID
	name      string
	descr     string
	target    []byte
	samples   []string
	committed bool
}

func errorf(w http.ResponseWriter, code, format string, args ...interface{}) {
	httpserver.Error(w, fmt.Sprintf(format, args...), code, http.StatusOK)
}

func notFound(w http.ResponseWriter, what string, id string) {
	httpserver.Error(w, fmt.Sprintf("%s %s not found", what, id), what+"NotFound", http.StatusNotFound)
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		httpserver.Error(w, "cannot decode request body: "+err.Error(), "BadRequest", http.StatusBadRequest)
		return false
	}
	return true
}

// pageBounds parses the {offset}/{count} path variables and returns
// the bounds of the requested sublist of n items.
func pageBounds(w http.ResponseWriter, req *http.Request, n int) (start, end int, ok bool) {
	vars := mux.Vars(req)
	offset, err1 := strconv.Atoi(vars["offset"])
	count, err2 := strconv.Atoi(vars["count"])
	if err1 != nil || err2 != nil || offset < 0 || count < 0 || count > jadbio.MaxListCount {
		errorf(w, "InvalidPagination", "offset and count must be non-negative and count at most %d", jadbio.MaxListCount)
		return 0, 0, false
	}
	start, end = offset, offset+count
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return start, end, true
}

func sortedKeys[T any](m map[string]T, keep func(T) bool) []string {
	var keys []string
	for k, v := range m {
		if keep == nil || keep(v) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	return keys
}

// advance records one status request and returns the resulting
// state.
func (s *Server) advanceLocked(id string, polls *int) string {
	*polls++
	if st, ok := s.forceState[id]; ok {
		return st
	}
	if *polls > s.PollsToFinish {
		return jadbio.StateFinished
	}
	return jadbio.StateRunning
}

func (s *Server) handleVersion(w http.ResponseWriter, req *http.Request) {
	httpserver.WritePayload(w, map[string]string{"version": Version})
}

func (s *Server) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		UsernameOrEmail string `json:"usernameOrEmail"`
		Password        string `json:"password"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if pw, ok := s.users[body.UsernameOrEmail]; !ok || pw != body.Password {
		errorf(w, "InvalidCredentials", "Invalid username or password")
		return
	}
	token := s.newIDLocked("token")
	s.tokens[token] = true
	httpserver.WritePayload(w, map[string]string{"token": token})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Name == "" {
		errorf(w, "InvalidProjectName", "project name must not be empty")
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	id := s.newIDLocked("project")
	s.projects[id] = &jadbio.Project{ProjectID: jadbio.ID(id), Name: body.Name, Description: body.Description}
	// Real servers send numeric ids here.
	n, _ := strconv.Atoi(id)
	httpserver.WritePayload(w, map[string]int{"projectId": n})
}

func (s *Server) handleGetProject(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.projects[id]
	if !ok {
		notFound(w, "Project", id)
		return
	}
	httpserver.WritePayload(w, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, req *http.Request) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	keys := sortedKeys(s.projects, nil)
	start, end, ok := pageBounds(w, req, len(keys))
	if !ok {
		return
	}
	list := jadbio.ProjectList{Offset: start, TotalCount: len(keys), Items: []jadbio.Project{}}
	for _, k := range keys[start:end] {
		list.Items = append(list.Items, *s.projects[k])
	}
	httpserver.WritePayload(w, list)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.projects[id]
	if !ok {
		notFound(w, "Project", id)
		return
	}
	delete(s.projects, id)
	for did, ds := range s.datasets {
		if string(ds.ProjectID) == id {
			s.deleteDatasetLocked(did)
		}
	}
	httpserver.WritePayload(w, p)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, req *http.Request) {
	fid := mux.Vars(req)["fid"]
	buf, err := io.ReadAll(req.Body)
	if err != nil {
		httpserver.Error(w, err.Error(), "BadRequest", http.StatusBadRequest)
		return
	}
	s.mtx.Lock()
	s.files[fid] = buf
	s.mtx.Unlock()
	w.WriteHeader(http.StatusOK)
}

type createDatasetBody struct {
	FileSizeInBytes   int64     `json:"fileSizeInBytes"`
	Separator         string    `json:"separator"`
	HasSamplesInRows  bool      `json:"hasSamplesInRows"`
	HasFeatureHeaders bool      `json:"hasFeatureHeaders"`
	HasSampleHeaders  bool      `json:"hasSampleHeaders"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	ProjectID         jadbio.ID `json:"projectId"`
}

func validDatasetName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= 3 && n <= 60
}

func (s *Server) datasetNameTakenLocked(projectID jadbio.ID, name string) bool {
	for _, ds := range s.datasets {
		if ds.ProjectID == projectID && ds.Name == name {
			return true
		}
	}
	for _, t := range s.tasks {
		if t.pending != nil && t.pending.ProjectID == projectID && t.pending.Name == name {
			return true
		}
	}
	return false
}

func parseTable(buf []byte, body createDatasetBody) (*storedDataset, error) {
	r := csv.NewReader(bytes.NewReader(buf))
	if body.Separator != "" {
		r.Comma, _ = utf8.DecodeRuneInString(body.Separator)
	}
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	ds := &storedDataset{}
	if len(rows) == 0 {
		return ds, nil
	}
	header := rows[0]
	if body.HasFeatureHeaders {
		rows = rows[1:]
	} else {
		header = nil
		for i := range rows[0] {
			header = append(header, "variable"+strconv.Itoa(i+1))
		}
	}
	if body.HasSampleHeaders && len(header) > 0 {
		header = header[1:]
	}
	ds.features = header
	for i, row := range rows {
		if body.HasSampleHeaders && len(row) > 0 {
			ds.sampleNames = append(ds.sampleNames, row[0])
		} else {
			ds.sampleNames = append(ds.sampleNames, strconv.Itoa(i+1))
		}
	}
	ds.SampleCount = int64(len(rows))
	ds.FeatureCount = int64(len(header))
	ds.SizeInBytes = int64(len(buf))
	return ds, nil
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, req *http.Request) {
	fid := mux.Vars(req)["fid"]
	var body createDatasetBody
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	buf, ok := s.files[fid]
	if !ok {
		notFound(w, "File", fid)
		return
	}
	if _, ok := s.projects[string(body.ProjectID)]; !ok {
		notFound(w, "Project", string(body.ProjectID))
		return
	}
	if int64(len(buf)) != body.FileSizeInBytes {
		errorf(w, "FileSizeMismatch", "fileSizeInBytes is %d but the uploaded file has %d bytes", body.FileSizeInBytes, len(buf))
		return
	}
	if !validDatasetName(body.Name) {
		errorf(w, "InvalidDatasetName", "dataset name must have 3 to 60 characters")
		return
	}
	if s.datasetNameTakenLocked(body.ProjectID, body.Name) {
		errorf(w, "DatasetNameAlreadyExists", "dataset name %q already exists in project", body.Name)
		return
	}
	ds, err := parseTable(buf, body)
	if err != nil {
		errorf(w, "InvalidFile", "cannot parse uploaded file: %s", err)
		return
	}
	ds.ProjectID = body.ProjectID
	ds.Name = body.Name
	ds.Description = body.Description
	taskID := s.newTaskLocked(ds)
	httpserver.WritePayload(w, map[string]string{"taskId": taskID})
}

func (s *Server) newTaskLocked(pending *storedDataset) string {
	id := s.newIDLocked("task")
	s.tasks[id] = &storedTask{
		status:  jadbio.TaskStatus{TaskID: jadbio.ID(id), State: jadbio.StateRunning},
		pending: pending,
	}
	return id
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		notFound(w, "Task", id)
		return
	}
	if !jadbio.IsFinished(t.status.State) {
		t.status.State = s.advanceLocked(id, &t.polls)
		if jadbio.IsFinished(t.status.State) && t.pending != nil {
			did := s.newIDLocked("dataset")
			t.pending.DatasetID = jadbio.ID(did)
			s.datasets[did] = t.pending
			t.pending = nil
			t.status.DatasetID = jadbio.ID(did)
			t.status.DatasetIDs = []jadbio.ID{jadbio.ID(did)}
		}
	}
	httpserver.WritePayload(w, t.status)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		notFound(w, "Dataset", id)
		return
	}
	httpserver.WritePayload(w, ds.Dataset)
}

func (s *Server) handleAttachDataset(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := io.ReadAll(req.Body)
	if err != nil {
		httpserver.Error(w, err.Error(), "BadRequest", http.StatusBadRequest)
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	src, ok := s.datasets[vars["id"]]
	if !ok {
		notFound(w, "Dataset", vars["id"])
		return
	}
	if _, ok := s.projects[vars["pid"]]; !ok {
		notFound(w, "Project", vars["pid"])
		return
	}
	if !validDatasetName(string(name)) {
		errorf(w, "InvalidDatasetName", "dataset name must have 3 to 60 characters")
		return
	}
	if s.datasetNameTakenLocked(jadbio.ID(vars["pid"]), string(name)) {
		errorf(w, "DatasetNameAlreadyExists", "dataset name %q already exists in project", name)
		return
	}
	cp := *src
	cp.DatasetID = jadbio.ID(s.newIDLocked("dataset"))
	cp.ProjectID = jadbio.ID(vars["pid"])
	cp.Name = string(name)
	s.datasets[string(cp.DatasetID)] = &cp
	httpserver.WritePayload(w, cp.Dataset)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, req *http.Request) {
	pid := mux.Vars(req)["pid"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.projects[pid]; !ok {
		notFound(w, "Project", pid)
		return
	}
	keys := sortedKeys(s.datasets, func(ds *storedDataset) bool { return string(ds.ProjectID) == pid })
	start, end, ok := pageBounds(w, req, len(keys))
	if !ok {
		return
	}
	list := jadbio.DatasetList{ProjectID: jadbio.ID(pid), Offset: start, TotalCount: len(keys), Items: []jadbio.Dataset{}}
	for _, k := range keys[start:end] {
		list.Items = append(list.Items, s.datasets[k].Dataset)
	}
	httpserver.WritePayload(w, list)
}

func (s *Server) deleteDatasetLocked(id string) {
	delete(s.datasets, id)
	for aid, a := range s.analyses {
		if string(a.Parameters.DatasetID) == id {
			s.deleteAnalysisLocked(aid)
		}
	}
}

func (s *Server) deleteAnalysisLocked(id string) {
	delete(s.analyses, id)
	for pid, p := range s.predictions {
		if string(p.Parameters.AnalysisID) == id {
			delete(s.predictions, pid)
		}
	}
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		notFound(w, "Dataset", id)
		return
	}
	s.deleteDatasetLocked(id)
	httpserver.WritePayload(w, ds.Dataset)
}

type changeFeatureTypesBody struct {
	NewName string                     `json:"newName"`
	Changes []jadbio.FeatureTypeChange `json:"changes"`
}

func (s *Server) checkChangeFeatureTypesLocked(id string, body changeFeatureTypesBody) (*storedDataset, jadbio.CheckResult) {
	var cr jadbio.CheckResult
	ds, ok := s.datasets[id]
	if !ok {
		return nil, cr
	}
	if !validDatasetName(body.NewName) {
		cr.Errors = append(cr.Errors, "InvalidDatasetName")
	} else if s.datasetNameTakenLocked(ds.ProjectID, body.NewName) {
		cr.Errors = append(cr.Errors, "DatasetNameAlreadyExists")
	}
	identity := true
	for _, ch := range body.Changes {
		if ch.NewType != jadbio.FeatureNumerical {
			identity = false
		}
		for _, idx := range ch.Matcher.ByIndex {
			if idx >= len(ds.features) {
				cr.Errors = append(cr.Errors, "FeatureIndexOutOfRange")
			}
		}
	}
	if identity {
		cr.Warnings = append(cr.Warnings, "IdentityTransformation")
	}
	return ds, cr
}

func (s *Server) handleChangeFeatureTypes(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body changeFeatureTypesBody
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, cr := s.checkChangeFeatureTypesLocked(id, body)
	if ds == nil {
		notFound(w, "Dataset", id)
		return
	}
	if len(cr.Errors) > 0 {
		errorf(w, cr.Errors[0], "cannot change feature types")
		return
	}
	cp := *ds
	cp.Name = body.NewName
	taskID := s.newTaskLocked(&cp)
	httpserver.WritePayload(w, map[string]string{"taskId": taskID})
}

func (s *Server) handleCheckChangeFeatureTypes(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body changeFeatureTypesBody
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, cr := s.checkChangeFeatureTypesLocked(id, body)
	if ds == nil {
		notFound(w, "Dataset", id)
		return
	}
	httpserver.WritePayload(w, cr)
}

type analyzeBody struct {
	jadbio.AnalysisParameters
	Preprocessing []jadbio.PreprocessingScript `json:"preprocessing"`
}

func (s *Server) checkAnalyzeLocked(id string, body analyzeBody) (*storedDataset, jadbio.CheckResult) {
	var cr jadbio.CheckResult
	ds, ok := s.datasets[id]
	if !ok {
		return nil, cr
	}
	if body.Thoroughness == jadbio.ThoroughnessExtensive {
		cr.Errors = append(cr.Errors, "SubscriptionDoesNotSupportExtensiveAnalysis")
	}
	if body.CoreCount > 4 {
		cr.Errors = append(cr.Errors, "CoreCountLimitExceeded")
	}
	if body.Outcome.Type() == "" {
		cr.Errors = append(cr.Errors, "MissingOutcome")
	}
	if ds.SampleCount < 10 {
		cr.Warnings = append(cr.Warnings, "TooFewSamplesPerClassForAnalysis")
	}
	return ds, cr
}

func (s *Server) handleAnalyze(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		var body analyzeBody
		if !decodeJSON(w, req, &body) {
			return
		}
		if kind == "preprocessing" && len(body.Preprocessing) == 0 {
			errorf(w, "MissingPreprocessing", "no preprocessing scripts given")
			return
		}
		if kind == "plain" && (len(body.ExtraModels) > 0 || len(body.ExtraFeatureSelectors) > 0) {
			errorf(w, "UnexpectedExtraAlgorithms", "use the extra/analyze endpoint for extra algorithms")
			return
		}
		s.mtx.Lock()
		defer s.mtx.Unlock()
		ds, cr := s.checkAnalyzeLocked(id, body)
		if ds == nil {
			notFound(w, "Dataset", id)
			return
		}
		if len(cr.Errors) > 0 {
			errorf(w, cr.Errors[0], "cannot start analysis")
			return
		}
		aid := s.newIDLocked("analysis")
		params := body.AnalysisParameters
		params.DatasetID = jadbio.ID(id)
		if params.MaxSignatureSize == 0 {
			params.MaxSignatureSize = 25
		}
		if params.MaxVisualizedSignatureCount == 0 {
			params.MaxVisualizedSignatureCount = 5
		}
		s.analyses[aid] = &storedAnalysis{
			Analysis: jadbio.Analysis{
				AnalysisID: jadbio.ID(aid),
				ProjectID:  ds.ProjectID,
				Parameters: params,
				State:      jadbio.StateRunning,
			},
			startTime: time.Now().UTC().Truncate(time.Second),
		}
		httpserver.WritePayload(w, map[string]string{"analysisId": aid})
	}
}

func (s *Server) handleCheckAnalyze(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body analyzeBody
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ds, cr := s.checkAnalyzeLocked(id, body)
	if ds == nil {
		notFound(w, "Dataset", id)
		return
	}
	httpserver.WritePayload(w, cr)
}

var extraAlgorithms = map[string][]jadbio.AlgorithmDescription{
	"extraModels": {{
		Name:        "SVM",
		Description: "Support Vector Machine",
		Type:        "model",
		Parameters: []jadbio.AlgorithmParamDetail{{
			Name:           "cost",
			Description:    "Misclassification cost",
			Type:           []string{"double"},
			DefaultValue:   1.0,
			PossibleValues: []interface{}{map[string]interface{}{"min": 0.0, "max": 1000.0}},
		}},
	}},
	"extraFeatureSelectors": {{
		Name:        "LASSO",
		Description: "L1-regularized feature selection",
		Type:        "featureSelector",
		Parameters: []jadbio.AlgorithmParamDetail{{
			Name:         "penalty",
			Description:  "Regularization strength",
			Type:         []string{"double"},
			DefaultValue: 0.1,
		}},
	}},
}

func (s *Server) handleExtra(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		switch mux.Vars(req)["type"] {
		case jadbio.OutcomeClassification, jadbio.OutcomeRegression, jadbio.OutcomeSurvival:
			httpserver.WritePayload(w, map[string]interface{}{field: extraAlgorithms[field]})
		default:
			errorf(w, "InvalidOutcomeType", "unknown outcome type %q", mux.Vars(req)["type"])
		}
	}
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		notFound(w, "Analysis", id)
		return
	}
	httpserver.WritePayload(w, a.Analysis)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, req *http.Request) {
	pid := mux.Vars(req)["pid"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.projects[pid]; !ok {
		notFound(w, "Project", pid)
		return
	}
	keys := sortedKeys(s.analyses, func(a *storedAnalysis) bool { return string(a.ProjectID) == pid })
	start, end, ok := pageBounds(w, req, len(keys))
	if !ok {
		return
	}
	list := jadbio.AnalysisList{ProjectID: jadbio.ID(pid), Offset: start, TotalCount: len(keys), Items: []jadbio.Analysis{}}
	for _, k := range keys[start:end] {
		list.Items = append(list.Items, s.analyses[k].Analysis)
	}
	httpserver.WritePayload(w, list)
}

func (s *Server) handleAnalysisStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		notFound(w, "Analysis", id)
		return
	}
	if !jadbio.IsFinished(a.State) {
		a.State = s.advanceLocked(id, &a.polls)
	}
	st := jadbio.AnalysisStatus{
		Analysis:               a.Analysis,
		StartTime:              &a.startTime,
		ExecutionTimeInSeconds: float64(a.polls),
	}
	if jadbio.IsFinished(a.State) {
		st.Progress = 100
	} else {
		st.Progress = float64(100 * a.polls / (s.PollsToFinish + 1))
	}
	httpserver.WritePayload(w, st)
}

func (ds *storedDataset) signature() []string {
	if len(ds.features) > 2 {
		return ds.features[:2]
	}
	return ds.features
}

func (s *Server) analysisResultLocked(a *storedAnalysis) jadbio.AnalysisResult {
	metric := map[string]string{
		jadbio.OutcomeClassification: "Area Under the ROC Curve",
		jadbio.OutcomeRegression:     "R2",
		jadbio.OutcomeSurvival:       "Concordance Index",
	}[a.Parameters.Outcome.Type()]
	var sig []string
	if ds, ok := s.datasets[string(a.Parameters.DatasetID)]; ok {
		sig = ds.signature()
	}
	return jadbio.AnalysisResult{
		MLEngine:   "jadbio-1.1.0",
		AnalysisID: a.AnalysisID,
		ProjectID:  a.ProjectID,
		Parameters: a.Parameters,
		Models: map[string]jadbio.Model{
			"best": {
				Preprocessing:    "Constant Removal, Standardization",
				FeatureSelection: "Statistically Equivalent Signature (SES)",
				Model:            "Support Vector Machines (SVM)",
				Signatures:       [][]string{sig},
				Performance:      map[string]interface{}{metric: 0.98},
			},
			"interpretable": {
				Preprocessing:    "Constant Removal, Standardization",
				FeatureSelection: "Statistically Equivalent Signature (SES)",
				Model:            "Classification Decision Tree",
				Signatures:       [][]string{sig},
				Performance:      map[string]interface{}{metric: 0.95},
				ModelView:        json.RawMessage(`{"featureNames":["Intercept"],"coefficients":[[0.5]]}`),
			},
		},
		StartTime:              &a.startTime,
		ExecutionTimeInSeconds: float64(a.polls),
	}
}

// finishedAnalysisLocked returns the analysis with the given id, or
// writes an error response and returns nil if it does not exist or
// has not finished.
func (s *Server) finishedAnalysisLocked(w http.ResponseWriter, id string) *storedAnalysis {
	a, ok := s.analyses[id]
	if !ok {
		notFound(w, "Analysis", id)
		return nil
	}
	if !jadbio.IsFinished(a.State) {
		errorf(w, "AnalysisNotFinished", "analysis %s is %s", id, a.State)
		return nil
	}
	return a
}

func (s *Server) handleAnalysisResult(w http.ResponseWriter, req *http.Request) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, mux.Vars(req)["id"])
	if a == nil {
		return
	}
	httpserver.WritePayload(w, s.analysisResultLocked(a))
}

func (s *Server) modelKeyOK(w http.ResponseWriter, a *storedAnalysis, modelKey string) bool {
	if _, ok := s.analysisResultLocked(a).Models[modelKey]; !ok {
		errorf(w, "ModelNotFound", "analysis %s has no model %q", a.AnalysisID, modelKey)
		return false
	}
	return true
}

func predictionsCSV(ds *storedDataset) string {
	var b strings.Builder
	b.WriteString("Sample name,Prob ( class = 0 ),Prob ( class = 1 )\n")
	if ds == nil {
		return b.String()
	}
	for i, name := range ds.sampleNames {
		p := float64(i%10) / 10
		fmt.Fprintf(&b, "%s,%g,%g\n", name, p, 1-p)
	}
	return b.String()
}

func (s *Server) handleModelPredictions(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, vars["id"])
	if a == nil || !s.modelKeyOK(w, a, vars["mk"]) {
		return
	}
	httpserver.WritePayload(w, predictionsCSV(s.datasets[string(a.Parameters.DatasetID)]))
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		notFound(w, "Analysis", id)
		return
	}
	s.deleteAnalysisLocked(id)
	httpserver.WritePayload(w, a.Analysis)
}

var plotNames = []string{"Feature Importance", "Progressive Feature Importance"}

func (s *Server) plotValuesLocked(a *storedAnalysis, plotKey string) interface{} {
	var sig []string
	if ds, ok := s.datasets[string(a.Parameters.DatasetID)]; ok {
		sig = ds.signature()
	}
	var values []map[string]interface{}
	for i, f := range sig {
		if plotKey == "Progressive Feature Importance" {
			values = append(values, map[string]interface{}{"name": sig[:i+1], "cis": []float64{0.9, 1}, "value": 0.95})
		} else {
			values = append(values, map[string]interface{}{"name": f, "cis": []float64{0, 0.02}, "value": 0.01})
		}
	}
	return values
}

func (s *Server) handleAvailablePlots(w http.ResponseWriter, req *http.Request) {
	id, mk := mux.Vars(req)["id"], req.FormValue("modelKey")
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, id)
	if a == nil || !s.modelKeyOK(w, a, mk) {
		return
	}
	httpserver.WritePayload(w, jadbio.PlotNames{AnalysisID: a.AnalysisID, ModelKey: mk, Plots: plotNames})
}

func (s *Server) handleGetPlot(w http.ResponseWriter, req *http.Request) {
	id, mk, pk := mux.Vars(req)["id"], req.FormValue("modelKey"), req.FormValue("plotKey")
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, id)
	if a == nil || !s.modelKeyOK(w, a, mk) {
		return
	}
	found := false
	for _, name := range plotNames {
		found = found || name == pk
	}
	if !found {
		errorf(w, "PlotNotFound", "no plot %q", pk)
		return
	}
	httpserver.WritePayload(w, map[string]interface{}{
		"analysisId": a.AnalysisID,
		"modelKey":   mk,
		"plot":       map[string]interface{}{pk: s.plotValuesLocked(a, pk)},
	})
}

func (s *Server) handleGetPlots(w http.ResponseWriter, req *http.Request) {
	id, mk := mux.Vars(req)["id"], req.FormValue("modelKey")
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, id)
	if a == nil || !s.modelKeyOK(w, a, mk) {
		return
	}
	var plots []map[string]interface{}
	for _, name := range plotNames {
		plots = append(plots, map[string]interface{}{name: s.plotValuesLocked(a, name)})
	}
	httpserver.WritePayload(w, map[string]interface{}{
		"analysisId": a.AnalysisID,
		"modelKey":   mk,
		"plots":      plots,
	})
}

type predictBody struct {
	ModelKey       string `json:"modelKey"`
	SignatureIndex int    `json:"signatureIndex"`
}

func (s *Server) checkPredictLocked(a *storedAnalysis, did string, body predictBody) (jadbio.CheckResult, bool) {
	var cr jadbio.CheckResult
	if _, ok := s.datasets[did]; !ok {
		return cr, false
	}
	model, ok := s.analysisResultLocked(a).Models[body.ModelKey]
	if !ok {
		cr.Errors = append(cr.Errors, "ModelNotFound")
	} else if body.SignatureIndex < 0 || body.SignatureIndex >= len(model.Signatures) {
		cr.Errors = append(cr.Errors, "SignatureIndexOutOfRange")
	}
	return cr, true
}

func (s *Server) handlePredict(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	var body predictBody
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, vars["id"])
	if a == nil {
		return
	}
	cr, ok := s.checkPredictLocked(a, vars["did"], body)
	if !ok {
		notFound(w, "Dataset", vars["did"])
		return
	}
	if len(cr.Errors) > 0 {
		errorf(w, cr.Errors[0], "cannot start prediction")
		return
	}
	pid := s.newIDLocked("prediction")
	s.predictions[pid] = &storedPrediction{Prediction: jadbio.Prediction{
		PredictionID: jadbio.ID(pid),
		ProjectID:    a.ProjectID,
		Parameters: jadbio.PredictionParameters{
			AnalysisID:     a.AnalysisID,
			ModelKey:       body.ModelKey,
			SignatureIndex: body.SignatureIndex,
			DatasetID:      jadbio.ID(vars["did"]),
		},
		State: jadbio.StateRunning,
	}}
	httpserver.WritePayload(w, map[string]string{"predictionId": pid})
}

func (s *Server) handleCheckPredict(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	var body predictBody
	if !decodeJSON(w, req, &body) {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.finishedAnalysisLocked(w, vars["id"])
	if a == nil {
		return
	}
	cr, ok := s.checkPredictLocked(a, vars["did"], body)
	if !ok {
		notFound(w, "Dataset", vars["did"])
		return
	}
	httpserver.WritePayload(w, cr)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		notFound(w, "Prediction", id)
		return
	}
	httpserver.WritePayload(w, p.Prediction)
}

func (s *Server) handleListPredictions(w http.ResponseWriter, req *http.Request) {
	aid := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.analyses[aid]; !ok {
		notFound(w, "Analysis", aid)
		return
	}
	keys := sortedKeys(s.predictions, func(p *storedPrediction) bool { return string(p.Parameters.AnalysisID) == aid })
	start, end, ok := pageBounds(w, req, len(keys))
	if !ok {
		return
	}
	list := jadbio.PredictionList{AnalysisID: jadbio.ID(aid), Offset: start, TotalCount: len(keys), Items: []jadbio.Prediction{}}
	for _, k := range keys[start:end] {
		list.Items = append(list.Items, s.predictions[k].Prediction)
	}
	httpserver.WritePayload(w, list)
}

func (s *Server) handlePredictionStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		notFound(w, "Prediction", id)
		return
	}
	if !jadbio.IsFinished(p.State) {
		p.State = s.advanceLocked(id, &p.polls)
	}
	httpserver.WritePayload(w, jadbio.PredictionStatus{PredictionID: p.PredictionID, State: p.State})
}

func (s *Server) handlePredictionResult(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		notFound(w, "Prediction", id)
		return
	}
	if req.FormValue("format") != "csv" {
		httpserver.Error(w, "unsupported format", "BadRequest", http.StatusBadRequest)
		return
	}
	if !jadbio.IsFinished(p.State) {
		httpserver.Error(w, "prediction is "+p.State, "PredictionNotFinished", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	io.WriteString(w, predictionsCSV(s.datasets[string(p.Parameters.DatasetID)]))
}

func (s *Server) handleDeletePrediction(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		notFound(w, "Prediction", id)
		return
	}
	delete(s.predictions, id)
	httpserver.WritePayload(w, p.Prediction)
}

func readMultipartFile(req *http.Request, field string) ([]byte, error) {
	f, _, err := req.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleImageInit(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		httpserver.Error(w, err.Error(), "BadRequest", http.StatusBadRequest)
		return
	}
	var attrs struct {
		ProjectID         jadbio.ID `json:"projectId"`
		Name              string    `json:"name"`
		Description       string    `json:"description"`
		HasFeatureHeaders bool      `json:"hasFeatureHeaders"`
	}
	if err := json.Unmarshal([]byte(req.FormValue("attributes")), &attrs); err != nil {
		httpserver.Error(w, "bad attributes: "+err.Error(), "BadRequest", http.StatusBadRequest)
		return
	}
	target, err := readMultipartFile(req, "file")
	if err != nil {
		httpserver.Error(w, "missing target file: "+err.Error(), "BadRequest", http.StatusBadRequest)
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.projects[string(attrs.ProjectID)]; !ok {
		notFound(w, "Project", string(attrs.ProjectID))
		return
	}
	if !validDatasetName(attrs.Name) {
		errorf(w, "InvalidDatasetName", "dataset name must have 3 to 60 characters")
		return
	}
	tid := s.newIDLocked("task")
	s.images[tid] = &storedImageUpload{
		projectID: attrs.ProjectID,
		name:      attrs.Name,
		descr:     attrs.Description,
		target:    target,
	}
	httpserver.WritePayload(w, map[string]string{"taskId": tid})
}

func (s *Server) handleImageAdd(w http.ResponseWriter, req *http.Request) {
	tid := mux.Vars(req)["tid"]
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		httpserver.Error(w, err.Error(), "BadRequest", http.StatusBadRequest)
		return
	}
	sampleID := req.FormValue("sampleId")
	if _, err := readMultipartFile(req, "file"); err != nil || sampleID == "" {
		httpserver.Error(w, "sampleId and file are required", "BadRequest", http.StatusBadRequest)
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	up, ok := s.images[tid]
	if !ok || up.committed {
		notFound(w, "ImageUpload", tid)
		return
	}
	up.samples = append(up.samples, sampleID)
	httpserver.WritePayload(w, map[string]interface{}{"taskId": tid, "sampleId": sampleID})
}

func (s *Server) handleImageCommit(w http.ResponseWriter, req *http.Request) {
	tid := mux.Vars(req)["tid"]
	s.mtx.Lock()
	defer s.mtx.Unlock()
	up, ok := s.images[tid]
	if !ok || up.committed {
		notFound(w, "ImageUpload", tid)
		return
	}
	up.committed = true
	s.tasks[tid] = &storedTask{
		status: jadbio.TaskStatus{TaskID: jadbio.ID(tid), State: jadbio.StateRunning},
		pending: &storedDataset{
			Dataset: jadbio.Dataset{
				ProjectID:    up.projectID,
				Name:         up.name,
				Description:  up.descr,
				SampleCount:  int64(len(up.samples)),
				FeatureCount: 1,
				SizeInBytes:  int64(len(up.target)),
			},
			sampleNames: up.samples,
		},
	}
	httpserver.WritePayload(w, map[string]string{"taskId": tid})
}
