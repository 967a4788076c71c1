// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package inbox implements a service that watches a directory for
// CSV files and writes outcome predictions for each one.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/coreos/go-systemd/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jadbio/jadbio-go/sdk/go/jadbio"
	"github.com/jadbio/jadbio-go/sdk/go/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// OutputSuffix is appended to the input file's base name (without
// extension) to make the output file name.
const OutputSuffix = ".predictions.csv"

// File states reported by /status.
const (
	StateQueued     = "queued"
	StateUploading  = "uploading"
	StatePredicting = "predicting"
	StateDone       = "done"
	StateFailed     = "failed"
)

type Config struct {
	// Directory to watch.
	Dir string
	// Directory to write predictions to. Default Dir.
	OutputDir string
	// Only process files in Dir whose names match this pattern.
	// Default "*.csv". Subdirectories are not watched, so the
	// pattern cannot contain a path separator.
	Pattern string

	ProjectID      jadbio.ID
	AnalysisID     jadbio.ID
	ModelKey       string
	SignatureIndex int
	DatasetOptions jadbio.DatasetOptions

	// Maximum number of files processed at once. Default 2.
	Workers int
	// Wait this long after the last write before processing a
	// file. Default 1s.
	SettleDelay time.Duration
	// Delete the uploaded dataset and the prediction after
	// writing the output file.
	Cleanup bool

	// Address for the /status and /metrics server. Empty means
	// don't serve.
	Listen string
	// If not empty, /status and /metrics require "Authorization:
	// Bearer {ManagementToken}".
	ManagementToken string
}

func (cfg *Config) setDefaults() error {
	if cfg.Dir == "" {
		return errors.New("no inbox directory configured")
	}
	if cfg.ProjectID == "" || cfg.AnalysisID == "" {
		return errors.New("project and analysis ids are required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.Dir
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*.csv"
	}
	if strings.ContainsRune(cfg.Pattern, '/') || strings.ContainsRune(cfg.Pattern, filepath.Separator) {
		return fmt.Errorf("invalid pattern %q: subdirectories are not watched", cfg.Pattern)
	}
	if !doublestar.ValidatePathPattern(cfg.Pattern) {
		return fmt.Errorf("invalid pattern %q", cfg.Pattern)
	}
	if cfg.ModelKey == "" {
		cfg.ModelKey = "best"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	return nil
}

// FileStatus is the processing state of one input file.
type FileStatus struct {
	Path         string    `json:"path"`
	State        string    `json:"state"`
	DatasetID    jadbio.ID `json:"datasetId,omitempty"`
	PredictionID jadbio.ID `json:"predictionId,omitempty"`
	Output       string    `json:"output,omitempty"`
	Error        string    `json:"error,omitempty"`
	Updated      time.Time `json:"updated"`
}

// Service processes files that appear in an inbox directory.
type Service struct {
	Client   *jadbio.Client
	Config   Config
	Logger   logrus.FieldLogger
	Registry *prometheus.Registry

	setupOnce sync.Once
	setupErr  error
	queue     chan string
	metrics   *metrics

	mtx    sync.Mutex
	files  map[string]*FileStatus
	timers map[string]*time.Timer
	addr   string
}

func (svc *Service) setup() {
	svc.setupErr = svc.Config.setDefaults()
	if svc.Logger == nil {
		svc.Logger = logrus.StandardLogger()
	}
	if svc.Registry == nil {
		svc.Registry = prometheus.NewRegistry()
	}
	svc.metrics = newMetrics(svc.Registry)
	svc.queue = make(chan string, 64)
	svc.files = map[string]*FileStatus{}
	svc.timers = map[string]*time.Timer{}
}

// Run watches the inbox directory and processes files until ctx is
// done. Files already in the directory when Run starts are processed
// too, unless their output file already exists.
func (svc *Service) Run(ctx context.Context) error {
	svc.setupOnce.Do(svc.setup)
	if svc.setupErr != nil {
		return svc.setupErr
	}
	cfg := svc.Config
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify setup failed: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(cfg.Dir); err != nil {
		return fmt.Errorf("fsnotify watcher failed: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Listen != "" {
		if err := svc.serve(ctx); err != nil {
			return err
		}
	}
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.runWorker(ctx)
		}()
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		path := filepath.Join(cfg.Dir, ent.Name())
		if !ent.Type().IsRegular() || !svc.wanted(path) {
			continue
		}
		if _, err := os.Stat(svc.outputPath(path)); err == nil {
			svc.Logger.WithField("Path", path).Debug("skipping file with existing output")
			continue
		}
		svc.enqueue(ctx, path)
	}
	svc.Logger.WithField("Dir", cfg.Dir).Info("watching inbox")
	if _, err := daemon.SdNotify(false, "READY=1"); err != nil {
		svc.Logger.WithError(err).Warn("error notifying init daemon")
	}

	for {
		select {
		case <-ctx.Done():
			svc.stopTimers()
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			svc.Logger.WithError(err).Warn("fsnotify watcher reported error")
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if svc.wanted(ev.Name) {
					svc.schedule(ctx, ev.Name)
				}
			}
		}
	}
}

// wanted returns true if path matches the configured pattern and is
// not one of our own output files.
func (svc *Service) wanted(path string) bool {
	if strings.HasSuffix(path, OutputSuffix) || strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	rel, err := filepath.Rel(svc.Config.Dir, path)
	if err != nil {
		return false
	}
	match, err := doublestar.PathMatch(svc.Config.Pattern, rel)
	return err == nil && match
}

func (svc *Service) outputPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(svc.Config.OutputDir, base+OutputSuffix)
}

// schedule enqueues path after SettleDelay, restarting the delay if
// path is already scheduled.
func (svc *Service) schedule(ctx context.Context, path string) {
	svc.mtx.Lock()
	defer svc.mtx.Unlock()
	if t, ok := svc.timers[path]; ok {
		t.Reset(svc.Config.SettleDelay)
		return
	}
	svc.timers[path] = time.AfterFunc(svc.Config.SettleDelay, func() {
		svc.mtx.Lock()
		delete(svc.timers, path)
		svc.mtx.Unlock()
		svc.enqueue(ctx, path)
	})
}

func (svc *Service) stopTimers() {
	svc.mtx.Lock()
	defer svc.mtx.Unlock()
	for path, t := range svc.timers {
		t.Stop()
		delete(svc.timers, path)
	}
}

func (svc *Service) enqueue(ctx context.Context, path string) {
	svc.mtx.Lock()
	if fs, ok := svc.files[path]; ok && fs.State != StateDone && fs.State != StateFailed {
		svc.mtx.Unlock()
		return
	}
	svc.files[path] = &FileStatus{Path: path, State: StateQueued, Updated: time.Now()}
	svc.mtx.Unlock()
	svc.metrics.queued.Inc()
	select {
	case svc.queue <- path:
	case <-ctx.Done():
		svc.metrics.queued.Dec()
		svc.mtx.Lock()
		delete(svc.files, path)
		svc.mtx.Unlock()
	}
}

func (svc *Service) update(path string, f func(*FileStatus)) {
	svc.mtx.Lock()
	defer svc.mtx.Unlock()
	fs := svc.files[path]
	f(fs)
	fs.Updated = time.Now()
}

func (svc *Service) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-svc.queue:
			svc.metrics.queued.Dec()
			svc.metrics.inProgress.Inc()
			t0 := time.Now()
			err := svc.process(ctx, path)
			svc.metrics.inProgress.Dec()
			svc.metrics.duration.Observe(time.Since(t0).Seconds())
			log := svc.Logger.WithField("Path", path)
			if err != nil {
				svc.metrics.files.WithLabelValues("failure").Inc()
				svc.update(path, func(fs *FileStatus) {
					fs.State = StateFailed
					fs.Error = err.Error()
				})
				log.WithError(err).Error("processing failed")
			} else {
				svc.metrics.files.WithLabelValues("success").Inc()
				svc.update(path, func(fs *FileStatus) { fs.State = StateDone })
				log.Info("done")
			}
		}
	}
}

// datasetName returns a dataset name derived from path that is
// unlikely to collide with an existing one.
func datasetName(path string) string {
	base := []rune(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if len(base) > 40 {
		base = base[:40]
	}
	return string(base) + "-" + uuid.NewString()[:8]
}

func (svc *Service) process(ctx context.Context, path string) error {
	cfg := svc.Config
	client := svc.Client
	log := svc.Logger.WithField("Path", path)

	svc.update(path, func(fs *FileStatus) { fs.State = StateUploading })
	did, err := client.UploadDataset(ctx, cfg.ProjectID, datasetName(path), path, cfg.DatasetOptions)
	if err != nil {
		return err
	}
	log = log.WithField("DatasetID", did)
	if cfg.Cleanup {
		defer func() {
			if _, err := client.DeleteDataset(context.Background(), did); err != nil {
				log.WithError(err).Warn("error deleting dataset")
			}
		}()
	}

	svc.update(path, func(fs *FileStatus) {
		fs.State = StatePredicting
		fs.DatasetID = did
	})
	pid, err := client.PredictOutcome(ctx, cfg.AnalysisID, did, cfg.ModelKey, cfg.SignatureIndex)
	if err != nil {
		return err
	}
	log = log.WithField("PredictionID", pid)
	if cfg.Cleanup {
		defer func() {
			if _, err := client.DeletePrediction(context.Background(), pid); err != nil {
				log.WithError(err).Warn("error deleting prediction")
			}
		}()
	}
	svc.update(path, func(fs *FileStatus) { fs.PredictionID = pid })
	if _, err := client.WaitForPrediction(ctx, pid, jadbio.WaitOptions{}); err != nil {
		return err
	}

	out := svc.outputPath(path)
	err = util.WriteFileAtomic(out, func(w io.Writer) error {
		return client.WritePredictionResult(ctx, pid, w)
	})
	if err != nil {
		return err
	}
	svc.update(path, func(fs *FileStatus) { fs.Output = out })
	log.WithField("Output", out).Debug("wrote predictions")
	return nil
}

// Status returns the state of every file seen so far, sorted by
// path.
func (svc *Service) Status() []FileStatus {
	svc.setupOnce.Do(svc.setup)
	svc.mtx.Lock()
	defer svc.mtx.Unlock()
	list := make([]FileStatus, 0, len(svc.files))
	for _, fs := range svc.files {
		list = append(list, *fs)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list
}
