package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Service ties the index builder to its triggers: uploads that start a
// tracked background run, and a polling watcher over the source directory
// that picks up files dropped in out of band. Every run rebuilds the index
// from the full contents of the source directory, so a run is always one
// whole generation.
type Service struct {
	logger  *slog.Logger
	cfg     Config
	builder *Builder
	jobs    *JobTracker

	watchMu         sync.Mutex
	fileFirstSeen   map[string]time.Time
	filesProcessing map[string]bool
}

func New(cfg Config, builder *Builder) *Service {
	return &Service{
		logger:          slog.Default(),
		cfg:             cfg,
		builder:         builder,
		jobs:            NewJobTracker(),
		fileFirstSeen:   make(map[string]time.Time),
		filesProcessing: make(map[string]bool),
	}
}

func (s *Service) Jobs() *JobTracker {
	return s.jobs
}

func (s *Service) SourceDir() string {
	return s.cfg.SourceDir
}

// IngestAsync starts a tracked background ingestion run over every PDF in
// the source directory and returns immediately with the job id. filename is
// what the job reports, normally the upload that triggered the run.
func (s *Service) IngestAsync(ctx context.Context, filename string) string {
	jobID := s.jobs.Create(filename)

	// Mark the triggering file so the directory watcher does not start a
	// second run for the same upload.
	path := filepath.Join(s.cfg.SourceDir, filepath.Base(filename))
	s.watchMu.Lock()
	s.fileFirstSeen[path] = time.Now()
	s.filesProcessing[path] = true
	s.watchMu.Unlock()

	go func() {
		paths, err := s.SourcePDFs()
		if err != nil {
			s.logger.Error("cannot list source directory", "error", err)
			s.jobs.Fail(jobID, fmt.Sprintf("cannot list source directory: %v", err))
			return
		}

		ok := s.builder.Run(ctx, paths, func(pct int, detail string) {
			s.jobs.Progress(jobID, pct, detail)
		})
		if ok {
			s.jobs.Complete(jobID)
		} else {
			job, _ := s.jobs.Get(jobID)
			detail := job.Detail
			if detail == "" {
				detail = "ingestion failed"
			}
			s.jobs.Fail(jobID, detail)
		}
	}()

	return jobID
}

// IngestPaths runs one synchronous ingestion over explicit paths. Used by
// the loader CLI.
func (s *Service) IngestPaths(ctx context.Context, paths []string, progress ProgressFunc) bool {
	return s.builder.Run(ctx, paths, progress)
}

// SourcePDFs lists every PDF currently in the source directory.
func (s *Service) SourcePDFs() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(s.cfg.SourceDir, e.Name()))
	}
	return paths, nil
}

// Watch polls the source directory and triggers an ingestion run once a new
// file has stopped changing for the configured monitoring window. Returns
// when ctx is cancelled.
func (s *Service) Watch(ctx context.Context) {
	s.logger.Info("start monitoring folder", "dir", s.cfg.SourceDir)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer s.logger.Info("file watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Service) scanOnce(ctx context.Context) {
	entries, err := os.ReadDir(s.cfg.SourceDir)
	if err != nil {
		s.logger.Error("error reading source directory", "error", err)
		return
	}

	current := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(s.cfg.SourceDir, e.Name())
		current[path] = true

		s.watchMu.Lock()
		if s.filesProcessing[path] {
			s.watchMu.Unlock()
			continue
		}
		firstSeen, seen := s.fileFirstSeen[path]
		if !seen {
			s.fileFirstSeen[path] = time.Now()
			s.logger.Info("new file detected", "path", path)
			s.watchMu.Unlock()
			continue
		}
		ready := time.Since(firstSeen) > s.cfg.MonitoringTime
		if ready {
			s.filesProcessing[path] = true
		}
		s.watchMu.Unlock()

		if ready {
			s.logger.Info("file settled, starting ingestion", "path", path)
			jobID := s.IngestAsync(ctx, e.Name())
			s.logger.Info("ingestion job started", "job_id", jobID, "file", e.Name())
		}
	}

	// Forget files that disappeared from the directory.
	s.watchMu.Lock()
	for path := range s.fileFirstSeen {
		if !current[path] {
			delete(s.fileFirstSeen, path)
			delete(s.filesProcessing, path)
		}
	}
	s.watchMu.Unlock()
}

// EnsureSourceDir creates the upload/source directory if needed.
func (s *Service) EnsureSourceDir() error {
	return os.MkdirAll(s.cfg.SourceDir, 0755)
}
