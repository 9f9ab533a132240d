package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
	"github.com/noah-isme/fix-delete-modules/pkg/jobs"
	"github.com/noah-isme/fix-delete-modules/pkg/middleware/requestid"
)

const (
	// ReportModeCheck lists diagnoses without touching the store.
	ReportModeCheck = "check"
	// ReportModeFix repairs every job with symptoms.
	ReportModeFix = "fix"

	repairRunJobType   = "repair"
	repairRunKeyPrefix = "repair_run:"
)

type jobSource interface {
	ListJobs(ctx context.Context, minFailDelay time.Duration) ([]*models.DeletionJob, error)
}

type jobDiagnoser interface {
	Diagnose(ctx context.Context, job *models.DeletionJob) (*models.Diagnosis, error)
}

type jobFixer interface {
	Fix(ctx context.Context, diagnosis *models.Diagnosis) (*models.Outcome, error)
}

type runStore interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reportObserver interface {
	RecordOutcome(outcome *models.Outcome)
	RecordCacheOperation(hit bool)
}

// ReportServiceConfig governs repair run retention.
type ReportServiceConfig struct {
	ResultTTL time.Duration
}

// ReportService coordinates listing, diagnosing and repairing deletion jobs.
type ReportService struct {
	directory jobSource
	diagnoser jobDiagnoser
	fixer     jobFixer
	runs      runStore
	queue     jobDispatcher
	observer  reportObserver
	logger    *zap.Logger
	cfg       ReportServiceConfig
	now       func() time.Time

	mu       sync.Mutex
	localRun map[string]models.RepairRun
}

// NewReportService constructs the coordinator. runs, queue and observer may be nil; without a
// cache, repair runs are kept in process memory.
func NewReportService(directory jobSource, diagnoser jobDiagnoser, fixer jobFixer, runs runStore, queue jobDispatcher, observer reportObserver, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		directory: directory,
		diagnoser: diagnoser,
		fixer:     fixer,
		runs:      runs,
		queue:     queue,
		observer:  observer,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		localRun:  map[string]models.RepairRun{},
	}
}

// SetDispatcher attaches the queue that executes submitted runs.
func (s *ReportService) SetDispatcher(queue jobDispatcher) {
	s.queue = queue
}

// ListJobs returns the queued deletion jobs matching the filter.
func (s *ReportService) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.DeletionJob, error) {
	all, err := s.directory.ListJobs(ctx, filter.MinFailDelay)
	if err != nil {
		return nil, err
	}
	matched := make([]*models.DeletionJob, 0, len(all))
	for _, job := range all {
		if filter.Matches(job) {
			matched = append(matched, job)
		}
	}
	return matched, nil
}

// Check diagnoses every matching job without mutating anything.
func (s *ReportService) Check(ctx context.Context, filter models.JobFilter) (*models.Report, error) {
	return s.run(ctx, filter, ReportModeCheck)
}

// Fix diagnoses and repairs every matching job. On a storage fault the partial report is
// returned together with the error.
func (s *ReportService) Fix(ctx context.Context, filter models.JobFilter) (*models.Report, error) {
	return s.run(ctx, filter, ReportModeFix)
}

func (s *ReportService) run(ctx context.Context, filter models.JobFilter, mode string) (*models.Report, error) {
	report := &models.Report{Mode: mode, Filter: filter, Jobs: []models.JobReport{}, GeneratedAt: s.now().UTC()}
	jobList, err := s.ListJobs(ctx, filter)
	if err != nil {
		return report, err
	}

	for _, job := range jobList {
		diagnosis, err := s.diagnoser.Diagnose(ctx, job)
		if err != nil {
			return report, err
		}
		entry := models.JobReport{Diagnosis: diagnosis}
		if mode == ReportModeFix {
			outcome, err := s.repair(ctx, diagnosis)
			entry.Outcome = outcome
			if err != nil {
				report.Jobs = append(report.Jobs, entry)
				return report, err
			}
		}
		report.Jobs = append(report.Jobs, entry)
	}

	s.logger.Sugar().Infow("deletion jobs processed", "mode", mode, "jobs", len(report.Jobs))
	return report, nil
}

func (s *ReportService) repair(ctx context.Context, diagnosis *models.Diagnosis) (*models.Outcome, error) {
	if diagnosis.Healthy() {
		outcome := models.NewOutcome(diagnosis.Job)
		outcome.Success = true
		outcome.Add(models.Message{Code: models.MsgNoKnownIssues, TaskID: models.Int64Ptr(diagnosis.Job.TaskID)})
		return outcome, nil
	}
	outcome, err := s.fixer.Fix(ctx, diagnosis)
	if s.observer != nil {
		s.observer.RecordOutcome(outcome)
	}
	return outcome, err
}

// SubmitRun queues an asynchronous fix and returns its handle.
func (s *ReportService) SubmitRun(ctx context.Context, filter models.JobFilter, requestedBy string) (*models.RepairRun, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "repair queue is not running")
	}
	run := models.RepairRun{
		ID:          uuid.NewString(),
		Status:      models.RunStatusQueued,
		Filter:      filter,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.saveRun(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store repair run")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: repairRunJobType, Payload: filter}); err != nil {
		msg := "failed to enqueue repair run"
		finished := s.now().UTC()
		run.Status = models.RunStatusFailed
		run.Error = &msg
		run.FinishedAt = &finished
		_ = s.saveRun(ctx, run)
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, msg)
	}
	s.logger.Info("repair run queued",
		zap.String("run_id", run.ID),
		zap.String("requested_by", requestedBy),
		zap.String("request_id", requestid.FromContext(ctx)),
	)
	return &run, nil
}

// ProcessRun executes a queued run. It is the handler of the repair queue and never asks for
// a retry: a failed run is recorded as failed.
func (s *ReportService) ProcessRun(ctx context.Context, job jobs.Job) error {
	run, err := s.GetRun(ctx, job.ID)
	if err != nil {
		filter, _ := job.Payload.(models.JobFilter)
		run = &models.RepairRun{ID: job.ID, Filter: filter, CreatedAt: job.Enqueued}
	}
	run.Status = models.RunStatusProcessing
	if err := s.saveRun(ctx, *run); err != nil {
		s.logger.Sugar().Warnw("failed to mark repair run processing", "run_id", run.ID, "error", err)
	}

	report, fixErr := s.Fix(ctx, run.Filter)
	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.Report = report
	if fixErr != nil {
		msg := fixErr.Error()
		run.Status = models.RunStatusFailed
		run.Error = &msg
		s.logger.Sugar().Errorw("repair run failed", "run_id", run.ID, "error", fixErr)
	} else {
		run.Status = models.RunStatusFinished
	}

	if err := s.saveRun(ctx, *run); err != nil {
		s.logger.Sugar().Errorw("failed to store repair run result", "run_id", run.ID, "error", err)
	}
	return nil
}

// GetRun returns a submitted run.
func (s *ReportService) GetRun(ctx context.Context, id string) (*models.RepairRun, error) {
	if s.runs != nil && s.runs.Enabled() {
		var run models.RepairRun
		err := s.runs.Get(ctx, repairRunKeyPrefix+id, &run)
		s.recordCache(err == nil)
		if err == nil {
			return &run, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load repair run")
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "repair run not found")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.localRun[id]
	s.recordCache(ok)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "repair run not found")
	}
	return &run, nil
}

func (s *ReportService) saveRun(ctx context.Context, run models.RepairRun) error {
	if s.runs != nil && s.runs.Enabled() {
		return s.runs.Set(ctx, repairRunKeyPrefix+run.ID, run, s.cfg.ResultTTL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localRun[run.ID] = run
	return nil
}

func (s *ReportService) recordCache(hit bool) {
	if s.observer != nil {
		s.observer.RecordCacheOperation(hit)
	}
}
