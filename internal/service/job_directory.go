package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

type taskLister interface {
	ListByClass(ctx context.Context, className string, minFailDelay time.Duration) ([]models.AdhocTask, error)
	Get(ctx context.Context, id int64) (*models.AdhocTask, bool, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// JobDirectory materializes queued deletion tasks as deletion jobs.
type JobDirectory struct {
	tasks     taskLister
	resolver  *ModuleResolver
	className string
	logger    *zap.Logger
}

// NewJobDirectory constructs the directory for the given task class.
func NewJobDirectory(tasks taskLister, resolver *ModuleResolver, className string, logger *zap.Logger) *JobDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobDirectory{tasks: tasks, resolver: resolver, className: className, logger: logger}
}

// ListJobs returns every deletion job whose fail delay exceeds minFailDelay, in queue order.
func (d *JobDirectory) ListJobs(ctx context.Context, minFailDelay time.Duration) ([]*models.DeletionJob, error) {
	tasks, err := d.tasks.ListByClass(ctx, d.className, minFailDelay)
	if err != nil {
		return nil, err
	}
	jobs := make([]*models.DeletionJob, 0, len(tasks))
	for _, task := range tasks {
		job, err := d.Build(ctx, task)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetJob loads a single deletion job regardless of its fail delay. found is false when the
// task is not queued.
func (d *JobDirectory) GetJob(ctx context.Context, taskID int64) (*models.DeletionJob, bool, error) {
	task, found, err := d.tasks.Get(ctx, taskID)
	if err != nil || !found {
		return nil, false, err
	}
	job, err := d.Build(ctx, *task)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Build decodes one task. Broken payloads produce a job without modules instead of an error.
func (d *JobDirectory) Build(ctx context.Context, task models.AdhocTask) (*models.DeletionJob, error) {
	payload, err := models.ParseDeletionPayload(task.CustomData.String)
	if err != nil {
		d.logger.Sugar().Warnw("malformed deletion payload", "task_id", task.ID, "error", err)
		payload = models.DeletionPayload{}
	}

	refs := make([]*models.ModuleReference, 0, len(payload.Modules))
	for i, entry := range payload.Modules {
		if !entry.ID.Valid {
			d.logger.Sugar().Warnw("payload entry without course module id", "task_id", task.ID, "index", i)
			continue
		}
		ref, err := d.resolver.Resolve(ctx, entry)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return models.NewDeletionJob(task, payload, refs, d.tasks), nil
}
