package repository

import (
	"context"
	"time"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

const (
	minTaskFailDelay = 60 * time.Second
	maxTaskFailDelay = 24 * time.Hour
)

// TaskRepository is the job queue collaborator backed by task_adhoc.
type TaskRepository struct {
	store *RecordStore
	now   func() time.Time
}

// NewTaskRepository constructs the repository. A nil clock uses time.Now.
func NewTaskRepository(store *RecordStore, now func() time.Time) *TaskRepository {
	if now == nil {
		now = time.Now
	}
	return &TaskRepository{store: store, now: now}
}

// ListByClass returns tasks of the class whose fail delay exceeds minFailDelay, oldest first.
func (r *TaskRepository) ListByClass(ctx context.Context, className string, minFailDelay time.Duration) ([]models.AdhocTask, error) {
	var tasks []models.AdhocTask
	err := r.store.Select(ctx, &tasks, models.TableTaskAdhoc, models.AdhocTaskColumns,
		Eq("classname", className),
		Gt("faildelay", int64(minFailDelay/time.Second)),
	)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// Get loads a task by id.
func (r *TaskRepository) Get(ctx context.Context, id int64) (*models.AdhocTask, bool, error) {
	var task models.AdhocTask
	found, err := r.store.Get(ctx, &task, models.TableTaskAdhoc, models.AdhocTaskColumns, Eq("id", id))
	if err != nil || !found {
		return nil, found, err
	}
	return &task, true, nil
}

// Exists checks whether the task row is still queued.
func (r *TaskRepository) Exists(ctx context.Context, id int64) (bool, error) {
	return r.store.Exists(ctx, models.TableTaskAdhoc, Eq("id", id))
}

// Enqueue queues a new task due immediately and returns its id.
func (r *TaskRepository) Enqueue(ctx context.Context, component, className, customData string, userID *int64) (int64, error) {
	now := r.now().Unix()
	var user interface{}
	if userID != nil {
		user = *userID
	}
	return r.store.Insert(ctx, models.TableTaskAdhoc,
		Set("component", component),
		Set("classname", className),
		Set("nextruntime", now),
		Set("faildelay", int64(0)),
		Set("customdata", customData),
		Set("userid", user),
		Set("blocking", int64(0)),
		Set("timecreated", now),
	)
}

// Delete removes the task row.
func (r *TaskRepository) Delete(ctx context.Context, id int64) (bool, error) {
	affected, err := r.store.Delete(ctx, models.TableTaskAdhoc, Eq("id", id))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RescheduleNow clears the fail delay and makes the task due immediately.
func (r *TaskRepository) RescheduleNow(ctx context.Context, id int64) (bool, error) {
	return r.store.Update(ctx, models.TableTaskAdhoc, id,
		Set("faildelay", int64(0)),
		Set("nextruntime", r.now().Unix()),
	)
}

// RescheduleOrEnqueue reschedules the task if it is still queued, otherwise queues it again
// with the same payload. It returns the id of the task that will run.
func (r *TaskRepository) RescheduleOrEnqueue(ctx context.Context, task models.AdhocTask) (int64, error) {
	updated, err := r.RescheduleNow(ctx, task.ID)
	if err != nil {
		return 0, err
	}
	if updated {
		return task.ID, nil
	}
	var userID *int64
	if task.UserID.Valid {
		userID = &task.UserID.Int64
	}
	return r.Enqueue(ctx, task.Component, task.ClassName, task.CustomData.String, userID)
}

// MarkComplete removes a task that finished successfully.
func (r *TaskRepository) MarkComplete(ctx context.Context, id int64) error {
	_, err := r.Delete(ctx, id)
	return err
}

// MarkFailed doubles the task's fail delay (bounded to one minute .. one day) and pushes
// its next run time out by that delay.
func (r *TaskRepository) MarkFailed(ctx context.Context, task models.AdhocTask) (time.Duration, error) {
	delay := NextFailDelay(time.Duration(task.FailDelay) * time.Second)
	_, err := r.store.Update(ctx, models.TableTaskAdhoc, task.ID,
		Set("faildelay", int64(delay/time.Second)),
		Set("nextruntime", r.now().Add(delay).Unix()),
	)
	if err != nil {
		return 0, err
	}
	return delay, nil
}

// NextFailDelay returns the back-off applied after a failed run.
func NextFailDelay(current time.Duration) time.Duration {
	next := current * 2
	if next < minTaskFailDelay {
		next = minTaskFailDelay
	}
	if next > maxTaskFailDelay {
		next = maxTaskFailDelay
	}
	return next
}
