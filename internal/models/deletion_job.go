package models

import (
	"context"
	"strings"
)

// ModuleReference describes one course module slated for deletion. Only CourseModuleID is
// guaranteed; every other field is nil when the backing row could not be found. Values are
// never mutated once the reference is built.
type ModuleReference struct {
	CourseModuleID int64   `json:"cmid"`
	InstanceID     *int64  `json:"instanceid"`
	CourseID       *int64  `json:"courseid"`
	SectionID      *int64  `json:"sectionid"`
	ModuleTypeID   *int64  `json:"moduleid"`
	ContextID      *int64  `json:"contextid"`
	ModuleName     *string `json:"modulename"`
}

// Key returns the identifier used to key symptoms for this module.
func (m *ModuleReference) Key() string {
	return FormatID(m.CourseModuleID)
}

// TaskExistenceChecker answers whether a queued task still exists.
type TaskExistenceChecker interface {
	Exists(ctx context.Context, taskID int64) (bool, error)
}

// DeletionJob aggregates the module references carried by one queued deletion task.
type DeletionJob struct {
	TaskID      int64              `json:"taskid"`
	FailDelay   int64              `json:"faildelay"`
	NextRunTime int64              `json:"nextruntime"`
	UserID      *int64             `json:"userid,omitempty"`
	RealUserID  *int64             `json:"realuserid,omitempty"`
	Modules     []*ModuleReference `json:"modules"`

	tasks TaskExistenceChecker
}

// NewDeletionJob builds a job keeping payload order and dropping duplicate course-module ids.
func NewDeletionJob(task AdhocTask, payload DeletionPayload, refs []*ModuleReference, tasks TaskExistenceChecker) *DeletionJob {
	job := &DeletionJob{
		TaskID:      task.ID,
		FailDelay:   task.FailDelay,
		NextRunTime: task.NextRunTime,
		UserID:      payload.UserID.Ptr(),
		RealUserID:  payload.RealUserID.Ptr(),
		Modules:     make([]*ModuleReference, 0, len(refs)),
		tasks:       tasks,
	}
	if job.UserID == nil && task.UserID.Valid {
		id := task.UserID.Int64
		job.UserID = &id
	}
	seen := make(map[int64]struct{}, len(refs))
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		if _, ok := seen[ref.CourseModuleID]; ok {
			continue
		}
		seen[ref.CourseModuleID] = struct{}{}
		job.Modules = append(job.Modules, ref)
	}
	return job
}

// Module returns the reference for a course-module id.
func (j *DeletionJob) Module(cmid int64) (*ModuleReference, bool) {
	for _, ref := range j.Modules {
		if ref.CourseModuleID == cmid {
			return ref, true
		}
	}
	return nil, false
}

// IsMultiModule reports whether the task covers more than one module.
func (j *DeletionJob) IsMultiModule() bool {
	return len(j.Modules) > 1
}

// TaskRecordExists checks the queue live; the result is never cached.
func (j *DeletionJob) TaskRecordExists(ctx context.Context) (bool, error) {
	if j.tasks == nil {
		return false, nil
	}
	return j.tasks.Exists(ctx, j.TaskID)
}

// CourseModuleIDs lists the course-module ids in payload order.
func (j *DeletionJob) CourseModuleIDs() []int64 {
	ids := make([]int64, 0, len(j.Modules))
	for _, ref := range j.Modules {
		ids = append(ids, ref.CourseModuleID)
	}
	return ids
}

// InstanceIDs lists module instance ids; unresolved entries are nil.
func (j *DeletionJob) InstanceIDs() []*int64 {
	ids := make([]*int64, 0, len(j.Modules))
	for _, ref := range j.Modules {
		ids = append(ids, ref.InstanceID)
	}
	return ids
}

// CourseIDs lists course ids, optionally deduplicated and without nils.
func (j *DeletionJob) CourseIDs(uniqueOnly, skipNulls bool) []*int64 {
	ids := make([]*int64, 0, len(j.Modules))
	seen := map[int64]struct{}{}
	sawNil := false
	for _, ref := range j.Modules {
		if ref.CourseID == nil {
			if skipNulls || (uniqueOnly && sawNil) {
				continue
			}
			sawNil = true
			ids = append(ids, nil)
			continue
		}
		if uniqueOnly {
			if _, ok := seen[*ref.CourseID]; ok {
				continue
			}
			seen[*ref.CourseID] = struct{}{}
		}
		ids = append(ids, ref.CourseID)
	}
	return ids
}

// ContextIDs lists module context ids; unresolved entries are nil.
func (j *DeletionJob) ContextIDs() []*int64 {
	ids := make([]*int64, 0, len(j.Modules))
	for _, ref := range j.Modules {
		ids = append(ids, ref.ContextID)
	}
	return ids
}

// ModuleNames lists module type names. A non-empty filterByName keeps only matching names.
func (j *DeletionJob) ModuleNames(uniqueOnly, skipNulls bool, filterByName string) []*string {
	names := make([]*string, 0, len(j.Modules))
	seen := map[string]struct{}{}
	sawNil := false
	filterByName = strings.TrimSpace(filterByName)
	for _, ref := range j.Modules {
		if ref.ModuleName == nil {
			if skipNulls || filterByName != "" || (uniqueOnly && sawNil) {
				continue
			}
			sawNil = true
			names = append(names, nil)
			continue
		}
		if filterByName != "" && *ref.ModuleName != filterByName {
			continue
		}
		if uniqueOnly {
			if _, ok := seen[*ref.ModuleName]; ok {
				continue
			}
			seen[*ref.ModuleName] = struct{}{}
		}
		names = append(names, ref.ModuleName)
	}
	return names
}
