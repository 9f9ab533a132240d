package models

import (
	"time"
)

// RunStatus captures background repair run lifecycle states.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "QUEUED"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusFinished   RunStatus = "FINISHED"
	RunStatusFailed     RunStatus = "FAILED"
)

// JobFilter narrows which deletion jobs a check or repair looks at. Empty lists match all.
type JobFilter struct {
	MinFailDelay    time.Duration `json:"min_fail_delay"`
	TaskIDs         []int64       `json:"task_ids,omitempty"`
	CourseModuleIDs []int64       `json:"cmids,omitempty"`
	CourseIDs       []int64       `json:"course_ids,omitempty"`
	ModuleNames     []string      `json:"module_names,omitempty"`
}

// Matches reports whether the job passes every non-empty criterion.
func (f JobFilter) Matches(job *DeletionJob) bool {
	if len(f.TaskIDs) > 0 && !containsInt64(f.TaskIDs, job.TaskID) {
		return false
	}
	if len(f.CourseModuleIDs) > 0 && !anyInt64(f.CourseModuleIDs, job.CourseModuleIDs()) {
		return false
	}
	if len(f.CourseIDs) > 0 {
		var courses []int64
		for _, id := range job.CourseIDs(true, true) {
			courses = append(courses, *id)
		}
		if !anyInt64(f.CourseIDs, courses) {
			return false
		}
	}
	if len(f.ModuleNames) > 0 {
		matched := false
		for _, name := range f.ModuleNames {
			if len(job.ModuleNames(true, true, name)) > 0 {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// JobReport pairs a diagnosis with the repair outcome, when a repair ran.
type JobReport struct {
	Diagnosis *Diagnosis `json:"diagnosis"`
	Outcome   *Outcome   `json:"outcome,omitempty"`
}

// Report is the result of checking or fixing a filtered set of jobs.
type Report struct {
	Mode        string      `json:"mode"`
	Filter      JobFilter   `json:"filter"`
	Jobs        []JobReport `json:"jobs"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// RepairRun is an asynchronous fix requested over HTTP.
type RepairRun struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Filter      JobFilter  `json:"filter"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Report      *Report    `json:"report,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

func containsInt64(values []int64, v int64) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func anyInt64(wanted, have []int64) bool {
	for _, v := range have {
		if containsInt64(wanted, v) {
			return true
		}
	}
	return false
}
