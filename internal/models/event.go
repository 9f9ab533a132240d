package models

import (
	"encoding/json"
	"time"
)

// EventNameCourseModuleDeleted is the platform event recorded when a course module goes away.
const EventNameCourseModuleDeleted = `\core\event\course_module_deleted`

// ModuleDeletedEvent announces a course module removal to log readers and cache subscribers.
type ModuleDeletedEvent struct {
	EventName      string    `json:"eventname"`
	CourseModuleID int64     `json:"cmid"`
	CourseID       *int64    `json:"courseid"`
	ContextID      *int64    `json:"contextid"`
	ModuleName     *string   `json:"modulename"`
	InstanceID     *int64    `json:"instanceid"`
	UserID         *int64    `json:"userid,omitempty"`
	TaskID         int64     `json:"taskid"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewModuleDeletedEvent builds the event from a module reference.
func NewModuleDeletedEvent(taskID int64, ref *ModuleReference, userID *int64, at time.Time) ModuleDeletedEvent {
	return ModuleDeletedEvent{
		EventName:      EventNameCourseModuleDeleted,
		CourseModuleID: ref.CourseModuleID,
		CourseID:       ref.CourseID,
		ContextID:      ref.ContextID,
		ModuleName:     ref.ModuleName,
		InstanceID:     ref.InstanceID,
		UserID:         userID,
		TaskID:         taskID,
		OccurredAt:     at.UTC(),
	}
}

// OtherJSON renders the event-specific details stored in the log "other" column.
func (e ModuleDeletedEvent) OtherJSON() (string, error) {
	other := map[string]interface{}{
		"modulename": e.ModuleName,
		"instanceid": e.InstanceID,
	}
	data, err := json.Marshal(other)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
