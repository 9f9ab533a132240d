package models

import (
	"database/sql"
	"strconv"
	"strings"
)

// Context levels used by the deletion repair.
const (
	ContextLevelCourse int64 = 50
	ContextLevelModule int64 = 70
)

// Table names, without the configured prefix.
const (
	TableTaskAdhoc                = "task_adhoc"
	TableCourse                   = "course"
	TableCourseModules            = "course_modules"
	TableCourseSections           = "course_sections"
	TableModules                  = "modules"
	TableContext                  = "context"
	TableFiles                    = "files"
	TableEvent                    = "event"
	TableGradeItems               = "grade_items"
	TableGradeGrades              = "grade_grades"
	TableBlogAssociation          = "blog_association"
	TableCourseModulesCompletion  = "course_modules_completion"
	TableCourseCompletionCriteria = "course_completion_criteria"
	TableTagInstance              = "tag_instance"
	TableCompetencyModuleComp     = "competency_modulecomp"
	TableRoleAssignments          = "role_assignments"
	TableRoleCapabilities         = "role_capabilities"
	TableLogstoreStandardLog      = "logstore_standard_log"
)

// CourseModule mirrors a course_modules row, the link between a module instance and its course section.
type CourseModule struct {
	ID                 int64         `db:"id" json:"id"`
	Course             int64         `db:"course" json:"course"`
	Module             int64         `db:"module" json:"module"`
	Instance           int64         `db:"instance" json:"instance"`
	Section            int64         `db:"section" json:"section"`
	DeletionInProgress sql.NullInt64 `db:"deletioninprogress" json:"-"`
}

// CourseModuleColumns lists the columns selected for CourseModule.
var CourseModuleColumns = []string{"id", "course", "module", "instance", "section", "deletioninprogress"}

// ModuleType mirrors a modules row naming a module plugin.
type ModuleType struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Context mirrors a context row.
type Context struct {
	ID           int64 `db:"id" json:"id"`
	ContextLevel int64 `db:"contextlevel" json:"contextlevel"`
	InstanceID   int64 `db:"instanceid" json:"instanceid"`
}

// CourseSection mirrors the parts of a course_sections row the repair touches.
type CourseSection struct {
	ID       int64          `db:"id" json:"id"`
	Course   int64          `db:"course" json:"course"`
	Section  int64          `db:"section" json:"section"`
	Sequence sql.NullString `db:"sequence" json:"-"`
}

// SequenceIDs parses the comma separated course-module id list.
func (s CourseSection) SequenceIDs() []int64 {
	if !s.Sequence.Valid {
		return nil
	}
	return ParseSequence(s.Sequence.String)
}

// ParseSequence splits a section sequence, ignoring blanks and non-numeric entries.
func ParseSequence(raw string) []int64 {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// FormatSequence joins course-module ids back into a section sequence.
func FormatSequence(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// StoredFile mirrors the columns of a files row needed to clean content.
type StoredFile struct {
	ID          int64  `db:"id" json:"id"`
	ContentHash string `db:"contenthash" json:"contenthash"`
	ContextID   int64  `db:"contextid" json:"contextid"`
	Component   string `db:"component" json:"component"`
	FileArea    string `db:"filearea" json:"filearea"`
	ItemID      int64  `db:"itemid" json:"itemid"`
}

// CalendarEvent mirrors an event row that belongs to a module instance.
type CalendarEvent struct {
	ID         int64  `db:"id" json:"id"`
	CourseID   int64  `db:"courseid" json:"courseid"`
	ModuleName string `db:"modulename" json:"modulename"`
	Instance   int64  `db:"instance" json:"instance"`
}

// GradeItem mirrors a grade_items row attached to a module.
type GradeItem struct {
	ID           int64  `db:"id" json:"id"`
	CourseID     int64  `db:"courseid" json:"courseid"`
	ItemType     string `db:"itemtype" json:"itemtype"`
	ItemModule   string `db:"itemmodule" json:"itemmodule"`
	ItemInstance int64  `db:"iteminstance" json:"iteminstance"`
}
