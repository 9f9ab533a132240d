package repository

import (
	"context"
	"time"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

const (
	gradeItemTypeModule     = "mod"
	tagItemTypeCourseModule = "course_modules"
	calendarComponent       = "calendar"
	eventDescriptionArea    = "event_description"
)

var (
	storedFileColumns    = []string{"id", "contenthash", "contextid", "component", "filearea", "itemid"}
	calendarEventColumns = []string{"id", "courseid", "modulename", "instance"}
	gradeItemColumns     = []string{"id", "courseid", "itemtype", "itemmodule", "iteminstance"}
)

// CleanupRepository removes the rows a module deletion leaves behind in auxiliary tables.
// Every delete is keyed and safe to repeat: absent rows simply count as zero.
type CleanupRepository struct {
	store *RecordStore
	now   func() time.Time
}

// NewCleanupRepository constructs the repository. A nil clock uses time.Now.
func NewCleanupRepository(store *RecordStore, now func() time.Time) *CleanupRepository {
	if now == nil {
		now = time.Now
	}
	return &CleanupRepository{store: store, now: now}
}

// ListFiles returns the file rows stored in a context.
func (r *CleanupRepository) ListFiles(ctx context.Context, contextID int64) ([]models.StoredFile, error) {
	var files []models.StoredFile
	if err := r.store.Select(ctx, &files, models.TableFiles, storedFileColumns, Eq("contextid", contextID)); err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFiles removes every file row stored in a context.
func (r *CleanupRepository) DeleteFiles(ctx context.Context, contextID int64) (int64, error) {
	return r.store.Delete(ctx, models.TableFiles, Eq("contextid", contextID))
}

// ListEventDescriptionFiles returns the calendar description files attached to events.
func (r *CleanupRepository) ListEventDescriptionFiles(ctx context.Context, courseContextID int64, eventIDs []int64) ([]models.StoredFile, error) {
	var files []models.StoredFile
	err := r.store.Select(ctx, &files, models.TableFiles, storedFileColumns,
		Eq("contextid", courseContextID),
		Eq("component", calendarComponent),
		Eq("filearea", eventDescriptionArea),
		InInt64("itemid", eventIDs),
	)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFilesByID removes file rows by id.
func (r *CleanupRepository) DeleteFilesByID(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.store.Delete(ctx, models.TableFiles, InInt64("id", ids))
}

// ContentHashInUse reports whether any file row still points at the content.
func (r *CleanupRepository) ContentHashInUse(ctx context.Context, hash string) (bool, error) {
	return r.store.Exists(ctx, models.TableFiles, Eq("contenthash", hash))
}

// ListCalendarEvents returns the events created by a module instance.
func (r *CleanupRepository) ListCalendarEvents(ctx context.Context, moduleName string, instanceID int64) ([]models.CalendarEvent, error) {
	var events []models.CalendarEvent
	err := r.store.Select(ctx, &events, models.TableEvent, calendarEventColumns,
		Eq("modulename", moduleName),
		Eq("instance", instanceID),
	)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteCalendarEvents removes events by id.
func (r *CleanupRepository) DeleteCalendarEvents(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.store.Delete(ctx, models.TableEvent, InInt64("id", ids))
}

// ListGradeItems returns the activity grade items of a module instance in a course.
func (r *CleanupRepository) ListGradeItems(ctx context.Context, courseID int64, moduleName string, instanceID int64) ([]models.GradeItem, error) {
	var items []models.GradeItem
	err := r.store.Select(ctx, &items, models.TableGradeItems, gradeItemColumns,
		Eq("itemtype", gradeItemTypeModule),
		Eq("itemmodule", moduleName),
		Eq("iteminstance", instanceID),
		Eq("courseid", courseID),
	)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteGradeItems removes the grades recorded against the items, then the items.
func (r *CleanupRepository) DeleteGradeItems(ctx context.Context, itemIDs []int64) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	grades, err := r.store.Delete(ctx, models.TableGradeGrades, InInt64("itemid", itemIDs))
	if err != nil {
		return 0, err
	}
	items, err := r.store.Delete(ctx, models.TableGradeItems, InInt64("id", itemIDs))
	if err != nil {
		return grades, err
	}
	return grades + items, nil
}

// DeleteBlogAssociations removes blog links to a context.
func (r *CleanupRepository) DeleteBlogAssociations(ctx context.Context, contextID int64) (int64, error) {
	return r.store.Delete(ctx, models.TableBlogAssociation, Eq("contextid", contextID))
}

// DeleteCompletion removes per-user completion state of a course module.
func (r *CleanupRepository) DeleteCompletion(ctx context.Context, cmid int64) (int64, error) {
	return r.store.Delete(ctx, models.TableCourseModulesCompletion, Eq("coursemoduleid", cmid))
}

// DeleteCompletionCriteria removes course completion criteria that reference the module instance.
func (r *CleanupRepository) DeleteCompletionCriteria(ctx context.Context, courseID int64, moduleName string, instanceID int64) (int64, error) {
	return r.store.Delete(ctx, models.TableCourseCompletionCriteria,
		Eq("moduleinstance", instanceID),
		Eq("course", courseID),
		Eq("module", moduleName),
	)
}

// DeleteTagInstances removes tags attached to the course module item and tags living in its context.
func (r *CleanupRepository) DeleteTagInstances(ctx context.Context, cmid int64, contextID *int64) (int64, error) {
	total, err := r.store.Delete(ctx, models.TableTagInstance,
		Eq("itemtype", tagItemTypeCourseModule),
		Eq("itemid", cmid),
	)
	if err != nil || contextID == nil {
		return total, err
	}
	scoped, err := r.store.Delete(ctx, models.TableTagInstance, Eq("contextid", *contextID))
	return total + scoped, err
}

// DeleteCompetencyLinks removes competencies linked to the course module.
func (r *CleanupRepository) DeleteCompetencyLinks(ctx context.Context, cmid int64) (int64, error) {
	return r.store.Delete(ctx, models.TableCompetencyModuleComp, Eq("cmid", cmid))
}

// DeleteContextData removes role assignments and overrides scoped to a context.
func (r *CleanupRepository) DeleteContextData(ctx context.Context, contextID int64) (int64, error) {
	assignments, err := r.store.Delete(ctx, models.TableRoleAssignments, Eq("contextid", contextID))
	if err != nil {
		return 0, err
	}
	capabilities, err := r.store.Delete(ctx, models.TableRoleCapabilities, Eq("contextid", contextID))
	return assignments + capabilities, err
}

// DeleteContext removes the context row itself.
func (r *CleanupRepository) DeleteContext(ctx context.Context, level, instanceID int64) (int64, error) {
	return r.store.Delete(ctx, models.TableContext, Eq("contextlevel", level), Eq("instanceid", instanceID))
}

// DeleteCourseModule removes the course_modules row.
func (r *CleanupRepository) DeleteCourseModule(ctx context.Context, cmid int64) (int64, error) {
	return r.store.Delete(ctx, models.TableCourseModules, Eq("id", cmid))
}

// InsertLogEntry writes a standard log row for the event and returns its id.
func (r *CleanupRepository) InsertLogEntry(ctx context.Context, event models.ModuleDeletedEvent) (int64, error) {
	other, err := event.OtherJSON()
	if err != nil {
		return 0, err
	}
	return r.store.Insert(ctx, models.TableLogstoreStandardLog,
		Set("eventname", models.EventNameCourseModuleDeleted),
		Set("component", "core"),
		Set("action", "deleted"),
		Set("target", "course_module"),
		Set("objecttable", models.TableCourseModules),
		Set("objectid", event.CourseModuleID),
		Set("crud", "d"),
		Set("edulevel", int64(0)),
		Set("contextid", nullableInt64(event.ContextID)),
		Set("contextlevel", models.ContextLevelModule),
		Set("contextinstanceid", event.CourseModuleID),
		Set("userid", nullableInt64(event.UserID)),
		Set("courseid", nullableInt64(event.CourseID)),
		Set("other", other),
		Set("timecreated", r.now().Unix()),
	)
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
