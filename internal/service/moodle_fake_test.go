package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

// moodleFake is an in-memory stand-in for the tables a deletion repair reads and writes.
type moodleFake struct {
	tasks      map[int64]models.AdhocTask
	nextTaskID int64
	completed  []int64
	failed     []int64

	courseModules      map[int64]models.CourseModule
	deletionInProgress map[int64]bool
	moduleTypes        map[int64]string
	instances          map[string]map[int64]bool
	contexts           map[int64]models.Context
	sections           map[int64]models.CourseSection
	cacheRevs          map[int64]int64

	files         []models.StoredFile
	events        []models.CalendarEvent
	gradeItems    []models.GradeItem
	grades        map[int64]int64
	blog          map[int64]int64
	completion    map[int64]int64
	criteria      map[string]int64
	tagsByItem    map[int64]int64
	tagsByContext map[int64]int64
	roleData      map[int64]int64
	competency    map[int64]int64
	logEntries    []models.ModuleDeletedEvent

	failWith error
}

func newMoodleFake() *moodleFake {
	return &moodleFake{
		tasks:              map[int64]models.AdhocTask{},
		nextTaskID:         100,
		courseModules:      map[int64]models.CourseModule{},
		deletionInProgress: map[int64]bool{},
		moduleTypes:        map[int64]string{1: "assign", 16: "quiz"},
		instances:          map[string]map[int64]bool{"assign": {}, "quiz": {}},
		contexts:           map[int64]models.Context{},
		sections:           map[int64]models.CourseSection{},
		cacheRevs:          map[int64]int64{},
		grades:             map[int64]int64{},
		blog:               map[int64]int64{},
		completion:         map[int64]int64{},
		criteria:           map[string]int64{},
		tagsByItem:         map[int64]int64{},
		tagsByContext:      map[int64]int64{},
		roleData:           map[int64]int64{},
		competency:         map[int64]int64{},
	}
}

func (f *moodleFake) addTask(id int64, customData string) {
	f.tasks[id] = models.AdhocTask{
		ID:         id,
		Component:  "moodle",
		ClassName:  testTaskClass,
		FailDelay:  3600,
		CustomData: sql.NullString{String: customData, Valid: true},
		UserID:     sql.NullInt64{Int64: 2, Valid: true},
	}
}

// addModule seeds a course module with its instance row, module context and section.
func (f *moodleFake) addModule(cmid, courseID, moduleID, instanceID, sectionID, contextID int64) {
	f.courseModules[cmid] = models.CourseModule{ID: cmid, Course: courseID, Module: moduleID, Instance: instanceID, Section: sectionID}
	f.instances[f.moduleTypes[moduleID]][instanceID] = true
	f.contexts[contextID] = models.Context{ID: contextID, ContextLevel: models.ContextLevelModule, InstanceID: cmid}
	section := f.sections[sectionID]
	section.ID, section.Course = sectionID, courseID
	ids := append(section.SequenceIDs(), cmid)
	section.Sequence = sql.NullString{String: models.FormatSequence(ids), Valid: true}
	f.sections[sectionID] = section
	f.cacheRevs[courseID] = 1
}

// Task queue.

func (f *moodleFake) ListByClass(ctx context.Context, className string, minFailDelay time.Duration) ([]models.AdhocTask, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []models.AdhocTask
	for _, task := range f.tasks {
		if task.ClassName == className && task.FailDelay > int64(minFailDelay/time.Second) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *moodleFake) Get(ctx context.Context, id int64) (*models.AdhocTask, bool, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, false, nil
	}
	return &task, true, nil
}

func (f *moodleFake) Exists(ctx context.Context, id int64) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	_, ok := f.tasks[id]
	return ok, nil
}

func (f *moodleFake) Enqueue(ctx context.Context, component, className, customData string, userID *int64) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.nextTaskID++
	task := models.AdhocTask{
		ID:         f.nextTaskID,
		Component:  component,
		ClassName:  className,
		CustomData: sql.NullString{String: customData, Valid: true},
	}
	if userID != nil {
		task.UserID = sql.NullInt64{Int64: *userID, Valid: true}
	}
	f.tasks[task.ID] = task
	return task.ID, nil
}

func (f *moodleFake) Delete(ctx context.Context, id int64) (bool, error) {
	_, ok := f.tasks[id]
	delete(f.tasks, id)
	return ok, nil
}

func (f *moodleFake) RescheduleOrEnqueue(ctx context.Context, task models.AdhocTask) (int64, error) {
	if existing, ok := f.tasks[task.ID]; ok {
		existing.FailDelay = 0
		f.tasks[task.ID] = existing
		return task.ID, nil
	}
	var userID *int64
	if task.UserID.Valid {
		userID = &task.UserID.Int64
	}
	return f.Enqueue(ctx, task.Component, task.ClassName, task.CustomData.String, userID)
}

func (f *moodleFake) MarkComplete(ctx context.Context, id int64) error {
	delete(f.tasks, id)
	f.completed = append(f.completed, id)
	return nil
}

func (f *moodleFake) MarkFailed(ctx context.Context, task models.AdhocTask) (time.Duration, error) {
	f.failed = append(f.failed, task.ID)
	if existing, ok := f.tasks[task.ID]; ok {
		existing.FailDelay = 60
		f.tasks[task.ID] = existing
	}
	return time.Minute, nil
}

// Module lookups.

func (f *moodleFake) FindCourseModule(ctx context.Context, cmid int64, instanceID *int64) (*models.CourseModule, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	cm, ok := f.courseModules[cmid]
	if !ok || (instanceID != nil && cm.Instance != *instanceID) {
		return nil, nil
	}
	return &cm, nil
}

func (f *moodleFake) CourseModuleExists(ctx context.Context, cmid int64) (bool, error) {
	_, ok := f.courseModules[cmid]
	return ok, nil
}

func (f *moodleFake) FindModuleName(ctx context.Context, moduleID int64) (*string, error) {
	name, ok := f.moduleTypes[moduleID]
	if !ok {
		return nil, nil
	}
	return &name, nil
}

func (f *moodleFake) findContext(level, instanceID int64) (models.Context, bool) {
	for _, record := range f.contexts {
		if record.ContextLevel == level && record.InstanceID == instanceID {
			return record, true
		}
	}
	return models.Context{}, false
}

func (f *moodleFake) FindContext(ctx context.Context, level, instanceID int64) (*models.Context, error) {
	record, ok := f.findContext(level, instanceID)
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *moodleFake) ContextExists(ctx context.Context, level, instanceID int64) (bool, error) {
	_, ok := f.findContext(level, instanceID)
	return ok, nil
}

func (f *moodleFake) InstanceExists(ctx context.Context, moduleName string, instanceID int64) (bool, error) {
	return f.instances[moduleName][instanceID], nil
}

func (f *moodleFake) MarkDeletionInProgress(ctx context.Context, cmid int64) (bool, error) {
	if _, ok := f.courseModules[cmid]; !ok {
		return false, nil
	}
	f.deletionInProgress[cmid] = true
	return true, nil
}

func (f *moodleFake) FindSection(ctx context.Context, sectionID int64) (*models.CourseSection, error) {
	section, ok := f.sections[sectionID]
	if !ok {
		return nil, nil
	}
	return &section, nil
}

func (f *moodleFake) ListCourseSections(ctx context.Context, courseID int64) ([]models.CourseSection, error) {
	var out []models.CourseSection
	for _, section := range f.sections {
		if section.Course == courseID {
			out = append(out, section)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *moodleFake) UpdateSectionSequence(ctx context.Context, sectionID int64, sequence []int64) (bool, error) {
	section, ok := f.sections[sectionID]
	if !ok {
		return false, nil
	}
	section.Sequence = sql.NullString{String: models.FormatSequence(sequence), Valid: true}
	f.sections[sectionID] = section
	return true, nil
}

func (f *moodleFake) BumpCacheRevision(ctx context.Context, courseID int64) (bool, error) {
	if _, ok := f.cacheRevs[courseID]; !ok {
		return false, nil
	}
	f.cacheRevs[courseID]++
	return true, nil
}

// Cleanup tables.

func (f *moodleFake) ListFiles(ctx context.Context, contextID int64) ([]models.StoredFile, error) {
	var out []models.StoredFile
	for _, file := range f.files {
		if file.ContextID == contextID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *moodleFake) removeFiles(match func(models.StoredFile) bool) int64 {
	kept := f.files[:0]
	var removed int64
	for _, file := range f.files {
		if match(file) {
			removed++
			continue
		}
		kept = append(kept, file)
	}
	f.files = kept
	return removed
}

func (f *moodleFake) DeleteFiles(ctx context.Context, contextID int64) (int64, error) {
	return f.removeFiles(func(file models.StoredFile) bool { return file.ContextID == contextID }), nil
}

func (f *moodleFake) ListEventDescriptionFiles(ctx context.Context, courseContextID int64, eventIDs []int64) ([]models.StoredFile, error) {
	var out []models.StoredFile
	for _, file := range f.files {
		if file.ContextID == courseContextID && file.Component == "calendar" && file.FileArea == "event_description" && containsID(eventIDs, file.ItemID) {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *moodleFake) DeleteFilesByID(ctx context.Context, ids []int64) (int64, error) {
	return f.removeFiles(func(file models.StoredFile) bool { return containsID(ids, file.ID) }), nil
}

func (f *moodleFake) ContentHashInUse(ctx context.Context, hash string) (bool, error) {
	for _, file := range f.files {
		if file.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (f *moodleFake) ListCalendarEvents(ctx context.Context, moduleName string, instanceID int64) ([]models.CalendarEvent, error) {
	var out []models.CalendarEvent
	for _, event := range f.events {
		if event.ModuleName == moduleName && event.Instance == instanceID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *moodleFake) DeleteCalendarEvents(ctx context.Context, ids []int64) (int64, error) {
	kept := f.events[:0]
	var removed int64
	for _, event := range f.events {
		if containsID(ids, event.ID) {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	f.events = kept
	return removed, nil
}

func (f *moodleFake) ListGradeItems(ctx context.Context, courseID int64, moduleName string, instanceID int64) ([]models.GradeItem, error) {
	var out []models.GradeItem
	for _, item := range f.gradeItems {
		if item.CourseID == courseID && item.ItemModule == moduleName && item.ItemInstance == instanceID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *moodleFake) DeleteGradeItems(ctx context.Context, itemIDs []int64) (int64, error) {
	var removed int64
	kept := f.gradeItems[:0]
	for _, item := range f.gradeItems {
		if containsID(itemIDs, item.ID) {
			removed += 1 + f.grades[item.ID]
			delete(f.grades, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	f.gradeItems = kept
	return removed, nil
}

func take(m map[int64]int64, key int64) int64 {
	n := m[key]
	delete(m, key)
	return n
}

func (f *moodleFake) DeleteBlogAssociations(ctx context.Context, contextID int64) (int64, error) {
	return take(f.blog, contextID), nil
}

func (f *moodleFake) DeleteCompletion(ctx context.Context, cmid int64) (int64, error) {
	return take(f.completion, cmid), nil
}

func (f *moodleFake) DeleteCompletionCriteria(ctx context.Context, courseID int64, moduleName string, instanceID int64) (int64, error) {
	key := fmt.Sprintf("%d/%s/%d", courseID, moduleName, instanceID)
	n := f.criteria[key]
	delete(f.criteria, key)
	return n, nil
}

func (f *moodleFake) DeleteTagInstances(ctx context.Context, cmid int64, contextID *int64) (int64, error) {
	n := take(f.tagsByItem, cmid)
	if contextID != nil {
		n += take(f.tagsByContext, *contextID)
	}
	return n, nil
}

func (f *moodleFake) DeleteCompetencyLinks(ctx context.Context, cmid int64) (int64, error) {
	return take(f.competency, cmid), nil
}

func (f *moodleFake) DeleteContextData(ctx context.Context, contextID int64) (int64, error) {
	return take(f.roleData, contextID), nil
}

func (f *moodleFake) DeleteContext(ctx context.Context, level, instanceID int64) (int64, error) {
	record, ok := f.findContext(level, instanceID)
	if !ok {
		return 0, nil
	}
	delete(f.contexts, record.ID)
	return 1, nil
}

func (f *moodleFake) DeleteCourseModule(ctx context.Context, cmid int64) (int64, error) {
	if _, ok := f.courseModules[cmid]; !ok {
		return 0, nil
	}
	delete(f.courseModules, cmid)
	return 1, nil
}

func (f *moodleFake) InsertLogEntry(ctx context.Context, event models.ModuleDeletedEvent) (int64, error) {
	f.logEntries = append(f.logEntries, event)
	return int64(len(f.logEntries)), nil
}

type contentFake struct {
	deleted []string
}

func (c *contentFake) Delete(contentHash string) (bool, error) {
	c.deleted = append(c.deleted, contentHash)
	return true, nil
}

type cachePurgeFake struct {
	patterns []string
}

func (c *cachePurgeFake) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	c.patterns = append(c.patterns, pattern)
	return 2, nil
}

type failingExecutor struct {
	err error
}

func (e failingExecutor) Execute(ctx context.Context, task models.AdhocTask) error {
	return e.err
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
