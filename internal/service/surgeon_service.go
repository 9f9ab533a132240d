package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
)

type surgeonModules interface {
	FindCourseModule(ctx context.Context, cmid int64, instanceID *int64) (*models.CourseModule, error)
	FindModuleName(ctx context.Context, moduleID int64) (*string, error)
	FindContext(ctx context.Context, level, instanceID int64) (*models.Context, error)
	MarkDeletionInProgress(ctx context.Context, cmid int64) (bool, error)
	FindSection(ctx context.Context, sectionID int64) (*models.CourseSection, error)
	ListCourseSections(ctx context.Context, courseID int64) ([]models.CourseSection, error)
	UpdateSectionSequence(ctx context.Context, sectionID int64, sequence []int64) (bool, error)
	BumpCacheRevision(ctx context.Context, courseID int64) (bool, error)
}

type surgeonTasks interface {
	Get(ctx context.Context, id int64) (*models.AdhocTask, bool, error)
	Enqueue(ctx context.Context, component, className, customData string, userID *int64) (int64, error)
	Delete(ctx context.Context, id int64) (bool, error)
	RescheduleOrEnqueue(ctx context.Context, task models.AdhocTask) (int64, error)
	MarkComplete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, task models.AdhocTask) (time.Duration, error)
}

type cleanupStore interface {
	ListFiles(ctx context.Context, contextID int64) ([]models.StoredFile, error)
	DeleteFiles(ctx context.Context, contextID int64) (int64, error)
	ListEventDescriptionFiles(ctx context.Context, courseContextID int64, eventIDs []int64) ([]models.StoredFile, error)
	DeleteFilesByID(ctx context.Context, ids []int64) (int64, error)
	ContentHashInUse(ctx context.Context, hash string) (bool, error)
	ListCalendarEvents(ctx context.Context, moduleName string, instanceID int64) ([]models.CalendarEvent, error)
	DeleteCalendarEvents(ctx context.Context, ids []int64) (int64, error)
	ListGradeItems(ctx context.Context, courseID int64, moduleName string, instanceID int64) ([]models.GradeItem, error)
	DeleteGradeItems(ctx context.Context, itemIDs []int64) (int64, error)
	DeleteBlogAssociations(ctx context.Context, contextID int64) (int64, error)
	DeleteCompletion(ctx context.Context, cmid int64) (int64, error)
	DeleteCompletionCriteria(ctx context.Context, courseID int64, moduleName string, instanceID int64) (int64, error)
	DeleteTagInstances(ctx context.Context, cmid int64, contextID *int64) (int64, error)
	DeleteContextData(ctx context.Context, contextID int64) (int64, error)
	DeleteContext(ctx context.Context, level, instanceID int64) (int64, error)
	DeleteCourseModule(ctx context.Context, cmid int64) (int64, error)
}

// ContentStore removes file content addressed by hash.
type ContentStore interface {
	Delete(contentHash string) (bool, error)
}

type cachePurger interface {
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

type stepObserver interface {
	RecordStep(result models.StepResult)
}

// SurgeonConfig names the task the repair queues and the cache keys it purges.
type SurgeonConfig struct {
	TaskClass    string
	Component    string
	CacheKeyRoot string
}

// SurgeonDeps groups the collaborators of SurgeonService. Content, Cache, Competency,
// Events, Executor and Observer are optional.
type SurgeonDeps struct {
	Modules    surgeonModules
	Tasks      surgeonTasks
	Cleanup    cleanupStore
	Content    ContentStore
	Cache      cachePurger
	Competency CompetencyNotifier
	Events     EventPublisher
	Executor   TaskExecutor
	Observer   stepObserver
	Logger     *zap.Logger
	Now        func() time.Time
}

// SurgeonService repairs diagnosed deletion jobs by splitting them or finishing the deletion.
type SurgeonService struct {
	deps   SurgeonDeps
	cfg    SurgeonConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSurgeonService constructs the repair service.
func NewSurgeonService(deps SurgeonDeps, cfg SurgeonConfig) *SurgeonService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Component == "" {
		cfg.Component = "moodle"
	}
	return &SurgeonService{deps: deps, cfg: cfg, logger: logger, now: now}
}

// Fix applies the repair matching the diagnosis. The outcome is returned even when an error
// is, and then documents how far the repair got; errors are storage faults that should end
// the whole run.
func (s *SurgeonService) Fix(ctx context.Context, diagnosis *models.Diagnosis) (*models.Outcome, error) {
	job := diagnosis.Job
	outcome := models.NewOutcome(job)

	switch {
	case diagnosis.IsJobRecordMissing:
		outcome.Add(models.Message{Code: models.MsgRunAdhocTask, TaskID: models.Int64Ptr(job.TaskID)})
		return outcome, nil
	case diagnosis.IsMultiModuleJob:
		return s.split(ctx, job, outcome)
	default:
		return s.forceComplete(ctx, job, outcome)
	}
}

// split queues one single-module task per module and drops the original. The original is
// kept when any module could not be requeued, since it is then the only record of that module.
// An original that is already gone counts as dropped.
func (s *SurgeonService) split(ctx context.Context, job *models.DeletionJob, outcome *models.Outcome) (*models.Outcome, error) {
	log := s.logger.Sugar().With("task_id", job.TaskID)
	taskID := models.Int64Ptr(job.TaskID)
	created := 0

	for _, ref := range job.Modules {
		cmid := models.Int64Ptr(ref.CourseModuleID)
		entry, err := s.splitEntry(ctx, ref)
		if err == nil {
			var newID int64
			newID, err = s.enqueueSingle(ctx, job, entry)
			if err == nil {
				created++
				outcome.Add(models.Message{Code: models.MsgTaskCreated, TaskID: models.Int64Ptr(newID), CourseModuleID: cmid})
				continue
			}
		}
		log.Warnw("split task not created", "cmid", ref.CourseModuleID, "error", err)
		outcome.Add(models.Message{Code: models.MsgTaskCreateFailed, CourseModuleID: cmid, Detail: err.Error()})
		if fatal(ctx, err) {
			outcome.Add(models.Message{Code: models.MsgSplitFailed, TaskID: taskID})
			return outcome, err
		}
	}

	dropped := false
	if created < len(job.Modules) {
		log.Warnw("original task kept", "created", created, "modules", len(job.Modules))
		outcome.Add(models.Message{Code: models.MsgOldTaskNotDeleted, TaskID: taskID, Detail: "kept because not every module was requeued"})
	} else {
		deleted, err := s.deps.Tasks.Delete(ctx, job.TaskID)
		switch {
		case err != nil:
			log.Warnw("original task not deleted", "error", err)
			outcome.Add(models.Message{Code: models.MsgOldTaskNotDeleted, TaskID: taskID, Detail: err.Error()})
			if fatal(ctx, err) {
				outcome.Add(models.Message{Code: models.MsgSplitFailed, TaskID: taskID})
				return outcome, err
			}
		case deleted:
			dropped = true
			outcome.Add(models.Message{Code: models.MsgOldTaskDeleted, TaskID: taskID})
		default:
			dropped = true
			outcome.Add(models.Message{Code: models.MsgOldTaskNotDeleted, TaskID: taskID, Detail: "already removed"})
		}
	}

	outcome.Success = dropped && created == len(job.Modules)
	if outcome.Success {
		outcome.Add(models.Message{Code: models.MsgSplitSuccess, TaskID: taskID, Count: models.Int64Ptr(int64(created))})
	} else {
		outcome.Add(models.Message{Code: models.MsgSplitFailed, TaskID: taskID, Count: models.Int64Ptr(int64(created))})
	}
	outcome.Add(models.Message{Code: models.MsgRunAdhocTask})
	log.Infow("job split", "created", created, "original_dropped", dropped)
	return outcome, nil
}

// splitEntry describes one module for its own task. The live course_modules row wins and is
// flagged as being deleted; otherwise the entry is rebuilt from what the reference knows.
func (s *SurgeonService) splitEntry(ctx context.Context, ref *models.ModuleReference) (models.PayloadModule, error) {
	cm, err := s.deps.Modules.FindCourseModule(ctx, ref.CourseModuleID, nil)
	if err != nil {
		return models.PayloadModule{}, err
	}
	if cm == nil {
		return payloadFromReference(ref), nil
	}
	if _, err := s.deps.Modules.MarkDeletionInProgress(ctx, cm.ID); err != nil {
		return models.PayloadModule{}, err
	}
	return models.PayloadModuleFromCourseModule(*cm), nil
}

func (s *SurgeonService) enqueueSingle(ctx context.Context, job *models.DeletionJob, entry models.PayloadModule) (int64, error) {
	payload := models.DeletionPayload{
		Modules:    []models.PayloadModule{entry},
		UserID:     nullableID(job.UserID),
		RealUserID: nullableID(job.RealUserID),
	}
	data, err := payload.Encode()
	if err != nil {
		return 0, err
	}
	return s.deps.Tasks.Enqueue(ctx, s.cfg.Component, s.cfg.TaskClass, data, job.UserID)
}

// repairState carries what the first three steps resolved into the later ones.
type repairState struct {
	job          *models.DeletionJob
	cmid         int64
	courseID     *int64
	instanceID   *int64
	sectionID    *int64
	moduleTypeID *int64
	contextID    *int64
	moduleName   *string
}

func (st *repairState) reference() *models.ModuleReference {
	return &models.ModuleReference{
		CourseModuleID: st.cmid,
		InstanceID:     st.instanceID,
		CourseID:       st.courseID,
		SectionID:      st.sectionID,
		ModuleTypeID:   st.moduleTypeID,
		ContextID:      st.contextID,
		ModuleName:     st.moduleName,
	}
}

type repairStepFunc func(ctx context.Context, st *repairState) (models.StepResult, error)

func (s *SurgeonService) stepFuncs() map[models.RepairStep]repairStepFunc {
	return map[models.RepairStep]repairStepFunc{
		models.StepCourseModuleRecord: s.stepCourseModuleRecord,
		models.StepModuleContext:      s.stepModuleContext,
		models.StepModuleName:         s.stepModuleName,
		models.StepFiles:              s.stepFiles,
		models.StepCalendarEvents:     s.stepCalendarEvents,
		models.StepGrades:             s.stepGrades,
		models.StepBlogAssociations:   s.stepBlogAssociations,
		models.StepCompletion:         s.stepCompletion,
		models.StepTags:               s.stepTags,
		models.StepCompetency:         s.stepCompetency,
		models.StepContext:            s.stepContext,
		models.StepCourseModule:       s.stepCourseModule,
		models.StepSectionSequence:    s.stepSectionSequence,
		models.StepModuleDeletedEvent: s.stepModuleDeletedEvent,
		models.StepCourseCache:        s.stepCourseCache,
		models.StepAdhocTask:          s.stepAdhocTask,
	}
}

// forceComplete runs every repair step in order. A failing step is recorded and the next one
// runs; only storage faults and cancellation stop the procedure.
func (s *SurgeonService) forceComplete(ctx context.Context, job *models.DeletionJob, outcome *models.Outcome) (*models.Outcome, error) {
	if len(job.Modules) == 0 {
		outcome.Add(models.Message{Code: models.MsgCourseModuleNotFound, TaskID: models.Int64Ptr(job.TaskID)})
		outcome.Add(models.Message{Code: models.MsgModuleFixFailed, TaskID: models.Int64Ptr(job.TaskID)})
		return outcome, nil
	}

	ref := job.Modules[0]
	st := &repairState{
		job:          job,
		cmid:         ref.CourseModuleID,
		courseID:     ref.CourseID,
		instanceID:   ref.InstanceID,
		sectionID:    ref.SectionID,
		moduleTypeID: ref.ModuleTypeID,
		contextID:    ref.ContextID,
		moduleName:   ref.ModuleName,
	}
	log := s.logger.Sugar().With("task_id", job.TaskID, "cmid", st.cmid)
	funcs := s.stepFuncs()

	for _, step := range models.RepairSteps {
		result, err := funcs[step](ctx, st)
		outcome.Record(st.cmid, result)
		if s.deps.Observer != nil {
			s.deps.Observer.RecordStep(result)
		}
		if err == nil {
			continue
		}
		log.Warnw("repair step failed", "step", step, "error", err)
		if fatal(ctx, err) {
			outcome.Add(models.Message{Code: models.MsgModuleFixFailed, TaskID: models.Int64Ptr(job.TaskID), CourseModuleID: models.Int64Ptr(st.cmid)})
			return outcome, err
		}
	}

	outcome.Success = true
	outcome.Add(models.Message{Code: models.MsgModuleFixSuccessful, TaskID: models.Int64Ptr(job.TaskID), CourseModuleID: models.Int64Ptr(st.cmid)})
	log.Infow("module deletion force-completed", "steps", len(outcome.Steps))
	return outcome, nil
}

func (s *SurgeonService) stepCourseModuleRecord(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepCourseModuleRecord
	cm, err := s.deps.Modules.FindCourseModule(ctx, st.cmid, nil)
	if err != nil {
		return failed(step, err)
	}
	if cm == nil {
		return models.Skipped(step, models.ReasonReconstructed), nil
	}
	st.courseID = models.Int64Ptr(cm.Course)
	st.instanceID = models.Int64Ptr(cm.Instance)
	st.sectionID = models.Int64Ptr(cm.Section)
	st.moduleTypeID = models.Int64Ptr(cm.Module)
	return models.Applied(step, 0), nil
}

func (s *SurgeonService) stepModuleContext(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepModuleContext
	record, err := s.deps.Modules.FindContext(ctx, models.ContextLevelModule, st.cmid)
	if err != nil {
		return failed(step, err)
	}
	if record == nil {
		st.contextID = nil
		return models.Skipped(step, models.ReasonNoContext), nil
	}
	st.contextID = models.Int64Ptr(record.ID)
	return models.Applied(step, 0), nil
}

func (s *SurgeonService) stepModuleName(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepModuleName
	if st.moduleName != nil {
		return models.Applied(step, 0), nil
	}
	if st.moduleTypeID == nil {
		return models.Skipped(step, models.ReasonNoModuleName), nil
	}
	name, err := s.deps.Modules.FindModuleName(ctx, *st.moduleTypeID)
	if err != nil {
		return failed(step, err)
	}
	if name == nil {
		return models.Skipped(step, models.ReasonNoModuleName), nil
	}
	st.moduleName = name
	return models.Applied(step, 0), nil
}

func (s *SurgeonService) stepFiles(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepFiles
	if st.contextID == nil {
		return models.Skipped(step, models.ReasonNoContext), nil
	}
	files, err := s.deps.Cleanup.ListFiles(ctx, *st.contextID)
	if err != nil {
		return failed(step, err)
	}
	deleted, err := s.deps.Cleanup.DeleteFiles(ctx, *st.contextID)
	if err != nil {
		return failed(step, err)
	}
	if err := s.purgeContent(ctx, files); err != nil {
		return failed(step, err)
	}
	return models.Applied(step, deleted), nil
}

// purgeContent removes on-disk content that no file row references any more.
func (s *SurgeonService) purgeContent(ctx context.Context, files []models.StoredFile) error {
	if s.deps.Content == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, file := range files {
		if _, ok := seen[file.ContentHash]; ok {
			continue
		}
		seen[file.ContentHash] = struct{}{}
		inUse, err := s.deps.Cleanup.ContentHashInUse(ctx, file.ContentHash)
		if err != nil {
			return err
		}
		if inUse {
			continue
		}
		if _, err := s.deps.Content.Delete(file.ContentHash); err != nil {
			return fmt.Errorf("remove content %s: %w", file.ContentHash, err)
		}
	}
	return nil
}

func (s *SurgeonService) stepCalendarEvents(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepCalendarEvents
	switch {
	case st.contextID == nil:
		return models.Skipped(step, models.ReasonNoContext), nil
	case st.moduleName == nil:
		return models.Skipped(step, models.ReasonNoModuleName), nil
	case st.instanceID == nil:
		return models.Skipped(step, models.ReasonNoInstance), nil
	}

	events, err := s.deps.Cleanup.ListCalendarEvents(ctx, *st.moduleName, *st.instanceID)
	if err != nil {
		return failed(step, err)
	}
	if len(events) == 0 {
		return models.Applied(step, 0), nil
	}
	ids := make([]int64, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}

	var affected int64
	if st.courseID != nil {
		courseContext, err := s.deps.Modules.FindContext(ctx, models.ContextLevelCourse, *st.courseID)
		if err != nil {
			return failed(step, err)
		}
		if courseContext != nil {
			files, err := s.deps.Cleanup.ListEventDescriptionFiles(ctx, courseContext.ID, ids)
			if err != nil {
				return failed(step, err)
			}
			fileIDs := make([]int64, len(files))
			for i, file := range files {
				fileIDs[i] = file.ID
			}
			removed, err := s.deps.Cleanup.DeleteFilesByID(ctx, fileIDs)
			if err != nil {
				return failed(step, err)
			}
			affected += removed
			if err := s.purgeContent(ctx, files); err != nil {
				return failed(step, err)
			}
		}
	}

	deleted, err := s.deps.Cleanup.DeleteCalendarEvents(ctx, ids)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, affected+deleted), nil
}

func (s *SurgeonService) stepGrades(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepGrades
	switch {
	case st.contextID == nil:
		return models.Skipped(step, models.ReasonNoContext), nil
	case st.courseID == nil:
		return models.Skipped(step, models.ReasonNoCourse), nil
	case st.moduleName == nil:
		return models.Skipped(step, models.ReasonNoModuleName), nil
	case st.instanceID == nil:
		return models.Skipped(step, models.ReasonNoInstance), nil
	}
	items, err := s.deps.Cleanup.ListGradeItems(ctx, *st.courseID, *st.moduleName, *st.instanceID)
	if err != nil {
		return failed(step, err)
	}
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	deleted, err := s.deps.Cleanup.DeleteGradeItems(ctx, ids)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, deleted), nil
}

func (s *SurgeonService) stepBlogAssociations(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepBlogAssociations
	if st.contextID == nil {
		return models.Skipped(step, models.ReasonNoContext), nil
	}
	deleted, err := s.deps.Cleanup.DeleteBlogAssociations(ctx, *st.contextID)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, deleted), nil
}

func (s *SurgeonService) stepCompletion(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepCompletion
	if st.contextID == nil {
		return models.Skipped(step, models.ReasonNoContext), nil
	}
	deleted, err := s.deps.Cleanup.DeleteCompletion(ctx, st.cmid)
	if err != nil {
		return failed(step, err)
	}
	if st.courseID != nil && st.moduleName != nil && st.instanceID != nil {
		criteria, err := s.deps.Cleanup.DeleteCompletionCriteria(ctx, *st.courseID, *st.moduleName, *st.instanceID)
		if err != nil {
			return failed(step, err)
		}
		deleted += criteria
	}
	return models.Applied(step, deleted), nil
}

func (s *SurgeonService) stepTags(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepTags
	if st.contextID == nil {
		return models.Skipped(step, models.ReasonNoContext), nil
	}
	deleted, err := s.deps.Cleanup.DeleteTagInstances(ctx, st.cmid, st.contextID)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, deleted), nil
}

// stepCompetency is fire-and-forget: a notifier error is recorded but never ends the repair.
func (s *SurgeonService) stepCompetency(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepCompetency
	if s.deps.Competency == nil {
		return models.Applied(step, 0), nil
	}
	affected, err := s.deps.Competency.ModuleDeleted(ctx, st.reference())
	if err != nil {
		s.logger.Sugar().Warnw("competency notification failed", "cmid", st.cmid, "error", err)
		return models.Failed(step, err), nil
	}
	return models.Applied(step, affected), nil
}

func (s *SurgeonService) stepContext(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepContext
	var affected int64
	if st.contextID != nil {
		removed, err := s.deps.Cleanup.DeleteContextData(ctx, *st.contextID)
		if err != nil {
			return failed(step, err)
		}
		affected += removed
	}
	deleted, err := s.deps.Cleanup.DeleteContext(ctx, models.ContextLevelModule, st.cmid)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, affected+deleted), nil
}

func (s *SurgeonService) stepCourseModule(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepCourseModule
	deleted, err := s.deps.Cleanup.DeleteCourseModule(ctx, st.cmid)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, deleted), nil
}

// stepSectionSequence drops the cmid from the recorded section, or from any section of the
// course when the section is unknown.
func (s *SurgeonService) stepSectionSequence(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepSectionSequence
	var sections []models.CourseSection
	if st.sectionID != nil {
		section, err := s.deps.Modules.FindSection(ctx, *st.sectionID)
		if err != nil {
			return failed(step, err)
		}
		if section != nil {
			sections = append(sections, *section)
		}
	}
	if len(sections) == 0 {
		if st.courseID == nil {
			return models.Skipped(step, models.ReasonNoCourse), nil
		}
		all, err := s.deps.Modules.ListCourseSections(ctx, *st.courseID)
		if err != nil {
			return failed(step, err)
		}
		sections = all
	}

	var updated int64
	for _, section := range sections {
		ids := section.SequenceIDs()
		kept := make([]int64, 0, len(ids))
		for _, id := range ids {
			if id != st.cmid {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(ids) {
			continue
		}
		ok, err := s.deps.Modules.UpdateSectionSequence(ctx, section.ID, kept)
		if err != nil {
			return failed(step, err)
		}
		if ok {
			updated++
		}
	}
	return models.Applied(step, updated), nil
}

func (s *SurgeonService) stepModuleDeletedEvent(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepModuleDeletedEvent
	if s.deps.Events == nil {
		return models.Applied(step, 0), nil
	}
	event := models.NewModuleDeletedEvent(st.job.TaskID, st.reference(), st.job.UserID, s.now())
	delivered, err := s.deps.Events.Publish(ctx, event)
	if err != nil {
		return failed(step, err)
	}
	return models.Applied(step, delivered), nil
}

func (s *SurgeonService) stepCourseCache(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepCourseCache
	if st.courseID == nil {
		return models.Skipped(step, models.ReasonNoCourse), nil
	}
	var affected int64
	bumped, err := s.deps.Modules.BumpCacheRevision(ctx, *st.courseID)
	if err != nil {
		return failed(step, err)
	}
	if bumped {
		affected++
	}
	if s.deps.Cache != nil && s.cfg.CacheKeyRoot != "" {
		pattern := fmt.Sprintf("%s:%d*", s.cfg.CacheKeyRoot, *st.courseID)
		purged, err := s.deps.Cache.DeleteByPattern(ctx, pattern)
		if err != nil {
			return failed(step, err)
		}
		affected += purged
	}
	return models.Applied(step, affected), nil
}

// stepAdhocTask makes the original task due now and runs it. A failed run backs the task off
// and is reported without ending the repair.
func (s *SurgeonService) stepAdhocTask(ctx context.Context, st *repairState) (models.StepResult, error) {
	step := models.StepAdhocTask
	task, found, err := s.deps.Tasks.Get(ctx, st.job.TaskID)
	if err != nil {
		return failed(step, err)
	}
	if !found {
		rebuilt, err := s.rebuildTask(st)
		if err != nil {
			return failed(step, err)
		}
		task = rebuilt
	}

	taskID, err := s.deps.Tasks.RescheduleOrEnqueue(ctx, *task)
	if err != nil {
		return failed(step, err)
	}
	task.ID = taskID
	task.FailDelay = 0

	if s.deps.Executor == nil {
		return models.Skipped(step, models.ReasonNothingToApply), nil
	}
	if runErr := s.deps.Executor.Execute(ctx, *task); runErr != nil {
		delay, err := s.deps.Tasks.MarkFailed(ctx, *task)
		if err != nil {
			return failed(step, err)
		}
		s.logger.Sugar().Warnw("task re-run failed", "task_id", taskID, "retry_in", delay, "error", runErr)
		return models.Failed(step, fmt.Errorf("task %d re-run failed, next attempt in %s: %w", taskID, delay, runErr)), nil
	}
	if err := s.deps.Tasks.MarkComplete(ctx, taskID); err != nil {
		return failed(step, err)
	}
	return models.Applied(step, 1), nil
}

func (s *SurgeonService) rebuildTask(st *repairState) (*models.AdhocTask, error) {
	payload := models.DeletionPayload{
		Modules:    []models.PayloadModule{payloadFromReference(st.reference())},
		UserID:     nullableID(st.job.UserID),
		RealUserID: nullableID(st.job.RealUserID),
	}
	data, err := payload.Encode()
	if err != nil {
		return nil, err
	}
	task := &models.AdhocTask{
		ID:        st.job.TaskID,
		Component: s.cfg.Component,
		ClassName: s.cfg.TaskClass,
	}
	task.CustomData.String, task.CustomData.Valid = data, true
	if st.job.UserID != nil {
		task.UserID.Int64, task.UserID.Valid = *st.job.UserID, true
	}
	return task, nil
}

func failed(step models.RepairStep, err error) (models.StepResult, error) {
	return models.Failed(step, err), err
}

// fatal reports whether err must end the run rather than a single step.
func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return appErrors.IsStorage(err) || ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func payloadFromReference(ref *models.ModuleReference) models.PayloadModule {
	return models.PayloadModule{
		ID:       models.NullableID{Value: ref.CourseModuleID, Valid: true},
		Course:   nullableID(ref.CourseID),
		Module:   nullableID(ref.ModuleTypeID),
		Instance: nullableID(ref.InstanceID),
		Section:  nullableID(ref.SectionID),
	}
}

func nullableID(v *int64) models.NullableID {
	if v == nil {
		return models.NullableID{}
	}
	return models.NullableID{Value: *v, Valid: true}
}
