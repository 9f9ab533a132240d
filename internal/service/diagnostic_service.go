package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
)

type moduleInspector interface {
	CourseModuleExists(ctx context.Context, cmid int64) (bool, error)
	ContextExists(ctx context.Context, level, instanceID int64) (bool, error)
	InstanceExists(ctx context.Context, moduleName string, instanceID int64) (bool, error)
}

type symptomObserver interface {
	RecordSymptom(kind models.SymptomKind)
}

// DiagnosticService inspects deletion jobs and classifies what is inconsistent about them.
type DiagnosticService struct {
	modules  moduleInspector
	observer symptomObserver
	logger   *zap.Logger
}

// NewDiagnosticService constructs the service. observer may be nil.
func NewDiagnosticService(modules moduleInspector, observer symptomObserver, logger *zap.Logger) *DiagnosticService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnosticService{modules: modules, observer: observer, logger: logger}
}

// Diagnose produces the diagnosis of one job. Task-level findings stop module inspection.
// Only storage faults are returned as errors.
func (s *DiagnosticService) Diagnose(ctx context.Context, job *models.DeletionJob) (*models.Diagnosis, error) {
	symptoms, err := s.taskSymptoms(ctx, job)
	if err != nil {
		return nil, err
	}

	if symptoms.Len() == 0 {
		for _, ref := range job.Modules {
			found, err := s.moduleSymptoms(ctx, ref)
			if err != nil {
				return nil, err
			}
			if len(found) > 0 {
				symptoms.Add(ref.Key(), found...)
			}
		}
	}

	diagnosis := models.NewDiagnosis(job, symptoms)
	s.observe(diagnosis)
	s.logger.Sugar().Debugw("job diagnosed", "task_id", job.TaskID, "symptom_keys", symptoms.Keys())
	return diagnosis, nil
}

func (s *DiagnosticService) taskSymptoms(ctx context.Context, job *models.DeletionJob) (*models.SymptomSet, error) {
	symptoms := models.NewSymptomSet()
	if job.IsMultiModule() {
		symptoms.Add(models.SymptomKeyMulti, models.Symptom{Kind: models.SymptomMultipleModules})
	}
	exists, err := job.TaskRecordExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		symptoms.Add(models.SymptomKeyJob, models.Symptom{Kind: models.SymptomJobRecordMissing})
	}
	return symptoms, nil
}

func (s *DiagnosticService) moduleSymptoms(ctx context.Context, ref *models.ModuleReference) ([]models.Symptom, error) {
	var found []models.Symptom
	add := func(kind models.SymptomKind) {
		found = append(found, models.Symptom{Kind: kind, CourseModuleID: models.Int64Ptr(ref.CourseModuleID)})
	}

	instanceFound, err := s.instanceRecordExists(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !instanceFound {
		add(models.SymptomModuleTypeRecordMissing)
	}

	linkFound, err := s.modules.CourseModuleExists(ctx, ref.CourseModuleID)
	if err != nil {
		return nil, err
	}
	if !linkFound {
		add(models.SymptomCourseModuleRecordMissing)
	}

	contextFound, err := s.modules.ContextExists(ctx, models.ContextLevelModule, ref.CourseModuleID)
	if err != nil {
		return nil, err
	}
	if !contextFound {
		add(models.SymptomContextRecordMissing)
	}

	return found, nil
}

// instanceRecordExists treats an unknown module name or instance id as a missing record.
// A module name that is not a usable table name is logged and counted as missing too.
func (s *DiagnosticService) instanceRecordExists(ctx context.Context, ref *models.ModuleReference) (bool, error) {
	if ref.ModuleName == nil || ref.InstanceID == nil {
		return false, nil
	}
	exists, err := s.modules.InstanceExists(ctx, *ref.ModuleName, *ref.InstanceID)
	if err != nil {
		if appErrors.IsStorage(err) {
			return false, err
		}
		s.logger.Sugar().Warnw("module instance check skipped", "cmid", ref.CourseModuleID, "module", *ref.ModuleName, "error", err)
		return false, nil
	}
	return exists, nil
}

func (s *DiagnosticService) observe(diagnosis *models.Diagnosis) {
	if s.observer == nil {
		return
	}
	for _, key := range diagnosis.Symptoms.Keys() {
		for _, kind := range diagnosis.Symptoms.Kinds(key) {
			s.observer.RecordSymptom(kind)
		}
	}
}
