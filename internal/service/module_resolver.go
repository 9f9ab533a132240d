package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

type moduleLookup interface {
	FindCourseModule(ctx context.Context, cmid int64, instanceID *int64) (*models.CourseModule, error)
	FindModuleName(ctx context.Context, moduleID int64) (*string, error)
	FindContext(ctx context.Context, level, instanceID int64) (*models.Context, error)
}

// ModuleResolver turns payload entries into module references, filling what the store still knows.
type ModuleResolver struct {
	modules moduleLookup
	logger  *zap.Logger
}

// NewModuleResolver constructs the resolver.
func NewModuleResolver(modules moduleLookup, logger *zap.Logger) *ModuleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleResolver{modules: modules, logger: logger}
}

// Resolve builds a reference for one payload entry. Fields missing from the payload are
// backfilled from a single course_modules lookup; anything the store lacks stays nil.
func (r *ModuleResolver) Resolve(ctx context.Context, entry models.PayloadModule) (*models.ModuleReference, error) {
	ref := &models.ModuleReference{
		CourseModuleID: entry.ID.Value,
		InstanceID:     entry.Instance.Ptr(),
		CourseID:       entry.Course.Ptr(),
		SectionID:      entry.Section.Ptr(),
		ModuleTypeID:   entry.Module.Ptr(),
	}

	if ref.InstanceID == nil || ref.CourseID == nil || ref.SectionID == nil || ref.ModuleTypeID == nil {
		cm, err := r.modules.FindCourseModule(ctx, ref.CourseModuleID, nil)
		if err != nil {
			return nil, err
		}
		if cm != nil {
			if ref.InstanceID == nil {
				ref.InstanceID = models.Int64Ptr(cm.Instance)
			}
			if ref.CourseID == nil {
				ref.CourseID = models.Int64Ptr(cm.Course)
			}
			if ref.SectionID == nil {
				ref.SectionID = models.Int64Ptr(cm.Section)
			}
			if ref.ModuleTypeID == nil {
				ref.ModuleTypeID = models.Int64Ptr(cm.Module)
			}
		}
	}

	return r.resolveDerived(ctx, ref)
}

// Refresh re-reads the derived context id and module name for an existing reference.
func (r *ModuleResolver) Refresh(ctx context.Context, ref *models.ModuleReference) (*models.ModuleReference, error) {
	next := *ref
	next.ContextID = nil
	next.ModuleName = nil
	return r.resolveDerived(ctx, &next)
}

func (r *ModuleResolver) resolveDerived(ctx context.Context, ref *models.ModuleReference) (*models.ModuleReference, error) {
	contextID, err := r.resolveContextID(ctx, ref.CourseModuleID)
	if err != nil {
		return nil, err
	}
	ref.ContextID = contextID

	name, err := r.resolveModuleName(ctx, ref.CourseModuleID, ref.InstanceID)
	if err != nil {
		return nil, err
	}
	ref.ModuleName = name

	if ref.ContextID == nil || ref.ModuleName == nil {
		r.logger.Debug("module reference partially resolved",
			zap.Int64("cmid", ref.CourseModuleID),
			zap.Bool("context", ref.ContextID != nil),
			zap.Bool("module_name", ref.ModuleName != nil),
		)
	}
	return ref, nil
}

func (r *ModuleResolver) resolveContextID(ctx context.Context, cmid int64) (*int64, error) {
	record, err := r.modules.FindContext(ctx, models.ContextLevelModule, cmid)
	if err != nil || record == nil {
		return nil, err
	}
	return models.Int64Ptr(record.ID), nil
}

func (r *ModuleResolver) resolveModuleName(ctx context.Context, cmid int64, instanceID *int64) (*string, error) {
	cm, err := r.modules.FindCourseModule(ctx, cmid, instanceID)
	if err != nil || cm == nil {
		return nil, err
	}
	return r.modules.FindModuleName(ctx, cm.Module)
}
