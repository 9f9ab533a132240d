package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
)

var (
	moduleTypeColumns    = []string{"id", "name"}
	contextColumns       = []string{"id", "contextlevel", "instanceid"}
	courseSectionColumns = []string{"id", "course", "section", "sequence"}
)

// ModuleRepository answers the lookups needed to describe and repair a course module.
type ModuleRepository struct {
	store *RecordStore
}

// NewModuleRepository constructs the repository.
func NewModuleRepository(store *RecordStore) *ModuleRepository {
	return &ModuleRepository{store: store}
}

// Store exposes the underlying record store.
func (r *ModuleRepository) Store() *RecordStore {
	return r.store
}

// FindCourseModule loads a course_modules row, narrowed by instance when one is known.
func (r *ModuleRepository) FindCourseModule(ctx context.Context, cmid int64, instanceID *int64) (*models.CourseModule, error) {
	conds := []Condition{Eq("id", cmid)}
	if instanceID != nil {
		conds = append(conds, Eq("instance", *instanceID))
	}
	var cm models.CourseModule
	found, err := r.store.Get(ctx, &cm, models.TableCourseModules, models.CourseModuleColumns, conds...)
	if err != nil || !found {
		return nil, err
	}
	return &cm, nil
}

// CourseModuleExists checks for the course_modules row.
func (r *ModuleRepository) CourseModuleExists(ctx context.Context, cmid int64) (bool, error) {
	return r.store.Exists(ctx, models.TableCourseModules, Eq("id", cmid))
}

// FindModuleName resolves a modules.name by id.
func (r *ModuleRepository) FindModuleName(ctx context.Context, moduleID int64) (*string, error) {
	var module models.ModuleType
	found, err := r.store.Get(ctx, &module, models.TableModules, moduleTypeColumns, Eq("id", moduleID))
	if err != nil || !found {
		return nil, err
	}
	return &module.Name, nil
}

// FindModuleID resolves a modules.id by plugin name.
func (r *ModuleRepository) FindModuleID(ctx context.Context, name string) (*int64, error) {
	var module models.ModuleType
	found, err := r.store.Get(ctx, &module, models.TableModules, moduleTypeColumns, Eq("name", name))
	if err != nil || !found {
		return nil, err
	}
	return &module.ID, nil
}

// FindContext loads the context row for an instance at the given level.
func (r *ModuleRepository) FindContext(ctx context.Context, level, instanceID int64) (*models.Context, error) {
	var record models.Context
	found, err := r.store.Get(ctx, &record, models.TableContext, contextColumns,
		Eq("contextlevel", level),
		Eq("instanceid", instanceID),
	)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// ContextExists checks for a context row at the given level.
func (r *ModuleRepository) ContextExists(ctx context.Context, level, instanceID int64) (bool, error) {
	return r.store.Exists(ctx, models.TableContext, Eq("contextlevel", level), Eq("instanceid", instanceID))
}

// InstanceExists checks the module plugin's own table for the instance row.
func (r *ModuleRepository) InstanceExists(ctx context.Context, moduleName string, instanceID int64) (bool, error) {
	if !ValidIdentifier(moduleName) {
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid module name %q", moduleName))
	}
	return r.store.Exists(ctx, moduleName, Eq("id", instanceID))
}

// MarkDeletionInProgress flags the course module as being deleted.
func (r *ModuleRepository) MarkDeletionInProgress(ctx context.Context, cmid int64) (bool, error) {
	return r.store.Update(ctx, models.TableCourseModules, cmid, Set("deletioninprogress", int64(1)))
}

// FindSection loads a course section by id.
func (r *ModuleRepository) FindSection(ctx context.Context, sectionID int64) (*models.CourseSection, error) {
	var section models.CourseSection
	found, err := r.store.Get(ctx, &section, models.TableCourseSections, courseSectionColumns, Eq("id", sectionID))
	if err != nil || !found {
		return nil, err
	}
	return &section, nil
}

// ListCourseSections loads every section of a course.
func (r *ModuleRepository) ListCourseSections(ctx context.Context, courseID int64) ([]models.CourseSection, error) {
	var sections []models.CourseSection
	if err := r.store.Select(ctx, &sections, models.TableCourseSections, courseSectionColumns, Eq("course", courseID)); err != nil {
		return nil, err
	}
	return sections, nil
}

// UpdateSectionSequence stores a new sequence for the section.
func (r *ModuleRepository) UpdateSectionSequence(ctx context.Context, sectionID int64, sequence []int64) (bool, error) {
	value := sql.NullString{String: models.FormatSequence(sequence), Valid: true}
	return r.store.Update(ctx, models.TableCourseSections, sectionID, Set("sequence", value))
}

// BumpCacheRevision invalidates the course structure cache kept by the platform.
func (r *ModuleRepository) BumpCacheRevision(ctx context.Context, courseID int64) (bool, error) {
	return r.store.Increment(ctx, models.TableCourse, courseID, "cacherev")
}
