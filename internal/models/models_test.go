package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type existsStub map[int64]bool

func (s existsStub) Exists(ctx context.Context, id int64) (bool, error) {
	return s[id], nil
}

func TestParseDeletionPayloadAcceptsStringsAndNumbers(t *testing.T) {
	payload, err := ParseDeletionPayload(`{"cms":[{"id":"5","course":2,"module":"1","instance":"3","section":null},{"id":7}],"userid":"2"}`)
	require.NoError(t, err)
	require.Len(t, payload.Modules, 2)

	first := payload.Modules[0]
	assert.Equal(t, int64(5), first.ID.Value)
	assert.Equal(t, int64(2), *first.Course.Ptr())
	assert.Equal(t, int64(3), *first.Instance.Ptr())
	assert.Nil(t, first.Section.Ptr())

	second := payload.Modules[1]
	assert.True(t, second.ID.Valid)
	assert.False(t, second.Instance.Valid)
	assert.Equal(t, int64(2), *payload.UserID.Ptr())
	assert.Nil(t, payload.RealUserID.Ptr())

	payload, err = ParseDeletionPayload(`{"cms":[{"id":7.0},{"id":"1e3"}]}`)
	require.NoError(t, err)
	require.Len(t, payload.Modules, 2)
	assert.Equal(t, int64(7), payload.Modules[0].ID.Value)
	assert.Equal(t, int64(1000), payload.Modules[1].ID.Value)
}

func TestParseDeletionPayloadRejectsFractionalAndOverflowingIDs(t *testing.T) {
	for _, raw := range []string{
		`{"cms":[{"id":7.9}]}`,
		`{"cms":[{"id":"7.5"}]}`,
		`{"cms":[{"id":1e30}]}`,
		`{"cms":[{"id":"-1e30"}]}`,
		`{"cms":[{"id":9223372036854775808}]}`,
	} {
		_, err := ParseDeletionPayload(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseDeletionPayloadEmptyAndBroken(t *testing.T) {
	payload, err := ParseDeletionPayload("")
	require.NoError(t, err)
	assert.Empty(t, payload.Modules)

	_, err = ParseDeletionPayload(`{"cms":[`)
	assert.Error(t, err)
}

func TestDeletionPayloadEncodeRoundTrip(t *testing.T) {
	payload := DeletionPayload{
		Modules: []PayloadModule{PayloadModuleFromCourseModule(CourseModule{ID: 9, Course: 2, Module: 16, Instance: 4, Section: 3})},
		UserID:  NullableID{Value: 2, Valid: true},
	}
	raw, err := payload.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"cms":[{"id":9,"course":2,"module":16,"instance":4,"section":3}],"userid":2,"realuserid":null}`, raw)
}

func newTestJob() *DeletionJob {
	refs := []*ModuleReference{
		{CourseModuleID: 5, CourseID: Int64Ptr(2), InstanceID: Int64Ptr(1), ModuleName: StringPtr("assign"), ContextID: Int64Ptr(30)},
		{CourseModuleID: 7, CourseID: Int64Ptr(2), InstanceID: Int64Ptr(3), ModuleName: StringPtr("quiz"), ContextID: Int64Ptr(31)},
		{CourseModuleID: 5, CourseID: Int64Ptr(9)},
		{CourseModuleID: 8},
	}
	task := AdhocTask{ID: 42, FailDelay: 120, UserID: sql.NullInt64{Int64: 3, Valid: true}}
	return NewDeletionJob(task, DeletionPayload{}, refs, existsStub{42: true})
}

func TestDeletionJobProjections(t *testing.T) {
	job := newTestJob()

	assert.Equal(t, []int64{5, 7, 8}, job.CourseModuleIDs())
	assert.True(t, job.IsMultiModule())
	assert.Equal(t, int64(3), *job.UserID)

	courses := job.CourseIDs(false, false)
	require.Len(t, courses, 3)
	assert.Nil(t, courses[2])

	unique := job.CourseIDs(true, true)
	require.Len(t, unique, 1)
	assert.Equal(t, int64(2), *unique[0])

	names := job.ModuleNames(false, true, "")
	require.Len(t, names, 2)
	assert.Equal(t, "assign", *names[0])

	filtered := job.ModuleNames(true, false, "quiz")
	require.Len(t, filtered, 1)
	assert.Equal(t, "quiz", *filtered[0])

	contexts := job.ContextIDs()
	assert.Nil(t, contexts[2])
	assert.Nil(t, job.InstanceIDs()[2])

	exists, err := job.TaskRecordExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSymptomSetAppendsAndKeepsOrder(t *testing.T) {
	set := NewSymptomSet()
	set.Add("7", Symptom{Kind: SymptomModuleTypeRecordMissing})
	set.Add("5", Symptom{Kind: SymptomContextRecordMissing})

	other := NewSymptomSet()
	other.Add("7", Symptom{Kind: SymptomContextRecordMissing})
	set.Merge(other)

	assert.Equal(t, []string{"7", "5"}, set.Keys())
	assert.Equal(t, []SymptomKind{SymptomModuleTypeRecordMissing, SymptomContextRecordMissing}, set.Kinds("7"))

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Equal(t, `{"7":["module-type record missing","context record missing"],"5":["context record missing"]}`, string(raw))

	var decoded SymptomSet
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, set.Keys(), decoded.Keys())
	require.NotNil(t, decoded.Get("5")[0].CourseModuleID)
	assert.Equal(t, int64(5), *decoded.Get("5")[0].CourseModuleID)
}

func TestNewDiagnosisFlags(t *testing.T) {
	set := NewSymptomSet()
	set.Add(SymptomKeyMulti, Symptom{Kind: SymptomMultipleModules})
	diagnosis := NewDiagnosis(newTestJob(), set)
	assert.True(t, diagnosis.IsMultiModuleJob)
	assert.False(t, diagnosis.IsJobRecordMissing)
	assert.False(t, diagnosis.HasModuleMissingData)

	healthy := NewDiagnosis(newTestJob(), nil)
	assert.True(t, healthy.Healthy())
}

func TestOutcomeRecordSilencesEmptySteps(t *testing.T) {
	outcome := NewOutcome(newTestJob())
	outcome.Record(7, Applied(StepFiles, 0))
	outcome.Record(7, Skipped(StepGrades, ReasonNoContext))
	outcome.Record(7, Skipped(StepModuleContext, ReasonNoContext))
	outcome.Record(7, Applied(StepTags, 2))

	assert.Equal(t, []MessageCode{"module_context_skipped", "tags_applied"}, outcome.Codes())
	assert.Len(t, outcome.Steps, 4)

	result, ok := outcome.StepResult(StepTags)
	require.True(t, ok)
	assert.Equal(t, int64(2), result.Affected)
}

func TestSequenceHelpers(t *testing.T) {
	ids := ParseSequence("4, 7,,x,9")
	assert.Equal(t, []int64{4, 7, 9}, ids)
	assert.Equal(t, "4,7,9", FormatSequence(ids))

	section := CourseSection{Sequence: sql.NullString{String: "1,2", Valid: true}}
	assert.Equal(t, []int64{1, 2}, section.SequenceIDs())
}
