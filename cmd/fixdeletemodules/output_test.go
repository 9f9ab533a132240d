package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

func stuckQuizJob() *models.DeletionJob {
	return models.NewDeletionJob(models.AdhocTask{ID: 42, FailDelay: 3600, NextRunTime: 1700000000}, models.DeletionPayload{}, []*models.ModuleReference{
		{CourseModuleID: 7, CourseID: models.Int64Ptr(2), ModuleName: models.StringPtr("quiz")},
	}, nil)
}

func fixReport() *models.Report {
	job := stuckQuizJob()
	symptoms := models.NewSymptomSet()
	symptoms.Add("7", models.Symptom{Kind: models.SymptomModuleTypeRecordMissing, CourseModuleID: models.Int64Ptr(7)})
	outcome := models.NewOutcome(job)
	outcome.Record(7, models.Applied(models.StepGrades, 2))
	outcome.Add(models.Message{Code: models.MsgModuleFixSuccessful, TaskID: models.Int64Ptr(42)})
	outcome.Success = true
	return &models.Report{
		Mode:        "fix",
		GeneratedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Jobs:        []models.JobReport{{Diagnosis: models.NewDiagnosis(job, symptoms), Outcome: outcome}},
	}
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("text"))
	assert.NoError(t, validateFormat("csv"))
	assert.Error(t, validateFormat("yaml"))
}

func TestWriteReportText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatText, fixReport()))
	out := buf.String()

	assert.Contains(t, out, "Task 42 (cmids 7; courses 2; modules quiz)")
	assert.Contains(t, out, "[7] The module instance record is missing")
	assert.Contains(t, out, "outcome: repaired")
	assert.Contains(t, out, "- Cleaned grade items (2 affected)")
	assert.True(t, strings.HasSuffix(out, "1 job(s) processed, 1 with symptoms\n"))
}

func TestWriteReportHealthyCheck(t *testing.T) {
	job := stuckQuizJob()
	report := &models.Report{Mode: "check", Jobs: []models.JobReport{{Diagnosis: models.NewDiagnosis(job, models.NewSymptomSet())}}}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatText, report))
	assert.Contains(t, buf.String(), "no known issues")
	assert.NotContains(t, buf.String(), "outcome:")
	assert.Contains(t, buf.String(), "1 job(s) checked, 0 with symptoms")
}

func TestWriteReportCSVAndJSON(t *testing.T) {
	var csvOut bytes.Buffer
	require.NoError(t, writeReport(&csvOut, formatCSV, fixReport()))
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "taskid,cmids,courses,modules,symptom_key,symptom,message,detail", lines[0])

	var jsonOut bytes.Buffer
	require.NoError(t, writeReport(&jsonOut, formatJSON, fixReport()))
	assert.Contains(t, jsonOut.String(), `"mode": "fix"`)
	assert.Contains(t, jsonOut.String(), `"code": "module_fix_successful"`)
}

func TestWriteJobs(t *testing.T) {
	jobs := []*models.DeletionJob{stuckQuizJob()}

	var text bytes.Buffer
	require.NoError(t, writeJobs(&text, formatText, jobs))
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "TASK"))
	assert.Equal(t, []string{"42", "3600", "1700000000", "7", "2", "quiz"}, strings.Fields(lines[1]))

	var csvOut bytes.Buffer
	require.NoError(t, writeJobs(&csvOut, formatCSV, jobs))
	assert.Contains(t, csvOut.String(), "42,3600,1700000000,7,2,quiz")
}

func TestWriteTokenPlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeToken(&buf, formatText, &models.TokenResponse{AccessToken: "abc"}))
	assert.Equal(t, "abc\n", buf.String())
}
