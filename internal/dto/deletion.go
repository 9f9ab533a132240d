package dto

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	"github.com/noah-isme/fix-delete-modules/pkg/export"
)

// JobQuery captures the filters accepted by GET /deletion-jobs and GET /diagnoses.
type JobQuery struct {
	MinFailDelay    string   `form:"min_fail_delay" validate:"omitempty,max=20"`
	TaskIDs         []int64  `form:"task" validate:"dive,gt=0"`
	CourseModuleIDs []int64  `form:"cmid" validate:"dive,gt=0"`
	CourseIDs       []int64  `form:"course" validate:"dive,gt=0"`
	ModuleNames     []string `form:"modname" validate:"dive,required,alphanum,lowercase,max=40"`
}

// ToFilter converts the query, falling back to defaultDelay when no fail delay is given.
func (q JobQuery) ToFilter(defaultDelay time.Duration) (models.JobFilter, error) {
	delay, err := ParseFailDelay(q.MinFailDelay, defaultDelay)
	if err != nil {
		return models.JobFilter{}, err
	}
	return models.JobFilter{
		MinFailDelay:    delay,
		TaskIDs:         q.TaskIDs,
		CourseModuleIDs: q.CourseModuleIDs,
		CourseIDs:       q.CourseIDs,
		ModuleNames:     q.ModuleNames,
	}, nil
}

// RepairRequest captures the POST /repairs payload.
type RepairRequest struct {
	MinFailDelay    string   `json:"min_fail_delay" validate:"omitempty,max=20"`
	TaskIDs         []int64  `json:"task_ids" validate:"omitempty,dive,gt=0"`
	CourseModuleIDs []int64  `json:"cmids" validate:"omitempty,dive,gt=0"`
	CourseIDs       []int64  `json:"course_ids" validate:"omitempty,dive,gt=0"`
	ModuleNames     []string `json:"module_names" validate:"omitempty,dive,required,alphanum,lowercase,max=40"`
}

// ToFilter converts the request, falling back to defaultDelay when no fail delay is given.
func (r RepairRequest) ToFilter(defaultDelay time.Duration) (models.JobFilter, error) {
	return JobQuery{
		MinFailDelay:    r.MinFailDelay,
		TaskIDs:         r.TaskIDs,
		CourseModuleIDs: r.CourseModuleIDs,
		CourseIDs:       r.CourseIDs,
		ModuleNames:     r.ModuleNames,
	}.ToFilter(defaultDelay)
}

// ParseFailDelay accepts a Go duration ("90m") or a plain number of seconds ("3600").
func ParseFailDelay(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("fail delay must not be negative")
		}
		return time.Duration(seconds) * time.Second, nil
	}
	delay, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid fail delay %q", raw)
	}
	if delay < 0 {
		return 0, fmt.Errorf("fail delay must not be negative")
	}
	return delay, nil
}

// RepairRunResponse is returned after a repair run is queued or looked up.
type RepairRunResponse struct {
	ID          string           `json:"id"`
	Status      models.RunStatus `json:"status"`
	RequestedBy string           `json:"requested_by"`
	CreatedAt   time.Time        `json:"created_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	Error       *string          `json:"error,omitempty"`
	Jobs        []JobReportView  `json:"jobs,omitempty"`
}

// NewRepairRunResponse presents a repair run.
func NewRepairRunResponse(run *models.RepairRun) RepairRunResponse {
	resp := RepairRunResponse{
		ID:          run.ID,
		Status:      run.Status,
		RequestedBy: run.RequestedBy,
		CreatedAt:   run.CreatedAt,
		FinishedAt:  run.FinishedAt,
		Error:       run.Error,
	}
	if run.Report != nil {
		resp.Jobs = NewReportView(run.Report).Jobs
	}
	return resp
}

// JobSummary is the listing entry of a deletion job.
type JobSummary struct {
	TaskID          int64    `json:"taskid"`
	FailDelay       int64    `json:"faildelay"`
	NextRunTime     int64    `json:"nextruntime"`
	CourseModuleIDs []int64  `json:"cmids"`
	CourseIDs       []int64  `json:"course_ids"`
	ModuleNames     []string `json:"module_names"`
}

// NewJobSummary flattens a job for listing.
func NewJobSummary(job *models.DeletionJob) JobSummary {
	summary := JobSummary{
		TaskID:          job.TaskID,
		FailDelay:       job.FailDelay,
		NextRunTime:     job.NextRunTime,
		CourseModuleIDs: job.CourseModuleIDs(),
		CourseIDs:       []int64{},
		ModuleNames:     []string{},
	}
	for _, id := range job.CourseIDs(true, true) {
		summary.CourseIDs = append(summary.CourseIDs, *id)
	}
	for _, name := range job.ModuleNames(true, true, "") {
		summary.ModuleNames = append(summary.ModuleNames, *name)
	}
	return summary
}

// SymptomView is one symptom with its human text.
type SymptomView struct {
	Code models.SymptomKind `json:"code"`
	Text string             `json:"text"`
}

// MessageView is one outcome message with its human text.
type MessageView struct {
	models.Message
	Text string `json:"text"`
}

// JobReportView presents a diagnosis and, when a repair ran, its outcome.
type JobReportView struct {
	Job      JobSummary               `json:"job"`
	Healthy  bool                     `json:"healthy"`
	Symptoms map[string][]SymptomView `json:"symptoms"`
	Success  *bool                    `json:"success,omitempty"`
	Messages []MessageView            `json:"messages,omitempty"`
}

// ReportView presents a whole check or fix report.
type ReportView struct {
	Mode        string          `json:"mode"`
	GeneratedAt time.Time       `json:"generated_at"`
	Jobs        []JobReportView `json:"jobs"`
}

// NewReportView presents a report with human text resolved.
func NewReportView(report *models.Report) ReportView {
	view := ReportView{Mode: report.Mode, GeneratedAt: report.GeneratedAt, Jobs: make([]JobReportView, 0, len(report.Jobs))}
	for _, entry := range report.Jobs {
		view.Jobs = append(view.Jobs, NewJobReportView(entry))
	}
	return view
}

// NewJobReportView presents one report entry.
func NewJobReportView(entry models.JobReport) JobReportView {
	view := JobReportView{Symptoms: map[string][]SymptomView{}}
	if entry.Diagnosis != nil {
		view.Job = NewJobSummary(entry.Diagnosis.Job)
		view.Healthy = entry.Diagnosis.Healthy()
		for _, key := range entry.Diagnosis.Symptoms.Keys() {
			for _, kind := range entry.Diagnosis.Symptoms.Kinds(key) {
				view.Symptoms[key] = append(view.Symptoms[key], SymptomView{Code: kind, Text: SymptomText(kind)})
			}
		}
	}
	if entry.Outcome != nil {
		success := entry.Outcome.Success
		view.Success = &success
		for _, msg := range entry.Outcome.Messages {
			view.Messages = append(view.Messages, MessageView{Message: msg, Text: MessageText(msg)})
		}
	}
	return view
}

var symptomTexts = map[models.SymptomKind]string{
	models.SymptomMultipleModules:           "The task deletes more than one course module",
	models.SymptomJobRecordMissing:          "The adhoc task record no longer exists",
	models.SymptomModuleTypeRecordMissing:   "The module instance record is missing",
	models.SymptomCourseModuleRecordMissing: "The course_modules record is missing",
	models.SymptomContextRecordMissing:      "The module context record is missing",
}

// SymptomText returns the human description of a symptom.
func SymptomText(kind models.SymptomKind) string {
	if text, ok := symptomTexts[kind]; ok {
		return text
	}
	return string(kind)
}

var messageTexts = map[models.MessageCode]string{
	models.MsgRunAdhocTask:         "Run the adhoc task queue to finish the deletion",
	models.MsgTaskCreated:          "Queued a single-module deletion task",
	models.MsgTaskCreateFailed:     "Could not queue a single-module deletion task",
	models.MsgOldTaskDeleted:       "Removed the original multi-module task",
	models.MsgOldTaskNotDeleted:    "The original multi-module task could not be removed",
	models.MsgSplitSuccess:         "Split the task into single-module tasks",
	models.MsgSplitFailed:          "Splitting the task did not complete",
	models.MsgCourseModuleNotFound: "No course module id is known for this task",
	models.MsgModuleFixSuccessful:  "Finished deleting the course module",
	models.MsgModuleFixFailed:      "Deleting the course module did not complete",
	models.MsgNoKnownIssues:        "No known issues",
}

var stepTexts = map[models.RepairStep]string{
	models.StepCourseModuleRecord: "course module record",
	models.StepModuleContext:      "module context",
	models.StepModuleName:         "module name",
	models.StepFiles:              "module files",
	models.StepCalendarEvents:     "calendar events",
	models.StepGrades:             "grade items",
	models.StepBlogAssociations:   "blog associations",
	models.StepCompletion:         "completion data",
	models.StepTags:               "tag instances",
	models.StepCompetency:         "competency links",
	models.StepContext:            "module context and role data",
	models.StepCourseModule:       "course_modules record",
	models.StepSectionSequence:    "course section sequence",
	models.StepModuleDeletedEvent: "course module deleted event",
	models.StepCourseCache:        "course cache",
	models.StepAdhocTask:          "adhoc task re-run",
}

// MessageText returns the human description of an outcome message.
func MessageText(msg models.Message) string {
	text, ok := messageTexts[msg.Code]
	if !ok {
		text = stepMessageText(msg)
	}
	if msg.Detail != "" {
		text += ": " + msg.Detail
	}
	return text
}

func stepMessageText(msg models.Message) string {
	code := string(msg.Code)
	for step, label := range stepTexts {
		for _, status := range []models.StepStatus{models.StepApplied, models.StepSkipped, models.StepFailed} {
			if code != string(step)+"_"+string(status) {
				continue
			}
			switch status {
			case models.StepApplied:
				if msg.Count != nil {
					return fmt.Sprintf("Cleaned %s (%d affected)", label, *msg.Count)
				}
				return "Cleaned " + label
			case models.StepSkipped:
				return "Skipped " + label
			default:
				return "Failed to clean " + label
			}
		}
	}
	return code
}

// ReportHeaders are the CSV columns of a report export.
var ReportHeaders = []string{"taskid", "cmids", "courses", "modules", "symptom_key", "symptom", "message", "detail"}

// ReportDataset flattens a report into one row per symptom and per outcome message.
func ReportDataset(report *models.Report) export.Dataset {
	data := export.Dataset{Headers: ReportHeaders}
	for _, entry := range report.Jobs {
		view := NewJobReportView(entry)
		base := map[string]string{
			"taskid":  strconv.FormatInt(view.Job.TaskID, 10),
			"cmids":   joinInt64(view.Job.CourseModuleIDs),
			"courses": joinInt64(view.Job.CourseIDs),
			"modules": strings.Join(view.Job.ModuleNames, ","),
		}
		keys := make([]string, 0, len(view.Symptoms))
		for key := range view.Symptoms {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			for _, symptom := range view.Symptoms[key] {
				row := copyRow(base)
				row["symptom_key"] = key
				row["symptom"] = string(symptom.Code)
				data.Rows = append(data.Rows, row)
			}
		}
		for _, msg := range view.Messages {
			row := copyRow(base)
			row["message"] = string(msg.Code)
			row["detail"] = msg.Text
			data.Rows = append(data.Rows, row)
		}
		if len(view.Symptoms) == 0 && len(view.Messages) == 0 {
			row := copyRow(base)
			row["message"] = string(models.MsgNoKnownIssues)
			data.Rows = append(data.Rows, row)
		}
	}
	return data
}

func copyRow(base map[string]string) map[string]string {
	row := make(map[string]string, len(base)+4)
	for k, v := range base {
		row[k] = v
	}
	return row
}

func joinInt64(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
