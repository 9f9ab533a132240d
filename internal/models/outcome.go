package models

// MessageCode identifies an action taken (or not taken) during repair.
type MessageCode string

const (
	MsgRunAdhocTask         MessageCode = "run_adhoc_task"
	MsgTaskCreated          MessageCode = "task_created"
	MsgTaskCreateFailed     MessageCode = "task_create_failed"
	MsgOldTaskDeleted       MessageCode = "old_task_deleted"
	MsgOldTaskNotDeleted    MessageCode = "old_task_not_deleted"
	MsgSplitSuccess         MessageCode = "split_success"
	MsgSplitFailed          MessageCode = "split_failed"
	MsgCourseModuleNotFound MessageCode = "cmid_not_found"
	MsgModuleFixSuccessful  MessageCode = "module_fix_successful"
	MsgModuleFixFailed      MessageCode = "module_fix_failed"
	MsgNoKnownIssues        MessageCode = "no_known_issues"
)

// RepairStep names one ordered step of the force-complete procedure.
type RepairStep string

const (
	StepCourseModuleRecord RepairStep = "course_module_record"
	StepModuleContext      RepairStep = "module_context"
	StepModuleName         RepairStep = "module_name"
	StepFiles              RepairStep = "files"
	StepCalendarEvents     RepairStep = "calendar_events"
	StepGrades             RepairStep = "grades"
	StepBlogAssociations   RepairStep = "blog_associations"
	StepCompletion         RepairStep = "completion"
	StepTags               RepairStep = "tags"
	StepCompetency         RepairStep = "competency"
	StepContext            RepairStep = "context"
	StepCourseModule       RepairStep = "course_module"
	StepSectionSequence    RepairStep = "section_sequence"
	StepModuleDeletedEvent RepairStep = "module_deleted_event"
	StepCourseCache        RepairStep = "course_cache"
	StepAdhocTask          RepairStep = "adhoc_task"
)

// RepairSteps lists every step in execution order.
var RepairSteps = []RepairStep{
	StepCourseModuleRecord,
	StepModuleContext,
	StepModuleName,
	StepFiles,
	StepCalendarEvents,
	StepGrades,
	StepBlogAssociations,
	StepCompletion,
	StepTags,
	StepCompetency,
	StepContext,
	StepCourseModule,
	StepSectionSequence,
	StepModuleDeletedEvent,
	StepCourseCache,
	StepAdhocTask,
}

// StepStatus tags the result of a repair step.
type StepStatus string

const (
	StepApplied StepStatus = "applied"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// Skip reasons shared between steps.
const (
	ReasonNoContext      = "module context not found"
	ReasonNoCourse       = "course id unknown"
	ReasonNoInstance     = "module instance unknown"
	ReasonNoModuleName   = "module name unknown"
	ReasonNothingToApply = "nothing to apply"
	ReasonReconstructed  = "record missing, reconstructed from known fields"
)

// StepResult is the tagged outcome of one step.
type StepResult struct {
	Step     RepairStep `json:"step"`
	Status   StepStatus `json:"status"`
	Affected int64      `json:"affected"`
	Reason   string     `json:"reason,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Applied tags a step that ran; affected counts the rows or items changed.
func Applied(step RepairStep, affected int64) StepResult {
	return StepResult{Step: step, Status: StepApplied, Affected: affected}
}

// Skipped tags a step that did not run.
func Skipped(step RepairStep, reason string) StepResult {
	return StepResult{Step: step, Status: StepSkipped, Reason: reason}
}

// Failed tags a step that errored. The procedure continues regardless.
func Failed(step RepairStep, err error) StepResult {
	result := StepResult{Step: step, Status: StepFailed}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Code returns the stable message code for the result, e.g. "files_applied".
func (r StepResult) Code() MessageCode {
	return MessageCode(string(r.Step) + "_" + string(r.Status))
}

// Silent reports whether the result is left out of the rendered outcome: steps that
// found nothing to do, and steps skipped only because the module context was missing
// (that is reported once by the context step itself).
func (r StepResult) Silent() bool {
	switch r.Status {
	case StepApplied:
		return r.Affected == 0
	case StepSkipped:
		return r.Reason == ReasonNoContext && r.Step != StepModuleContext
	default:
		return false
	}
}

// Message is one rendered entry of an outcome.
type Message struct {
	Code           MessageCode `json:"code"`
	TaskID         *int64      `json:"taskid,omitempty"`
	CourseModuleID *int64      `json:"cmid,omitempty"`
	Count          *int64      `json:"count,omitempty"`
	Detail         string      `json:"detail,omitempty"`
}

// Outcome records what the repair did for one job.
type Outcome struct {
	Job      *DeletionJob `json:"job"`
	Messages []Message    `json:"messages"`
	Steps    []StepResult `json:"steps,omitempty"`
	Success  bool         `json:"success"`
}

// NewOutcome starts an empty outcome for the job.
func NewOutcome(job *DeletionJob) *Outcome {
	return &Outcome{Job: job, Messages: []Message{}}
}

// Add appends a message.
func (o *Outcome) Add(msg Message) {
	o.Messages = append(o.Messages, msg)
}

// Record appends a step result and its message unless the result is silent.
func (o *Outcome) Record(cmid int64, result StepResult) {
	o.Steps = append(o.Steps, result)
	if result.Silent() {
		return
	}
	msg := Message{Code: result.Code(), CourseModuleID: Int64Ptr(cmid)}
	if result.Status == StepApplied {
		msg.Count = Int64Ptr(result.Affected)
	}
	switch {
	case result.Error != "":
		msg.Detail = result.Error
	case result.Reason != "":
		msg.Detail = result.Reason
	}
	o.Add(msg)
}

// Codes lists message codes in order.
func (o *Outcome) Codes() []MessageCode {
	codes := make([]MessageCode, len(o.Messages))
	for i, msg := range o.Messages {
		codes[i] = msg.Code
	}
	return codes
}

// StepResult returns the last recorded result for a step.
func (o *Outcome) StepResult(step RepairStep) (StepResult, bool) {
	for i := len(o.Steps) - 1; i >= 0; i-- {
		if o.Steps[i].Step == step {
			return o.Steps[i], true
		}
	}
	return StepResult{}, false
}
