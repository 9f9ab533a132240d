package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/noah-isme/fix-delete-modules/internal/dto"
	"github.com/noah-isme/fix-delete-modules/internal/models"
	"github.com/noah-isme/fix-delete-modules/pkg/export"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatCSV  = "csv"
)

var jobHeaders = []string{"taskid", "faildelay", "nextruntime", "cmids", "courses", "modules"}

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatCSV:
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want text, json or csv)", format)
	}
}

func writeReport(w io.Writer, format string, report *models.Report) error {
	switch format {
	case formatJSON:
		return writeJSON(w, dto.NewReportView(report))
	case formatCSV:
		return writeCSV(w, dto.ReportDataset(report))
	}

	view := dto.NewReportView(report)
	withSymptoms := 0
	for _, job := range view.Jobs {
		if !job.Healthy {
			withSymptoms++
		}
		fmt.Fprintf(w, "Task %d (cmids %s; courses %s; modules %s)\n",
			job.Job.TaskID, joinIDs(job.Job.CourseModuleIDs), joinIDs(job.Job.CourseIDs), joinNames(job.Job.ModuleNames))
		if job.Healthy {
			fmt.Fprintln(w, "  no known issues")
		}
		for _, key := range sortedKeys(job.Symptoms) {
			for _, symptom := range job.Symptoms[key] {
				fmt.Fprintf(w, "  [%s] %s\n", key, symptom.Text)
			}
		}
		if job.Success != nil {
			status := "failed"
			if *job.Success {
				status = "repaired"
			}
			fmt.Fprintf(w, "  outcome: %s\n", status)
			for _, msg := range job.Messages {
				fmt.Fprintf(w, "    - %s\n", msg.Text)
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d job(s) %s, %d with symptoms\n", len(view.Jobs), modeVerb(view.Mode), withSymptoms)
	return err
}

func writeJobs(w io.Writer, format string, jobs []*models.DeletionJob) error {
	summaries := make([]dto.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, dto.NewJobSummary(job))
	}

	switch format {
	case formatJSON:
		return writeJSON(w, summaries)
	case formatCSV:
		data := export.Dataset{Headers: jobHeaders}
		for _, summary := range summaries {
			data.Rows = append(data.Rows, map[string]string{
				"taskid":      strconv.FormatInt(summary.TaskID, 10),
				"faildelay":   strconv.FormatInt(summary.FailDelay, 10),
				"nextruntime": strconv.FormatInt(summary.NextRunTime, 10),
				"cmids":       joinIDs(summary.CourseModuleIDs),
				"courses":     joinIDs(summary.CourseIDs),
				"modules":     strings.Join(summary.ModuleNames, ","),
			})
		}
		return writeCSV(w, data)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tFAILDELAY\tNEXTRUN\tCMIDS\tCOURSES\tMODULES")
	for _, summary := range summaries {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n", summary.TaskID, summary.FailDelay, summary.NextRunTime,
			joinIDs(summary.CourseModuleIDs), joinIDs(summary.CourseIDs), joinNames(summary.ModuleNames))
	}
	return tw.Flush()
}

func writeToken(w io.Writer, format string, token *models.TokenResponse) error {
	if format == formatJSON {
		return writeJSON(w, token)
	}
	_, err := fmt.Fprintln(w, token.AccessToken)
	return err
}

func writeJSON(w io.Writer, value interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func writeCSV(w io.Writer, data export.Dataset) error {
	return export.NewCSVExporter().Write(w, data)
}

func modeVerb(mode string) string {
	if mode == "fix" {
		return "processed"
	}
	return "checked"
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func sortedKeys(symptoms map[string][]dto.SymptomView) []string {
	keys := make([]string, 0, len(symptoms))
	for key := range symptoms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
