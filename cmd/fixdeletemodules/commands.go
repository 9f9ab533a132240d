package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/app"
	"github.com/noah-isme/fix-delete-modules/internal/dto"
	"github.com/noah-isme/fix-delete-modules/internal/models"
	"github.com/noah-isme/fix-delete-modules/internal/service"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
)

func runCheck(cmd *cobra.Command, args []string) error {
	return runReport(cmd, false)
}

func runFix(cmd *cobra.Command, args []string) error {
	return runReport(cmd, true)
}

func runReport(cmd *cobra.Command, fix bool) error {
	if err := validateFormat(outputFormat); err != nil {
		return err
	}
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.New(cfg, logr)
	if err != nil {
		return err
	}
	defer container.Close()

	var report *models.Report
	if fix {
		report, err = container.Reports.Fix(ctx, filter)
	} else {
		report, err = container.Reports.Check(ctx, filter)
	}
	// A storage fault still returns the jobs handled so far; print them before failing.
	if report != nil && (err == nil || len(report.Jobs) > 0) {
		if writeErr := writeReport(cmd.OutOrStdout(), outputFormat, report); writeErr != nil {
			return writeErr
		}
	}
	if err != nil {
		if appErrors.IsStorage(err) {
			logr.Error("run aborted by a storage fault", zap.Error(err))
		}
		return err
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	if err := validateFormat(outputFormat); err != nil {
		return err
	}
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	container, err := app.New(cfg, logr)
	if err != nil {
		return err
	}
	defer container.Close()

	jobs, err := container.Reports.ListJobs(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return writeJobs(cmd.OutOrStdout(), outputFormat, jobs)
}

func runToken(cmd *cobra.Command, args []string) error {
	ttl, err := dto.ParseFailDelay(tokenTTL, 0)
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}
	auth := service.NewAuthService(validator.New(), logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	token, err := auth.IssueToken(models.TokenRequest{
		Subject: tokenSubject,
		Role:    models.OperatorRole(tokenRole),
		TTL:     ttl,
	})
	if err != nil {
		return err
	}
	return writeToken(cmd.OutOrStdout(), outputFormat, token)
}

// buildFilter validates the filter flags the same way the HTTP query is validated.
func buildFilter() (models.JobFilter, error) {
	query := dto.JobQuery{
		MinFailDelay:    minFailDelay,
		TaskIDs:         taskIDs,
		CourseModuleIDs: cmids,
		CourseIDs:       courseIDs,
		ModuleNames:     moduleNames,
	}
	if err := validator.New().Struct(query); err != nil {
		return models.JobFilter{}, fmt.Errorf("invalid filter: %w", err)
	}
	return query.ToFilter(cfg.Repair.MinFailDelay)
}
