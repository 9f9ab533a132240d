// Command fixdeletemodules finds course_delete_modules adhoc tasks stuck in the Moodle
// task queue, explains why they fail and optionally repairs them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/pkg/config"
	"github.com/noah-isme/fix-delete-modules/pkg/logger"
)

var (
	cfg  *config.Config
	logr *zap.Logger

	verbose      bool
	outputFormat string
	minFailDelay string
	taskIDs      []int64
	cmids        []int64
	courseIDs    []int64
	moduleNames  []string

	tokenSubject string
	tokenRole    string
	tokenTTL     string

	rootCmd = &cobra.Command{
		Use:           "fixdeletemodules",
		Short:         "Diagnose and repair stuck course module deletion tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logr, err = logger.NewCLI(cfg, verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logr != nil {
				_ = logr.Sync()
			}
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Report what is wrong with each stuck deletion task without changing anything",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}

	fixCmd = &cobra.Command{
		Use:   "fix",
		Short: "Repair every stuck deletion task that matches the filters",
		Args:  cobra.NoArgs,
		RunE:  runFix,
	}

	jobsCmd = &cobra.Command{
		Use:   "jobs",
		Short: "List the deletion tasks waiting in the adhoc task queue",
		Args:  cobra.NoArgs,
		RunE:  runJobs,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the HTTP repair endpoints",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatText, "output format: text, json or csv")

	for _, cmd := range []*cobra.Command{checkCmd, fixCmd, jobsCmd} {
		cmd.Flags().StringVar(&minFailDelay, "min-fail-delay", "", "only tasks whose fail delay exceeds this (seconds or duration, default from REPAIR_MIN_FAIL_DELAY)")
		cmd.Flags().Int64SliceVar(&taskIDs, "task", nil, "adhoc task ids")
		cmd.Flags().Int64SliceVar(&cmids, "cmid", nil, "course module ids")
		cmd.Flags().Int64SliceVar(&courseIDs, "course", nil, "course ids")
		cmd.Flags().StringSliceVar(&moduleNames, "modname", nil, "module names such as quiz or assign")
	}

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator name recorded in the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "viewer", "admin or viewer")
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "", "token lifetime (default JWT_EXPIRATION)")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(checkCmd, fixCmd, jobsCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
