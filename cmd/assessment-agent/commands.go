package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/terra-clan/assessment-engine/internal/config"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:           "assessment-agent",
		Short:         "Offline-first compliance assessments for field bases",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logLevel.Set(slog.LevelDebug)
			}
		},
	}

	// --- Session ---
	openCmd = &cobra.Command{
		Use:   "open",
		Short: "Open (or create) the assessment of a country, base and month",
		Args:  cobra.NoArgs,
		RunE:  withApp(runOpen), // Defined in cmd_assessment.go
	}
	answerCmd = &cobra.Command{
		Use:   "answer [question-id] [value|na|clear]",
		Short: "Answer a question with a value between 0 and 1, or mark it not applicable",
		Args:  cobra.ExactArgs(2),
		RunE:  withApp(runAnswer),
	}
	commentCmd = &cobra.Command{
		Use:   "comment [question-id] [text]",
		Short: "Set or clear the comment of a question",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  withApp(runComment),
	}
	proofCmd = &cobra.Command{
		Use:   "proof [question-id]",
		Short: "Attach a proof link or photo reference to a question",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runProof),
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show score, progress and section breakdown of the active assessment",
		Args:  cobra.NoArgs,
		RunE:  withApp(runStatus),
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List every locally stored assessment visible to the configured user",
		Args:  cobra.NoArgs,
		RunE:  withApp(runList),
	}
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the audit history of the active assessment",
		Args:  cobra.NoArgs,
		RunE:  withApp(runHistory),
	}
	snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Show the global snapshot log",
		Args:  cobra.NoArgs,
		RunE:  withApp(runSnapshots),
	}

	// --- Lifecycle ---
	submitCmd = &cobra.Command{
		Use:   "submit",
		Short: "Submit the active draft for validation",
		Args:  cobra.NoArgs,
		RunE:  withApp(runSubmit),
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate the submitted assessment",
		Args:  cobra.NoArgs,
		RunE:  withApp(runValidate),
	}
	unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Return a submitted or validated assessment to draft",
		Args:  cobra.NoArgs,
		RunE:  withApp(runUnlock),
	}
	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Clear every answer of the active draft",
		Args:  cobra.NoArgs,
		RunE:  withApp(runReset),
	}

	// --- Action plan ---
	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Generate the action plan from low-scoring answers",
	}
	planPreviewCmd = &cobra.Command{
		Use:   "preview",
		Short: "Show the plan a regeneration would produce",
		Args:  cobra.NoArgs,
		RunE:  withApp(runPlanPreview), // Defined in cmd_plan.go
	}
	planCommitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Replace the action plan, discarding every manual edit",
		Args:  cobra.NoArgs,
		RunE:  withApp(runPlanCommit),
	}
	actionCmd = &cobra.Command{
		Use:   "action",
		Short: "Edit individual actions of the plan",
	}
	actionAddCmd = &cobra.Command{
		Use:   "add [question-id]",
		Short: "Add a manual action",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runActionAdd),
	}
	actionUpdateCmd = &cobra.Command{
		Use:   "update [action-id]",
		Short: "Update priority, status, owner, comments or dates of an action",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runActionUpdate),
	}
	actionDeleteCmd = &cobra.Command{
		Use:   "delete [action-id]",
		Short: "Delete an action",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runActionDelete),
	}
	actionMoveCmd = &cobra.Command{
		Use:   "move [action-id] [position]",
		Short: "Move an action to a zero-based position",
		Args:  cobra.ExactArgs(2),
		RunE:  withApp(runActionMove),
	}

	// --- Sync ---
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Push unsynced assessments and pull remote updates",
		Args:  cobra.NoArgs,
		RunE:  withApp(runSync), // Defined in cmd_sync.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stay connected to the update feed and sync periodically",
		Args:  cobra.NoArgs,
		RunE:  withApp(runWatch),
	}
	conflictsCmd = &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect local versions archived by sync",
	}
	conflictsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List archived local versions, newest first",
		Args:  cobra.NoArgs,
		RunE:  withApp(runConflictsList),
	}
	conflictsRestoreCmd = &cobra.Command{
		Use:   "restore [archive-key]",
		Short: "Make an archived version the current one",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runConflictsRestore),
	}
	conflictsDiscardCmd = &cobra.Command{
		Use:   "discard [archive-key]",
		Short: "Drop an archived version",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runConflictsDiscard),
	}
	dashboardCmd = &cobra.Command{
		Use:   "dashboard",
		Short: "Aggregate scores by country, base and month",
		Args:  cobra.NoArgs,
		RunE:  withApp(runDashboard),
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	openCmd.Flags().StringVar(&openCountry, "country", "", "country of the base")
	openCmd.Flags().StringVar(&openBase, "base", "", "base name")
	openCmd.Flags().StringVar(&openMonth, "month", "", "evaluation month (YYYY-MM)")
	openCmd.Flags().StringVar(&openDate, "date", "", "evaluation date")
	openCmd.Flags().BoolVar(&openResume, "resume", false, "reopen the last assessment instead")

	proofCmd.Flags().StringVar(&proofLink, "link", "", "proof link (empty clears)")
	proofCmd.Flags().StringVar(&proofPhoto, "photo", "", "proof photo reference (empty clears)")

	planCommitCmd.Flags().BoolVar(&planConfirm, "yes", false, "confirm that the current plan is discarded")

	actionAddCmd.Flags().StringVar(&addPriority, "priority", "MEDIUM", "CRITICAL, HIGH, MEDIUM or LOW")
	actionAddCmd.Flags().StringVar(&addOwner, "owner", "", "responsible person")
	actionAddCmd.Flags().StringVar(&addComments, "comments", "", "free text")
	actionAddCmd.Flags().StringVar(&addDue, "due", "", "due date (YYYY-MM-DD)")

	actionUpdateCmd.Flags().StringVar(&actionPriority, "priority", "", "CRITICAL, HIGH, MEDIUM or LOW")
	actionUpdateCmd.Flags().StringVar(&actionStatus, "status", "", "TODO, DOING or DONE")
	actionUpdateCmd.Flags().StringVar(&actionOwner, "owner", "", "responsible person")
	actionUpdateCmd.Flags().StringVar(&actionComments, "comments", "", "free text")
	actionUpdateCmd.Flags().StringVar(&actionStart, "start", "", "start date (YYYY-MM-DD)")
	actionUpdateCmd.Flags().StringVar(&actionDue, "due", "", "due date (YYYY-MM-DD)")

	historyCmd.Flags().BoolVar(&historyTrend, "trend", false, "show the score trend instead of entries")
	dashboardCmd.Flags().BoolVar(&dashboardRemote, "remote", false, "ask the remote instead of aggregating local records")

	planCmd.AddCommand(planPreviewCmd, planCommitCmd)
	actionCmd.AddCommand(actionAddCmd, actionUpdateCmd, actionDeleteCmd, actionMoveCmd)
	conflictsCmd.AddCommand(conflictsListCmd, conflictsRestoreCmd, conflictsDiscardCmd)

	rootCmd.AddCommand(
		openCmd, answerCmd, commentCmd, proofCmd,
		statusCmd, listCmd, historyCmd, snapshotsCmd,
		submitCmd, validateCmd, unlockCmd, resetCmd,
		planCmd, actionCmd,
		syncCmd, watchCmd, conflictsCmd, dashboardCmd,
	)
}

// withApp loads configuration and opens the local store around a command
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd.Context(), a, args)
	}
}
