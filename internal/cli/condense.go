package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/condense"
)

func init() {
	cmd := &cobra.Command{
		Use:   "condense",
		Short: "Process pending condensation jobs",
		Long:  "Drain the condensation queue, summarizing oversized entries. Use --max to cap how many jobs run, or --reschedule to put a dead job back on the queue.",
		Run:   runCondense,
	}

	cmd.Flags().Int("max", 0, "Maximum jobs to process (0 = drain the queue)")
	cmd.Flags().String("reschedule", "", "Job ID to reschedule for immediate retry")

	RootCmd.AddCommand(cmd)
}

func runCondense(cmd *cobra.Command, args []string) {
	maxJobs, _ := cmd.Flags().GetInt("max")
	reschedule, _ := cmd.Flags().GetString("reschedule")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if reschedule != "" {
		id, err := strconv.ParseInt(reschedule, 10, 64)
		if err != nil {
			exitErr("parse job id", err)
		}
		job, err := s.RescheduleJob(cmd.Context(), id, time.Time{})
		if err != nil {
			exitErr("reschedule job", err)
		}
		fmt.Printf(`{"ok":true,"job":%d,"status":%q}`+"\n", job.ID, job.Status)
		return
	}

	runner := condense.NewRunner(s, nil)
	processed, err := runner.Run(cmd.Context(), maxJobs)
	if err != nil {
		exitErr("condense", err)
	}

	fmt.Printf(`{"ok":true,"processed":%d}`+"\n", processed)
}
