package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/decahq/deca/internal/config"
	"github.com/decahq/deca/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd(), cronAddCmd(), cronRemoveCmd())
	return cmd
}

func openCron() (*cron.Manager, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	mgr := cron.NewManager(cfg.CronPath())
	if err := mgr.Initialize(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openCron()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			jobs := mgr.ListJobs()
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			for _, j := range jobs {
				next := "never"
				if j.NextRunAtMs != nil {
					next = time.UnixMilli(*j.NextRunAtMs).Format(time.RFC3339)
				}
				state := "enabled"
				if !j.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s  %-20s %-8s next=%s  %s\n", j.ID, j.Name, state, next, j.Instruction)
			}
			return nil
		},
	}
}

func cronAddCmd() *cobra.Command {
	var expr string
	var everyMs int64
	var atMs int64
	cmd := &cobra.Command{
		Use:   "add <name> <instruction>",
		Short: "Add a scheduled job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var schedule cron.Schedule
			switch {
			case expr != "":
				schedule.Cron = &cron.CronSchedule{Expr: expr}
			case everyMs > 0:
				schedule.Every = &cron.EverySchedule{EveryMs: everyMs}
			case atMs > 0:
				schedule.At = &cron.AtSchedule{AtMs: atMs}
			default:
				return fmt.Errorf("one of --expr, --every-ms, --at-ms is required")
			}

			mgr, err := openCron()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			job, err := mgr.AddJob(cron.JobSpec{
				Name:        args[0],
				Instruction: args[1],
				Schedule:    schedule,
			})
			if err != nil {
				return err
			}
			fmt.Println("added", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&expr, "expr", "", "five-field cron expression")
	cmd.Flags().Int64Var(&everyMs, "every-ms", 0, "fixed interval in milliseconds")
	cmd.Flags().Int64Var(&atMs, "at-ms", 0, "one-shot unix epoch milliseconds")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openCron()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			removed, err := mgr.RemoveJob(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no job with id %q", args[0])
			}
			fmt.Println("removed", args[0])
			return nil
		},
	}
}
