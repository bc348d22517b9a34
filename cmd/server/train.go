package main

import (
	"context"
	"fmt"

	"splat-orchestrator/core/models"

	"github.com/spf13/cobra"
)

func trainCmd() *cobra.Command {
	var key models.JobKey
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the training pipeline on the running instance and print its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := key.Validate(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			unsubscribe := a.events.Subscribe(key.Room(), func(ctx context.Context, e models.StatusEvent) error {
				if e.Status == models.StatusHeartbeat {
					return nil
				}
				_, err := fmt.Fprintf(out, "%s %-8s %-9s %s\n", e.Timestamp.Format("15:04:05"), e.Step, e.Status, e.Message)
				return err
			})
			defer unsubscribe()

			result, err := a.trainer.Train(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&key.UserID, "user", "", "user id owning the dataset")
	cmd.Flags().StringVar(&key.ProjectName, "project", "", "project name")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("project")
	return cmd
}
