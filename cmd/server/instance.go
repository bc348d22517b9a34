package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage the GPU instance",
	}
	cmd.AddCommand(instanceStartCmd())
	cmd.AddCommand(instanceStopCmd())
	cmd.AddCommand(instanceStatusCmd())
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func instanceStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Reuse the running instance or launch and bootstrap a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			res, err := a.lifecycle.Start(cmd.Context())
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func instanceStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Terminate the running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			terminated, err := a.lifecycle.Stop(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(terminated)
		},
	}
}

func instanceStatusCmd() *cobra.Command {
	var checkSSH bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether an instance is running, booting or absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			inst, status, err := a.lifecycle.Check(cmd.Context())
			if err != nil {
				return err
			}
			out := map[string]interface{}{"instance": inst, "status": status}
			if checkSSH && inst != nil && inst.IP != "" {
				if err := a.ssh.TestConnection(cmd.Context(), inst.IP); err != nil {
					out["ssh"] = fmt.Sprintf("unreachable: %v", err)
				} else {
					out["ssh"] = "ok"
				}
			}
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&checkSSH, "check-ssh", false, "also check the instance accepts SSH")
	return cmd
}
