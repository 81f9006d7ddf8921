package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgembed/pgembed/internal/controller"
	"github.com/pgembed/pgembed/internal/server"
)

func testCmd(configPath *string) *cobra.Command {
	var keepRunning bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Boot the configured clusters and run a smoke check",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, opts, err := loadOptions(*configPath)
			if err != nil {
				return err
			}
			builder := server.NewBuilder(server.BuilderOptions{})
			srv, err := builder.Build(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fan := server.FanOptions{
				MaxDOP: opts.MaxDOP,
				OnEvent: func(ctx context.Context, event server.Event) {
					if event.Err != nil {
						fmt.Fprintf(os.Stderr, "%s %s: %v\n", event.ClusterID, event.Operation, event.Err)
						return
					}
					fmt.Fprintf(os.Stdout, "%s %s: ok\n", event.ClusterID, event.Operation)
				},
			}
			start := server.StartOptions{Wait: true}
			if err := srv.Start(cmd.Context(), start, server.InitDBInitializer{}, fan); err != nil {
				return err
			}

			if srv.Environment().Capabilities().SQL {
				for _, c := range srv.Clusters() {
					if err := smokeQuery(cmd.Context(), c); err != nil {
						return err
					}
				}
			}

			if keepRunning {
				fmt.Fprintln(os.Stdout, "clusters are running; stop them with pg_ctl or re-run without --keep-running")
				return nil
			}
			return srv.Stop(cmd.Context(), controller.Shutdown{Mode: controller.ShutdownFast}, fan)
		},
	}
	cmd.Flags().BoolVar(&keepRunning, "keep-running", false, "Leave the clusters running after the check")
	return cmd
}

func smokeQuery(ctx context.Context, c *server.Cluster) error {
	var answer string
	err := c.ExecuteSQL(ctx, "SELECT 1", controller.ExecOptions{
		Mode:       controller.OutputUnaligned,
		TuplesOnly: true,
	}, func(ctx context.Context, line string) {
		if answer == "" {
			answer = line
		}
	})
	if err != nil {
		return err
	}
	if answer != "1" {
		return fmt.Errorf("cluster %s smoke query returned %q", c.ID(), answer)
	}
	fmt.Fprintf(os.Stdout, "%s query: ok\n", c.ID())
	return nil
}
