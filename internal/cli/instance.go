package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgembed/pgembed/internal/artifact"
	"github.com/pgembed/pgembed/internal/registry"
	"github.com/pgembed/pgembed/internal/server"
)

func instanceCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage embedded PostgreSQL instances",
	}
	cmd.AddCommand(instanceCreateCmd(configPath))
	cmd.AddCommand(instanceCheckCmd(configPath))
	cmd.AddCommand(instanceDestroyCmd(configPath))
	return cmd
}

func loadOptions(configPath string) (Config, server.Options, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return Config{}, server.Options{}, err
	}
	opts, err := cfg.ServerOptions()
	if err != nil {
		return Config{}, server.Options{}, err
	}
	return cfg, opts, nil
}

func instanceCreateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Download artifacts and lay the instance down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, opts, err := loadOptions(*configPath)
			if err != nil {
				return err
			}
			builder := server.NewBuilder(server.BuilderOptions{})
			srv, err := builder.Build(cmd.Context(), opts)
			if err != nil {
				return err
			}
			env := srv.Environment()

			reg, err := registry.Open(cfg.RegistryPath)
			if err != nil {
				return err
			}
			defer reg.Close()
			mainSource := ""
			if main, ok := artifact.FindMain(opts.Artifacts); ok {
				mainSource = main.Source
			}
			if err := reg.Put(cmd.Context(), registry.Entry{
				Name:           cfg.Name,
				Directory:      opts.Instance.Directory,
				ArtifactSource: mainSource,
				CreatedAt:      time.Now().UTC(),
				LastCheckAt:    time.Now().UTC(),
				Versions:       env.Versions,
			}); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "instance %q ready at %s (%s mode)\n", cfg.Name, opts.Instance.Directory, env.Capabilities().Mode())
			return nil
		},
	}
}

func instanceCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the instance binaries and print their versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, opts, err := loadOptions(*configPath)
			if err != nil {
				return err
			}
			builder := server.NewBuilder(server.BuilderOptions{})
			versions, err := builder.ValidateInstance(cmd.Context(), opts.Instance)
			if err != nil {
				return err
			}
			for name, version := range versions {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", name, version)
			}

			reg, err := registry.Open(cfg.RegistryPath)
			if err != nil {
				return err
			}
			defer reg.Close()
			if _, ok, _ := reg.Get(cmd.Context(), cfg.Name); ok {
				if err := reg.RecordCheck(cmd.Context(), cfg.Name, time.Now().UTC(), versions); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func instanceDestroyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Delete the instance directory and forget it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, opts, err := loadOptions(*configPath)
			if err != nil {
				return err
			}
			builder := server.NewBuilder(server.BuilderOptions{})
			if err := builder.DestroyInstance(cmd.Context(), opts.Instance); err != nil {
				return err
			}
			reg, err := registry.Open(cfg.RegistryPath)
			if err != nil {
				return err
			}
			defer reg.Close()
			if err := reg.Delete(cmd.Context(), cfg.Name); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "instance %q destroyed\n", cfg.Name)
			return nil
		},
	}
}
