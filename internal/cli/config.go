// Package cli implements the pgembed command-line tool: configuration
// loading and the instance/test command set. The tool is a thin shell
// over the orchestration packages.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pgembed/pgembed/internal/artifact"
	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/instance"
	"github.com/pgembed/pgembed/internal/server"
)

// Config is the on-disk shape of pgembed.yaml.
type Config struct {
	Name      string           `yaml:"name"`
	Instance  InstanceConfig   `yaml:"instance"`
	Artifacts []ArtifactConfig `yaml:"artifacts"`
	Clusters  []ClusterConfig  `yaml:"clusters"`

	CleanInstall   bool   `yaml:"cleanInstall"`
	ExcludePgAdmin bool   `yaml:"excludePgAdmin"`
	MaxParallel    int    `yaml:"maxParallel"`
	RegistryPath   string `yaml:"registryPath"`
}

type InstanceConfig struct {
	Directory string          `yaml:"directory"`
	Platform  map[string]bool `yaml:"platform"`
}

type ArtifactConfig struct {
	Kind            string `yaml:"kind"`
	Source          string `yaml:"source"`
	TargetDirectory string `yaml:"targetDirectory"`
	Force           bool   `yaml:"force"`
	Strategy        string `yaml:"strategy"`
}

type ClusterConfig struct {
	ID               string            `yaml:"id"`
	DataDirectory    string            `yaml:"dataDirectory"`
	Superuser        string            `yaml:"superuser"`
	Encoding         string            `yaml:"encoding"`
	Locale           string            `yaml:"locale"`
	AllowGroupAccess *bool             `yaml:"allowGroupAccess"`
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	Parameters       []ParameterConfig `yaml:"parameters"`
}

type ParameterConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// LoadConfig reads and expands a configuration file. Paths may use
// ${CacheDir} and ${StateDir}, which expand to the user's cache and
// state locations.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	vars, err := expansionVars()
	if err != nil {
		return Config{}, err
	}
	expanded := expandVars(string(data), vars)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(vars["StateDir"], "pgembed.db")
	}
	return cfg, nil
}

func expansionVars() (map[string]string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"CacheDir": filepath.Join(cacheDir, "pgembed"),
		"StateDir": filepath.Join(home, ".pgembed"),
	}, nil
}

func expandVars(content string, vars map[string]string) string {
	for key, value := range vars {
		content = strings.ReplaceAll(content, "${"+key+"}", value)
	}
	return content
}

// ServerOptions converts the file configuration into builder options.
func (c Config) ServerOptions() (server.Options, error) {
	platform, err := instance.ParamsFromMap(c.Instance.Platform)
	if err != nil {
		return server.Options{}, err
	}

	artifacts := make([]artifact.Artifact, 0, len(c.Artifacts))
	for _, a := range c.Artifacts {
		kind, err := parseArtifactKind(a.Kind)
		if err != nil {
			return server.Options{}, err
		}
		artifacts = append(artifacts, artifact.Artifact{
			Kind:            kind,
			Source:          a.Source,
			TargetDirectory: a.TargetDirectory,
			Force:           a.Force,
			Strategy:        a.Strategy,
		})
	}

	clusters := make([]cluster.Config, 0, len(c.Clusters))
	for _, cl := range c.Clusters {
		params := make([]cluster.Parameter, 0, len(cl.Parameters))
		for _, p := range cl.Parameters {
			params = append(params, cluster.Parameter{Name: p.Name, Value: p.Value})
		}
		clusters = append(clusters, cluster.Config{
			UniqueID:         cl.ID,
			DataDirectory:    cl.DataDirectory,
			Superuser:        cl.Superuser,
			Encoding:         cl.Encoding,
			Locale:           cl.Locale,
			AllowGroupAccess: cl.AllowGroupAccess,
			Host:             cl.Host,
			Port:             cl.Port,
			Parameters:       params,
		})
	}

	return server.Options{
		Artifacts: artifacts,
		Instance: instance.Config{
			Directory: c.Instance.Directory,
			Platform:  platform,
		},
		Clusters:                   clusters,
		CleanInstall:               c.CleanInstall,
		ExcludePgAdminInstallation: c.ExcludePgAdmin,
		MaxDOP:                     c.MaxParallel,
	}, nil
}

func parseArtifactKind(kind string) (artifact.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "main":
		return artifact.Main, nil
	case "extension":
		return artifact.Extension, nil
	default:
		return artifact.Main, errdefs.ValidationError{Code: "artifact_kind_unknown", Message: "unknown artifact kind", Details: kind}
	}
}
