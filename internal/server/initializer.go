package server

import (
	"context"

	"github.com/pgembed/pgembed/internal/archive"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

// Initializer prepares a cluster's data directory. Strategies are
// composable through Chain.
type Initializer interface {
	Run(ctx context.Context, c *Cluster) error
}

// checkStopped rejects initialization of a running cluster.
func checkStopped(ctx context.Context, c *Cluster) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status.IsValid() {
		return errdefs.ValidationError{Code: "cluster_running", Message: "cannot initialize a running cluster", Details: c.ID()}
	}
	return nil
}

// handleExisting applies the shared force-reinitialization semantics.
// It reports whether initialization should proceed.
func handleExisting(c *Cluster, force bool) (bool, error) {
	initialized, err := c.IsInitialized()
	if err != nil {
		return false, err
	}
	if !initialized {
		return true, nil
	}
	if !force {
		return false, nil
	}
	if err := fsys.DeleteDirectory(c.DataFullPath()); err != nil {
		return false, err
	}
	return true, nil
}

// InitDBInitializer prepares a fresh data directory through initdb.
type InitDBInitializer struct {
	// ForceReInitialization deletes an already-initialized data
	// directory before running initdb. Without it an initialized
	// cluster is a no-op.
	ForceReInitialization bool
}

func (i InitDBInitializer) Run(ctx context.Context, c *Cluster) error {
	if err := checkStopped(ctx, c); err != nil {
		return err
	}
	proceed, err := handleExisting(c, i.ForceReInitialization)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	return c.env.InitDB.Initialize(ctx, c.cfg)
}

// ArchiveRestoreInitializer prepares the data directory from a
// previously archived cluster snapshot.
type ArchiveRestoreInitializer struct {
	ArchivePath           string
	ForceReInitialization bool
}

func (i ArchiveRestoreInitializer) Run(ctx context.Context, c *Cluster) error {
	if err := fsys.RequireFile(i.ArchivePath); err != nil {
		return err
	}
	if err := checkStopped(ctx, c); err != nil {
		return err
	}
	proceed, err := handleExisting(c, i.ForceReInitialization)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	extractor, err := c.env.Extractors.ForStrategy(archive.StrategySharp)
	if err != nil {
		return err
	}
	dataDir := c.DataFullPath()
	if err := fsys.EnsureDirectory(dataDir); err != nil {
		return err
	}
	c.logger.Info("restoring cluster from archive", "cluster", c.ID(), "archive", i.ArchivePath)
	return extractor.Extract(ctx, i.ArchivePath, dataDir, archive.ExtractOptions{})
}

// Chain runs a sequence of strategies in order; the first failure
// aborts the remainder.
type Chain []Initializer

func (chain Chain) Run(ctx context.Context, c *Cluster) error {
	for _, init := range chain {
		if err := init.Run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
