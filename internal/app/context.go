package app

import (
	"context"
	"errors"
	"fmt"

	"vaultline/internal/config"
	"vaultline/internal/repo"
)

// ResolveConfig returns the active ledger config, ensuring one exists in the DB.
// A vaultline.yml in the workspace takes precedence and is imported on first use;
// otherwise the stored config is returned, seeding defaults when missing.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if fileCfg != nil {
		if err := fileCfg.Validate(); err != nil {
			return nil, err
		}
		if err := r.UpsertConfig(ctx, fileCfg); err != nil {
			return nil, fmt.Errorf("import config: %w", err)
		}
		return fileCfg, nil
	}
	cfg, err := r.GetConfig(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		cfg = config.Default("VLT")
		if err := r.UpsertConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
