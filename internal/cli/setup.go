package cli

import (
	"github.com/opsledger/deltakernel/internal/config"
	"github.com/opsledger/deltakernel/internal/ledger"
)

// loadConfig resolves the effective config: file if given, defaults
// otherwise, with the --db flag taking precedence over both.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	return cfg, nil
}

// openStore opens the ledger database named by the effective config.
func openStore(opts *RootOptions) (*ledger.Store, *config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	st, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, cfg, nil
}
