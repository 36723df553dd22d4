package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/obadir/internal/backend"
	"github.com/KilimcininKorOglu/obadir/internal/config"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// defaultConfigPath is used when neither --config nor OBADIR_CONFIG is set.
const defaultConfigPath = "obadir.yaml"

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "obadir",
		Short:         "Run and administer directory server backends",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	path := os.Getenv("OBADIR_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", path, "configuration file (env OBADIR_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newBackendsCmd(opts),
		newRouteCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newVerifyCmd(opts),
		newRebuildIndexCmd(opts),
		newBackupCmd(opts),
		newListBackupsCmd(opts),
		newRemoveBackupCmd(opts),
		newRestoreCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

// env is the loaded configuration plus the configured, registered backends.
// Offline commands run administrative operations against configured
// backends without opening them.
type env struct {
	cfg      *config.Config
	logger   logging.Logger
	router   *backend.Router
	backends []backend.Backend
}

// loadEnv loads and validates the configuration and builds every backend.
// Logs go to logOut.
func loadEnv(opts *globalOptions, logOut io.Writer) (*env, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.configPath, err)
	}
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	var logger logging.Logger
	if logOut != nil {
		logger = logging.NewWithWriter(cfg.Logging, logOut)
	} else {
		logger = logging.New(cfg.Logging)
	}

	router := backend.NewRouter(logger)
	backends, err := backend.Build(cfg.Backends, backend.LocalOptions{Logger: logger}, router)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, router: router, backends: backends}, nil
}

// backend returns the backend with the given ID.
func (e *env) backend(id string) (backend.Backend, error) {
	if id == "" {
		return nil, errors.New("--backend is required")
	}
	b, ok := e.router.Get(id)
	if !ok {
		return nil, fmt.Errorf("no backend with id %q", id)
	}
	return b, nil
}

func (e *env) close() {
	backend.CloseAll(e.backends)
}
