// cmd/croj-runner/main.go
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CodeRushOJ/croj-runner/internal/options"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	workspace   string
	storeDir    string
	optionsPath string
	envFile     string

	log   *slog.Logger
	opts  *options.Options
	store *store.Store
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "croj-runner",
		Short:         "Run a program against saved test cases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.workspace, "workspace", "w", ".", "workspace root; custom checker paths are relative to it")
	flags.StringVar(&a.storeDir, "store", "", "test set directory (default <workspace>/.croj/tests)")
	flags.StringVar(&a.optionsPath, "options", "", "options file (default <workspace>/.croj/options.yaml)")
	flags.StringVar(&a.envFile, "env", ".env", "dotenv file with CROJ_* overrides")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newSetsCmd(a),
		newCasesCmd(a),
		newOptionsCmd(a),
		newLanguagesCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.log = util.InitLogging(cmd.ErrOrStderr())

	ws, err := filepath.Abs(a.workspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	a.workspace = ws
	if a.storeDir == "" {
		a.storeDir = filepath.Join(ws, ".croj", "tests")
	}
	if a.optionsPath == "" {
		a.optionsPath = filepath.Join(ws, ".croj", "options.yaml")
	}

	if err := options.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	if a.opts, err = options.Load(a.optionsPath); err != nil {
		return err
	}
	if a.store, err = store.Open(a.storeDir, a.log); err != nil {
		return err
	}
	util.DebugLog("workspace ready", "workspace", ws, "store", a.storeDir, "options", a.optionsPath)
	return nil
}

// sandboxConfig returns the language table, with the host temp dir taken
// from CROJ_TEMP_DIR when set.
func (a *app) sandboxConfig() sandbox.Config {
	cfg := sandbox.DefaultConfig()
	if dir := os.Getenv("CROJ_TEMP_DIR"); dir != "" {
		cfg.HostTempDir = dir
	}
	return cfg
}

// errCasesFailed is returned by run when some case was not accepted; it only
// sets the exit code.
var errCasesFailed = errors.New("some cases failed")

func exitCode(err error) int {
	if errors.Is(err, errCasesFailed) {
		return 1
	}
	util.ErrorLog("command failed", "err", err)
	return 2
}

func registryFor(a *app) *sandbox.Registry {
	return sandbox.NewRegistry(a.sandboxConfig())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
