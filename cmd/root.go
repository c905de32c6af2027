// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ledgerops/ledger-network-runner/assets"
	"github.com/ledgerops/ledger-network-runner/pkg/color"
	"github.com/ledgerops/ledger-network-runner/pkg/logutil"
	"github.com/ledgerops/ledger-network-runner/scenario"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var Version = ""

const (
	envPrefix       = "NETWORK_RUNNER"
	defaultHomeName = ".ledger-network-runner"
	configFileName  = "config.yaml"
)

const (
	keyHome           = "home"
	keyLogLevel       = "log-level"
	keyConfig         = "config"
	keyFollow         = "follow"
	keyNodeBinary     = "node-binary"
	keyClientBinary   = "client-binary"
	keyContractsDir   = "contracts-dir"
	keyDockerImage    = "docker-image"
	keyDockerEndpoint = "docker-endpoint"
)

var log = zap.NewNop()

func init() {
	cobra.EnablePrefixMatching = true
}

// NewCommand builds the command tree. [v] holds the harness configuration.
func NewCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledger-network-runner",
		Short:         "ledger-network-runner commands",
		SuggestFor:    []string{"network-runner"},
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(keyHome, "", "harness home directory (default $HOME/"+defaultHomeName+")")
	flags.String(keyLogLevel, logutil.DefaultLogLevel, "log level")
	flags.String(keyConfig, "", "config file (default <home>/"+configFileName+")")
	flags.Bool(keyFollow, false, "tee node output to the terminal (process backend)")
	flags.String(keyNodeBinary, "", "node binary staged by setup")
	flags.String(keyClientBinary, "", "client binary staged by setup")
	flags.String(keyContractsDir, "", "directory of *.wasm contracts staged by setup")
	flags.String(keyDockerImage, "", "node image for the docker backend")
	flags.String(keyDockerEndpoint, "", "docker endpoint (default from DOCKER_HOST)")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, op := range scenario.Ops() {
		cmd.AddCommand(newOpCommand(v, op))
	}
	cmd.AddCommand(newScenarioCommand(v))
	return cmd
}

func initConfig(v *viper.Viper) error {
	home, err := homeDir(v)
	if err != nil {
		return err
	}
	path := v.GetString(keyConfig)
	if path == "" {
		path = filepath.Join(home, configFileName)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("couldn't read config %s: %w", path, err)
		}
	}
	lg, err := logutil.NewLogger(v.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	log = lg
	if path != "" {
		log.Debug("loaded config", zap.String("path", path))
	}
	return nil
}

func homeDir(v *viper.Viper) (string, error) {
	if home := v.GetString(keyHome); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("couldn't resolve home directory: %w", err)
	}
	return filepath.Join(userHome, defaultHomeName), nil
}

func newRunner(v *viper.Viper) (*scenario.Runner, error) {
	home, err := homeDir(v)
	if err != nil {
		return nil, err
	}
	deps := scenario.Deps{
		Log:  log,
		Home: home,
		Sources: assets.Sources{
			NodeBinary:   v.GetString(keyNodeBinary),
			ClientBinary: v.GetString(keyClientBinary),
			ContractsDir: v.GetString(keyContractsDir),
		},
		DockerImage: v.GetString(keyDockerImage),
		Out:         os.Stdout,
	}
	if v.GetBool(keyFollow) {
		deps.Daemons = scenario.DefaultRegistry(os.Stdout, v.GetString(keyDockerEndpoint))
	} else {
		deps.Daemons = scenario.DefaultRegistry(nil, v.GetString(keyDockerEndpoint))
	}
	return scenario.NewRunner(deps)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the CLI and exits 1 after logging a fatal condition.
func Execute() {
	cmd := NewCommand(viper.New())
	if err := cmd.Execute(); err != nil {
		logutil.ReportFailure(log, err)
		color.Errf("{{red}}{{bold}}ledger-network-runner failed:{{/}} %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
