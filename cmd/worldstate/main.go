// worldstate is an operator tool for a world-state forest image.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/forest"
	log "github.com/colorfulnotion/worldstate/log"
	"github.com/colorfulnotion/worldstate/stateerrors"
	"github.com/colorfulnotion/worldstate/store"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version = "dev"
)

const (
	keyDB        = "db"
	keyBackend   = "backend"
	keyCache     = "cache-size"
	keyLogLevel  = "log-level"
	keyDebug     = "debug"
	keyOTLP      = "otlp-endpoint"
	keyTrees     = "trees"
	envPrefix    = "WORLDSTATE"
	defaultLevel = "info"
)

// treeFile is the config-file form of forest.TreeConfig.
type treeFile struct {
	Name       string `mapstructure:"name"`
	Depth      uint8  `mapstructure:"depth"`
	LeafWidth  int    `mapstructure:"leaf_width"`
	ZeroValue  string `mapstructure:"zero_value"`
	HashDomain string `mapstructure:"hash_domain"`
	SeedRootOf string `mapstructure:"seed_root_of"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// formatError prefixes forest errors with their code, e.g. "Error [W3]: ...".
func formatError(err error) string {
	if kind := stateerrors.Kind(err); kind != nil {
		return fmt.Sprintf("Error [%s]: %v", stateerrors.GetErrorCode(kind), err)
	}
	return fmt.Sprintf("Error: %v", err)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string
	var shutdownTelemetry func(context.Context) error

	rootCmd := &cobra.Command{
		Use:           "worldstate",
		Short:         "Inspect and update a world-state forest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cmd, configFile); err != nil {
				return err
			}
			level, err := log.ParseLevel(v.GetString(keyLogLevel))
			if err != nil {
				return err
			}
			log.InitLogger(v.GetString(keyLogLevel))
			log.EnableModules(v.GetString(keyDebug))
			log.Debug(log.CLIMonitoring, "logger ready", "level", log.LevelString(level), "modules", v.GetString(keyDebug))

			shutdown, err := initTelemetry(cmd.Context(), v.GetString(keyOTLP))
			if err != nil {
				return err
			}
			shutdownTelemetry = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdownTelemetry == nil {
				return nil
			}
			return shutdownTelemetry(context.Background())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (yaml, json or toml)")
	flags.StringP(keyDB, "d", filepath.Join(os.Getenv("HOME"), ".worldstate"), "Database directory")
	flags.String(keyBackend, string(store.BackendLevelDB), "Storage backend: leveldb, pebble or memory")
	flags.Int(keyCache, store.DefaultNodeCacheSize, "Committed node cache entries")
	flags.String(keyLogLevel, defaultLevel, "Log level: trace, debug, info, warn, error, crit")
	flags.String(keyDebug, "", "Comma separated modules to debug (forest_mod,store_mod,checkpoint_mod,cli_mod or all)")
	flags.String(keyOTLP, "", "OTLP/HTTP trace collector endpoint (host:port)")

	rootCmd.AddCommand(
		initCmd(v),
		getCmd(v),
		putCmd(v),
		rootsCmd(v),
		sizeCmd(v),
		pathCmd(v),
		fillCmd(v),
		destroyCmd(v),
		versionCmd(),
	)
	return rootCmd
}

func loadConfig(v *viper.Viper, cmd *cobra.Command, configFile string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", configFile, err)
	}
	log.Debug(log.CLIMonitoring, "config loaded", "file", v.ConfigFileUsed())
	return nil
}

// forestOptions builds forest options from flags, environment and config.
func forestOptions(v *viper.Viper) (forest.Options, error) {
	opts := forest.DefaultOptions(v.GetString(keyDB))
	opts.Backend = store.Backend(v.GetString(keyBackend))
	opts.NodeCacheSize = v.GetInt(keyCache)
	if !v.IsSet(keyTrees) {
		return opts, nil
	}

	var files []treeFile
	if err := v.UnmarshalKey(keyTrees, &files); err != nil {
		return opts, fmt.Errorf("invalid trees config: %w", err)
	}
	opts.Trees = make([]forest.TreeConfig, len(files))
	for i, tf := range files {
		tc := forest.TreeConfig{
			Name:       tf.Name,
			Depth:      tf.Depth,
			LeafWidth:  tf.LeafWidth,
			HashDomain: tf.HashDomain,
			SeedRootOf: tf.SeedRootOf,
		}
		if tf.ZeroValue != "" {
			zero, err := common.FromHex(tf.ZeroValue)
			if err != nil {
				return opts, fmt.Errorf("tree %s: zero value: %w", tf.Name, err)
			}
			tc.ZeroValue = zero
		}
		opts.Trees[i] = tc
	}
	return opts, nil
}

// withForest opens the forest, runs fn and stops the forest again.
func withForest(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, f *forest.Forest) error) error {
	opts, err := forestOptions(v)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	f, err := forest.Open(ctx, opts)
	if err != nil {
		return err
	}
	runErr := fn(ctx, f)
	if err := f.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// parseTree accepts a tree name or numeric id.
func parseTree(f *forest.Forest, arg string) (forest.TreeID, error) {
	if id, ok := f.TreeByName(arg); ok {
		return id, nil
	}
	n, err := strconv.ParseUint(arg, 10, 8)
	if err != nil || int(n) >= len(f.Trees()) {
		return 0, fmt.Errorf("unknown tree %q", arg)
	}
	return forest.TreeID(n), nil
}

// parseIndex accepts a decimal or 0x-prefixed hex index.
func parseIndex(arg string) (*uint256.Int, error) {
	if !strings.HasPrefix(arg, "0x") {
		return uint256.FromDecimal(arg)
	}
	b, err := common.FromHex(arg)
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("index %s is wider than 32 bytes", arg)
	}
	return new(uint256.Int).SetBytes(b), nil
}

// parseValue decodes hex and zero-pads short values to the leaf width.
func parseValue(arg string, width int) ([]byte, error) {
	b, err := common.FromHex(arg)
	if err != nil {
		return nil, err
	}
	if len(b) < width {
		b = common.LeftAlign(b, width)
	}
	return b, nil
}
