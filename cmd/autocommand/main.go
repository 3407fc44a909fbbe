package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/ElianF/AutoCommand/internal/log"
	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/store"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

const configName = "autocommand.yaml"

var (
	userConfigPath string // /default/config/path/autocommand on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagStorage        string // value of --storage flag
	flagJobs           string // value of --jobs flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "autocommand")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagStorage, "storage", "", "storage directory (database.json, stdout/, stderr/)")
	rootCmd.PersistentFlags().StringVar(&flagJobs, "jobs", "", "file with one job per line")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initAutocommand

	addRunFlags(runCmd)
	addAnalyseFlags(analyseCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("autocommand failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "autocommand",
	Short:        "Batch runner for benchmark jobs which remembers what already ran",
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create the storage layout, an empty job list and " + configName,
	RunE:  doInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of autocommand",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("autocommand: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:      %s\n", configPath)
		}
		fmt.Printf("autocommand: %s\n", info.Main.Version)
		fmt.Printf("go:          %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:      %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:        %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:       %s\n", s.Value)
			}
		}
	},
}

func doInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	s, err := store.Init(config.Storage)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "storage ready", "dir", s.Dir())

	if !exists(config.Jobs) {
		if err := os.WriteFile(config.Jobs, nil, 0o644); err != nil {
			return fmt.Errorf("creating job list: %w", err)
		}
		slog.InfoContext(ctx, "job list created", "path", config.Jobs)
	}

	if configPath != "" {
		return nil
	}
	if err := writeConfig(configName, config); err != nil {
		return err
	}
	slog.InfoContext(ctx, "configuration created", "path", configName)
	return nil
}

func writeConfig(path string, cfg model.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	err = enc.Encode(cfg)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storing configuration: %w", err)
	}
	return errors.Join(enc.Close(), f.Close())
}

// lookupConfig returns the config file to load, or "" to use the defaults.
func lookupConfig() string {
	if envConfig, ok := os.LookupEnv("AUTOCOMMANDCONFIG"); ok {
		return envConfig
	}
	if flagConfigFilePath != "" {
		return flagConfigFilePath
	}
	for _, d := range []string{".", userConfigPath} {
		path := filepath.Join(d, configName)
		if exists(path) {
			return path
		}
	}
	return ""
}

func loadConfig(path string) (model.Config, error) {
	if path == "" {
		return model.DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func initAutocommand(cmd *cobra.Command, _ []string) error {
	configPath = lookupConfig()
	var err error
	config, err = loadConfig(configPath)
	if err != nil {
		return err
	}

	// flags have a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}
	if flagStorage != "" {
		config.Storage = flagStorage
	}
	if flagJobs != "" {
		config.Jobs = flagJobs
	}

	slog.SetDefault(log.New(os.Stderr, config.Verbose))

	attrs := slog.Group("autocommand",
		slog.String("cmd", cmd.Name()),
		slog.String("run_id", uuid.NewString()),
		slog.Int("pid", os.Getpid()),
	)
	cmd.SetContext(log.ContextAttrs(cmd.Context(), attrs))

	slog.Debug("autocommand", "configPath", configPath)
	slog.Debug("autocommand", "config", config)
	return nil
}

// openStore opens the configured storage and returns it with the execution
// lock shared by everything touching it during this invocation.
func openStore() (*store.Store, *store.Lock, error) {
	s, err := store.Open(config.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: run `autocommand init` first", err)
	}
	return s, store.NewLock(s.Dir()), nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
