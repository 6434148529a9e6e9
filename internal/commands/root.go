// internal/commands/root.go
package weave

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
)

// apiKeyEnv is consulted when remote.apiKey is not configured.
const apiKeyEnv = "OPENAI_API_KEY"

var (
	cfgFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "weave",
	Short:        "weave: write stories with a local or remote language model",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureConfigLoaded(); err != nil {
			return err
		}

		var cfg appconfig.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		cfg.ConfigPath = viper.ConfigFileUsed()
		keyFromEnv := applyAPIKeyEnv(&cfg)
		currentConfig = &cfg

		// The editor owns the terminal; its logs go to the file only.
		console := cfg.Debug && cmd.Name() != "write"
		if err := logging.Init(logging.Options{Path: cfg.LogFilePath(), Debug: cfg.Debug, Console: console}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if keyFromEnv {
			logging.Warn("using API key from the environment; prefer remote.apiKey in a protected config file",
				zap.String("env", apiKeyEnv))
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (e.g., config/config.json)")

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("logFile", "", "path to the log file")
	rootCmd.PersistentFlags().String("backend", "", "generation backend: local or remote")
	rootCmd.PersistentFlags().String("modelPath", "", "local model file")
	rootCmd.PersistentFlags().String("model", "", "remote model name")
	rootCmd.PersistentFlags().Int("maxTokens", 0, "token budget per generation")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("logFile", rootCmd.PersistentFlags().Lookup("logFile"))
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("local.modelPath", rootCmd.PersistentFlags().Lookup("modelPath"))
	_ = viper.BindPFlag("remote.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("generation.maxTokens", rootCmd.PersistentFlags().Lookup("maxTokens"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("WEAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// ensureConfigLoaded validates and reads the config file. A missing file
// leaves the defaults in place.
func ensureConfigLoaded() error {
	if path := viper.ConfigFileUsed(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			return nil
		case err != nil:
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := appconfig.Validate(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// applyAPIKeyEnv fills an empty remote API key from the environment and
// reports whether it did.
func applyAPIKeyEnv(cfg *appconfig.Config) bool {
	if strings.TrimSpace(cfg.Remote.APIKey) != "" {
		return false
	}
	key := strings.TrimSpace(os.Getenv(apiKeyEnv))
	if key == "" {
		return false
	}
	cfg.Remote.APIKey = key
	return true
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	return currentConfig
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
