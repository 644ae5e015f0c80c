// Package main provides the leaseflow CLI: an HTTP server over the rental
// application pipeline plus local database utilities.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leaseflow/coreengine/coreengine/config"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "leaseflow",
	Short: "Rental application processing pipeline",
	Long: `Leaseflow runs rental applications through a fixed agent pipeline:
intent detection, jurisdiction canonicalization, compliance rules,
redaction guardrails, knowledge retrieval, and response composition.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./leaseflow.config.yaml or ~/.leaseflow/leaseflow.config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.leaseflow")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("leaseflow.config")
		viper.SetConfigType("yaml")
	}
	// Missing config file is fine, env vars and defaults cover everything.
	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command_failed")
		os.Exit(1)
	}
}
