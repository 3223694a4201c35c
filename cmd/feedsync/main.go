package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/feedsync/internal/config"
	"github.com/MarcoPoloResearchLab/feedsync/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "feedsync",
		Short:         "Client-side timeline synchronization for a federated note instance",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newTimelineCommand(), newUsersCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("instance-url", "", "Base URL of the remote instance")
	cmd.PersistentFlags().String("instance-token", "", "Access token for the remote instance (overrides env)")
	cmd.PersistentFlags().Int64("account-id", defaults.GetInt64("account.id"), "Local account scope")
	cmd.PersistentFlags().String("account-user-id", "", "Remote id of the signed-in user")
	cmd.PersistentFlags().Int("page-limit", defaults.GetInt("feed.page_limit"), "Items requested per page")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Inspection API listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite cache path (empty keeps the cache in memory)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Inspection token signing secret (overrides env)")
	cmd.PersistentFlags().Bool("stream", defaults.GetBool("stream.enabled"), "Keep a push stream open while serving")

	bindFlag(cmd, "instance.url", "instance-url")
	bindFlag(cmd, "instance.token", "instance-token")
	bindFlag(cmd, "account.id", "account-id")
	bindFlag(cmd, "account.user_id", "account-user-id")
	bindFlag(cmd, "feed.page_limit", "page-limit")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "inspect.signing_secret", "signing-secret")
	bindFlag(cmd, "stream.enabled", "stream")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func loadRuntime(console bool) (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, console)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}
