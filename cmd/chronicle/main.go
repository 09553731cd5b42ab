package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/autom8ter/chronicle"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configKeys = []string{
	"provider",
	"providerParams",
	"maxHistory",
	"staleness",
	"retryMaxTries",
	"compactInterval",
	"logLevel",
	"database",
	"documentPattern",
	"schemaCollection",
	"consumerPrefix",
	"feed",
	"redisAddr",
	"redisStream",
	"redisClaimIdle",
}

func main() {
	root := &cobra.Command{
		Use:          "chronicle",
		Short:        "document history and schema evolution engine",
		SilenceUsage: true,
	}
	var configFile string
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a yaml or json config file")
	open := func(ctx context.Context) (*chronicle.Engine, error) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return nil, err
		}
		return chronicle.Open(ctx, cfg)
	}
	root.AddCommand(
		initCmd(),
		runCmd(open),
		historiesCmd(open),
		revertCmd(open),
		normalizeCmd(),
		diffSchemaCmd(),
	)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file (if any) and CHRONICLE_ prefixed environment variables
func loadConfig(configFile string) (chronicle.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("chronicle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return chronicle.Config{}, err
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return chronicle.Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return chronicle.LoadConfig(v.AllSettings())
}
