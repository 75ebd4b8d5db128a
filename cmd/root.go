// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// componentFactory builds the browser-backed services. Tests replace it.
var componentFactory = service.NewComponentFactory()

// NewRootCommand builds a fresh command tree, so flag state never leaks
// between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "flowreplay",
		Short:         "Record a browser flow once and replay it against the same or similar pages.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "flowreplay"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "flowreplay"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting flowreplay", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "flowreplay version %s\n" .Version}}`)
	// Registered up front so command lookup knows --version takes no value.
	root.InitDefaultVersionFlag()
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newRecordCmd(),
		newPlayCmd(),
		newCloneCmd(),
		newListCmd(),
		newLogsCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI with ctx, which should be cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and FLOWREPLAY_* environment
// variables into v.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FLOWREPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}
	return nil
}

// configFromContext returns the configuration loaded by PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withComponents creates the services for one command and releases them
// when fn returns.
func withComponents(cmd *cobra.Command, fn func(cfg *config.Config, c *service.Components) error) error {
	cfg, err := configFromContext(cmd.Context())
	if err != nil {
		return err
	}
	components, err := componentFactory.Create(cmd.Context(), cfg, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()
	return fn(cfg, components)
}
