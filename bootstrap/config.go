package bootstrap

import (
	"fmt"
	"os"

	"harvester/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the colored console logger. level can be raised or lowered
// after the config is loaded.
func InitLogger(level zap.AtomicLevel) (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the configuration from path (or the default locations when
// empty) and resolves indexer credentials from the secrets provider
func InitConfig(path string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	manager, err := config.NewSecretManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret manager: %w", err)
	}
	if err := config.LoadSecrets(cfg, manager); err != nil {
		return nil, err
	}
	if manager != nil {
		sugar.Infow("Indexer credentials loaded", "provider", cfg.Secrets.Provider)
	}

	sugar.Infow("Config loaded",
		"config_file", viper.ConfigFileUsed(),
		"connector", cfg.Indexer.Connector,
		"index_prefix", cfg.Indexer.IndexPrefix,
		"cluster", cfg.Cluster.Name,
		"listener", fmt.Sprintf("%s:%d", cfg.Listener.Host, cfg.Listener.Port),
		"workers", cfg.Workers.Count,
		"dlq_enabled", cfg.DLQ.Enabled)
	return cfg, nil
}

// ApplyLogLevel sets level from the log_level setting
func ApplyLogLevel(level zap.AtomicLevel, cfg *config.Config) error {
	parsed, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	level.SetLevel(parsed)
	return nil
}
