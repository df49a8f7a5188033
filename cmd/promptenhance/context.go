package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chriskillpack/promptenhance"
	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/config"
	"github.com/chriskillpack/promptenhance/internal/logging"
)

const (
	appDir          = "promptenhance"
	configFileName  = "config.json"
	historyFileName = "history.db"
)

type commandContext struct {
	configFlag  *string
	historyFlag *string
	envFileFlag *string

	configOnce sync.Once
	store      *config.Store
	config     config.Config // file values with environment overrides applied
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag, historyFlag, envFileFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		historyFlag: historyFlag,
		envFileFlag: envFileFlag,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path, err := c.configPath()
		if err != nil {
			c.configErr = err
			return
		}
		store := config.NewStore(path)
		cfg, err := store.Load()
		if err != nil {
			c.configErr = fmt.Errorf("load config %s: %w", path, err)
			return
		}
		cfg, err = config.ApplyEnv(cfg, os.LookupEnv)
		if err != nil {
			c.configErr = fmt.Errorf("apply environment: %w", err)
			return
		}
		logger, err := logging.NewFromConfig(cfg.Logging, os.Stderr)
		if err != nil {
			c.configErr = err
			return
		}
		c.store = store
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() (string, error) {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path, nil
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine config directory: %w", err)
	}
	return filepath.Join(dir, appDir, configFileName), nil
}

// historyPath defaults to a database next to the config file.
func (c *commandContext) historyPath() (string, error) {
	if c.historyFlag != nil {
		if path := strings.TrimSpace(*c.historyFlag); path != "" {
			return path, nil
		}
	}
	cfgPath, err := c.configPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(cfgPath), historyFileName), nil
}

func (c *commandContext) initOptions() (promptenhance.InitOptions, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return promptenhance.InitOptions{}, err
	}
	return promptenhance.InitOptions{Config: cfg, Logger: c.logger}, nil
}

func (c *commandContext) withEnhancer(fn func(enhancer.Enhancer) error) error {
	opts, err := c.initOptions()
	if err != nil {
		return err
	}
	e, err := promptenhance.NewEnhancer(opts)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func (c *commandContext) withPool(fn func(*promptenhance.Pool) error) error {
	opts, err := c.initOptions()
	if err != nil {
		return err
	}
	pool, err := promptenhance.NewPoolFromConfig(opts)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

func (c *commandContext) withHistory(ctx context.Context, fn func(*promptenhance.History) error) error {
	path, err := c.historyPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	h, err := promptenhance.NewHistory(ctx, path)
	if err != nil {
		return fmt.Errorf("open history %s: %w", path, err)
	}
	defer h.Close()
	return fn(h)
}

// recordHistory stores conversions, logging rather than failing when the
// history database is unavailable.
func (c *commandContext) recordHistory(ctx context.Context, convs []*promptenhance.Conversion) {
	err := c.withHistory(ctx, func(h *promptenhance.History) error {
		return h.Record(ctx, convs...)
	})
	if err != nil {
		logging.OrNop(c.logger).Warn("could not record history", slog.String("error", err.Error()))
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
