package config

import (
	"context"
	"os"
	"sync"
	"time"

	"waconsole/internal/constants"
	"waconsole/internal/models"

	"github.com/sirupsen/logrus"
)

// ConfigWatcher polls the config file and reloads it when its mtime moves.
type ConfigWatcher struct {
	configPath   string
	logger       *logrus.Logger
	pollInterval time.Duration

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath:   configPath,
		logger:       logger,
		pollInterval: time.Duration(constants.DefaultConfigPollIntervalSec) * time.Second,
	}
}

// Start loads the config once and then polls until ctx is done.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}
			if stat.ModTime().After(lastModTime) {
				lastModTime = stat.ModTime()
				cw.reload()
			}
		}
	}
}

// GetConfig returns the current configuration
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback run after each successful reload.
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reload() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")
	cw.logChanges(oldConfig, newConfig)

	for _, cb := range callbacks {
		cw.notify(cb, newConfig)
	}
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), config *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(config)
}

func (cw *ConfigWatcher) logChanges(old, new *models.Config) {
	if old == nil {
		return
	}
	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": old.LogLevel, "new": new.LogLevel}).Info("Log level changed")
	}
	if old.RetentionDays != new.RetentionDays {
		cw.logger.WithFields(logrus.Fields{"old": old.RetentionDays, "new": new.RetentionDays}).Info("Retention days changed")
	}
	if old.CleanupSchedule != new.CleanupSchedule {
		cw.logger.WithFields(logrus.Fields{"old": old.CleanupSchedule, "new": new.CleanupSchedule}).Info("Cleanup schedule changed")
	}
	if old.Bot.APIBaseURL != new.Bot.APIBaseURL || old.Bot.StreamURL != new.Bot.StreamURL || old.Bot.APIKey != new.Bot.APIKey {
		cw.logger.Warn("Bot endpoints changed; restart required to take effect")
	}
	if old.Server != new.Server {
		cw.logger.Warn("Dashboard server settings changed; restart required to take effect")
	}
}
