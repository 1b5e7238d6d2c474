package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
	"github.com/spf13/viper"
)

// Read the config file into viper on top of the defaults.
// A missing file is not an error, the defaults are used instead.
func LoadConfig(configFilePath string) error {
	utils.SetViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
			return nil
		}
		slog.Error("error during config read", "err", err)
		return err
	}
	return nil
}

// The capture configuration described by viper.
// timeout is in seconds, a negative value waits without bound.
func CaptureConfig() uac.Config {
	timeout := viper.GetInt("timeout")
	var d time.Duration
	switch {
	case timeout < 0:
		d = -1
	case timeout > 0:
		d = time.Duration(timeout) * time.Second
	}

	return uac.Config{
		Server:    viper.GetString("server"),
		Timeout:   d,
		Realtime:  viper.GetBool("realtime"),
		QueueSize: viper.GetInt("queuesize"),
	}
}
