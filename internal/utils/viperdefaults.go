package utils

import "github.com/spf13/viper"

// Set the viper defaults for uacrecord.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("backend", "pulseaudio")
	viper.SetDefault("device", "")
	viper.SetDefault("server", "")
	viper.SetDefault("timeout", 10)
	viper.SetDefault("realtime", false)
	viper.SetDefault("duration", 5)
	viper.SetDefault("output", "capture.wav")
	viper.SetDefault("queuesize", 64)
	viper.SetDefault("list", false)
}
