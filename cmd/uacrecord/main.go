package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/cmd/uacrecord/config"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/backends"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/paclient"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/recorder"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// How long to wait for the first frame before giving up.
const firstFrameTimeout = 5 * time.Second

func main() {
	configFilePath := pflag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	pflag.Bool("list", false, "List the server and its devices, then exit.")
	pflag.String("backend", "pulseaudio", "Capture backend, one of pulseaudio, alsa, wavfile.")
	pflag.String("device", "", "Device to record from. Empty selects the default source.")
	pflag.String("server", "", "Sound server to connect to. Empty selects the default server.")
	pflag.Int("duration", 5, "Seconds to record for.")
	pflag.String("output", "capture.wav", "Path of the .WAV file to write.")
	pflag.Bool("realtime", false, "Ask for realtime scheduling of the capture thread.")
	pflag.Parse()

	if err := config.LoadConfig(*configFilePath); err != nil {
		panic(err)
	}
	// Flags given on the command line win over the config file.
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		panic(err)
	}

	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("uacrecord failed", "err", err, "stage", uac.StageOf(err))
		fmt.Fprintln(os.Stderr, err)
		stop()
		if logFilePointer != nil {
			logFilePointer.Close()
		}
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	backendID := backends.BackendTypeEnum(viper.GetString("backend"))
	ops, err := backends.NewOps(backendID, backends.Options{})
	if err != nil {
		slog.Error("could not create backend", "backend", backendID, "err", err)
		return err
	}

	captureContext := uac.NewContext(config.CaptureConfig())
	defer captureContext.Close()

	device := viper.GetString("device")
	if err := captureContext.Open(ops, device); err != nil {
		return err
	}

	if viper.GetBool("list") {
		return list(captureContext)
	}
	return record(ctx, captureContext)
}

func list(captureContext *uac.Context) error {
	device, err := captureContext.Device()
	if err != nil {
		return err
	}
	if server, ok := device.(interface{ ServerInfo() paclient.ServerInfo }); ok {
		info := server.ServerInfo()
		fmt.Printf("Server:         %s %s\n", info.ServerName, info.ServerVersion)
		fmt.Printf("User:           %s@%s\n", info.UserName, info.HostName)
		fmt.Printf("Sample spec:    %s\n", info.SampleSpec)
		fmt.Printf("Default source: %s\n", info.DefaultSourceName)
		fmt.Printf("Default sink:   %s\n", info.DefaultSinkName)
	}

	sources, err := captureContext.Sources()
	if err != nil {
		return err
	}
	sinks, err := captureContext.Sinks()
	if err != nil {
		return err
	}

	fmt.Printf("\n%d sources\n", len(sources))
	for _, info := range sources {
		fmt.Printf("\n%s", info)
	}
	fmt.Printf("\n%d sinks\n", len(sinks))
	for _, info := range sinks {
		fmt.Printf("\n%s", info)
	}
	return nil
}

func record(ctx context.Context, captureContext *uac.Context) error {
	duration := time.Duration(viper.GetInt("duration")) * time.Second
	output := viper.GetString("output")

	if err := captureContext.StartStream(); err != nil {
		return err
	}

	// The file takes the format of the first frame, which is whatever the device negotiated.
	var writer *recorder.WAVWriter
	select {
	case f, ok := <-captureContext.Frames():
		if !ok {
			return uac.ErrClosed
		}
		var err error
		writer, err = recorder.NewWAVWriter(output, int(f.SampleRate), f.Channels())
		if err != nil {
			return err
		}
		if err := writer.Write(f); err != nil {
			slog.Error("error while writing frame to file", "err", err)
		}
	case <-time.After(firstFrameTimeout):
		captureContext.StopStream()
		return fmt.Errorf("%w: no frames captured", uac.ErrTimedOut)
	case <-ctx.Done():
		return captureContext.StopStream()
	}

	slog.Info("recording", "output", output, "duration", duration)
	recordCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	writer.Consume(recordCtx, captureContext.Frames())

	stopErr := captureContext.StopStream()
	closeErr := writer.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return err
	}

	written, skipped := writer.Counts()
	stats := captureContext.Stats()
	fmt.Printf("Wrote %d frames to %s (%d skipped)\n", written, output, skipped)
	fmt.Printf("Frames:            %d\n", stats.Frames)
	fmt.Printf("Bytes:             %d\n", stats.Bytes)
	fmt.Printf("Holes:             %d\n", stats.Holes)
	fmt.Printf("Format fallbacks:  %d\n", stats.FormatFallbacks)
	fmt.Printf("Channel fallbacks: %d\n", stats.ChannelFallbacks)
	fmt.Printf("Overflows:         %d\n", stats.Overflows)
	fmt.Printf("Underflows:        %d\n", stats.Underflows)
	fmt.Printf("Queue drops:       %d\n", stats.QueueDrops)
	return nil
}
