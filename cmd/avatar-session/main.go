// Command avatar-session runs one conversational avatar session in the
// terminal: the microphone streams to the backend, the avatar's speech plays
// through the speakers and the conversation is shown as it happens.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	orchestration "github.com/koscakluka/ema-avatar/core"
	"github.com/koscakluka/ema-avatar/core/audio/miniaudio"
	"github.com/koscakluka/ema-avatar/core/audio/portaudio"
	"github.com/koscakluka/ema-avatar/core/metrics"
	"github.com/koscakluka/ema-avatar/core/mic"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/remote"
	"github.com/koscakluka/ema-avatar/core/transport/websocket"
	"github.com/koscakluka/ema-avatar/internal/config"
)

const shutdownTimeout = 3 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if cfg.PrintSchema {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(schema, '\n'))
		return err
	}

	closeLog, err := setupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.Info("starting avatar session", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		server := newMetricsServer(cfg.MetricsAddr, registry)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to stop metrics server", "error", err)
			}
		}()
	}

	devices, err := openAudio(cfg.Audio)
	if err != nil {
		return err
	}
	defer func() {
		if err := devices.close(); err != nil {
			slog.Warn("failed to close audio devices", "error", err)
		}
	}()

	adapter := NewEventAdapter()
	opts := []orchestration.EngineOption{
		orchestration.WithConfig(cfg.EngineConfig()),
		orchestration.WithBaseContext(ctx),
		orchestration.WithDialer(websocket.NewDialer(cfg.TransportConfig())),
		orchestration.WithMicrophone(devices.acquire),
		orchestration.WithAudioOutput(devices.speaker),
		orchestration.WithMetrics(metrics.New(registry)),
		orchestration.WithObserver(adapter.HandleEvent),
	}
	if cfg.Server.APIURL != "" {
		var clientOpts []remote.ClientOption
		if cfg.Server.Token != "" {
			clientOpts = append(clientOpts, remote.WithTokenSource(remote.StaticToken(cfg.Server.Token)))
		}
		opts = append(opts, orchestration.WithRemote(remote.NewClient(cfg.Server.APIURL, clientOpts...)))
	}
	engine := orchestration.NewEngine(opts...)
	defer engine.Close()

	program := tea.NewProgram(NewModel(ctx, engine, cfg.StartOptions()), tea.WithAltScreen(), tea.WithContext(ctx))
	adapter.Attach(program)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}

func setupLogging(level, path string) (func(), error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: logLevel})))
	return func() { _ = file.Close() }, nil
}

// audioDevices binds one audio backend to the engine's microphone and
// speaker hooks.
type audioDevices struct {
	acquire mic.Acquirer
	speaker playback.Output
	close   func() error
}

func openAudio(cfg config.AudioConfig) (audioDevices, error) {
	switch cfg.Backend {
	case config.AudioBackendPortaudio:
		client, err := portaudio.NewClient(cfg.BufferSize)
		if err != nil {
			return audioDevices{}, fmt.Errorf("failed to initialize portaudio: %w", err)
		}
		speaker, err := client.Speaker()
		if err != nil {
			_ = client.Close()
			return audioDevices{}, fmt.Errorf("failed to open speaker: %w", err)
		}
		return audioDevices{acquire: client.AcquireMicrophone, speaker: speaker, close: client.Close}, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return audioDevices{}, fmt.Errorf("failed to initialize miniaudio: %w", err)
		}
		speaker, err := client.Speaker()
		if err != nil {
			_ = client.Close()
			return audioDevices{}, fmt.Errorf("failed to open speaker: %w", err)
		}
		return audioDevices{acquire: client.AcquireMicrophone, speaker: speaker, close: client.Close}, nil
	}
}
