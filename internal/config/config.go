// Package config loads the avatar session CLI configuration from a YAML file,
// dotenv files, EMA_AVATAR_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	orchestration "github.com/koscakluka/ema-avatar/core"
	"github.com/koscakluka/ema-avatar/core/transport"
	"github.com/koscakluka/ema-avatar/core/transport/websocket"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EMA_AVATAR_"

// DotenvFiles are loaded in order; earlier files win.
var DotenvFiles = []string{".env.local", ".env"}

type AudioBackend string

const (
	AudioBackendMiniaudio AudioBackend = "miniaudio"
	AudioBackendPortaudio AudioBackend = "portaudio"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Session SessionConfig `yaml:"session" json:"session"`
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Audio   AudioConfig   `yaml:"audio" json:"audio"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Listen address of the Prometheus endpoint"`
	LogLevel    string `yaml:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// LogFile receives the logs while the terminal UI owns the screen.
	LogFile string `yaml:"log_file" json:"log_file,omitempty"`

	// PrintSchema is set by -print-schema and never read from files.
	PrintSchema bool `yaml:"-" json:"-"`
}

type ServerConfig struct {
	// URL is the websocket endpoint of the conversation backend.
	URL string `yaml:"url" json:"url" jsonschema:"description=Websocket endpoint of the conversation backend"`
	// APIURL is the REST base URL. Without it sessions are not registered and
	// greetings are not fetched.
	APIURL            string        `yaml:"api_url" json:"api_url,omitempty"`
	Token             string        `yaml:"token" json:"token,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval,omitempty"`
}

type SessionConfig struct {
	UserID   string `yaml:"user_id" json:"user_id,omitempty"`
	AvatarID string `yaml:"avatar_id" json:"avatar_id,omitempty"`
	// RoomName of the form liveavatar-<avatar-id>-<a>-<b> selects the avatar
	// when AvatarID is empty.
	RoomName string `yaml:"room_name" json:"room_name,omitempty"`
	Mode     string `yaml:"mode" json:"mode,omitempty" jsonschema:"enum=audio,enum=video"`
	Greeting string `yaml:"greeting" json:"greeting,omitempty" jsonschema:"enum=remote,enum=local,enum=skip"`
	Platform string `yaml:"platform" json:"platform,omitempty"`
}

type EngineConfig struct {
	StartTimeout         time.Duration `yaml:"start_timeout" json:"start_timeout,omitempty"`
	ChunkTimeout         time.Duration `yaml:"chunk_timeout" json:"chunk_timeout,omitempty"`
	BargeInDebounce      time.Duration `yaml:"barge_in_debounce" json:"barge_in_debounce,omitempty"`
	EchoWindow           time.Duration `yaml:"echo_window" json:"echo_window,omitempty"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" json:"reconnect_base_delay,omitempty"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay,omitempty"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts" json:"reconnect_max_attempts,omitempty"`
	// AllowList replaces the phrases that always interrupt the avatar.
	AllowList []string `yaml:"allow_list" json:"allow_list,omitempty"`
	// PlatformTimings add or replace rows of the platform delay table.
	PlatformTimings map[string]orchestration.PlatformTiming `yaml:"platform_timings" json:"platform_timings,omitempty"`
}

type AudioConfig struct {
	Backend            AudioBackend `yaml:"backend" json:"backend,omitempty" jsonschema:"enum=miniaudio,enum=portaudio"`
	BufferSize         int          `yaml:"buffer_size" json:"buffer_size,omitempty"`
	NoiseGateThreshold *float64     `yaml:"noise_gate_threshold" json:"noise_gate_threshold,omitempty"`
}

func Default() Config {
	engine := orchestration.DefaultConfig()
	return Config{
		Session: SessionConfig{
			Mode:     string(transport.ModeAudio),
			Greeting: string(orchestration.GreetingRemote),
			Platform: orchestration.DefaultPlatform,
		},
		Engine: EngineConfig{
			StartTimeout:         engine.StartTimeout,
			ChunkTimeout:         engine.ChunkTimeout,
			BargeInDebounce:      engine.BargeInDebounce,
			EchoWindow:           engine.EchoWindow,
			ReconnectBaseDelay:   engine.ReconnectBaseDelay,
			ReconnectMaxDelay:    engine.ReconnectMaxDelay,
			ReconnectMaxAttempts: engine.ReconnectMaxAttempts,
		},
		Audio: AudioConfig{
			Backend:    AudioBackendMiniaudio,
			BufferSize: 320,
		},
		LogLevel: "info",
		LogFile:  "avatar-session.log",
	}
}

// Load builds the configuration for args, which excludes the program name.
func Load(args []string) (Config, error) {
	if err := loadDotenv(DotenvFiles...); err != nil {
		return Config{}, err
	}

	cfg := Default()

	flags := flag.NewFlagSet("avatar-session", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	path := flags.String("config", os.Getenv(envPrefix+"CONFIG"), "path to a YAML configuration file")
	printSchema := flags.Bool("print-schema", false, "print the JSON schema of the configuration file and exit")
	url := flags.String("url", "", "websocket endpoint of the conversation backend")
	apiURL := flags.String("api-url", "", "REST base URL")
	avatarID := flags.String("avatar", "", "avatar id")
	userID := flags.String("user", "", "user id")
	room := flags.String("room", "", "room name to derive the avatar id from")
	mode := flags.String("mode", "", "output mode: audio or video")
	greeting := flags.String("greeting", "", "greeting mode: remote, local or skip")
	platform := flags.String("platform", "", "platform row of the timing table")
	backend := flags.String("audio", "", "audio backend: miniaudio or portaudio")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	logFile := flags.String("log-file", "", "file the logs are written to")
	if err := flags.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Server.URL = *url
		case "api-url":
			cfg.Server.APIURL = *apiURL
		case "avatar":
			cfg.Session.AvatarID = *avatarID
		case "user":
			cfg.Session.UserID = *userID
		case "room":
			cfg.Session.RoomName = *room
		case "mode":
			cfg.Session.Mode = *mode
		case "greeting":
			cfg.Session.Greeting = *greeting
		case "platform":
			cfg.Session.Platform = *platform
		case "audio":
			cfg.Audio.Backend = AudioBackend(*backend)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
	cfg.PrintSchema = *printSchema

	if cfg.PrintSchema {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotenv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"URL":          &c.Server.URL,
		"API_URL":      &c.Server.APIURL,
		"TOKEN":        &c.Server.Token,
		"USER_ID":      &c.Session.UserID,
		"AVATAR_ID":    &c.Session.AvatarID,
		"ROOM_NAME":    &c.Session.RoomName,
		"MODE":         &c.Session.Mode,
		"GREETING":     &c.Session.Greeting,
		"PLATFORM":     &c.Session.Platform,
		"METRICS_ADDR": &c.MetricsAddr,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FILE":     &c.LogFile,
	}
	for name, field := range strs {
		if value := getenv(envPrefix + name); value != "" {
			*field = value
		}
	}
	if value := getenv(envPrefix + "AUDIO_BACKEND"); value != "" {
		c.Audio.Backend = AudioBackend(value)
	}

	durations := map[string]*time.Duration{
		"START_TIMEOUT":      &c.Engine.StartTimeout,
		"CHUNK_TIMEOUT":      &c.Engine.ChunkTimeout,
		"BARGE_IN_DEBOUNCE":  &c.Engine.BargeInDebounce,
		"HEARTBEAT_INTERVAL": &c.Server.HeartbeatInterval,
	}
	for name, field := range durations {
		value := getenv(envPrefix + name)
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*field = d
	}

	if value := getenv(envPrefix + "RECONNECT_MAX_ATTEMPTS"); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %sRECONNECT_MAX_ATTEMPTS: %w", envPrefix, err)
		}
		c.Engine.ReconnectMaxAttempts = attempts
	}
	return nil
}

func (c Config) Validate() error {
	var errs error
	if c.Server.URL == "" {
		errs = errors.Join(errs, errors.New("server url is required"))
	}
	switch transport.Mode(c.Session.Mode) {
	case transport.ModeAudio, transport.ModeVideo:
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown mode %q", c.Session.Mode))
	}
	switch c.Audio.Backend {
	case AudioBackendMiniaudio, AudioBackendPortaudio:
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown audio backend %q", c.Audio.Backend))
	}
	if err := c.EngineConfig().Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	return errs
}

// EngineConfig maps the file settings onto the engine defaults.
func (c Config) EngineConfig() orchestration.Config {
	engine := orchestration.DefaultConfig()
	engine.Platform = c.Session.Platform
	engine.Greeting = orchestration.GreetingMode(c.Session.Greeting)
	if c.Session.AvatarID != "" {
		engine.DefaultAvatarID = c.Session.AvatarID
	}

	setDuration(&engine.StartTimeout, c.Engine.StartTimeout)
	setDuration(&engine.ChunkTimeout, c.Engine.ChunkTimeout)
	setDuration(&engine.BargeInDebounce, c.Engine.BargeInDebounce)
	setDuration(&engine.EchoWindow, c.Engine.EchoWindow)
	setDuration(&engine.ReconnectBaseDelay, c.Engine.ReconnectBaseDelay)
	setDuration(&engine.ReconnectMaxDelay, c.Engine.ReconnectMaxDelay)
	if c.Engine.ReconnectMaxAttempts != 0 {
		engine.ReconnectMaxAttempts = c.Engine.ReconnectMaxAttempts
	}
	if len(c.Engine.AllowList) > 0 {
		engine.InterruptionAllowList = append([]string(nil), c.Engine.AllowList...)
	}
	for platform, timing := range c.Engine.PlatformTimings {
		engine.PlatformTimings[platform] = timing
	}
	if c.Audio.NoiseGateThreshold != nil {
		engine.NoiseGateThreshold = *c.Audio.NoiseGateThreshold
	}
	return engine
}

func (c Config) TransportConfig() websocket.Config {
	cfg := websocket.Config{
		URL:               c.Server.URL,
		HeartbeatInterval: c.Server.HeartbeatInterval,
	}
	if token := c.Server.Token; token != "" {
		cfg.Token = func(context.Context) (string, error) { return token, nil }
	}
	return cfg
}

func (c Config) StartOptions() orchestration.StartOptions {
	return orchestration.StartOptions{
		Mode:     transport.Mode(c.Session.Mode),
		UserID:   c.Session.UserID,
		AvatarID: c.Session.AvatarID,
		RoomName: c.Session.RoomName,
	}
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Config{})
	schema.Title = "avatar-session configuration"
	return json.MarshalIndent(schema, "", "  ")
}

func setDuration(target *time.Duration, value time.Duration) {
	if value > 0 {
		*target = value
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Server.Token != "" {
		c.Server.Token = strings.Repeat("*", 8)
	}
	return c
}
