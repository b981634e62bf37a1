package orchestration

import (
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-avatar/core/audio"
	"github.com/koscakluka/ema-avatar/core/interruptions"
	"github.com/koscakluka/ema-avatar/core/mic"
	"github.com/koscakluka/ema-avatar/core/playback"
	"github.com/koscakluka/ema-avatar/core/reconnect"
)

// GreetingMode selects who speaks turn 0.
type GreetingMode string

const (
	// GreetingRemote asks the backend to speak the greeting.
	GreetingRemote GreetingMode = "remote"
	// GreetingLocal synthesizes the greeting over REST and plays it locally.
	GreetingLocal GreetingMode = "local"
	GreetingSkip  GreetingMode = "skip"
)

const DefaultPlatform = "default"

// PlatformTiming holds the delays that differ between playback environments.
type PlatformTiming struct {
	// MicResumeDelay is how long after the avatar stops speaking the
	// microphone is reported as listening again.
	MicResumeDelay time.Duration `yaml:"mic_resume_delay" json:"mic_resume_delay"`
	// PlaybackStartLead is added before the first chunk after silence.
	PlaybackStartLead time.Duration `yaml:"playback_start_lead" json:"playback_start_lead"`
}

// DefaultPlatformTimings is the environment to delay table used unless
// replaced through [Config].
func DefaultPlatformTimings() map[string]PlatformTiming {
	return map[string]PlatformTiming{
		DefaultPlatform: {MicResumeDelay: 300 * time.Millisecond},
		"ios":           {MicResumeDelay: 800 * time.Millisecond, PlaybackStartLead: 100 * time.Millisecond},
		"safari":        {MicResumeDelay: 500 * time.Millisecond, PlaybackStartLead: 50 * time.Millisecond},
		"android":       {MicResumeDelay: 400 * time.Millisecond},
	}
}

type Config struct {
	StartTimeout time.Duration
	ChunkTimeout time.Duration

	BargeInDebounce       time.Duration
	EchoWindow            time.Duration
	EchoMaxLength         int
	MinPartialLength      int
	InterruptionAllowList []string

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	MicFrameDuration        time.Duration
	NoiseGateThreshold      float64
	NoiseGateHangoverFrames int
	InputEncoding           audio.EncodingInfo
	OutputEncoding          audio.EncodingInfo

	Platform        string
	PlatformTimings map[string]PlatformTiming

	DefaultAvatarID string
	Greeting        GreetingMode
}

func DefaultConfig() Config {
	return Config{
		StartTimeout: 30 * time.Second,
		ChunkTimeout: playback.DefaultChunkTimeout,

		BargeInDebounce:       interruptions.DefaultDebounce,
		EchoWindow:            interruptions.DefaultEchoWindow,
		EchoMaxLength:         interruptions.DefaultEchoMaxLength,
		MinPartialLength:      interruptions.DefaultMinPartialLen,
		InterruptionAllowList: append([]string(nil), interruptions.DefaultAllowList...),

		ReconnectBaseDelay:   reconnect.DefaultBaseDelay,
		ReconnectMaxDelay:    reconnect.DefaultMaxDelay,
		ReconnectMaxAttempts: reconnect.DefaultMaxAttempts,

		MicFrameDuration:        mic.DefaultFrameDuration,
		NoiseGateThreshold:      mic.DefaultGateThreshold,
		NoiseGateHangoverFrames: mic.DefaultHangoverFrames,
		InputEncoding:           audio.GetDefaultEncodingInfo(),
		OutputEncoding:          audio.GetDefaultEncodingInfo(),

		Platform:        DefaultPlatform,
		PlatformTimings: DefaultPlatformTimings(),

		DefaultAvatarID: "josh_lite3_20230714",
		Greeting:        GreetingRemote,
	}
}

// Timing returns the delays for the configured platform, falling back to the
// default row.
func (c Config) Timing() PlatformTiming {
	if timing, ok := c.PlatformTimings[c.Platform]; ok {
		return timing
	}
	return c.PlatformTimings[DefaultPlatform]
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.StartTimeout <= 0:
		return fmt.Errorf("start timeout must be positive, got %s", c.StartTimeout)
	case c.ChunkTimeout <= 0:
		return fmt.Errorf("chunk timeout must be positive, got %s", c.ChunkTimeout)
	case c.ReconnectMaxAttempts <= 0:
		return fmt.Errorf("reconnect attempts must be positive, got %d", c.ReconnectMaxAttempts)
	}

	switch c.Greeting {
	case GreetingRemote, GreetingLocal, GreetingSkip:
	default:
		return fmt.Errorf("unknown greeting mode %q", c.Greeting)
	}
	return nil
}

func (c Config) clone() Config {
	var clone Config
	if err := copier.CopyWithOption(&clone, &c, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to deep copy config, sharing it instead", "error", err)
		return c
	}
	return clone
}
