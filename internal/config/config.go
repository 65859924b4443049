package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the turn-taking voice service.
// Everything is fixed at process start; sessions never mutate it.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// AudioDir holds the WAV files the agent plays back as responses.
	AudioDir string

	// InputSampleRate is the rate of inbound client audio; the classifier
	// frame size in bytes derives from it together with FrameSamples.
	InputSampleRate  int
	OutputSampleRate int

	// FrameSamples is the classifier's required window. The Silero ONNX
	// model wants 512 samples for 16kHz audio, so that is the default.
	FrameSamples    int
	SpeechThreshold float64

	SilenceThreshold    time.Duration
	ReceivePollInterval time.Duration
	ChunkDuration       time.Duration

	DatabaseURL string
}

// FrameBytes is the classification frame size in bytes (16-bit mono PCM).
func (c Config) FrameBytes() int {
	return c.FrameSamples * 2
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":3001"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		AllowAnyOrigin:      false,
		AudioDir:            envOrDefault("AUDIO_DIR", "mock_recording"),
		InputSampleRate:     16000,
		OutputSampleRate:    24000,
		FrameSamples:        512,
		SpeechThreshold:     0.5,
		SilenceThreshold:    500 * time.Millisecond,
		ReceivePollInterval: 50 * time.Millisecond,
		ChunkDuration:       32 * time.Millisecond,
		ShutdownTimeout:     15 * time.Second,
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.InputSampleRate, err = intFromEnv("INPUT_SAMPLE_RATE", cfg.InputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.OutputSampleRate, err = intFromEnv("OUTPUT_SAMPLE_RATE", cfg.OutputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameSamples, err = intFromEnv("VAD_FRAME_SAMPLES", cfg.FrameSamples)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechThreshold, err = floatFromEnv("VAD_SPEECH_THRESHOLD", cfg.SpeechThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceThreshold, err = durationFromEnv("SILENCE_THRESHOLD", cfg.SilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.ReceivePollInterval, err = durationFromEnv("RECEIVE_POLL_INTERVAL", cfg.ReceivePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkDuration, err = durationFromEnv("CHUNK_DURATION", cfg.ChunkDuration)
	if err != nil {
		return Config{}, err
	}

	if cfg.InputSampleRate <= 0 {
		return Config{}, fmt.Errorf("INPUT_SAMPLE_RATE must be positive")
	}
	if cfg.OutputSampleRate <= 0 {
		return Config{}, fmt.Errorf("OUTPUT_SAMPLE_RATE must be positive")
	}
	if cfg.FrameSamples <= 0 {
		return Config{}, fmt.Errorf("VAD_FRAME_SAMPLES must be positive")
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return Config{}, fmt.Errorf("VAD_SPEECH_THRESHOLD must be in [0, 1]")
	}
	if cfg.SilenceThreshold <= 0 {
		return Config{}, fmt.Errorf("SILENCE_THRESHOLD must be positive")
	}
	if cfg.ReceivePollInterval <= 0 {
		return Config{}, fmt.Errorf("RECEIVE_POLL_INTERVAL must be positive")
	}
	if cfg.ChunkDuration <= 0 {
		return Config{}, fmt.Errorf("CHUNK_DURATION must be positive")
	}
	if strings.TrimSpace(cfg.AudioDir) == "" {
		return Config{}, fmt.Errorf("AUDIO_DIR must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
