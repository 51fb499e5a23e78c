package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// LogLevel: one of debug, info, warn, error, fatal, panic. Defaults to info.
	LogLevel string

	// SignalingAddress: base url of the call-control backend, e.g. https://api.example.com
	SignalingAddress string

	// SignalingToken: bearer token sent with every backend request.
	SignalingToken string

	// ICEServers: used by group calls. Direct calls take their servers from the call's connections.
	ICEServers []webrtc.ICEServer

	// AudioBandwidth and VideoBandwidth in kbit/s. Defaults to 16 and 200.
	AudioBandwidth int
	VideoBandwidth int

	// AmplitudeIntervalMs: voice activity sampling period. Defaults to 1000.
	AmplitudeIntervalMs int

	// VoiceThreshold: amplitude above which a participant counts as speaking. Defaults to 0.1.
	VoiceThreshold float64

	// SimulcastLayers: number of video layers the local video is offered with. 1 disables simulcast.
	SimulcastLayers int

	// NegotiationTimeoutMs bounds one offer/answer cycle. Defaults to 10000.
	NegotiationTimeoutMs int
}

func Default() Config {
	return Config{
		LogLevel: "info",
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
		AudioBandwidth:       16,
		VideoBandwidth:       200,
		AmplitudeIntervalMs:  1000,
		VoiceThreshold:       0.1,
		SimulcastLayers:      1,
		NegotiationTimeoutMs: 10000,
	}
}

func (c Config) AmplitudeInterval() time.Duration {
	return time.Duration(c.AmplitudeIntervalMs) * time.Millisecond
}

func (c Config) NegotiationTimeout() time.Duration {
	return time.Duration(c.NegotiationTimeoutMs) * time.Millisecond
}

// WithDefaults replaces zero values with the defaults.
func (c Config) WithDefaults() Config {
	defaults := Default()
	if len(c.LogLevel) == 0 {
		c.LogLevel = defaults.LogLevel
	}
	if c.AudioBandwidth == 0 {
		c.AudioBandwidth = defaults.AudioBandwidth
	}
	if c.VideoBandwidth == 0 {
		c.VideoBandwidth = defaults.VideoBandwidth
	}
	if c.AmplitudeIntervalMs == 0 {
		c.AmplitudeIntervalMs = defaults.AmplitudeIntervalMs
	}
	if c.VoiceThreshold == 0 {
		c.VoiceThreshold = defaults.VoiceThreshold
	}
	if c.SimulcastLayers == 0 {
		c.SimulcastLayers = defaults.SimulcastLayers
	}
	if c.NegotiationTimeoutMs == 0 {
		c.NegotiationTimeoutMs = defaults.NegotiationTimeoutMs
	}
	return c
}

func StringToLogLevel(s string) (log.Level, error) {
	s = strings.ToLower(s)
	switch s {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	case "panic":
		return log.PanicLevel, nil
	default:
		return log.InfoLevel, errors.New("Invalid log level: " + s)
	}
}

// ReadFile overlays the json file at path on top of the defaults.
func ReadFile(path string) (Config, error) {
	config := Default()

	jsonConfigBytes, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := json.Unmarshal(jsonConfigBytes, &config); err != nil {
		return config, err
	}

	return config.WithDefaults(), nil
}

// ApplyLogging sets the global logrus level and formatter.
func (c Config) ApplyLogging() error {
	level, err := StringToLogLevel(c.LogLevel)
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return err
}
