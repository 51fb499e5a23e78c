package groupcall

import (
	"context"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/webrtc/v3"
)

type ParticipantMedia struct {
	Endpoint     string                   `json:"endpoint"`
	SourceGroups []conference.SourceGroup `json:"sourceGroups"`
}

// Participant is one entry of a participant delta as sent by the backend.
type Participant struct {
	Id            string            `json:"id"`
	IsSelf        bool              `json:"isSelf"`
	IsLeft        bool              `json:"isLeft"`
	IsMuted       bool              `json:"isMuted"`
	IsMutedByMe   bool              `json:"isMutedByMe"`
	CanSelfUnmute bool              `json:"canSelfUnmute"`
	IsVideoJoined bool              `json:"isVideoJoined"`
	RaiseHand     bool              `json:"raiseHand"`
	Source        int32             `json:"source"`
	Volume        int               `json:"volume,omitempty"`
	Video         *ParticipantMedia `json:"video,omitempty"`
	Presentation  *ParticipantMedia `json:"presentation,omitempty"`
}

type MediaDescription struct {
	PayloadTypes []conference.PayloadType `json:"payload-types"`
	Extensions   []conference.Extension   `json:"rtp-hdrexts"`
}

// ConnectionData is the backend answer to a join request.
type ConnectionData struct {
	Transport conference.Transport `json:"transport"`
	Audio     *MediaDescription    `json:"audio,omitempty"`
	Video     *MediaDescription    `json:"video,omitempty"`
}

type ParticipantFlags struct {
	IsMuted        bool `json:"isMuted"`
	IsVideoStopped bool `json:"isVideoStopped"`
}

// Backend is the call-control service of the group call.
type Backend interface {
	JoinCall(ctx context.Context, payload *sdp.JoinPayload) (*ConnectionData, error)
	JoinPresentation(ctx context.Context, payload *sdp.JoinPayload) (*ConnectionData, error)
	LeavePresentation(ctx context.Context) error
	EditParticipant(ctx context.Context, flags ParticipantFlags) error
	LeaveCall(ctx context.Context) error
	// ParticipantUpdates delivers participant deltas until ctx is done.
	ParticipantUpdates(ctx context.Context) (<-chan []Participant, error)
}

// AudioOutput renders remote audio.
type AudioOutput interface {
	// Attach starts playing track and may return an analyser for its level.
	Attach(userId string, track transport.RemoteTrack) media.Analyser
	Detach(userId string)
	SetGain(userId string, gain float64)
	SetMuted(muted bool)
}

type nopAudioOutput struct{}

func (nopAudioOutput) Attach(string, transport.RemoteTrack) media.Analyser { return nil }
func (nopAudioOutput) Detach(string)                                    {}
func (nopAudioOutput) SetGain(string, float64)                          {}
func (nopAudioOutput) SetMuted(bool)                                    {}

type Config struct {
	UserId     string
	ICEServers []webrtc.ICEServer

	AudioBandwidth     int
	VideoBandwidth     int
	SimulcastLayers    int
	AmplitudeInterval  time.Duration
	VoiceThreshold     float64
	NegotiationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AmplitudeInterval <= 0 {
		c.AmplitudeInterval = time.Second
	}
	if c.VoiceThreshold <= 0 {
		c.VoiceThreshold = media.Threshold
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 10 * time.Second
	}
	return c
}
