package media

import (
	"context"
	"fmt"

	"github.com/Connect-Club/connectclub-calls-client/internal/volatile"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

type StreamType string

const (
	Audio        StreamType = "audio"
	Video        StreamType = "video"
	Presentation StreamType = "presentation"
)

func (s StreamType) Kind() webrtc.RTPCodecType {
	if s == Audio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

func (f Facing) Toggle() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Track is a local media source. A disabled track carries no real media.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	Local() webrtc.TrackLocal
	Stop()
}

// Devices acquires capture tracks.
type Devices interface {
	Acquire(ctx context.Context, streamType StreamType, facing Facing) (Track, error)
}

type StaticTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	enabled bool
	stopped *volatile.Value[bool]
	local   *webrtc.TrackLocalStaticSample
}

func codecFor(kind webrtc.RTPCodecType) webrtc.RTPCodecCapability {
	if kind == webrtc.RTPCodecTypeAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

// NewStaticTrack wraps a pion sample track under a fresh id. The stream id
// equals the track id.
func NewStaticTrack(kind webrtc.RTPCodecType, enabled bool) (*StaticTrack, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codecFor(kind), id, id)
	if err != nil {
		return nil, fmt.Errorf("%w, kind = %v: %v", TrackCreationError, kind, err)
	}
	return &StaticTrack{
		id:      id,
		kind:    kind,
		enabled: enabled,
		stopped: volatile.NewValue(false),
		local:   local,
	}, nil
}

// NewPlaceholder returns the inert silence (audio) or black (video) track
// that keeps a sender alive while no capture is running.
func NewPlaceholder(kind webrtc.RTPCodecType) (*StaticTrack, error) {
	return NewStaticTrack(kind, false)
}

func (t *StaticTrack) ID() string {
	return t.id
}

func (t *StaticTrack) Kind() webrtc.RTPCodecType {
	return t.kind
}

func (t *StaticTrack) Enabled() bool {
	return t.enabled && !t.stopped.Load()
}

func (t *StaticTrack) Local() webrtc.TrackLocal {
	return t.local
}

func (t *StaticTrack) Stop() {
	t.stopped.Store(true)
}

func (t *StaticTrack) Stopped() bool {
	return t.stopped.Load()
}

// PlaceholderDevices hands out enabled tracks that never produce samples.
// It stands in for a capture layer in tools and tests.
type PlaceholderDevices struct{}

func (PlaceholderDevices) Acquire(ctx context.Context, streamType StreamType, facing Facing) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewStaticTrack(streamType.Kind(), true)
}
