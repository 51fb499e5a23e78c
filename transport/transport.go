package transport

import (
	"context"

	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/pion/webrtc/v3"
)

type Config struct {
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	BundlePolicy       webrtc.BundlePolicy
}

type OfferOptions struct {
	ICERestart bool
}

type DataChannelInit struct {
	ID         *uint16
	Negotiated bool
}

// RemoteTrack describes a track announced by the remote side. Remote is nil
// for connections that are not backed by pion.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
	Mid      string
	Remote   *webrtc.TrackRemote
}

type Sender interface {
	Track() media.Track
	ReplaceTrack(track media.Track) error
}

type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}

// Connection is the peer connection surface the call engines negotiate over.
type Connection interface {
	AddTrack(track media.Track) (Sender, error)
	Senders() []Sender
	CreateDataChannel(label string, init DataChannelInit) (DataChannel, error)

	CreateOffer(ctx context.Context, options OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, description webrtc.SessionDescription) error
	SetRemoteDescription(ctx context.Context, description webrtc.SessionDescription) error
	AddICECandidate(ctx context.Context, candidate string) error

	// OnICECandidate receives "candidate:..." strings. End of gathering is not reported.
	OnICECandidate(fn func(candidate string))
	OnICEConnectionStateChange(fn func(state webrtc.ICEConnectionState))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	OnTrack(fn func(track RemoteTrack))

	Close() error
}

type Factory interface {
	NewConnection(config Config) (Connection, error)
}

// FindSender returns the sender currently carrying the track with trackId.
func FindSender(connection Connection, trackId string) Sender {
	if connection == nil {
		return nil
	}
	for _, sender := range connection.Senders() {
		if track := sender.Track(); track != nil && track.ID() == trackId {
			return sender
		}
	}
	return nil
}
