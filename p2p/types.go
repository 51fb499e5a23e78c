package p2p

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/pion/webrtc/v3"
)

// PhoneCallConnection is a relay or reflexive server offered for the call.
type PhoneCallConnection struct {
	Ip       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	IsTurn   bool   `json:"turn"`
	IsStun   bool   `json:"stun"`
}

// ICEServers maps connections to ICE servers. Connections that are neither
// turn nor stun are skipped.
func ICEServers(connections []PhoneCallConnection) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(connections))
	for _, connection := range connections {
		address := net.JoinHostPort(connection.Ip, strconv.Itoa(connection.Port))
		var urls []string
		if connection.IsTurn {
			urls = append(urls, "turn:"+address)
		}
		if connection.IsStun {
			urls = append(urls, "stun:"+address)
		}
		if len(urls) == 0 {
			continue
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   connection.Username,
			Credential: connection.Password,
		})
	}
	return servers
}

// Signaler carries encoded signaling messages to the other party.
type Signaler interface {
	SendSignalingData(ctx context.Context, data []byte) error
}

type Config struct {
	UserId string
	// PeerId labels the remote legs, "peer" when empty.
	PeerId string

	Connections []PhoneCallConnection
	IsOutgoing  bool
	// without it only relayed candidates are used
	IsP2pAllowed     bool
	ShouldStartVideo bool

	NegotiationTimeout time.Duration
	SendTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.PeerId) == 0 {
		c.PeerId = "peer"
	}
	if c.NegotiationTimeout == 0 {
		c.NegotiationTimeout = 10 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 5 * time.Second
	}
	return c
}

func (c Config) transportPolicy() webrtc.ICETransportPolicy {
	if c.IsP2pAllowed {
		return webrtc.ICETransportPolicyAll
	}
	return webrtc.ICETransportPolicyRelay
}

type State string

const (
	Idle         State = "idle"
	Connecting   State = "connecting"
	Active       State = "active"
	Disconnected State = "disconnected"
	Failed       State = "failed"
	Closed       State = "closed"
)

// Update is delivered to the listener passed to New.
type Update interface {
	isUpdate()
}

// StateUpdate reports a lifecycle transition. Err is set on Failed.
type StateUpdate struct {
	State State
	Err   error
}

type ConnectionStateUpdate struct {
	State webrtc.PeerConnectionState
}

// RemoteMediaStateUpdate carries the media state the other party announced.
type RemoteMediaStateUpdate struct {
	MediaState MediaState
}

type StreamsUpdate struct {
	HasAudioStream        bool
	HasVideoStream        bool
	HasPresentationStream bool

	IsAudioEnabled        bool
	IsVideoEnabled        bool
	IsPresentationEnabled bool
}

func (StateUpdate) isUpdate()            {}
func (ConnectionStateUpdate) isUpdate()  {}
func (RemoteMediaStateUpdate) isUpdate() {}
func (StreamsUpdate) isUpdate()          {}

var streamTypes = []media.StreamType{media.Audio, media.Video, media.Presentation}
