package groupcall

import (
	"github.com/Connect-Club/connectclub-calls-client/colibri"
)

type ConnectionState string

const (
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Reconnecting ConnectionState = "reconnecting"
	Disconnected ConnectionState = "disconnected"
	Failed       ConnectionState = "failed"
)

// Update is delivered to the listener passed to New. The concrete types are
// the ones declared below.
type Update interface {
	isUpdate()
}

type ConnectionStateUpdate struct {
	State             ConnectionState
	IsSpeakerDisabled bool
	Err               error
}

type StreamsUpdate struct {
	UserId                string
	HasAudioStream        bool
	HasVideoStream        bool
	HasPresentationStream bool
	Amplitude             float64
}

type LeavePresentationUpdate struct{}

type DominantSpeakerUpdate struct {
	Endpoint string
	UserId   string
}

type ConnectivityUpdate struct {
	Endpoint string
	UserId   string
	Active   bool
}

type SenderVideoConstraintsUpdate struct {
	Constraints colibri.VideoConstraints
}

func (ConnectionStateUpdate) isUpdate()        {}
func (StreamsUpdate) isUpdate()                {}
func (LeavePresentationUpdate) isUpdate()      {}
func (DominantSpeakerUpdate) isUpdate()        {}
func (ConnectivityUpdate) isUpdate()           {}
func (SenderVideoConstraintsUpdate) isUpdate() {}
