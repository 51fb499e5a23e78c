package groupcall

import (
	"github.com/Connect-Club/connectclub-calls-client/colibri"
)

func (c *Call) handleDataChannelMessage(data []byte) {
	msg, err := colibri.Decode(data)
	if err != nil {
		c.log.WithError(err).Warn("cannot decode data channel message")
		return
	}
	switch msg := msg.(type) {
	case colibri.DominantSpeakerEndpointChangeEvent:
		c.post(DominantSpeakerUpdate{
			Endpoint: msg.DominantSpeakerEndpoint,
			UserId:   c.userIdByEndpoint(msg.DominantSpeakerEndpoint),
		})
	case colibri.EndpointConnectivityStatusChangeEvent:
		c.post(ConnectivityUpdate{
			Endpoint: msg.Endpoint,
			UserId:   c.userIdByEndpoint(msg.Endpoint),
			Active:   msg.Active,
		})
	case colibri.SenderVideoConstraints:
		c.post(SenderVideoConstraintsUpdate{Constraints: msg.VideoConstraints})
	default:
		c.log.WithField("colibriClass", msg.ColibriClass()).Debug("data channel message ignored")
	}
}

func (c *Call) userIdByEndpoint(endpoint string) string {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if c.conference == nil {
		return ""
	}
	if ssrc := c.conference.FindByEndpoint(endpoint); ssrc != nil {
		return ssrc.UserId
	}
	return ""
}

// SetVideoConstraints tells the relay which video it should forward to us.
func (c *Call) SetVideoConstraints(constraints colibri.ReceiverVideoConstraints) error {
	if !c.isActive.Load() {
		return InactiveCallError
	}
	if !c.dataChannelOpen.Load() {
		return DataChannelClosedError
	}
	body, err := colibri.Encode(constraints)
	if err != nil {
		return err
	}
	c.globalLock.Lock()
	dataChannel := c.dataChannel
	c.globalLock.Unlock()
	return dataChannel.Send(body)
}
