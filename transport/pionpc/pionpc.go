package pionpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Factory creates pion peer connections sharing one API instance.
type Factory struct {
	api          *webrtc.API
	interceptors *interceptor.Registry
	log          *logrus.Entry
}

// NewFactory registers the default codecs and the default nack, rtcp report
// and twcc interceptors.
func NewFactory(log *logrus.Entry) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("cannot register default codecs: %w", err)
	}
	interceptors := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptors); err != nil {
		return nil, fmt.Errorf("cannot register default interceptors: %w", err)
	}
	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptors),
		),
		interceptors: interceptors,
		log:          log,
	}, nil
}

func (f *Factory) NewConnection(config transport.Config) (transport.Connection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         config.ICEServers,
		ICETransportPolicy: config.ICETransportPolicy,
		BundlePolicy:       config.BundlePolicy,
		SDPSemantics:       webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, err
	}
	return &connection{pc: pc, log: f.log}, nil
}

type connection struct {
	pc  *webrtc.PeerConnection
	log *logrus.Entry

	mu      sync.Mutex
	senders []transport.Sender
}

type sender struct {
	mu    sync.Mutex
	rtp   *webrtc.RTPSender
	track media.Track
}

func (s *sender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *sender) ReplaceTrack(track media.Track) error {
	if err := s.rtp.ReplaceTrack(track.Local()); err != nil {
		return err
	}
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

func (c *connection) AddTrack(track media.Track) (transport.Sender, error) {
	rtpSender, err := c.pc.AddTrack(track.Local())
	if err != nil {
		return nil, err
	}
	// incoming RTCP has to be read for interceptors to work
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()
	s := &sender{rtp: rtpSender, track: track}
	c.mu.Lock()
	c.senders = append(c.senders, s)
	c.mu.Unlock()
	return s, nil
}

func (c *connection) Senders() []transport.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	senders := make([]transport.Sender, len(c.senders))
	copy(senders, c.senders)
	return senders
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string {
	return d.dc.Label()
}

func (d *dataChannel) Send(data []byte) error {
	return d.dc.SendText(string(data))
}

func (d *dataChannel) OnOpen(fn func()) {
	d.dc.OnOpen(fn)
}

func (d *dataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}

func (c *connection) CreateDataChannel(label string, init transport.DataChannelInit) (transport.DataChannel, error) {
	negotiated := init.Negotiated
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		ID:         init.ID,
		Negotiated: &negotiated,
	})
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (c *connection) CreateOffer(ctx context.Context, options transport.OfferOptions) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: options.ICERestart})
}

func (c *connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.pc.CreateAnswer(nil)
}

func (c *connection) SetLocalDescription(ctx context.Context, description webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetLocalDescription(description)
}

func (c *connection) SetRemoteDescription(ctx context.Context, description webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(description)
}

func (c *connection) AddICECandidate(ctx context.Context, candidate string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var sdpMLineIndex uint16
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &sdpMLineIndex,
	})
}

func (c *connection) OnICECandidate(fn func(candidate string)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON().Candidate)
	})
}

func (c *connection) OnICEConnectionStateChange(fn func(state webrtc.ICEConnectionState)) {
	c.pc.OnICEConnectionStateChange(fn)
}

func (c *connection) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *connection) OnTrack(fn func(track transport.RemoteTrack)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		mid := ""
		for _, transceiver := range c.pc.GetTransceivers() {
			if transceiver.Receiver() == receiver {
				mid = transceiver.Mid()
				break
			}
		}
		c.log.WithField("mid", mid).Debugf("remote track %v", remote.ID())
		fn(transport.RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     remote.Kind(),
			Mid:      mid,
			Remote:   remote,
		})
	})
}

func (c *connection) Close() error {
	return c.pc.Close()
}
