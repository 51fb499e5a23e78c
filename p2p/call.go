package p2p

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/Connect-Club/connectclub-calls-client/internal/callback"
	"github.com/Connect-Club/connectclub-calls-client/internal/volatile"
	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	audioMid      = "0"
	videoMid      = "1"
	screencastMid = "2"

	stopTimeout = 10 * time.Second
)

// Call is a one-to-one call negotiated through signaling messages. The
// outgoing side offers, the other side answers.
type Call struct {
	log       *logrus.Entry
	id        string
	cfg       Config
	factory   transport.Factory
	signaler  Signaler
	devices   media.Devices
	onUpdate  func(update Update)
	pump      *callback.Pump
	lifecycle *fsm.FSM

	ctx    context.Context
	cancel context.CancelFunc

	isActive *volatile.Value[bool]

	// one description exchange at a time
	negotiationLock sync.Mutex
	globalLock      sync.Mutex

	connection        transport.Connection
	dataChannel       transport.DataChannel
	conference        *conference.Conference
	pendingCandidates []string
	gotInitialSetup   bool
	restartAttempted  bool
	remoteMediaState  *MediaState

	ownTracks    map[media.StreamType]media.Track
	placeholders map[media.StreamType]media.Track
	remoteTracks map[media.StreamType]transport.RemoteTrack
	facing       media.Facing
}

func New(
	cfg Config,
	factory transport.Factory,
	signaler Signaler,
	devices media.Devices,
	onUpdate func(update Update),
) *Call {
	callId := strconv.FormatUint(rand.Uint64(), 10)
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	log := logrus.WithFields(logrus.Fields{
		"callId":     callId,
		"userId":     cfg.UserId,
		"isOutgoing": cfg.IsOutgoing,
		"component":  "p2p",
	})
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		log:          log,
		id:           callId,
		cfg:          cfg.withDefaults(),
		factory:      factory,
		signaler:     signaler,
		devices:      devices,
		onUpdate:     onUpdate,
		pump:         callback.NewPump(log.WithField("pump", "updates"), 1024),
		ctx:          ctx,
		cancel:       cancel,
		isActive:     volatile.NewValue(false),
		ownTracks:    make(map[media.StreamType]media.Track),
		placeholders: make(map[media.StreamType]media.Track),
		remoteTracks: make(map[media.StreamType]transport.RemoteTrack),
		facing:       media.FacingUser,
	}
	c.lifecycle = newLifecycle(func(state State, err error) {
		c.log.WithField("state", state).Info("call state changed")
		c.post(StateUpdate{State: state, Err: err})
	})
	return c
}

func (c *Call) Id() string {
	return c.id
}

func (c *Call) State() State {
	return State(c.lifecycle.Current())
}

func (c *Call) post(update Update) {
	if !c.pump.Post(func() { c.onUpdate(update) }) {
		c.log.WithField("update", fmt.Sprintf("%T", update)).Debug("update dropped, call is closed")
	}
}

func (c *Call) fire(event string, args ...interface{}) {
	if err := c.lifecycle.Event(context.Background(), event, args...); err != nil {
		c.log.WithError(err).WithField("event", event).Debug("lifecycle event ignored")
	}
}

// Start creates the connection and starts local media. The outgoing side
// sends its offer right away.
func (c *Call) Start(ctx context.Context) error {
	c.log.Info("🚀")

	if err := c.lifecycle.Event(ctx, eventStart); err != nil {
		return AlreadyStartedError
	}
	c.isActive.Store(true)

	c.globalLock.Lock()
	err := c.setupConnection()
	c.globalLock.Unlock()
	if err != nil {
		return c.fail(err)
	}

	if c.cfg.ShouldStartVideo {
		if err := c.SetStreamEnabled(ctx, media.Video, true); err != nil {
			c.log.WithError(err).Warn("cannot start video")
		}
	}
	if err := c.SetStreamEnabled(ctx, media.Audio, true); err != nil {
		c.log.WithError(err).Warn("cannot start audio")
	}

	if c.cfg.IsOutgoing {
		if err := c.createOffer(ctx, false); err != nil {
			return c.fail(fmt.Errorf("offer: %w", err))
		}
	}
	return nil
}

func (c *Call) fail(err error) error {
	c.log.WithError(err).Error("call failed")
	c.terminate(eventFail, err)
	return err
}

func (c *Call) setupConnection() error {
	connection, err := c.factory.NewConnection(transport.Config{
		ICEServers:         ICEServers(c.cfg.Connections),
		ICETransportPolicy: c.cfg.transportPolicy(),
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return fmt.Errorf("new connection: %w", err)
	}
	c.connection = connection

	// silence, black video and black screencast in mid order
	for _, streamType := range streamTypes {
		placeholder, err := media.NewPlaceholder(streamType.Kind())
		if err != nil {
			return err
		}
		if _, err := connection.AddTrack(placeholder); err != nil {
			return fmt.Errorf("add %v track: %w", streamType, err)
		}
		c.placeholders[streamType] = placeholder
		c.ownTracks[streamType] = placeholder
	}

	id := uint16(0)
	dataChannel, err := connection.CreateDataChannel("data", transport.DataChannelInit{ID: &id, Negotiated: true})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.dataChannel = dataChannel
	dataChannel.OnOpen(func() {
		c.log.Debug("data channel open")
	})
	dataChannel.OnMessage(func(data []byte) {
		if err := c.HandleSignalingData(c.ctx, data); err != nil {
			c.log.WithError(err).Warn("data channel message rejected")
		}
	})

	connection.OnICECandidate(c.sendCandidate)
	connection.OnICEConnectionStateChange(c.handleICEConnectionState)
	connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.WithField("connectionState", state.String()).Info("connection state changed")
		c.post(ConnectionStateUpdate{State: state})
	})
	connection.OnTrack(c.handleTrack)
	return nil
}

func (c *Call) currentConnection() transport.Connection {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.connection
}

func (c *Call) send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SendTimeout)
	defer cancel()
	if err := c.signaler.SendSignalingData(ctx, data); err != nil {
		return fmt.Errorf("send %v: %w", msg.MessageType(), err)
	}
	return nil
}

func (c *Call) sendCandidate(candidate string) {
	if !c.isActive.Load() {
		return
	}
	if err := c.send(Candidates{Candidates: []Candidate{{SdpString: candidate}}}); err != nil {
		c.log.WithError(err).Warn("cannot send candidate")
	}
}

func (c *Call) createOffer(ctx context.Context, restart bool) error {
	c.negotiationLock.Lock()
	defer c.negotiationLock.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.NegotiationTimeout)
	defer cancel()

	connection := c.currentConnection()
	if connection == nil || !c.isActive.Load() {
		return InactiveCallError
	}
	offer, err := connection.CreateOffer(ctx, transport.OfferOptions{ICERestart: restart})
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	description, err := sdp.ParseP2p(offer)
	if err != nil {
		return err
	}
	if err := c.sendInitialSetup(description); err != nil {
		return err
	}
	if err := connection.SetLocalDescription(ctx, offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

func (c *Call) restartIce() {
	c.log.Info("restarting ice")
	if err := c.createOffer(c.ctx, true); err != nil {
		c.fail(fmt.Errorf("ice restart: %w", err))
	}
}

func (c *Call) sendInitialSetup(description *sdp.P2pDescription) error {
	if description.Ssrc == 0 || len(description.SsrcGroups) < 2 {
		return IncompleteDescriptionError
	}
	video, err := c.videoContent(description.SsrcGroups[0], description.VideoPayloadTypes, description.VideoExtensions)
	if err != nil {
		return err
	}
	screencast, err := c.videoContent(description.SsrcGroups[1], description.ScreencastPayloadTypes, description.ScreencastExtensions)
	if err != nil {
		return err
	}
	return c.send(InitialSetup{
		Fingerprints: description.Fingerprints,
		Ufrag:        description.Ufrag,
		Pwd:          description.Pwd,
		Audio: &MediaContent{
			Ssrc:          formatSource(description.Ssrc),
			SsrcGroups:    []SsrcGroup{},
			PayloadTypes:  fromConferencePayloadTypes(description.AudioPayloadTypes),
			RtpExtensions: description.AudioExtensions,
		},
		Video:      video,
		Screencast: screencast,
	})
}

func (c *Call) videoContent(group conference.SourceGroup, payloadTypes []conference.PayloadType, extensions []conference.Extension) (*MediaContent, error) {
	if len(group.Sources) == 0 {
		return nil, IncompleteDescriptionError
	}
	return &MediaContent{
		Ssrc:          formatSource(group.Sources[0]),
		SsrcGroups:    []SsrcGroup{fromConferenceGroup(group)},
		PayloadTypes:  c.filterVP8(fromConferencePayloadTypes(payloadTypes)),
		RtpExtensions: extensions,
	}, nil
}

// filterVP8 narrows video to VP8 on the answering side only.
func (c *Call) filterVP8(payloadTypes []PayloadType) []PayloadType {
	if c.cfg.IsOutgoing {
		return payloadTypes
	}
	return FilterVP8(payloadTypes)
}

// HandleSignalingData processes a message from the other party. Candidates
// and media state are accepted before Start, descriptions are not.
func (c *Call) HandleSignalingData(ctx context.Context, data []byte) error {
	if c.ctx.Err() != nil {
		return InactiveCallError
	}
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	c.log.WithField("type", msg.MessageType()).Debug("signaling message received")

	switch msg := msg.(type) {
	case InitialSetup:
		if !c.isActive.Load() {
			return NotStartedError
		}
		if err := c.handleInitialSetup(ctx, msg); err != nil {
			return c.fail(fmt.Errorf("initial setup: %w", err))
		}
	case Candidates:
		c.handleCandidates(ctx, msg)
	case MediaState:
		c.globalLock.Lock()
		c.remoteMediaState = &msg
		c.globalLock.Unlock()
		c.post(RemoteMediaStateUpdate{MediaState: msg})
	}
	return nil
}

func (c *Call) handleInitialSetup(ctx context.Context, setup InitialSetup) error {
	c.negotiationLock.Lock()
	defer c.negotiationLock.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.NegotiationTimeout)
	defer cancel()

	remote, err := c.remoteConference(setup)
	if err != nil {
		return err
	}
	connection := c.currentConnection()
	if connection == nil || !c.isActive.Load() {
		return InactiveCallError
	}

	text, err := sdp.Build(remote, sdp.Options{IsP2p: true, IsAnswer: c.cfg.IsOutgoing})
	if err != nil {
		return err
	}
	remoteType := webrtc.SDPTypeOffer
	if c.cfg.IsOutgoing {
		remoteType = webrtc.SDPTypeAnswer
	}
	if err := connection.SetRemoteDescription(ctx, webrtc.SessionDescription{Type: remoteType, SDP: text}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	if !c.cfg.IsOutgoing {
		answer, err := connection.CreateAnswer(ctx)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := connection.SetLocalDescription(ctx, answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		description, err := sdp.ParseP2p(answer)
		if err != nil {
			return err
		}
		if err := c.sendInitialSetup(description); err != nil {
			return err
		}
	}

	c.globalLock.Lock()
	first := !c.gotInitialSetup
	c.gotInitialSetup = true
	c.conference = remote
	if !c.cfg.IsOutgoing && c.lifecycle.Is(string(Disconnected)) {
		c.restartAttempted = true
	}
	state := c.ownMediaStateLocked()
	c.globalLock.Unlock()

	c.flushCandidates(ctx)
	if first {
		if err := c.send(state); err != nil {
			c.log.WithError(err).Warn("cannot send media state")
		}
	}
	return nil
}

// remoteConference describes the other party's legs under mids 0, 1 and 2.
func (c *Call) remoteConference(setup InitialSetup) (*conference.Conference, error) {
	if setup.Audio == nil || setup.Video == nil {
		return nil, fmt.Errorf("%w, audio or video content is missing", MalformedMessageError)
	}
	audioSource, err := parseSource(setup.Audio.Ssrc)
	if err != nil {
		return nil, err
	}
	videoGroups, err := sourceGroups(setup.Video)
	if err != nil {
		return nil, err
	}
	remote := &conference.Conference{
		SessionId: conference.NextSessionId(),
		Transport: conference.Transport{
			Ufrag:        setup.Ufrag,
			Pwd:          setup.Pwd,
			Fingerprints: setup.Fingerprints,
		},
		AudioPayloadTypes: toConferencePayloadTypes(setup.Audio.PayloadTypes),
		AudioExtensions:   setup.Audio.RtpExtensions,
		VideoPayloadTypes: toConferencePayloadTypes(c.filterVP8(setup.Video.PayloadTypes)),
		VideoExtensions:   setup.Video.RtpExtensions,
		Ssrcs: []conference.Ssrc{{
			UserId:       c.cfg.PeerId,
			Endpoint:     audioMid,
			Mid:          audioMid,
			SourceGroups: []conference.SourceGroup{{Sources: []int32{audioSource}}},
		}, {
			UserId:       c.cfg.PeerId,
			Endpoint:     videoMid,
			Mid:          videoMid,
			IsVideo:      true,
			SourceGroups: videoGroups,
		}},
	}
	screencast := conference.Ssrc{
		UserId:   c.cfg.PeerId,
		Endpoint: screencastMid,
		Mid:      screencastMid,
		IsVideo:  true,
	}
	if setup.Screencast != nil {
		if screencast.SourceGroups, err = sourceGroups(setup.Screencast); err != nil {
			return nil, err
		}
	} else {
		screencast.IsRemoved = true
	}
	remote.Ssrcs = append(remote.Ssrcs, screencast)
	return remote, nil
}

func sourceGroups(content *MediaContent) ([]conference.SourceGroup, error) {
	if len(content.SsrcGroups) == 0 {
		source, err := parseSource(content.Ssrc)
		if err != nil {
			return nil, err
		}
		return []conference.SourceGroup{{Sources: []int32{source}}}, nil
	}
	groups := make([]conference.SourceGroup, len(content.SsrcGroups))
	for i, group := range content.SsrcGroups {
		groups[i] = group.toConference()
	}
	return groups, nil
}

func (c *Call) handleCandidates(ctx context.Context, msg Candidates) {
	c.globalLock.Lock()
	for _, candidate := range msg.Candidates {
		c.pendingCandidates = append(c.pendingCandidates, candidate.SdpString)
	}
	ready := c.gotInitialSetup
	c.globalLock.Unlock()

	if ready {
		c.flushCandidates(ctx)
	}
}

// flushCandidates hands every buffered candidate to the connection once.
func (c *Call) flushCandidates(ctx context.Context) {
	c.globalLock.Lock()
	pending := c.pendingCandidates
	c.pendingCandidates = nil
	connection := c.connection
	c.globalLock.Unlock()

	if connection == nil {
		return
	}
	for _, candidate := range pending {
		if err := connection.AddICECandidate(ctx, candidate); err != nil {
			c.log.WithError(err).WithField("candidate", candidate).Warn("cannot add ice candidate")
		}
	}
}

func (c *Call) handleICEConnectionState(state webrtc.ICEConnectionState) {
	c.log.WithField("iceConnectionState", state.String()).Info("ice connection state changed")
	if !c.isActive.Load() {
		return
	}
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		c.globalLock.Lock()
		c.restartAttempted = false
		c.globalLock.Unlock()
		if c.lifecycle.Can(eventConnect) {
			c.fire(eventConnect)
		}
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		c.globalLock.Lock()
		restartAttempted := c.restartAttempted
		c.globalLock.Unlock()

		if c.lifecycle.Is(string(Disconnected)) {
			if state == webrtc.ICEConnectionStateFailed && restartAttempted {
				c.fail(IceFailedError)
			}
			return
		}
		if !c.lifecycle.Can(eventDisconnect) {
			return
		}
		c.fire(eventDisconnect)
		if c.cfg.IsOutgoing {
			c.globalLock.Lock()
			c.restartAttempted = true
			c.globalLock.Unlock()
			go c.restartIce()
		}
	}
}

// Stop releases local media and closes the connection.
func (c *Call) Stop() {
	c.log.Info("🚀")
	if c.lifecycle.Is(string(Idle)) {
		c.cancel()
		c.fire(eventClose)
		c.closePump()
		return
	}
	c.terminate(eventClose, nil)
}

func (c *Call) terminate(event string, cause error) {
	c.globalLock.Lock()
	if !volatile.CompareAndSwap(c.isActive, true, false) {
		c.globalLock.Unlock()
		return
	}
	c.cancel()

	for streamType, track := range c.ownTracks {
		track.Stop()
		delete(c.ownTracks, streamType)
	}
	if c.dataChannel != nil {
		if err := c.dataChannel.Close(); err != nil {
			c.log.WithError(err).Warn("cannot close data channel")
		}
	}
	if c.connection != nil {
		if err := c.connection.Close(); err != nil {
			c.log.WithError(err).Warn("cannot close connection")
		}
	}
	c.pendingCandidates = nil
	c.remoteTracks = make(map[media.StreamType]transport.RemoteTrack)
	c.globalLock.Unlock()

	c.fire(event, cause)
	c.closePump()
}

// the listener may call Stop itself
func (c *Call) closePump() {
	go func() {
		if err := c.pump.Close(stopTimeout); err != nil {
			c.log.WithError(err).Error("cannot close update pump")
		}
	}()
}
