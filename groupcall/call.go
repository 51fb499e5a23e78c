package groupcall

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/Connect-Club/connectclub-calls-client/internal/callback"
	"github.com/Connect-Club/connectclub-calls-client/internal/task"
	"github.com/Connect-Club/connectclub-calls-client/internal/volatile"
	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	mainAudioMid = "0"
	mainVideoMid = "1"
	// data channel takes mid 2, participant legs follow it
	firstParticipantMid = 3

	stopTimeout = 10 * time.Second
)

type presentation struct {
	connection transport.Connection
	conference *conference.Conference
	track      media.Track
}

func init() {
	rand.Seed(time.Now().UnixNano())
}

// Call is one group call session. A Call is joined once; after Leave a new
// Call has to be created.
type Call struct {
	log      *logrus.Entry
	id       string
	cfg      Config
	factory  transport.Factory
	backend  Backend
	devices  media.Devices
	output   AudioOutput
	onUpdate func(update Update)
	pump     *callback.Pump

	globalLock sync.Mutex

	isActive          *volatile.Value[bool]
	isSpeakerDisabled *volatile.Value[bool]
	dataChannelOpen   *volatile.Value[bool]
	joined            bool

	connection   transport.Connection
	dataChannel  transport.DataChannel
	conference   *conference.Conference
	lastMid      int
	presentation *presentation
	// set while StartPresentation negotiates outside of globalLock
	presentationPending bool

	participants map[string]Participant
	ownTracks    map[media.StreamType]media.Track
	microphone   media.Track
	silence      media.Track
	black        media.Track
	facing       media.Facing
	remoteTracks map[string]map[media.StreamType]transport.RemoteTrack
	analysers    map[string]media.Analyser
	amplitudes   map[string]float64

	queue         *renegotiationQueue
	queueTask     *task.Task
	amplitudeTask *task.Task
	stopUpdates   context.CancelFunc
}

// New creates a call. output may be nil when remote audio is not rendered.
func New(
	cfg Config,
	factory transport.Factory,
	backend Backend,
	devices media.Devices,
	output AudioOutput,
	onUpdate func(update Update),
) *Call {
	callId := strconv.FormatUint(rand.Uint64(), 10)
	if output == nil {
		output = nopAudioOutput{}
	}
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	log := logrus.WithFields(logrus.Fields{"callId": callId, "userId": cfg.UserId, "component": "groupcall"})

	c := &Call{
		log:               log,
		id:                callId,
		cfg:               cfg.withDefaults(),
		factory:           factory,
		backend:           backend,
		devices:           devices,
		output:            output,
		onUpdate:          onUpdate,
		pump:              callback.NewPump(log.WithField("pump", "updates"), 1024),
		isActive:          volatile.NewValue(false),
		isSpeakerDisabled: volatile.NewValue(false),
		dataChannelOpen:   volatile.NewValue(false),
		lastMid:           firstParticipantMid - 1,
		participants:      make(map[string]Participant),
		ownTracks:         make(map[media.StreamType]media.Track),
		facing:            media.FacingUser,
		remoteTracks:      make(map[string]map[media.StreamType]transport.RemoteTrack),
		analysers:         make(map[string]media.Analyser),
		amplitudes:        make(map[string]float64),
		queue:             &renegotiationQueue{},
	}
	c.queueTask = task.Create(c.drainQueue, 0, true)
	return c
}

func (c *Call) Id() string {
	return c.id
}

func (c *Call) IsActive() bool {
	return c.isActive.Load()
}

func (c *Call) post(update Update) {
	if !c.pump.Post(func() { c.onUpdate(update) }) {
		c.log.WithField("update", fmt.Sprintf("%T", update)).Debug("update dropped, call is closed")
	}
}

func (c *Call) postState(state ConnectionState, err error) {
	c.post(ConnectionStateUpdate{State: state, IsSpeakerDisabled: c.isSpeakerDisabled.Load(), Err: err})
}

// Join negotiates the main connection with the relay and starts consuming
// participant updates. On failure the call is torn down and reports Failed.
func (c *Call) Join(ctx context.Context) error {
	c.log.Info("🚀")

	c.globalLock.Lock()
	if c.joined {
		c.globalLock.Unlock()
		return AlreadyJoinedError
	}
	c.joined = true
	c.isActive.Store(true)
	c.postState(Connecting, nil)
	err := c.setupConnection()
	connection := c.connection
	c.globalLock.Unlock()
	if err != nil {
		return c.fail(err)
	}

	offer, err := connection.CreateOffer(ctx, transport.OfferOptions{})
	if err != nil {
		return c.fail(fmt.Errorf("create offer: %w", err))
	}
	if c.cfg.SimulcastLayers > 1 {
		offer.SDP = sdp.MungeSimulcast(offer.SDP, c.cfg.SimulcastLayers)
	}
	if err := connection.SetLocalDescription(ctx, offer); err != nil {
		return c.fail(fmt.Errorf("set local description: %w", err))
	}
	payload, err := sdp.ParseGroup(offer)
	if err != nil {
		return c.fail(err)
	}

	c.globalLock.Lock()
	c.conference = &conference.Conference{Ssrcs: mainSsrcs(payload, false)}
	c.globalLock.Unlock()

	data, err := c.backend.JoinCall(ctx, payload)
	if err != nil {
		return c.fail(fmt.Errorf("join call: %w", err))
	}
	if err := c.ApplyConnection(ctx, data); err != nil {
		return c.fail(err)
	}

	updatesCtx, stopUpdates := context.WithCancel(context.Background())
	updates, err := c.backend.ParticipantUpdates(updatesCtx)
	if err != nil {
		stopUpdates()
		return c.fail(fmt.Errorf("participant updates: %w", err))
	}

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		stopUpdates()
		return InactiveCallError
	}
	c.stopUpdates = stopUpdates
	c.amplitudeTask = task.CreatePeriodic(c.sampleAmplitudes, c.cfg.AmplitudeInterval)
	c.globalLock.Unlock()

	go c.consumeParticipantUpdates(updates)
	return nil
}

func (c *Call) fail(err error) error {
	c.log.WithError(err).Error("join failed")
	c.teardown(Failed, err)
	return err
}

func (c *Call) setupConnection() error {
	connection, err := c.factory.NewConnection(transport.Config{
		ICEServers:   c.cfg.ICEServers,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return fmt.Errorf("new connection: %w", err)
	}
	c.connection = connection

	if c.silence, err = media.NewPlaceholder(webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}
	if c.black, err = media.NewPlaceholder(webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}
	if _, err := connection.AddTrack(c.silence); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	if _, err := connection.AddTrack(c.black); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	c.ownTracks[media.Audio] = c.silence
	c.ownTracks[media.Video] = c.black

	id := uint16(0)
	dataChannel, err := connection.CreateDataChannel("data", transport.DataChannelInit{ID: &id})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.dataChannel = dataChannel
	dataChannel.OnOpen(func() {
		c.log.Debug("data channel open")
		c.dataChannelOpen.Store(true)
	})
	dataChannel.OnMessage(c.handleDataChannelMessage)

	connection.OnICEConnectionStateChange(c.handleICEConnectionState)
	connection.OnTrack(c.handleTrack)
	return nil
}

// mainSsrcs describes our own legs from a parsed local offer. Presentation
// connections carry video only and put it first.
func mainSsrcs(payload *sdp.JoinPayload, isPresentation bool) []conference.Ssrc {
	videoMid, audioMid := mainVideoMid, mainAudioMid
	if isPresentation {
		videoMid, audioMid = "0", "1"
	}
	video := conference.Ssrc{
		Endpoint:       "video" + videoMid,
		Mid:            videoMid,
		IsMain:         true,
		IsVideo:        true,
		IsPresentation: isPresentation,
		SourceGroups:   conference.CloneSourceGroups(payload.SsrcGroups),
	}
	if isPresentation {
		return []conference.Ssrc{video}
	}
	ssrcs := make([]conference.Ssrc, 0, 2)
	if payload.Ssrc != 0 {
		ssrcs = append(ssrcs, conference.Ssrc{
			Endpoint:     "audio" + audioMid,
			Mid:          audioMid,
			IsMain:       true,
			SourceGroups: []conference.SourceGroup{{Sources: []int32{payload.Ssrc}}},
		})
	}
	return append(ssrcs, video)
}

func applyConnectionData(c *conference.Conference, data *ConnectionData) error {
	if err := data.Transport.Validate(); err != nil {
		return err
	}
	c.Transport = data.Transport
	if data.Audio != nil {
		c.AudioPayloadTypes = data.Audio.PayloadTypes
		c.AudioExtensions = data.Audio.Extensions
	}
	if data.Video != nil {
		c.VideoPayloadTypes = data.Video.PayloadTypes
		c.VideoExtensions = data.Video.Extensions
	}
	c.SessionId = conference.NextSessionId()
	return nil
}

// ApplyConnection sets the relay's transport parameters as the answer to our
// offer. It waits until the answer is applied.
func (c *Call) ApplyConnection(ctx context.Context, data *ConnectionData) error {
	c.log.Info("🚀")

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return InactiveCallError
	}
	if c.conference == nil {
		c.globalLock.Unlock()
		return NotJoinedError
	}
	if err := applyConnectionData(c.conference, data); err != nil {
		c.globalLock.Unlock()
		return err
	}
	item := &renegotiation{conference: c.conference.Clone(), answer: true, done: make(chan error, 1)}
	c.queue.push(item)
	c.globalLock.Unlock()

	c.queueTask.Run()
	select {
	case err := <-item.done:
		if err == nil {
			c.postStreams(c.cfg.UserId)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Call) drainQueue(ctx context.Context) {
	for {
		if !c.isActive.Load() {
			return
		}
		item := c.queue.pop()
		if item == nil {
			return
		}
		err := c.negotiate(ctx, item)
		if err != nil && item.done == nil {
			c.log.WithError(err).WithField("sessionId", item.conference.SessionId).Error("renegotiation failed")
		}
		item.finish(err)
	}
}

func (c *Call) negotiate(ctx context.Context, item *renegotiation) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.NegotiationTimeout)
	defer cancel()

	c.globalLock.Lock()
	connection := c.connection
	c.globalLock.Unlock()
	if connection == nil {
		return NotJoinedError
	}

	text, err := sdp.Build(item.conference, c.sdpOptions(item.answer, false))
	if err != nil {
		return err
	}
	if item.answer {
		return connection.SetRemoteDescription(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: text})
	}

	if err := connection.SetRemoteDescription(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: text}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := connection.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := connection.SetLocalDescription(ctx, answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	c.postStreams(c.cfg.UserId)
	return nil
}

func (c *Call) sdpOptions(isAnswer, isPresentation bool) sdp.Options {
	return sdp.Options{
		IsAnswer:       isAnswer,
		IsPresentation: isPresentation,
		AudioBandwidth: c.cfg.AudioBandwidth,
		VideoBandwidth: c.cfg.VideoBandwidth,
	}
}

func (c *Call) consumeParticipantUpdates(updates <-chan []Participant) {
	for participants := range updates {
		if err := c.HandleParticipants(participants); err != nil {
			c.log.WithError(err).Warn("participant update rejected")
			if !c.isActive.Load() {
				return
			}
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
		c.postState(Connected, nil)
	case webrtc.ICEConnectionStateChecking, webrtc.ICEConnectionStateNew:
		c.postState(Connecting, nil)
	case webrtc.ICEConnectionStateDisconnected:
		c.postState(Reconnecting, nil)
	}
}

// Leave stops local media, closes both connections and tells the backend.
func (c *Call) Leave(ctx context.Context) {
	c.log.Info("🚀")
	if !c.isActive.Load() {
		return
	}
	if err := c.backend.LeaveCall(ctx); err != nil {
		c.log.WithError(err).Warn("leave call failed")
	}
	c.teardown(Disconnected, nil)
}

func (c *Call) teardown(state ConnectionState, cause error) {
	c.globalLock.Lock()
	if !volatile.CompareAndSwap(c.isActive, true, false) {
		c.globalLock.Unlock()
		return
	}

	for _, item := range c.queue.clear() {
		item.finish(InactiveCallError)
	}
	if c.stopUpdates != nil {
		c.stopUpdates()
	}
	amplitudeTask := c.amplitudeTask

	for streamType, track := range c.ownTracks {
		track.Stop()
		delete(c.ownTracks, streamType)
	}
	if c.microphone != nil {
		c.microphone.Stop()
		c.microphone = nil
	}
	if c.presentation != nil {
		c.closePresentation()
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
	for userId := range c.remoteTracks {
		c.output.Detach(userId)
	}
	c.remoteTracks = make(map[string]map[media.StreamType]transport.RemoteTrack)
	c.analysers = make(map[string]media.Analyser)
	c.postState(state, cause)
	c.globalLock.Unlock()

	if amplitudeTask != nil {
		if err := amplitudeTask.Stop(stopTimeout); err != nil {
			c.log.WithError(err).Error("cannot stop amplitude task")
		}
	}
	// an in-flight cycle fails on the closed connection
	if err := c.queueTask.Stop(stopTimeout); err != nil {
		c.log.WithError(err).Error("cannot stop queue task")
	}
	// Leave may be called from the update listener itself
	go func() {
		if err := c.pump.Close(stopTimeout); err != nil {
			c.log.WithError(err).Error("cannot close update pump")
		}
	}()
}
