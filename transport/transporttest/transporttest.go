// Package transporttest provides an in-memory transport.Connection whose
// descriptions are generated from the tracks added to it.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/webrtc/v3"
)

const Fingerprint = "6D:9E:2A:05:9D:AF:43:2C:30:1C:FF:45:16:7E:C3:BB:5B:4D:9E:2C:61:F6:FF:AB:20:D7:F6:A3:37:5D:1D:79"

var NoRemoteDescriptionError = errors.New("remote description is not set")
var ClosedError = errors.New("connection is closed")

var AudioPayloadTypes = []conference.PayloadType{{
	Id: 111, Name: "opus", Clockrate: 48000, Channels: 2,
	Parameters:    map[string]string{"minptime": "10", "useinbandfec": "1"},
	FeedbackTypes: []conference.FeedbackType{{Type: "transport-cc"}},
}}

var VideoPayloadTypes = []conference.PayloadType{
	{Id: 96, Name: "VP8", Clockrate: 90000, FeedbackTypes: []conference.FeedbackType{{Type: "nack"}, {Type: "nack", Subtype: "pli"}}},
	{Id: 97, Name: "rtx", Clockrate: 90000, Parameters: map[string]string{"apt": "96"}},
	{Id: 100, Name: "H264", Clockrate: 90000, Parameters: map[string]string{"packetization-mode": "1"}},
	{Id: 101, Name: "rtx", Clockrate: 90000, Parameters: map[string]string{"apt": "100"}},
}

var AudioExtensions = []conference.Extension{{Id: 1, Uri: "urn:ietf:params:rtp-hdrext:ssrc-audio-level"}}
var VideoExtensions = []conference.Extension{{Id: 3, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"}}

// Sources returns the sources announced for the sender added at index.
// Audio senders announce one source, video senders an FID pair.
func Sources(index int, isVideo bool) []int32 {
	base := int32(1000 * (index + 1))
	if isVideo {
		return []int32{base, base + 1}
	}
	return []int32{base}
}

type Factory struct {
	mu          sync.Mutex
	connections []*Connection

	// OnNew configures each connection before it is handed out.
	OnNew func(connection *Connection)
	Err   error
}

func (f *Factory) NewConnection(config transport.Config) (transport.Connection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Connection{Config: config}
	if f.OnNew != nil {
		f.OnNew(c)
	}
	f.mu.Lock()
	f.connections = append(f.connections, c)
	f.mu.Unlock()
	return c, nil
}

func (f *Factory) Connections() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	connections := make([]*Connection, len(f.connections))
	copy(connections, f.connections)
	return connections
}

type Sender struct {
	mu    sync.Mutex
	track media.Track
	kind  webrtc.RTPCodecType
}

func (s *Sender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

type DataChannel struct {
	label string

	mu        sync.Mutex
	sent      [][]byte
	onOpen    func()
	onMessage func(data []byte)
	closed    bool
}

func (d *DataChannel) Label() string {
	return d.label
}

func (d *DataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ClosedError
	}
	d.sent = append(d.sent, append([]byte(nil), data...))
	return nil
}

func (d *DataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
}

func (d *DataChannel) OnMessage(fn func(data []byte)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Open fires the open handler.
func (d *DataChannel) Open() {
	d.mu.Lock()
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver hands data to the message handler as if it came from the remote side.
func (d *DataChannel) Deliver(data []byte) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (d *DataChannel) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	sent := make([][]byte, len(d.sent))
	copy(sent, d.sent)
	return sent
}

func (d *DataChannel) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type Connection struct {
	Config transport.Config

	// BeforeSetRemoteDescription runs ahead of storing a remote description.
	// A returned error fails the call.
	BeforeSetRemoteDescription func(description webrtc.SessionDescription) error

	mu                 sync.Mutex
	senders            []*Sender
	dataChannels       []*DataChannel
	localDescriptions  []webrtc.SessionDescription
	remoteDescriptions []webrtc.SessionDescription
	candidates         []string
	calls              []string
	generation         int
	closed             bool

	onICECandidate       func(candidate string)
	onICEConnectionState func(state webrtc.ICEConnectionState)
	onConnectionState    func(state webrtc.PeerConnectionState)
	onTrack              func(track transport.RemoteTrack)
}

func (c *Connection) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *Connection) AddTrack(track media.Track) (transport.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ClosedError
	}
	s := &Sender{track: track, kind: track.Kind()}
	c.senders = append(c.senders, s)
	c.record("AddTrack:" + track.Kind().String())
	return s, nil
}

func (c *Connection) Senders() []transport.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	senders := make([]transport.Sender, len(c.senders))
	for i, s := range c.senders {
		senders[i] = s
	}
	return senders
}

func (c *Connection) CreateDataChannel(label string, init transport.DataChannelInit) (transport.DataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &DataChannel{label: label}
	c.dataChannels = append(c.dataChannels, d)
	c.record("CreateDataChannel:" + label)
	return d, nil
}

func (c *Connection) describe(typ webrtc.SDPType) (webrtc.SessionDescription, error) {
	setup := "actpass"
	if typ == webrtc.SDPTypeAnswer {
		setup = "active"
	}
	local := &conference.Conference{
		SessionId: conference.NextSessionId(),
		Transport: conference.Transport{
			Ufrag:        fmt.Sprintf("ufrag%d", c.generation),
			Pwd:          fmt.Sprintf("pwd%d", c.generation),
			Fingerprints: []conference.Fingerprint{{Hash: "sha-256", Setup: setup, Fingerprint: Fingerprint}},
		},
		AudioPayloadTypes: AudioPayloadTypes,
		VideoPayloadTypes: VideoPayloadTypes,
		AudioExtensions:   AudioExtensions,
		VideoExtensions:   VideoExtensions,
	}
	for i, s := range c.senders {
		isVideo := s.kind == webrtc.RTPCodecTypeVideo
		group := conference.SourceGroup{Sources: Sources(i, isVideo)}
		if isVideo {
			group.Semantics = "FID"
		}
		local.Ssrcs = append(local.Ssrcs, conference.Ssrc{
			Endpoint:     fmt.Sprintf("local%d", i),
			Mid:          fmt.Sprint(i),
			IsVideo:      isVideo,
			SourceGroups: []conference.SourceGroup{group},
		})
	}
	text, err := sdp.Build(local, sdp.Options{IsP2p: true, IsAnswer: typ == webrtc.SDPTypeAnswer})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: typ, SDP: text}, nil
}

func (c *Connection) CreateOffer(ctx context.Context, options transport.OfferOptions) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ClosedError
	}
	if options.ICERestart {
		c.generation++
		c.record("CreateOffer:restart")
	} else {
		c.record("CreateOffer")
	}
	return c.describe(webrtc.SDPTypeOffer)
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ClosedError
	}
	if len(c.remoteDescriptions) == 0 {
		return webrtc.SessionDescription{}, NoRemoteDescriptionError
	}
	c.record("CreateAnswer")
	return c.describe(webrtc.SDPTypeAnswer)
}

func (c *Connection) SetLocalDescription(ctx context.Context, description webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ClosedError
	}
	c.localDescriptions = append(c.localDescriptions, description)
	c.record("SetLocalDescription:" + description.Type.String())
	return nil
}

func (c *Connection) SetRemoteDescription(ctx context.Context, description webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.BeforeSetRemoteDescription != nil {
		if err := c.BeforeSetRemoteDescription(description); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ClosedError
	}
	c.remoteDescriptions = append(c.remoteDescriptions, description)
	c.record("SetRemoteDescription:" + description.Type.String())
	return nil
}

func (c *Connection) AddICECandidate(ctx context.Context, candidate string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.remoteDescriptions) == 0 {
		return NoRemoteDescriptionError
	}
	c.candidates = append(c.candidates, candidate)
	c.record("AddICECandidate")
	return nil
}

func (c *Connection) OnICECandidate(fn func(candidate string)) {
	c.mu.Lock()
	c.onICECandidate = fn
	c.mu.Unlock()
}

func (c *Connection) OnICEConnectionStateChange(fn func(state webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICEConnectionState = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onConnectionState = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(track transport.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.record("Close")
	return nil
}

func (c *Connection) EmitICECandidate(candidate string) {
	c.mu.Lock()
	fn := c.onICECandidate
	c.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

func (c *Connection) EmitICEConnectionState(state webrtc.ICEConnectionState) {
	c.mu.Lock()
	fn := c.onICEConnectionState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (c *Connection) EmitConnectionState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onConnectionState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (c *Connection) EmitTrack(track transport.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (c *Connection) LocalDescriptions() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), c.localDescriptions...)
}

func (c *Connection) RemoteDescriptions() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), c.remoteDescriptions...)
}

func (c *Connection) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.candidates...)
}

func (c *Connection) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Connection) DataChannels() []*DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*DataChannel(nil), c.dataChannels...)
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
