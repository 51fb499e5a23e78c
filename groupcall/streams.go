package groupcall

import (
	"context"
	"fmt"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

func (c *Call) ownStreamEnabledLocked(streamType media.StreamType) bool {
	if streamType == media.Presentation {
		return c.presentation != nil && c.presentation.track.Enabled()
	}
	track := c.ownTracks[streamType]
	return track != nil && track.Enabled()
}

func (c *Call) streamsUpdateLocked(userId string) StreamsUpdate {
	update := StreamsUpdate{UserId: userId, Amplitude: c.amplitudes[userId]}
	if userId == c.cfg.UserId {
		update.HasAudioStream = c.ownStreamEnabledLocked(media.Audio)
		update.HasVideoStream = c.ownStreamEnabledLocked(media.Video)
		update.HasPresentationStream = c.ownStreamEnabledLocked(media.Presentation)
		return update
	}
	tracks := c.remoteTracks[userId]
	_, update.HasAudioStream = tracks[media.Audio]
	_, update.HasVideoStream = tracks[media.Video]
	_, update.HasPresentationStream = tracks[media.Presentation]
	return update
}

func (c *Call) postStreamsLocked(userId string) {
	c.post(c.streamsUpdateLocked(userId))
}

func (c *Call) postStreams(userId string) {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	c.postStreamsLocked(userId)
}

// IsStreamEnabled reports whether the user currently has a stream of the
// given type. Own streams count only while they carry real media.
func (c *Call) IsStreamEnabled(streamType media.StreamType, userId string) bool {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if userId == c.cfg.UserId {
		return c.ownStreamEnabledLocked(streamType)
	}
	_, ok := c.remoteTracks[userId][streamType]
	return ok
}

func (c *Call) handleTrack(track transport.RemoteTrack) {
	log := c.log.WithFields(logrus.Fields{"trackId": track.ID, "mid": track.Mid})
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if !c.isActive.Load() || c.conference == nil {
		return
	}
	ssrc := c.conference.FindByEndpoint(track.ID)
	if ssrc == nil || ssrc.IsMain || ssrc.IsRemoved || len(ssrc.UserId) == 0 {
		log.Debug("track does not belong to a participant leg")
		return
	}
	userId := ssrc.UserId
	streamType := streamTypeOf(ssrc)
	tracks, ok := c.remoteTracks[userId]
	if !ok {
		tracks = make(map[media.StreamType]transport.RemoteTrack)
		c.remoteTracks[userId] = tracks
	}
	tracks[streamType] = track
	log.WithField("streamType", streamType).Info("remote track")

	if streamType == media.Audio {
		if analyser := c.output.Attach(userId, track); analyser != nil {
			c.analysers[userId] = analyser
		}
		gain := 1.0
		if participant, ok := c.participants[userId]; ok && participant.Volume > 0 {
			gain = float64(participant.Volume) / 10000
		}
		c.output.SetGain(userId, gain)
	}
	c.postStreamsLocked(userId)
}

// ToggleStream flips the local stream of the given type.
func (c *Call) ToggleStream(ctx context.Context, streamType media.StreamType) error {
	c.globalLock.Lock()
	enabled := c.ownStreamEnabledLocked(streamType)
	c.globalLock.Unlock()
	return c.SetStreamEnabled(ctx, streamType, !enabled)
}

// SetStreamEnabled swaps the sender of the local stream between a captured
// track and its placeholder. Nothing happens while the stream has no sender.
func (c *Call) SetStreamEnabled(ctx context.Context, streamType media.StreamType, enabled bool) error {
	log := c.log.WithFields(logrus.Fields{"streamType": streamType, "enabled": enabled})
	log.Info("🚀")

	if streamType == media.Presentation {
		if enabled {
			return c.StartPresentation(ctx)
		}
		return c.StopPresentation(ctx)
	}

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return InactiveCallError
	}
	current := c.ownTracks[streamType]
	if current == nil || current.Enabled() == enabled {
		c.globalLock.Unlock()
		return nil
	}
	sender := transport.FindSender(c.connection, current.ID())
	if sender == nil {
		c.globalLock.Unlock()
		log.Debug("no sender for stream")
		return nil
	}

	if enabled {
		var track media.Track
		if streamType == media.Audio {
			track = c.microphone
		}
		if track == nil {
			c.globalLock.Unlock()
			acquired, err := c.devices.Acquire(ctx, streamType, media.FacingUser)
			if err != nil {
				return fmt.Errorf("acquire %v: %w", streamType, err)
			}
			c.globalLock.Lock()
			if !c.isActive.Load() {
				c.globalLock.Unlock()
				acquired.Stop()
				return InactiveCallError
			}
			if c.ownTracks[streamType] != current {
				c.globalLock.Unlock()
				acquired.Stop()
				log.Debug("stream changed while acquiring")
				return nil
			}
			track = acquired
			if streamType == media.Audio {
				c.microphone = track
			}
		}
		if err := sender.ReplaceTrack(track); err != nil {
			c.globalLock.Unlock()
			return fmt.Errorf("replace track: %w", err)
		}
		c.ownTracks[streamType] = track
		if streamType == media.Video {
			c.facing = media.FacingUser
		}
		if analyser, ok := track.(media.Analyser); ok && streamType == media.Audio {
			c.analysers[c.cfg.UserId] = analyser
		}
		c.postStreamsLocked(c.cfg.UserId)
	} else {
		c.disableOwnStream(streamType)
	}
	flags := ParticipantFlags{
		IsMuted:        !c.ownStreamEnabledLocked(media.Audio),
		IsVideoStopped: !c.ownStreamEnabledLocked(media.Video),
	}
	c.globalLock.Unlock()

	if err := c.backend.EditParticipant(ctx, flags); err != nil {
		log.WithError(err).Warn("edit participant failed")
	}
	return nil
}

// disableOwnStream puts the placeholder back in place of a captured track.
// The microphone is kept for the next unmute. It reports whether anything
// was disabled.
func (c *Call) disableOwnStream(streamType media.StreamType) bool {
	if streamType == media.Presentation {
		if c.presentation == nil {
			return false
		}
		c.closePresentation()
		c.postStreamsLocked(c.cfg.UserId)
		return true
	}

	current := c.ownTracks[streamType]
	if current == nil || !current.Enabled() {
		return false
	}
	sender := transport.FindSender(c.connection, current.ID())
	if sender == nil {
		return false
	}
	placeholder := c.black
	if streamType == media.Audio {
		placeholder = c.silence
	}
	if err := sender.ReplaceTrack(placeholder); err != nil {
		c.log.WithError(err).WithField("streamType", streamType).Error("cannot replace track with placeholder")
		return false
	}
	c.ownTracks[streamType] = placeholder
	if streamType == media.Audio {
		delete(c.analysers, c.cfg.UserId)
		delete(c.amplitudes, c.cfg.UserId)
	} else {
		current.Stop()
	}
	c.postStreamsLocked(c.cfg.UserId)
	return true
}

// SwitchCamera replaces the enabled camera with the one facing the other way.
func (c *Call) SwitchCamera(ctx context.Context) error {
	c.log.Info("🚀")

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return InactiveCallError
	}
	current := c.ownTracks[media.Video]
	if current == nil || !current.Enabled() {
		c.globalLock.Unlock()
		return nil
	}
	sender := transport.FindSender(c.connection, current.ID())
	if sender == nil {
		c.globalLock.Unlock()
		return nil
	}
	facing := c.facing.Toggle()
	c.globalLock.Unlock()

	track, err := c.devices.Acquire(ctx, media.Video, facing)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}

	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if !c.isActive.Load() {
		track.Stop()
		return InactiveCallError
	}
	if c.ownTracks[media.Video] != current {
		track.Stop()
		c.log.Debug("camera changed while acquiring")
		return nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		track.Stop()
		return fmt.Errorf("replace track: %w", err)
	}
	current.Stop()
	c.ownTracks[media.Video] = track
	c.facing = facing
	c.postStreamsLocked(c.cfg.UserId)
	return nil
}

// ToggleSpeaker mutes or unmutes all remote audio.
func (c *Call) ToggleSpeaker() {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if !c.isActive.Load() {
		return
	}
	disabled := !c.isSpeakerDisabled.Load()
	c.isSpeakerDisabled.Store(disabled)
	c.output.SetMuted(disabled)
	c.postState(Connected, nil)
}

// SetVolume sets the playback gain of a participant; values above 1 are
// boosted twice.
func (c *Call) SetVolume(userId string, volume float64) {
	gain := volume
	if volume > 1 {
		gain = volume * 2
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	c.output.SetGain(userId, gain)
}

func (c *Call) sampleAmplitudes(ctx context.Context) {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if !c.isActive.Load() {
		return
	}
	for userId, analyser := range c.analysers {
		amplitude := analyser.Amplitude()
		prev := c.amplitudes[userId]
		c.amplitudes[userId] = amplitude
		if media.Crossed(prev, amplitude, c.cfg.VoiceThreshold) {
			c.postStreamsLocked(userId)
		}
	}
}

// StartPresentation captures the screen and negotiates it over a separate
// connection.
func (c *Call) StartPresentation(ctx context.Context) error {
	c.log.Info("🚀")

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return InactiveCallError
	}
	if c.conference == nil || len(c.conference.Transport.Ufrag) == 0 {
		c.globalLock.Unlock()
		return NotJoinedError
	}
	if c.presentation != nil || c.presentationPending {
		c.globalLock.Unlock()
		return PresentationActiveError
	}
	c.presentationPending = true
	c.globalLock.Unlock()

	p, err := c.negotiatePresentation(ctx)

	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	c.presentationPending = false
	if err != nil {
		c.log.WithError(err).Error("start presentation failed")
		return err
	}
	if !c.isActive.Load() {
		p.track.Stop()
		_ = p.connection.Close()
		return InactiveCallError
	}
	c.presentation = p
	c.postStreamsLocked(c.cfg.UserId)
	return nil
}

func (c *Call) negotiatePresentation(ctx context.Context) (p *presentation, err error) {
	track, err := c.devices.Acquire(ctx, media.Presentation, media.FacingUser)
	if err != nil {
		return nil, fmt.Errorf("acquire screen: %w", err)
	}
	connection, err := c.factory.NewConnection(transport.Config{
		ICEServers:   c.cfg.ICEServers,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		track.Stop()
		return nil, fmt.Errorf("new connection: %w", err)
	}
	defer func() {
		if err != nil {
			track.Stop()
			_ = connection.Close()
		}
	}()
	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.log.WithField("iceConnectionState", state.String()).Info("presentation ice connection state changed")
	})

	if _, err := connection.AddTrack(track); err != nil {
		return nil, fmt.Errorf("add presentation track: %w", err)
	}
	offer, err := connection.CreateOffer(ctx, transport.OfferOptions{})
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := connection.SetLocalDescription(ctx, offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	payload, err := sdp.ParseGroup(offer)
	if err != nil {
		return nil, err
	}
	presentationConference := &conference.Conference{Ssrcs: mainSsrcs(payload, true)}

	data, err := c.backend.JoinPresentation(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("join presentation: %w", err)
	}
	if err := applyConnectionData(presentationConference, data); err != nil {
		return nil, err
	}
	text, err := sdp.Build(presentationConference, c.sdpOptions(true, true))
	if err != nil {
		return nil, err
	}
	if err := connection.SetRemoteDescription(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: text}); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	return &presentation{connection: connection, conference: presentationConference, track: track}, nil
}

// StopPresentation closes the presentation connection and tells the backend.
func (c *Call) StopPresentation(ctx context.Context) error {
	c.log.Info("🚀")

	c.globalLock.Lock()
	if c.presentation == nil {
		c.globalLock.Unlock()
		return nil
	}
	c.closePresentation()
	c.postStreamsLocked(c.cfg.UserId)
	c.globalLock.Unlock()

	return c.backend.LeavePresentation(ctx)
}

func (c *Call) closePresentation() {
	c.presentation.track.Stop()
	if err := c.presentation.connection.Close(); err != nil {
		c.log.WithError(err).Warn("cannot close presentation connection")
	}
	c.presentation = nil
}
