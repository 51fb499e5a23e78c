package p2p

import (
	"context"
	"fmt"

	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

func videoState(enabled bool) VideoState {
	if enabled {
		return VideoActive
	}
	return VideoInactive
}

func (c *Call) ownStreamEnabledLocked(streamType media.StreamType) bool {
	track := c.ownTracks[streamType]
	return track != nil && track.Enabled()
}

func (c *Call) ownMediaStateLocked() MediaState {
	return MediaState{
		IsMuted:         !c.ownStreamEnabledLocked(media.Audio),
		VideoState:      videoState(c.ownStreamEnabledLocked(media.Video)),
		ScreencastState: videoState(c.ownStreamEnabledLocked(media.Presentation)),
	}
}

func (c *Call) streamsLocked() StreamsUpdate {
	update := StreamsUpdate{
		IsAudioEnabled:        c.ownStreamEnabledLocked(media.Audio),
		IsVideoEnabled:        c.ownStreamEnabledLocked(media.Video),
		IsPresentationEnabled: c.ownStreamEnabledLocked(media.Presentation),
	}
	_, update.HasAudioStream = c.remoteTracks[media.Audio]
	_, update.HasVideoStream = c.remoteTracks[media.Video]
	_, update.HasPresentationStream = c.remoteTracks[media.Presentation]
	return update
}

// MediaState is what we announce to the other party.
func (c *Call) MediaState() MediaState {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.ownMediaStateLocked()
}

// RemoteMediaState is nil until the other party announces one.
func (c *Call) RemoteMediaState() *MediaState {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if c.remoteMediaState == nil {
		return nil
	}
	state := *c.remoteMediaState
	return &state
}

func (c *Call) IsStreamEnabled(streamType media.StreamType) bool {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.ownStreamEnabledLocked(streamType)
}

func (c *Call) ToggleStream(ctx context.Context, streamType media.StreamType) error {
	return c.SetStreamEnabled(ctx, streamType, !c.IsStreamEnabled(streamType))
}

// SetStreamEnabled swaps a sender between a captured track and its
// placeholder. Video and presentation exclude each other. The resulting
// media state is sent to the other party.
func (c *Call) SetStreamEnabled(ctx context.Context, streamType media.StreamType, enabled bool) error {
	log := c.log.WithFields(logrus.Fields{"streamType": streamType, "enabled": enabled})
	log.Info("🚀")

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return InactiveCallError
	}
	if c.ownStreamEnabledLocked(streamType) == enabled {
		c.globalLock.Unlock()
		return nil
	}
	var err error
	if enabled {
		var installed bool
		installed, err = c.enableLocked(ctx, streamType, media.FacingUser)
		if err != nil || !installed {
			c.globalLock.Unlock()
			return err
		}
		switch streamType {
		case media.Video:
			c.facing = media.FacingUser
			err = c.disableLocked(media.Presentation)
		case media.Presentation:
			err = c.disableLocked(media.Video)
		}
	} else {
		err = c.disableLocked(streamType)
	}
	streams := c.streamsLocked()
	state := c.ownMediaStateLocked()
	c.globalLock.Unlock()

	if err != nil {
		return err
	}
	c.post(streams)
	return c.send(state)
}

// enableLocked is entered and left with globalLock held, but releases it
// while the device is acquired. It reports false when there is nothing to
// replace or the stream changed meanwhile.
func (c *Call) enableLocked(ctx context.Context, streamType media.StreamType, facing media.Facing) (bool, error) {
	log := c.log.WithField("streamType", streamType)
	current := c.ownTracks[streamType]
	if current == nil {
		log.Debug("no track for stream")
		return false, nil
	}
	sender := transport.FindSender(c.connection, current.ID())
	if sender == nil {
		log.Debug("no sender for stream")
		return false, nil
	}

	c.globalLock.Unlock()
	track, err := c.devices.Acquire(ctx, streamType, facing)
	c.globalLock.Lock()
	if err != nil {
		return false, fmt.Errorf("acquire %v: %w", streamType, err)
	}
	if !c.isActive.Load() {
		track.Stop()
		return false, InactiveCallError
	}
	if c.ownTracks[streamType] != current {
		track.Stop()
		log.Debug("stream changed while acquiring")
		return false, nil
	}

	if err := sender.ReplaceTrack(track); err != nil {
		track.Stop()
		return false, fmt.Errorf("replace track: %w", err)
	}
	if current.Enabled() {
		current.Stop()
	}
	c.ownTracks[streamType] = track
	return true, nil
}

func (c *Call) disableLocked(streamType media.StreamType) error {
	current := c.ownTracks[streamType]
	if current == nil || !current.Enabled() {
		return nil
	}
	current.Stop()
	placeholder := c.placeholders[streamType]
	c.ownTracks[streamType] = placeholder
	sender := transport.FindSender(c.connection, current.ID())
	if sender == nil {
		return nil
	}
	if err := sender.ReplaceTrack(placeholder); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return nil
}

// SwitchCamera reacquires video with the other facing. It does nothing
// while video is off.
func (c *Call) SwitchCamera(ctx context.Context) error {
	c.log.Info("🚀")
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if !c.isActive.Load() {
		return InactiveCallError
	}
	if !c.ownStreamEnabledLocked(media.Video) {
		return nil
	}
	facing := c.facing.Toggle()
	installed, err := c.enableLocked(ctx, media.Video, facing)
	if err != nil || !installed {
		return err
	}
	c.facing = facing
	return nil
}

func (c *Call) Facing() media.Facing {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.facing
}

// handleTrack maps remote tracks by mid: 1 is video, 2 is screencast.
func (c *Call) handleTrack(track transport.RemoteTrack) {
	streamType := media.Audio
	if track.Kind == webrtc.RTPCodecTypeVideo {
		streamType = media.Video
		if track.Mid == screencastMid {
			streamType = media.Presentation
		}
	}
	c.log.WithFields(logrus.Fields{"trackId": track.ID, "mid": track.Mid, "streamType": streamType}).Info("remote track")

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return
	}
	c.remoteTracks[streamType] = track
	streams := c.streamsLocked()
	c.globalLock.Unlock()
	c.post(streams)
}
