package groupcall

import (
	"strconv"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/Connect-Club/connectclub-calls-client/media"
)

// HandleParticipants reconciles the conference against a participant delta
// and queues the resulting snapshot for renegotiation.
func (c *Call) HandleParticipants(participants []Participant) error {
	c.log.WithField("participants", len(participants)).Debug("🚀")

	c.globalLock.Lock()
	if !c.isActive.Load() {
		c.globalLock.Unlock()
		return InactiveCallError
	}
	if c.conference == nil || len(c.conference.Transport.Ufrag) == 0 {
		c.globalLock.Unlock()
		return NotJoinedError
	}

	adminMuted := false
	for _, participant := range participants {
		if participant.IsSelf {
			mainAudio := c.conference.MainSsrc(false)
			if mainAudio != nil && participant.Source != mainAudio.FirstSource() {
				c.globalLock.Unlock()
				c.log.WithField("source", participant.Source).Warn("joined from another session")
				c.teardown(Disconnected, SupersededBySessionError)
				return SupersededBySessionError
			}
			if participant.IsMuted && !participant.CanSelfUnmute {
				adminMuted = true
			}
			c.participants[participant.Id] = participant
			continue
		}

		c.reconcile(participant)
		if participant.IsLeft {
			delete(c.participants, participant.Id)
			c.dropRemoteUser(participant.Id)
		} else {
			c.participants[participant.Id] = participant
		}
	}

	c.conference.SessionId = conference.NextSessionId()
	c.queue.push(&renegotiation{conference: c.conference.Clone()})

	presentationStopped := false
	if adminMuted {
		c.log.Info("muted by admin")
		for _, streamType := range []media.StreamType{media.Audio, media.Video, media.Presentation} {
			if c.disableOwnStream(streamType) && streamType == media.Presentation {
				presentationStopped = true
			}
		}
	}
	c.globalLock.Unlock()

	c.queueTask.Run()
	if presentationStopped {
		c.post(LeavePresentationUpdate{})
	}
	return nil
}

func (c *Call) nextMid() string {
	c.lastMid++
	return strconv.Itoa(c.lastMid)
}

func audioEndpoint(source int32) string {
	return "audio" + strconv.FormatInt(int64(source), 10)
}

// reconcile brings the legs of one remote participant in line with its
// flags. Legs are never deleted, a leg whose media went away is marked
// removed and keeps its mid.
func (c *Call) reconcile(participant Participant) {
	isAudioLeft := participant.IsMuted || participant.IsMutedByMe || participant.IsLeft
	isVideoLeft := !participant.IsVideoJoined || participant.Video == nil || participant.IsLeft
	isPresentationLeft := participant.Presentation == nil || participant.IsLeft

	endpoint := audioEndpoint(participant.Source)
	hasAudio, hasVideo, hasPresentation := false, false, false
	for i := range c.conference.Ssrcs {
		ssrc := &c.conference.Ssrcs[i]
		if ssrc.IsMain || ssrc.UserId != participant.Id {
			continue
		}
		var removed bool
		switch {
		case !ssrc.IsVideo:
			if ssrc.Endpoint == endpoint {
				hasAudio = true
				removed = isAudioLeft
			} else {
				removed = true
			}
		case ssrc.IsPresentation:
			if participant.Presentation != nil && ssrc.Endpoint == participant.Presentation.Endpoint {
				hasPresentation = true
				removed = isPresentationLeft
			} else {
				removed = true
			}
		default:
			if participant.Video != nil && ssrc.Endpoint == participant.Video.Endpoint {
				hasVideo = true
				removed = isVideoLeft
			} else {
				removed = true
			}
		}
		if removed && !ssrc.IsRemoved {
			c.dropRemoteTrack(participant.Id, streamTypeOf(ssrc))
		}
		ssrc.IsRemoved = removed
	}

	if !hasAudio && !isAudioLeft && participant.Source != 0 {
		c.conference.Ssrcs = append(c.conference.Ssrcs, conference.Ssrc{
			UserId:       participant.Id,
			Endpoint:     endpoint,
			Mid:          c.nextMid(),
			SourceGroups: []conference.SourceGroup{{Sources: []int32{participant.Source}}},
		})
	}
	if !hasVideo && !isVideoLeft {
		c.conference.Ssrcs = append(c.conference.Ssrcs, conference.Ssrc{
			UserId:       participant.Id,
			Endpoint:     participant.Video.Endpoint,
			Mid:          c.nextMid(),
			IsVideo:      true,
			SourceGroups: conference.CloneSourceGroups(participant.Video.SourceGroups),
		})
	}
	if !hasPresentation && !isPresentationLeft {
		c.conference.Ssrcs = append(c.conference.Ssrcs, conference.Ssrc{
			UserId:         participant.Id,
			Endpoint:       participant.Presentation.Endpoint,
			Mid:            c.nextMid(),
			IsVideo:        true,
			IsPresentation: true,
			SourceGroups:   conference.CloneSourceGroups(participant.Presentation.SourceGroups),
		})
	}
}

func streamTypeOf(ssrc *conference.Ssrc) media.StreamType {
	switch {
	case !ssrc.IsVideo:
		return media.Audio
	case ssrc.IsPresentation:
		return media.Presentation
	default:
		return media.Video
	}
}

func (c *Call) dropRemoteTrack(userId string, streamType media.StreamType) {
	tracks, ok := c.remoteTracks[userId]
	if !ok {
		return
	}
	if _, ok := tracks[streamType]; !ok {
		return
	}
	delete(tracks, streamType)
	if streamType == media.Audio {
		c.output.Detach(userId)
		delete(c.analysers, userId)
		delete(c.amplitudes, userId)
	}
	c.postStreamsLocked(userId)
}

func (c *Call) dropRemoteUser(userId string) {
	for _, streamType := range []media.StreamType{media.Audio, media.Video, media.Presentation} {
		c.dropRemoteTrack(userId, streamType)
	}
	delete(c.remoteTracks, userId)
}

// Participant returns the last known state of a participant.
func (c *Call) Participant(userId string) (Participant, bool) {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	participant, ok := c.participants[userId]
	return participant, ok
}

// Conference returns a copy of the current main conference.
func (c *Call) Conference() *conference.Conference {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.conference.Clone()
}
