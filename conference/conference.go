package conference

import (
	"fmt"
	"sync"
	"time"
)

// ToTransportSource reinterprets a signaling source id as the unsigned value
// used on the wire. No value is rejected.
func ToTransportSource(source int32) uint32 {
	return uint32(source)
}

// ToSignalingSource is the inverse of ToTransportSource.
func ToSignalingSource(source uint32) int32 {
	return int32(source)
}

func (t *Transport) Validate() error {
	if len(t.Ufrag) == 0 || len(t.Pwd) == 0 {
		return fmt.Errorf("%w, ufrag and pwd are required", InvalidTransportError)
	}
	if len(t.Fingerprints) == 0 {
		return fmt.Errorf("%w, at least one fingerprint is required", InvalidTransportError)
	}
	return nil
}

var sessionIdLock sync.Mutex
var lastSessionId int64

// NextSessionId returns a time based session id that is strictly greater than
// every id it returned before.
func NextSessionId() int64 {
	sessionIdLock.Lock()
	defer sessionIdLock.Unlock()

	id := time.Now().UnixMilli()
	if id <= lastSessionId {
		id = lastSessionId + 1
	}
	lastSessionId = id
	return id
}

func (c *Conference) Clone() *Conference {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Transport = c.Transport.clone()
	clone.AudioPayloadTypes = clonePayloadTypes(c.AudioPayloadTypes)
	clone.VideoPayloadTypes = clonePayloadTypes(c.VideoPayloadTypes)
	clone.AudioExtensions = append([]Extension(nil), c.AudioExtensions...)
	clone.VideoExtensions = append([]Extension(nil), c.VideoExtensions...)
	if c.Ssrcs != nil {
		clone.Ssrcs = make([]Ssrc, len(c.Ssrcs))
		for i, ssrc := range c.Ssrcs {
			ssrc.SourceGroups = CloneSourceGroups(ssrc.SourceGroups)
			clone.Ssrcs[i] = ssrc
		}
	}
	return &clone
}

// MainSsrc returns the local party's own leg of the given kind.
func (c *Conference) MainSsrc(isVideo bool) *Ssrc {
	for i := range c.Ssrcs {
		if c.Ssrcs[i].IsMain && c.Ssrcs[i].IsVideo == isVideo {
			return &c.Ssrcs[i]
		}
	}
	return nil
}

func (c *Conference) FindByEndpoint(endpoint string) *Ssrc {
	for i := range c.Ssrcs {
		if c.Ssrcs[i].Endpoint == endpoint {
			return &c.Ssrcs[i]
		}
	}
	return nil
}

// FirstSource is the first raw source of the leg, 0 when the leg carries none.
func (s *Ssrc) FirstSource() int32 {
	if len(s.SourceGroups) == 0 || len(s.SourceGroups[0].Sources) == 0 {
		return 0
	}
	return s.SourceGroups[0].Sources[0]
}

func (t Transport) clone() Transport {
	t.Fingerprints = append([]Fingerprint(nil), t.Fingerprints...)
	t.Candidates = append([]Candidate(nil), t.Candidates...)
	return t
}

func CloneSourceGroups(groups []SourceGroup) []SourceGroup {
	if groups == nil {
		return nil
	}
	clone := make([]SourceGroup, len(groups))
	for i, group := range groups {
		clone[i] = SourceGroup{
			Semantics: group.Semantics,
			Sources:   append([]int32(nil), group.Sources...),
		}
	}
	return clone
}

func clonePayloadTypes(payloadTypes []PayloadType) []PayloadType {
	if payloadTypes == nil {
		return nil
	}
	clone := make([]PayloadType, len(payloadTypes))
	for i, payloadType := range payloadTypes {
		if payloadType.Parameters != nil {
			parameters := make(map[string]string, len(payloadType.Parameters))
			for k, v := range payloadType.Parameters {
				parameters[k] = v
			}
			payloadType.Parameters = parameters
		}
		payloadType.FeedbackTypes = append([]FeedbackType(nil), payloadType.FeedbackTypes...)
		clone[i] = payloadType
	}
	return clone
}
