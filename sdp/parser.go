package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	"github.com/pion/webrtc/v3"
)

const (
	sectionSession    = "session"
	sectionAudio      = "audio"
	sectionVideo      = "video"
	sectionScreencast = "screencast"
)

// JoinPayload is what a local offer reports to the signaling backend.
// Ssrc is zero for audio-less descriptions.
type JoinPayload struct {
	Ufrag        string                   `json:"ufrag"`
	Pwd          string                   `json:"pwd"`
	Fingerprints []conference.Fingerprint `json:"fingerprints"`
	Ssrc         int32                    `json:"ssrc,omitempty"`
	SsrcGroups   []conference.SourceGroup `json:"ssrc-groups,omitempty"`
}

type P2pDescription struct {
	JoinPayload
	AudioExtensions        []conference.Extension
	VideoExtensions        []conference.Extension
	ScreencastExtensions   []conference.Extension
	AudioPayloadTypes      []conference.PayloadType
	VideoPayloadTypes      []conference.PayloadType
	ScreencastPayloadTypes []conference.PayloadType
}

type section struct {
	name  string
	lines []string
}

type sections []section

func splitSections(text string) sections {
	result := sections{{name: sectionSession}}
	hasVideo := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if strings.HasPrefix(line, "m=") {
			name := strings.SplitN(line[2:], " ", 2)[0]
			if name == sectionVideo {
				if hasVideo {
					name = sectionScreencast
				}
				hasVideo = true
			}
			result = append(result, section{name: name})
		}
		result[len(result)-1].lines = append(result[len(result)-1].lines, line)
	}
	return result
}

func (s sections) find(name string) *section {
	for i := range s {
		if s[i].name == name {
			return &s[i]
		}
	}
	return nil
}

// lookup returns the remainder of the first line starting with prefix. Without a
// section name every section is scanned and the first non-empty result wins.
func (s sections) lookup(prefix, sectionName string) string {
	if len(sectionName) > 0 {
		sec := s.find(sectionName)
		if sec == nil {
			return ""
		}
		return sec.lookup(prefix)
	}
	for i := range s {
		if value := s[i].lookup(prefix); len(value) > 0 {
			return value
		}
	}
	return ""
}

func (s sections) lookupAll(prefix, sectionName string) []string {
	sec := s.find(sectionName)
	if sec == nil {
		return nil
	}
	var values []string
	for _, line := range sec.lines {
		if strings.HasPrefix(line, prefix) {
			values = append(values, line[len(prefix):])
		}
	}
	return values
}

func (sec *section) lookup(prefix string) string {
	for _, line := range sec.lines {
		if strings.HasPrefix(line, prefix) {
			return line[len(prefix):]
		}
	}
	return ""
}

// ParseGroup extracts the join payload from a locally created description.
func ParseGroup(description webrtc.SessionDescription) (*JoinPayload, error) {
	secs, payload, err := parseCommon(description, false)
	if err != nil {
		return nil, err
	}
	group, err := sourceGroup(secs, sectionVideo)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, MissingVideoSsrcGroupError
	}
	payload.SsrcGroups = []conference.SourceGroup{*group}
	return payload, nil
}

// ParseP2p extracts credentials, sources, payload types and header extensions
// of every media section.
func ParseP2p(description webrtc.SessionDescription) (*P2pDescription, error) {
	secs, payload, err := parseCommon(description, true)
	if err != nil {
		return nil, err
	}
	video, err := sourceGroup(secs, sectionVideo)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, MissingVideoSsrcGroupError
	}
	payload.SsrcGroups = []conference.SourceGroup{*video}
	screencast, err := sourceGroup(secs, sectionScreencast)
	if err != nil {
		return nil, err
	}
	if screencast != nil {
		payload.SsrcGroups = append(payload.SsrcGroups, *screencast)
	}

	result := &P2pDescription{JoinPayload: *payload}
	if result.AudioExtensions, err = extensions(secs, sectionAudio); err != nil {
		return nil, err
	}
	if result.VideoExtensions, err = extensions(secs, sectionVideo); err != nil {
		return nil, err
	}
	if result.ScreencastExtensions, err = extensions(secs, sectionScreencast); err != nil {
		return nil, err
	}
	if result.AudioPayloadTypes, err = payloadTypes(secs, sectionAudio); err != nil {
		return nil, err
	}
	if result.VideoPayloadTypes, err = payloadTypes(secs, sectionVideo); err != nil {
		return nil, err
	}
	if result.ScreencastPayloadTypes, err = payloadTypes(secs, sectionScreencast); err != nil {
		return nil, err
	}
	return result, nil
}

func parseCommon(description webrtc.SessionDescription, isP2p bool) (sections, *JoinPayload, error) {
	if len(strings.TrimSpace(description.SDP)) == 0 {
		return nil, nil, EmptyDescriptionError
	}
	secs := splitSections(description.SDP)

	ufrag := secs.lookup("a=ice-ufrag:", "")
	if len(ufrag) == 0 {
		return nil, nil, MissingUfragError
	}
	pwd := secs.lookup("a=ice-pwd:", "")
	if len(pwd) == 0 {
		return nil, nil, MissingPwdError
	}
	hash := secs.lookup("a=fingerprint:", "")
	hashParts := strings.Fields(hash)
	if len(hashParts) != 2 {
		return nil, nil, MissingFingerprintError
	}

	setup := "active"
	if isP2p {
		setup = secs.lookup("a=setup:", "")
		if len(setup) == 0 {
			setup = "actpass"
		}
	}

	payload := &JoinPayload{
		Ufrag: ufrag,
		Pwd:   pwd,
		Fingerprints: []conference.Fingerprint{{
			Hash:        hashParts[0],
			Setup:       setup,
			Fingerprint: hashParts[1],
		}},
	}

	if audioSource := secs.lookup("a=ssrc:", sectionAudio); len(audioSource) > 0 {
		source, err := parseSource(strings.Fields(audioSource)[0])
		if err != nil {
			return nil, nil, err
		}
		payload.Ssrc = source
	}
	return secs, payload, nil
}

// sourceGroup reads the first ssrc-group of a section. A section announcing a
// single plain ssrc yields a group without semantics.
func sourceGroup(secs sections, sectionName string) (*conference.SourceGroup, error) {
	if line := secs.lookup("a=ssrc-group:", sectionName); len(line) > 0 {
		fields := strings.Fields(line)
		group := &conference.SourceGroup{Semantics: fields[0]}
		for _, field := range fields[1:] {
			source, err := parseSource(field)
			if err != nil {
				return nil, err
			}
			group.Sources = append(group.Sources, source)
		}
		return group, nil
	}
	if line := secs.lookup("a=ssrc:", sectionName); len(line) > 0 {
		source, err := parseSource(strings.Fields(line)[0])
		if err != nil {
			return nil, err
		}
		return &conference.SourceGroup{Sources: []int32{source}}, nil
	}
	return nil, nil
}

func parseSource(value string) (int32, error) {
	source, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w, bad source = %v", MalformedLineError, value)
	}
	return conference.ToSignalingSource(uint32(source)), nil
}

func extensions(secs sections, sectionName string) ([]conference.Extension, error) {
	var result []conference.Extension
	for _, value := range secs.lookupAll("a=extmap:", sectionName) {
		fields := strings.Fields(value)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w, extmap = %v", MalformedLineError, value)
		}
		id, err := strconv.Atoi(strings.SplitN(fields[0], "/", 2)[0])
		if err != nil {
			return nil, fmt.Errorf("%w, extmap = %v", MalformedLineError, value)
		}
		result = append(result, conference.Extension{Id: id, Uri: fields[1]})
	}
	return result, nil
}

func payloadTypes(secs sections, sectionName string) ([]conference.PayloadType, error) {
	sec := secs.find(sectionName)
	if sec == nil {
		return nil, nil
	}
	mLine := strings.Fields(sec.lines[0])
	if len(mLine) < 3 {
		return nil, fmt.Errorf("%w, media line = %v", MalformedLineError, sec.lines[0])
	}

	var result []conference.PayloadType
	for _, field := range mLine[3:] {
		id, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w, payload type = %v", MalformedLineError, field)
		}
		prefix := strconv.Itoa(id) + " "

		payloadType := conference.PayloadType{Id: id}
		if rtpmap := sec.lookup("a=rtpmap:" + prefix); len(rtpmap) > 0 {
			parts := strings.Split(rtpmap, "/")
			payloadType.Name = parts[0]
			if len(parts) > 1 {
				payloadType.Clockrate, _ = strconv.Atoi(parts[1])
			}
			if len(parts) > 2 {
				payloadType.Channels, _ = strconv.Atoi(parts[2])
			}
		}
		if fmtp := sec.lookup("a=fmtp:" + prefix); len(fmtp) > 0 {
			payloadType.Parameters = make(map[string]string)
			for _, pair := range strings.Split(fmtp, ";") {
				kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
				if len(kv) == 2 {
					payloadType.Parameters[kv[0]] = kv[1]
				}
			}
		}
		for _, value := range secs.lookupAll("a=rtcp-fb:"+prefix, sectionName) {
			fields := strings.Fields(value)
			if len(fields) == 0 {
				continue
			}
			feedback := conference.FeedbackType{Type: fields[0]}
			if len(fields) > 1 {
				feedback.Subtype = strings.Join(fields[1:], " ")
			}
			payloadType.FeedbackTypes = append(payloadType.FeedbackTypes, feedback)
		}
		result = append(result, payloadType)
	}
	return result, nil
}
