package p2p

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Connect-Club/connectclub-calls-client/conference"
)

const (
	InitialSetupType = "InitialSetup"
	CandidatesType   = "Candidates"
	MediaStateType   = "MediaState"
)

// Message is one of InitialSetup, Candidates or MediaState.
type Message interface {
	MessageType() string
}

type SsrcGroup struct {
	Semantics string   `json:"semantics"`
	Ssrcs     []uint32 `json:"ssrcs"`
}

type FeedbackType struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

type PayloadType struct {
	Id            int               `json:"id"`
	Name          string            `json:"name"`
	Clockrate     int               `json:"clockrate"`
	Channels      int               `json:"channels"`
	FeedbackTypes []FeedbackType    `json:"feedbackTypes,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// MediaContent describes one media section. Ssrc is the unsigned source
// written as a decimal string.
type MediaContent struct {
	Ssrc          string                 `json:"ssrc"`
	SsrcGroups    []SsrcGroup            `json:"ssrcGroups"`
	PayloadTypes  []PayloadType          `json:"payloadTypes"`
	RtpExtensions []conference.Extension `json:"rtpExtensions"`
}

type InitialSetup struct {
	Fingerprints []conference.Fingerprint `json:"fingerprints"`
	Ufrag        string                   `json:"ufrag"`
	Pwd          string                   `json:"pwd"`
	Audio        *MediaContent            `json:"audio,omitempty"`
	Video        *MediaContent            `json:"video,omitempty"`
	Screencast   *MediaContent            `json:"screencast,omitempty"`
}

type Candidate struct {
	SdpString string `json:"sdpString"`
}

type Candidates struct {
	Candidates []Candidate `json:"candidates"`
}

type VideoState string

const (
	VideoInactive VideoState = "inactive"
	VideoActive   VideoState = "active"
)

type MediaState struct {
	IsMuted         bool       `json:"isMuted"`
	VideoState      VideoState `json:"videoState"`
	VideoRotation   int        `json:"videoRotation"`
	ScreencastState VideoState `json:"screencastState"`
	IsBatteryLow    bool       `json:"isBatteryLow"`
}

func (InitialSetup) MessageType() string {
	return InitialSetupType
}

func (Candidates) MessageType() string {
	return CandidatesType
}

func (MediaState) MessageType() string {
	return MediaStateType
}

// Decode parses a signaling message by its @type property.
func Decode(data []byte) (Message, error) {
	var header struct {
		Type *string `json:"@type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w, err = %v", NotJsonError, err)
	}
	if header.Type == nil {
		return nil, MissingTypeError
	}
	var msg Message
	var err error
	switch *header.Type {
	case InitialSetupType:
		msg, err = decodeAs[InitialSetup](data)
	case CandidatesType:
		msg, err = decodeAs[Candidates](data)
	case MediaStateType:
		msg, err = decodeAs[MediaState](data)
	default:
		return nil, fmt.Errorf("%w, @type = %v", UnknownMessageError, *header.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w, @type = %v, err = %v", MalformedMessageError, *header.Type, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the message and stamps its @type property.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, err := json.Marshal(msg.MessageType())
	if err != nil {
		return nil, err
	}
	fields["@type"] = typ
	return json.Marshal(fields)
}

// FilterVP8 keeps VP8 and the retransmission type bound to it by apt.
// Tables without VP8 are returned as is.
func FilterVP8(payloadTypes []PayloadType) []PayloadType {
	vp8 := -1
	for i, payloadType := range payloadTypes {
		if payloadType.Name == "VP8" {
			vp8 = i
			break
		}
	}
	if vp8 < 0 {
		return payloadTypes
	}
	filtered := []PayloadType{payloadTypes[vp8]}
	apt := strconv.Itoa(payloadTypes[vp8].Id)
	for _, payloadType := range payloadTypes {
		if payloadType.Parameters["apt"] == apt {
			filtered = append(filtered, payloadType)
			break
		}
	}
	return filtered
}

func (p PayloadType) toConference() conference.PayloadType {
	feedbackTypes := make([]conference.FeedbackType, len(p.FeedbackTypes))
	for i, feedbackType := range p.FeedbackTypes {
		feedbackTypes[i] = conference.FeedbackType{Type: feedbackType.Type, Subtype: feedbackType.Subtype}
	}
	return conference.PayloadType{
		Id:            p.Id,
		Name:          p.Name,
		Clockrate:     p.Clockrate,
		Channels:      p.Channels,
		Parameters:    p.Parameters,
		FeedbackTypes: feedbackTypes,
	}
}

func toConferencePayloadTypes(payloadTypes []PayloadType) []conference.PayloadType {
	converted := make([]conference.PayloadType, len(payloadTypes))
	for i, payloadType := range payloadTypes {
		converted[i] = payloadType.toConference()
	}
	return converted
}

func fromConferencePayloadTypes(payloadTypes []conference.PayloadType) []PayloadType {
	converted := make([]PayloadType, len(payloadTypes))
	for i, payloadType := range payloadTypes {
		feedbackTypes := make([]FeedbackType, len(payloadType.FeedbackTypes))
		for j, feedbackType := range payloadType.FeedbackTypes {
			feedbackTypes[j] = FeedbackType{Type: feedbackType.Type, Subtype: feedbackType.Subtype}
		}
		converted[i] = PayloadType{
			Id:            payloadType.Id,
			Name:          payloadType.Name,
			Clockrate:     payloadType.Clockrate,
			Channels:      payloadType.Channels,
			Parameters:    payloadType.Parameters,
			FeedbackTypes: feedbackTypes,
		}
	}
	return converted
}

func (g SsrcGroup) toConference() conference.SourceGroup {
	sources := make([]int32, len(g.Ssrcs))
	for i, ssrc := range g.Ssrcs {
		sources[i] = conference.ToSignalingSource(ssrc)
	}
	return conference.SourceGroup{Semantics: g.Semantics, Sources: sources}
}

func fromConferenceGroup(group conference.SourceGroup) SsrcGroup {
	ssrcs := make([]uint32, len(group.Sources))
	for i, source := range group.Sources {
		ssrcs[i] = conference.ToTransportSource(source)
	}
	return SsrcGroup{Semantics: group.Semantics, Ssrcs: ssrcs}
}

func formatSource(source int32) string {
	return strconv.FormatUint(uint64(conference.ToTransportSource(source)), 10)
}

func parseSource(ssrc string) (int32, error) {
	value, err := strconv.ParseUint(ssrc, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w, ssrc = %v", MalformedMessageError, ssrc)
	}
	return conference.ToSignalingSource(uint32(value)), nil
}
