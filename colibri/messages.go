package colibri

import (
	"encoding/json"
	"fmt"
)

const (
	DominantSpeakerEndpointChangeEventClass    = "DominantSpeakerEndpointChangeEvent"
	SenderVideoConstraintsClass                = "SenderVideoConstraints"
	EndpointConnectivityStatusChangeEventClass = "EndpointConnectivityStatusChangeEvent"
	EndpointMessageClass                       = "EndpointMessage"
	EndpointExpiredEventClass                  = "EndpointExpiredEvent"
	ReceiverVideoConstraintsClass              = "ReceiverVideoConstraints"
	ReceiverVideoConstraintClass               = "ReceiverVideoConstraint"
	PinnedEndpointsChangedEventClass           = "PinnedEndpointsChangedEvent"
)

// Message is one of the relay data channel messages declared in this package.
type Message interface {
	ColibriClass() string
}

type DominantSpeakerEndpointChangeEvent struct {
	DominantSpeakerEndpoint string   `json:"dominantSpeakerEndpoint"`
	PreviousSpeakers        []string `json:"previousSpeakers,omitempty"`
}

type VideoConstraints struct {
	IdealHeight int `json:"idealHeight,omitempty"`
	MinHeight   int `json:"minHeight,omitempty"`
	MaxHeight   int `json:"maxHeight"`
}

type SenderVideoConstraints struct {
	VideoConstraints VideoConstraints `json:"videoConstraints"`
}

type EndpointConnectivityStatusChangeEvent struct {
	Endpoint string `json:"endpoint"`
	Active   bool   `json:"active"`
}

type EndpointMessage struct {
	From       string                 `json:"from,omitempty"`
	To         string                 `json:"to"`
	MsgPayload map[string]interface{} `json:"msgPayload"`
}

type EndpointExpiredEvent struct {
	Endpoint string `json:"endpoint"`
}

type ReceiverVideoConstraints struct {
	LastN              int                         `json:"lastN,omitempty"`
	OnStageEndpoints   []string                    `json:"onStageEndpoints"`
	DefaultConstraints VideoConstraints            `json:"defaultConstraints"`
	Constraints        map[string]VideoConstraints `json:"constraints"`
}

type ReceiverVideoConstraint struct {
	MaxFrameHeight          int `json:"maxFrameHeight"`
	MaxFrameTemporalLayerId int `json:"maxFrameTemporalLayerId"`
}

type PinnedEndpointsChangedEvent struct {
	PinnedEndpoints []string `json:"pinnedEndpoints"`
}

// Unknown keeps a message of a class this package does not model.
type Unknown struct {
	Class string
	Raw   json.RawMessage
}

func (DominantSpeakerEndpointChangeEvent) ColibriClass() string {
	return DominantSpeakerEndpointChangeEventClass
}

func (SenderVideoConstraints) ColibriClass() string {
	return SenderVideoConstraintsClass
}

func (EndpointConnectivityStatusChangeEvent) ColibriClass() string {
	return EndpointConnectivityStatusChangeEventClass
}

func (EndpointMessage) ColibriClass() string {
	return EndpointMessageClass
}

func (EndpointExpiredEvent) ColibriClass() string {
	return EndpointExpiredEventClass
}

func (ReceiverVideoConstraints) ColibriClass() string {
	return ReceiverVideoConstraintsClass
}

func (ReceiverVideoConstraint) ColibriClass() string {
	return ReceiverVideoConstraintClass
}

func (PinnedEndpointsChangedEvent) ColibriClass() string {
	return PinnedEndpointsChangedEventClass
}

func (u Unknown) ColibriClass() string {
	return u.Class
}

// Decode parses a data channel message by its colibriClass property.
func Decode(data []byte) (Message, error) {
	var header struct {
		ColibriClass *string `json:"colibriClass"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w, msg = %s, err = %v", NotJsonError, data, err)
	}
	if header.ColibriClass == nil {
		return nil, fmt.Errorf("%w, msg = %s", MissingColibriClassError, data)
	}

	var msg Message
	var err error
	switch *header.ColibriClass {
	case DominantSpeakerEndpointChangeEventClass:
		msg, err = decodeAs[DominantSpeakerEndpointChangeEvent](data)
	case SenderVideoConstraintsClass:
		msg, err = decodeAs[SenderVideoConstraints](data)
	case EndpointConnectivityStatusChangeEventClass:
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w, msg = %s, err = %v", NotJsonError, data, err)
		}
		if _, hasActive := raw["active"].(bool); !hasActive {
			return nil, fmt.Errorf("%w, %v does not have 'active' property, msg = %s", MalformedMessageError, *header.ColibriClass, data)
		}
		msg, err = decodeAs[EndpointConnectivityStatusChangeEvent](data)
	case EndpointMessageClass:
		msg, err = decodeAs[EndpointMessage](data)
	case EndpointExpiredEventClass:
		msg, err = decodeAs[EndpointExpiredEvent](data)
	case ReceiverVideoConstraintsClass:
		msg, err = decodeAs[ReceiverVideoConstraints](data)
	case ReceiverVideoConstraintClass:
		msg, err = decodeAs[ReceiverVideoConstraint](data)
	case PinnedEndpointsChangedEventClass:
		msg, err = decodeAs[PinnedEndpointsChangedEvent](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		msg = Unknown{Class: *header.ColibriClass, Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("%w, class = %v, err = %v", MalformedMessageError, *header.ColibriClass, err)
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

// Encode serializes the message and stamps its colibriClass property.
func Encode(msg Message) ([]byte, error) {
	if unknown, ok := msg.(Unknown); ok {
		return unknown.Raw, nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	class, err := json.Marshal(msg.ColibriClass())
	if err != nil {
		return nil, err
	}
	fields["colibriClass"] = class
	return json.Marshal(fields)
}
