package colibri

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Message
	}{
		{
			name: "dominant speaker",
			json: `{"colibriClass":"DominantSpeakerEndpointChangeEvent","dominantSpeakerEndpoint":"e1","previousSpeakers":["e2"]}`,
			want: DominantSpeakerEndpointChangeEvent{DominantSpeakerEndpoint: "e1", PreviousSpeakers: []string{"e2"}},
		},
		{
			name: "sender constraints",
			json: `{"colibriClass":"SenderVideoConstraints","videoConstraints":{"idealHeight":180}}`,
			want: SenderVideoConstraints{VideoConstraints: VideoConstraints{IdealHeight: 180}},
		},
		{
			name: "connectivity",
			json: `{"colibriClass":"EndpointConnectivityStatusChangeEvent","endpoint":"e1","active":false}`,
			want: EndpointConnectivityStatusChangeEvent{Endpoint: "e1", Active: false},
		},
		{
			name: "endpoint message",
			json: `{"colibriClass":"EndpointMessage","from":"e1","to":"","msgPayload":{"type":"ping"}}`,
			want: EndpointMessage{From: "e1", MsgPayload: map[string]interface{}{"type": "ping"}},
		},
		{
			name: "expired",
			json: `{"colibriClass":"EndpointExpiredEvent","endpoint":"e3"}`,
			want: EndpointExpiredEvent{Endpoint: "e3"},
		},
		{
			name: "unknown",
			json: `{"colibriClass":"ServerHello","version":"2"}`,
			want: Unknown{Class: "ServerHello", Raw: json.RawMessage(`{"colibriClass":"ServerHello","version":"2"}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, NotJsonError)

	_, err = Decode([]byte(`{"endpoint":"e1"}`))
	assert.ErrorIs(t, err, MissingColibriClassError)

	_, err = Decode([]byte(`{"colibriClass":"EndpointConnectivityStatusChangeEvent","endpoint":"e1"}`))
	assert.ErrorIs(t, err, MalformedMessageError)

	_, err = Decode([]byte(`{"colibriClass":"EndpointExpiredEvent","endpoint":5}`))
	assert.ErrorIs(t, err, MalformedMessageError)
}

func TestEncodeStampsClass(t *testing.T) {
	body, err := Encode(ReceiverVideoConstraints{
		OnStageEndpoints:   []string{},
		DefaultConstraints: VideoConstraints{MaxHeight: 0},
		Constraints:        map[string]VideoConstraints{"v1": {MaxHeight: 1080}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"colibriClass": "ReceiverVideoConstraints",
		"onStageEndpoints": [],
		"defaultConstraints": {"maxHeight": 0},
		"constraints": {"v1": {"maxHeight": 1080}}
	}`, string(body))

	body, err = Encode(ReceiverVideoConstraint{MaxFrameHeight: 360, MaxFrameTemporalLayerId: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"colibriClass":"ReceiverVideoConstraint","maxFrameHeight":360,"maxFrameTemporalLayerId":1}`, string(body))

	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, ReceiverVideoConstraint{MaxFrameHeight: 360, MaxFrameTemporalLayerId: 1}, decoded)
}
