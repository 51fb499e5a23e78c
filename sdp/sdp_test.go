package sdp

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/Connect-Club/connectclub-calls-client/conference"
	psdp "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAudioSource  int32 = -1794638146
	testVideoSource  int32 = 600
	testVideoRtxSrc  int32 = 601
	testFingerprint        = "6D:9E:2A:05:9D:AF:43:2C:30:1C:FF:45:16:7E:C3:BB:5B:4D:9E:2C:61:F6:FF:AB:20:D7:F6:A3:37:5D:1D:79"
	testUfrag              = "1ac7q1fhuilg0r"
	testPwd                = "5ijo0t5b6l9lfb6tg3hmkm3tve"
	testCandidateLine      = "candidate:1 1 udp 2130706431 10.0.0.1 10000 typ host generation 0"
	testVideoEndpoint      = "v1"
	testAudioPayloadTypeId = 111
)

func testConference() *conference.Conference {
	return &conference.Conference{
		SessionId: 1630000000000,
		Transport: conference.Transport{
			Ufrag:        testUfrag,
			Pwd:          testPwd,
			Fingerprints: []conference.Fingerprint{{Hash: "sha-256", Fingerprint: testFingerprint}},
			Candidates: []conference.Candidate{
				{SdpString: "a=" + testCandidateLine},
				{Foundation: "2", Component: "1", Protocol: "udp", Priority: "1694498815", Ip: "1.2.3.4", Port: "10000", Type: "srflx", RelAddr: "10.0.0.1", RelPort: "10000", Generation: "0"},
			},
		},
		AudioPayloadTypes: []conference.PayloadType{{
			Id:         testAudioPayloadTypeId,
			Name:       "opus",
			Clockrate:  48000,
			Channels:   2,
			Parameters: map[string]string{"useinbandfec": "1", "minptime": "10"},
			FeedbackTypes: []conference.FeedbackType{
				{Type: "transport-cc"},
			},
		}},
		VideoPayloadTypes: []conference.PayloadType{
			{
				Id:        96,
				Name:      "VP8",
				Clockrate: 90000,
				FeedbackTypes: []conference.FeedbackType{
					{Type: "nack"},
					{Type: "nack", Subtype: "pli"},
					{Type: "goog-remb"},
				},
			},
			{Id: 97, Name: "rtx", Clockrate: 90000, Parameters: map[string]string{"apt": "96"}},
		},
		AudioExtensions: []conference.Extension{{Id: 1, Uri: "urn:ietf:params:rtp-hdrext:ssrc-audio-level"}},
		VideoExtensions: []conference.Extension{{Id: 3, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"}},
		Ssrcs: []conference.Ssrc{
			{
				UserId:       "1",
				Endpoint:     "a0",
				Mid:          "0",
				IsMain:       true,
				SourceGroups: []conference.SourceGroup{{Sources: []int32{testAudioSource}}},
			},
			{
				UserId:   "1",
				Endpoint: testVideoEndpoint,
				Mid:      "1",
				IsMain:   true,
				IsVideo:  true,
				SourceGroups: []conference.SourceGroup{{
					Semantics: "FID",
					Sources:   []int32{testVideoSource, testVideoRtxSrc},
				}},
			},
		},
	}
}

func offer(text string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: text}
}

// mediaSection returns the lines of the m= section carrying the given mid.
func mediaSection(t *testing.T, text, mid string) []string {
	for _, sec := range splitSections(text) {
		for _, line := range sec.lines {
			if line == "a=mid:"+mid {
				return sec.lines
			}
		}
	}
	t.Fatalf("no section with mid %v", mid)
	return nil
}

func TestBuildParseRoundTrip(t *testing.T) {
	text, err := Build(testConference(), Options{})
	require.NoError(t, err)

	payload, err := ParseGroup(offer(text))
	require.NoError(t, err)

	assert.Equal(t, testUfrag, payload.Ufrag)
	assert.Equal(t, testPwd, payload.Pwd)
	assert.Equal(t, []conference.Fingerprint{{Hash: "sha-256", Setup: "active", Fingerprint: testFingerprint}}, payload.Fingerprints)
	assert.Equal(t, testAudioSource, payload.Ssrc)
	assert.Equal(t, []conference.SourceGroup{{Semantics: "FID", Sources: []int32{testVideoSource, testVideoRtxSrc}}}, payload.SsrcGroups)
}

func TestBuildIsDeterministic(t *testing.T) {
	c := testConference()
	c.Ssrcs = append(c.Ssrcs,
		conference.Ssrc{UserId: "2", Endpoint: "2", Mid: "4", SourceGroups: []conference.SourceGroup{{Sources: []int32{500}}}},
		conference.Ssrc{UserId: "2", Endpoint: "e2", Mid: "5", IsVideo: true, IsRemoved: true},
	)
	first, err := Build(c, Options{})
	require.NoError(t, err)
	second, err := Build(c.Clone(), Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildIsWellFormed(t *testing.T) {
	c := testConference()
	c.Ssrcs = append(c.Ssrcs,
		conference.Ssrc{UserId: "2", Endpoint: "2", Mid: "4", SourceGroups: []conference.SourceGroup{{Sources: []int32{500}}}},
	)
	for _, opts := range []Options{{}, {IsAnswer: true}, {IsP2p: true}, {IsPresentation: true}} {
		text, err := Build(c, opts)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(text, "\r\n"))

		parsed := psdp.SessionDescription{}
		require.NoError(t, parsed.Unmarshal([]byte(text)), "options %+v", opts)

		bundle, ok := parsed.Attribute("group")
		require.True(t, ok)
		if opts.IsPresentation {
			assert.Equal(t, "BUNDLE 0 1 4", bundle)
			assert.Len(t, parsed.MediaDescriptions, 3)
		} else {
			assert.Len(t, parsed.MediaDescriptions, 4)
		}
		_, iceLite := parsed.Attribute("ice-lite")
		assert.Equal(t, !opts.IsP2p, iceLite)
	}
}

func TestBuildGroupOrder(t *testing.T) {
	c := testConference()
	c.Ssrcs = append([]conference.Ssrc{
		{UserId: "2", Endpoint: "2", Mid: "4", SourceGroups: []conference.SourceGroup{{Sources: []int32{500}}}},
	}, c.Ssrcs...)

	text, err := Build(c, Options{})
	require.NoError(t, err)

	var mids []string
	for _, line := range strings.Split(text, "\r\n") {
		if strings.HasPrefix(line, "a=mid:") {
			mids = append(mids, line[len("a=mid:"):])
		}
	}
	assert.Equal(t, []string{"0", "1", GroupApplicationMid, "4"}, mids)
	assert.Contains(t, text, "a=group:BUNDLE 4 0 1 2\r\n")

	text, err = Build(c, Options{IsP2p: true})
	require.NoError(t, err)
	assert.Contains(t, text, "a=group:BUNDLE 4 0 1 3\r\n")
}

func TestBuildDirections(t *testing.T) {
	c := testConference()
	c.Ssrcs = append(c.Ssrcs, conference.Ssrc{UserId: "2", Endpoint: "2", Mid: "4", SourceGroups: []conference.SourceGroup{{Sources: []int32{500}}}})

	text, err := Build(c, Options{})
	require.NoError(t, err)
	assert.Contains(t, mediaSection(t, text, "0"), "a=sendrecv")
	assert.Contains(t, mediaSection(t, text, "4"), "a=sendonly")
	assert.Contains(t, mediaSection(t, text, "4"), "a=bundle-only")
	assert.True(t, strings.HasPrefix(mediaSection(t, text, "4")[0], "m=audio 0 "))
	assert.True(t, strings.HasPrefix(mediaSection(t, text, "1")[0], "m=video 1 "))

	text, err = Build(c, Options{IsAnswer: true})
	require.NoError(t, err)
	assert.Contains(t, mediaSection(t, text, "0"), "a=recvonly")
	assert.Contains(t, mediaSection(t, text, "4"), "a=recvonly")
	assert.Contains(t, mediaSection(t, text, "0"), "a=setup:passive")

	text, err = Build(c, Options{IsP2p: true})
	require.NoError(t, err)
	for _, mid := range []string{"0", "1", "4"} {
		assert.Contains(t, mediaSection(t, text, mid), "a=sendrecv")
		assert.Contains(t, mediaSection(t, text, mid), "a=bundle-only")
	}
}

func TestBuildRemovedLeg(t *testing.T) {
	c := testConference()
	c.Ssrcs[1].IsRemoved = true
	c.Ssrcs = append(c.Ssrcs, conference.Ssrc{
		UserId: "2", Endpoint: "2", Mid: "4", IsRemoved: true,
		SourceGroups: []conference.SourceGroup{{Sources: []int32{500}}},
	})

	for _, opts := range []Options{{}, {IsAnswer: true}, {IsP2p: true}} {
		text, err := Build(c, opts)
		require.NoError(t, err)
		for _, mid := range []string{"1", "4"} {
			lines := mediaSection(t, text, mid)
			assert.Contains(t, lines, "a=inactive")
			for _, line := range lines {
				for _, forbidden := range []string{"a=ice-ufrag", "a=ice-pwd", "a=fingerprint", "a=setup", "a=candidate", "a=ssrc",
					"a=sendrecv", "a=sendonly", "a=recvonly", "a=bundle-only"} {
					assert.False(t, strings.HasPrefix(line, forbidden), "mid %v line %v", mid, line)
				}
			}
		}
	}
}

func TestBuildMediaLines(t *testing.T) {
	text, err := Build(testConference(), Options{})
	require.NoError(t, err)

	audio := mediaSection(t, text, "0")
	assert.Equal(t, "m=audio 1 RTP/SAVPF 111", audio[0])
	assert.Contains(t, audio, "b=AS:16")
	assert.Contains(t, audio, "a=rtpmap:111 opus/48000/2")
	assert.Contains(t, audio, "a=fmtp:111 minptime=10;useinbandfec=1")
	assert.Contains(t, audio, "a=rtcp-fb:111 transport-cc")
	assert.Contains(t, audio, "a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level")
	assert.Contains(t, audio, "a="+testCandidateLine)
	assert.Contains(t, audio, "a=candidate:2 1 udp 1694498815 1.2.3.4 10000 typ srflx raddr 10.0.0.1 rport 10000 generation 0")
	assert.Contains(t, audio, "a=ssrc:2500329150 cname:a0")
	assert.Contains(t, audio, "a=ssrc:2500329150 msid:a0 a0")
	assert.Contains(t, audio, "a=setup:actpass")

	video := mediaSection(t, text, "1")
	assert.Equal(t, "m=video 1 RTP/SAVPF 96 97", video[0])
	assert.Contains(t, video, "b=AS:200")
	assert.Contains(t, video, "a=rtpmap:96 VP8/90000")
	assert.Contains(t, video, "a=rtcp-fb:96 nack pli")
	assert.Contains(t, video, "a=fmtp:97 apt=96")
	assert.Contains(t, video, "a=ssrc-group:FID 600 601")
	assert.Contains(t, video, "a=ssrc:601 label:v1")

	application := mediaSection(t, text, GroupApplicationMid)
	assert.Equal(t, "m=application 1 UDP/DTLS/SCTP webrtc-datachannel", application[0])
	assert.Contains(t, application, "a=sctp-port:5000")
}

func TestBuildBandwidthOverride(t *testing.T) {
	text, err := Build(testConference(), Options{AudioBandwidth: 32, VideoBandwidth: 1000})
	require.NoError(t, err)
	assert.Contains(t, mediaSection(t, text, "0"), "b=AS:32")
	assert.Contains(t, mediaSection(t, text, "1"), "b=AS:1000")
}

func TestBuildRejectsInvalidTransport(t *testing.T) {
	c := testConference()
	c.Transport.Fingerprints = nil
	_, err := Build(c, Options{})
	assert.ErrorIs(t, err, conference.InvalidTransportError)
}

func TestParseErrors(t *testing.T) {
	text, err := Build(testConference(), Options{})
	require.NoError(t, err)

	without := func(prefix string) string {
		var lines []string
		for _, line := range strings.Split(text, "\r\n") {
			if !strings.HasPrefix(line, prefix) {
				lines = append(lines, line)
			}
		}
		return strings.Join(lines, "\r\n")
	}

	tests := []struct {
		name string
		sdp  string
		err  error
	}{
		{"empty", "", EmptyDescriptionError},
		{"ufrag", without("a=ice-ufrag:"), MissingUfragError},
		{"pwd", without("a=ice-pwd:"), MissingPwdError},
		{"fingerprint", without("a=fingerprint:"), MissingFingerprintError},
		{"video", without("a=ssrc"), MissingVideoSsrcGroupError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGroup(offer(tt.sdp))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestParseAudioIsOptional(t *testing.T) {
	c := testConference()
	c.Ssrcs[0].SourceGroups = nil
	text, err := Build(c, Options{})
	require.NoError(t, err)

	payload, err := ParseGroup(offer(text))
	require.NoError(t, err)
	assert.Zero(t, payload.Ssrc)
}

func TestParseVideoWithoutGroup(t *testing.T) {
	c := testConference()
	c.Ssrcs[1].SourceGroups = []conference.SourceGroup{{Sources: []int32{testVideoSource}}}
	text, err := Build(c, Options{})
	require.NoError(t, err)

	payload, err := ParseGroup(offer(text))
	require.NoError(t, err)
	assert.Equal(t, []conference.SourceGroup{{Sources: []int32{testVideoSource}}}, payload.SsrcGroups)
}

func TestParseP2p(t *testing.T) {
	c := testConference()
	c.Transport.Fingerprints[0].Setup = "actpass"
	c.Ssrcs = append(c.Ssrcs, conference.Ssrc{
		UserId: "1", Endpoint: "s1", Mid: "2", IsVideo: true, IsPresentation: true,
		SourceGroups: []conference.SourceGroup{{Semantics: "FID", Sources: []int32{700, 701}}},
	})
	text, err := Build(c, Options{IsP2p: true})
	require.NoError(t, err)

	description, err := ParseP2p(offer(text))
	require.NoError(t, err)

	assert.Equal(t, "actpass", description.Fingerprints[0].Setup)
	assert.Equal(t, testAudioSource, description.Ssrc)
	assert.Equal(t, []conference.SourceGroup{
		{Semantics: "FID", Sources: []int32{testVideoSource, testVideoRtxSrc}},
		{Semantics: "FID", Sources: []int32{700, 701}},
	}, description.SsrcGroups)

	assert.Equal(t, c.AudioExtensions, description.AudioExtensions)
	assert.Equal(t, c.VideoExtensions, description.VideoExtensions)
	assert.Equal(t, c.VideoExtensions, description.ScreencastExtensions)
	assert.Equal(t, c.AudioPayloadTypes, description.AudioPayloadTypes)
	assert.Equal(t, c.VideoPayloadTypes, description.VideoPayloadTypes)
	assert.Equal(t, c.VideoPayloadTypes, description.ScreencastPayloadTypes)
}

func TestMungeSimulcast(t *testing.T) {
	next := uint32(1000)
	randomSource = func() uint32 {
		next++
		return next
	}
	defer func() { randomSource = rand.Uint32 }()

	text, err := Build(testConference(), Options{})
	require.NoError(t, err)

	assert.Equal(t, text, MungeSimulcast(text, 1))

	munged := MungeSimulcast(text, 3)
	video := mediaSection(t, munged, "1")
	assert.Contains(t, video, "a=ssrc-group:SIM 600 1001 1003")
	assert.Contains(t, video, "a=ssrc-group:FID 600 601")
	assert.Contains(t, video, "a=ssrc-group:FID 1001 1002")
	assert.Contains(t, video, "a=ssrc-group:FID 1003 1004")
	assert.Contains(t, video, "a=ssrc:1004 cname:v1")
	assert.NotContains(t, video, "a=ssrc:600 label:v1")

	payload, err := ParseGroup(offer(munged))
	require.NoError(t, err)
	assert.Equal(t, "SIM", payload.SsrcGroups[0].Semantics)
	assert.Equal(t, []int32{600, 1001, 1003}, payload.SsrcGroups[0].Sources)

	// audio and data channel sections are untouched
	assert.Equal(t, mediaSection(t, text, "0"), mediaSection(t, munged, "0"))
	assert.Equal(t, mediaSection(t, text, GroupApplicationMid), mediaSection(t, munged, GroupApplicationMid))
}
