package sdp

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/Connect-Club/connectclub-calls-client/conference"
)

const (
	AudioBandwidth = 16
	VideoBandwidth = 200

	GroupApplicationMid = "2"
	P2pApplicationMid   = "3"
)

type Options struct {
	IsAnswer       bool
	IsPresentation bool
	IsP2p          bool

	// zero means AudioBandwidth / VideoBandwidth
	AudioBandwidth int
	VideoBandwidth int
}

//go:embed templates/*.tmpl
var templateFiles embed.FS

var templatedFuncMap = template.FuncMap{
	"Join": func(sep string, elems []string) string {
		return strings.Join(elems, sep)
	},
	"PayloadIds": func(payloadTypes []conference.PayloadType) []string {
		ids := make([]string, len(payloadTypes))
		for i, payloadType := range payloadTypes {
			ids[i] = strconv.Itoa(payloadType.Id)
		}
		return ids
	},
	"TransportSources": func(sources []int32) []string {
		stringElems := make([]string, len(sources))
		for i, v := range sources {
			stringElems[i] = strconv.FormatUint(uint64(conference.ToTransportSource(v)), 10)
		}
		return stringElems
	},
	"Fmtp": func(parameters map[string]string) string {
		keys := make([]string, 0, len(parameters))
		for k := range parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + parameters[k]
		}
		return strings.Join(pairs, ";")
	},
}

var templates = template.Must(template.New("sdp").Funcs(templatedFuncMap).ParseFS(templateFiles, "templates/*.tmpl"))

// Build serializes the conference into SDP text. Repeated builds of an
// unchanged conference produce identical output.
func Build(c *conference.Conference, opts Options) (string, error) {
	if err := c.Transport.Validate(); err != nil {
		return "", err
	}

	transport := transportTemplateData(&c.Transport, opts.IsAnswer)
	builder := strings.Builder{}

	applicationMid := GroupApplicationMid
	if opts.IsP2p {
		applicationMid = P2pApplicationMid
	}

	bundle := make([]string, 0, len(c.Ssrcs)+1)
	for _, ssrc := range c.Ssrcs {
		bundle = append(bundle, ssrc.Mid)
	}
	if !opts.IsPresentation {
		bundle = append(bundle, applicationMid)
	}

	if err := templates.ExecuteTemplate(&builder, "header.tmpl", HeaderTemplateData{
		SessionId: c.SessionId,
		Bundle:    bundle,
		IceLite:   !opts.IsP2p,
	}); err != nil {
		return "", fmt.Errorf("header sdp generation error: %w", err)
	}

	addSsrc := func(ssrc *conference.Ssrc) error {
		if err := templates.ExecuteTemplate(&builder, "media.tmpl", mediaTemplateData(c, ssrc, transport, opts)); err != nil {
			return fmt.Errorf("media sdp generation error, mid = %v: %w", ssrc.Mid, err)
		}
		return nil
	}

	// group calls emit the main legs first and the participant legs after the
	// data channel, p2p keeps encounter order
	var deferred []*conference.Ssrc
	for i := range c.Ssrcs {
		ssrc := &c.Ssrcs[i]
		if !opts.IsP2p && !ssrc.IsMain {
			deferred = append(deferred, ssrc)
			continue
		}
		if err := addSsrc(ssrc); err != nil {
			return "", err
		}
	}

	if !opts.IsPresentation {
		if err := templates.ExecuteTemplate(&builder, "application.tmpl", ApplicationTemplateData{
			Mid:       applicationMid,
			Transport: transport,
		}); err != nil {
			return "", fmt.Errorf("application sdp generation error: %w", err)
		}
	}

	for _, ssrc := range deferred {
		if err := addSsrc(ssrc); err != nil {
			return "", err
		}
	}

	return normalizeLines(builder.String()), nil
}

func mediaTemplateData(c *conference.Conference, ssrc *conference.Ssrc, transport TransportTemplateData, opts Options) MediaTemplateData {
	audioBandwidth := opts.AudioBandwidth
	if audioBandwidth == 0 {
		audioBandwidth = AudioBandwidth
	}
	videoBandwidth := opts.VideoBandwidth
	if videoBandwidth == 0 {
		videoBandwidth = VideoBandwidth
	}
	data := MediaTemplateData{
		Kind:         "audio",
		Port:         0,
		Bandwidth:    audioBandwidth,
		Mid:          ssrc.Mid,
		Endpoint:     ssrc.Endpoint,
		PayloadTypes: c.AudioPayloadTypes,
		Extensions:   c.AudioExtensions,
		Removed:      ssrc.IsRemoved,
		Transport:    transport,
		SourceGroups: ssrc.SourceGroups,
	}
	if ssrc.IsVideo {
		data.Kind = "video"
		data.Bandwidth = videoBandwidth
		data.PayloadTypes = c.VideoPayloadTypes
		data.Extensions = c.VideoExtensions
	}
	if ssrc.IsMain || opts.IsP2p {
		data.Port = 1
	}

	switch {
	case opts.IsP2p:
		data.Directions = []string{"sendrecv", "bundle-only"}
	case opts.IsAnswer:
		data.Directions = []string{"recvonly"}
	case ssrc.IsMain:
		data.Directions = []string{"sendrecv"}
	default:
		data.Directions = []string{"sendonly", "bundle-only"}
	}
	return data
}

func transportTemplateData(transport *conference.Transport, isAnswer bool) TransportTemplateData {
	defaultSetup := "actpass"
	if isAnswer {
		defaultSetup = "passive"
	}
	fingerprints := make([]conference.Fingerprint, len(transport.Fingerprints))
	for i, fingerprint := range transport.Fingerprints {
		if len(fingerprint.Setup) == 0 {
			fingerprint.Setup = defaultSetup
		}
		fingerprints[i] = fingerprint
	}
	candidates := make([]string, 0, len(transport.Candidates))
	for _, candidate := range transport.Candidates {
		candidates = append(candidates, CandidateLine(candidate))
	}
	return TransportTemplateData{
		Ufrag:        transport.Ufrag,
		Pwd:          transport.Pwd,
		Fingerprints: fingerprints,
		Candidates:   candidates,
	}
}

// CandidateLine renders a candidate without the "a=" prefix.
func CandidateLine(candidate conference.Candidate) string {
	if len(candidate.SdpString) > 0 {
		return strings.TrimPrefix(candidate.SdpString, "a=")
	}
	line := fmt.Sprintf("candidate:%s %s %s %s %s %s typ %s",
		candidate.Foundation,
		candidate.Component,
		candidate.Protocol,
		candidate.Priority,
		candidate.Ip,
		candidate.Port,
		candidate.Type,
	)
	if len(candidate.RelAddr) > 0 {
		line += fmt.Sprintf(" raddr %s rport %s", candidate.RelAddr, candidate.RelPort)
	}
	if len(candidate.Generation) > 0 {
		line += " generation " + candidate.Generation
	}
	return line
}

func normalizeLines(text string) string {
	builder := strings.Builder{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		builder.WriteString(line)
		builder.WriteString("\r\n")
	}
	return builder.String()
}
