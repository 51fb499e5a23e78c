package sdp

import (
	"github.com/Connect-Club/connectclub-calls-client/conference"
)

type HeaderTemplateData struct {
	SessionId int64
	Bundle    []string
	IceLite   bool
}

type TransportTemplateData struct {
	Ufrag        string
	Pwd          string
	Fingerprints []conference.Fingerprint
	Candidates   []string
}

type MediaTemplateData struct {
	Kind         string
	Port         int
	Bandwidth    int
	Mid          string
	Endpoint     string
	PayloadTypes []conference.PayloadType
	Extensions   []conference.Extension
	Removed      bool
	Transport    TransportTemplateData
	Directions   []string
	SourceGroups []conference.SourceGroup
}

type ApplicationTemplateData struct {
	Mid       string
	Transport TransportTemplateData
}
