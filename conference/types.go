package conference

type Conference struct {
	SessionId         int64         `json:"sessionId"`
	Transport         Transport     `json:"transport"`
	AudioPayloadTypes []PayloadType `json:"audioPayloadTypes"`
	VideoPayloadTypes []PayloadType `json:"videoPayloadTypes"`
	AudioExtensions   []Extension   `json:"audioExtensions"`
	VideoExtensions   []Extension   `json:"videoExtensions"`
	Ssrcs             []Ssrc        `json:"ssrcs"`
}

// Ssrc is a single media leg of a conference.
// Mid is stable for the lifetime of the leg and is never handed out again,
// even after the leg is removed.
type Ssrc struct {
	UserId         string        `json:"userId"`
	Endpoint       string        `json:"endpoint"`
	Mid            string        `json:"mid"`
	IsMain         bool          `json:"isMain"`
	IsVideo        bool          `json:"isVideo"`
	IsPresentation bool          `json:"isPresentation,omitempty"`
	IsRemoved      bool          `json:"isRemoved,omitempty"`
	SourceGroups   []SourceGroup `json:"sourceGroups"`
}

// SourceGroup sources are kept in signaling form (signed).
type SourceGroup struct {
	Semantics string  `json:"semantics,omitempty"`
	Sources   []int32 `json:"sources"`
}

type Transport struct {
	Ufrag        string        `json:"ufrag"`
	Pwd          string        `json:"pwd"`
	Fingerprints []Fingerprint `json:"fingerprints"`
	Candidates   []Candidate   `json:"candidates"`
	RtcpMux      bool          `json:"rtcp-mux,omitempty"`
	Xmlns        string        `json:"xmlns,omitempty"`
}

type Fingerprint struct {
	Hash        string `json:"hash"`
	Setup       string `json:"setup"`
	Fingerprint string `json:"fingerprint"`
}

// Candidate is either a raw "candidate:..." line (SdpString) or structured fields.
type Candidate struct {
	SdpString  string `json:"sdpString,omitempty"`
	Foundation string `json:"foundation,omitempty"`
	Component  string `json:"component,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Ip         string `json:"ip,omitempty"`
	Port       string `json:"port,omitempty"`
	Type       string `json:"type,omitempty"`
	RelAddr    string `json:"rel-addr,omitempty"`
	RelPort    string `json:"rel-port,omitempty"`
	Generation string `json:"generation,omitempty"`
	Network    string `json:"network,omitempty"`
	Id         string `json:"id,omitempty"`
}

type PayloadType struct {
	Id            int               `json:"id"`
	Name          string            `json:"name"`
	Clockrate     int               `json:"clockrate"`
	Channels      int               `json:"channels,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	FeedbackTypes []FeedbackType    `json:"rtcp-fbs,omitempty"`
}

type FeedbackType struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}

type Extension struct {
	Id  int    `json:"id"`
	Uri string `json:"uri"`
}
