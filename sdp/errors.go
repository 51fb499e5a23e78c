package sdp

import (
	"errors"
)

var EmptyDescriptionError = errors.New("session description is empty")
var MissingVideoSsrcGroupError = errors.New("video ssrc-group is missing")
var MissingFingerprintError = errors.New("dtls fingerprint is missing")
var MissingUfragError = errors.New("ice ufrag is missing")
var MissingPwdError = errors.New("ice pwd is missing")
var MalformedLineError = errors.New("malformed sdp line")
