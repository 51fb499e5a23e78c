package p2p

import (
	"errors"
)

var NotJsonError = errors.New("signaling message is not json")
var MissingTypeError = errors.New("signaling message does not have '@type' property")
var UnknownMessageError = errors.New("unknown signaling message")
var MalformedMessageError = errors.New("malformed signaling message")

var AlreadyStartedError = errors.New("call is already started")
var InactiveCallError = errors.New("call is not active")
var IceFailedError = errors.New("ice failed after restart")
var IncompleteDescriptionError = errors.New("local description lacks video or screencast ssrc groups")
var NotStartedError = errors.New("call is not started")
