package groupcall

import (
	"errors"
)

var AlreadyJoinedError = errors.New("already in call")
var NotJoinedError = errors.New("call is not joined")
var InactiveCallError = errors.New("call is not active")
var SupersededBySessionError = errors.New("joined from another session")
var PresentationActiveError = errors.New("presentation is already active")
var DataChannelClosedError = errors.New("data channel is not open")
