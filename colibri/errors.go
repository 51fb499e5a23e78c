package colibri

import (
	"errors"
)

var NotJsonError = errors.New("datachannel message is not json")
var MissingColibriClassError = errors.New("datachannel message does not have 'colibriClass' property")
var MalformedMessageError = errors.New("malformed datachannel message")
