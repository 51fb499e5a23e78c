package signaling

import (
	"errors"
)

var BadTokenError = errors.New("bad token")
var NotFoundError = errors.New("call expired")
var ServerError = errors.New("server error")
var InactiveClientError = errors.New("inactive client")
