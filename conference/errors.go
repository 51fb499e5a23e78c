package conference

import (
	"errors"
)

var InvalidTransportError = errors.New("invalid transport")
