package media

import (
	"errors"
)

var TrackCreationError = errors.New("cannot create track")
