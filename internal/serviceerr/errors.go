package serviceerr

import "errors"

var ErrNotFound = errors.New("not found")
var ErrInvalidConfig = errors.New("invalid configuration")
