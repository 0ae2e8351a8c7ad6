package peerservice

import "errors"

// ErrProfileMismatch is returned when a request names a sync profile
// this service does not serve.
var ErrProfileMismatch = errors.New("request profile does not match the served profile")
