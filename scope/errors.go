package scope

import "errors"

// ErrMissingScopeParam is returned when a filter template references a
// parameter that the certificate's scope params do not supply. This is
// a configuration-level failure: the certificate is unusable with this
// definition.
var ErrMissingScopeParam = errors.New("missing scope param")
