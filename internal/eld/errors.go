package eld

import "eldhos/internal/errs"

var (
	ErrAlreadyCertified = errs.Precondition("log is already certified")
	ErrNotCertified     = errs.Precondition("log is not certified")
	ErrLogCertified     = errs.Precondition("certified records cannot be modified")
	ErrAlreadyResolved  = errs.Precondition("already resolved")
	ErrTripHasNoStops   = errs.Precondition("trip has no stops")
	ErrDriverInactive   = errs.Precondition("driver is inactive")
	ErrStaleStatusTime  = errs.Precondition("status change must be later than the start of the current status")
)
