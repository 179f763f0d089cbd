package store

import "errors"

var (
	ErrNotFound      = errors.New("task not found")
	ErrLeaseHeld     = errors.New("task lease held by another owner")
	ErrNotLeaseOwner = errors.New("lease not held by this owner")
)
