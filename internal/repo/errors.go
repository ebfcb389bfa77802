package repo

import "errors"

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateKey        = errors.New("license key already exists")
	ErrActiveSessionExists = errors.New("license already has an active session")
	ErrNotRevoked          = errors.New("only revoked licenses can be deleted")
	ErrLicenseRevoked      = errors.New("license is revoked")
)
