package transfer

import "errors"

var (
	ErrInvalidFileIndex = errors.New("transfer: invalid file index")
	ErrIsDirectory      = errors.New("transfer: entry is a directory")
	ErrReadFailed       = errors.New("transfer: read failed")
	ErrStateMissing     = errors.New("transfer: state file missing")
	ErrInvalidStateFile = errors.New("transfer: invalid state file")
	ErrSessionNotFound  = errors.New("transfer: session not found")
	ErrShortMessage     = errors.New("transfer: message too short")
)
