package collection

import "errors"

var (
	ErrBlobNotFound     = errors.New("blob not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotDecode   = errors.New("snapshot decode failed")

	ErrInvalidDate = errors.New("invalid calendar date")
	ErrLoadFailed  = errors.New("index load failed")

	ErrWriteLeaseConflict = errors.New("write lease conflict")
)
