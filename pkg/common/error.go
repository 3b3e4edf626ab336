package common

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// storage engine
	ErrPathEscape             = errors.New("path escapes storage root")
	ErrDestinationOutsideRoot = fmt.Errorf("%w: cannot store file outside root", ErrPathEscape)
	ErrReservedPath           = fmt.Errorf("%w: path is reserved for the node", ErrPathEscape)
	ErrNotFound               = errors.New("not found")
	ErrNotADirectory          = errors.New("not a directory")
	ErrIsADirectory           = errors.New("is a directory")
	ErrEmptyUpload            = errors.New("empty upload")
	ErrUploadTooLarge         = errors.New("upload too large")
	ErrParentMissing          = errors.New("parent directory doesn't exist")
	ErrDirectoryNotEmpty      = errors.New("directory not empty")
	ErrRootMutation           = errors.New("storage root cannot be removed")

	// requests
	ErrInvalidPath = errors.New("path should start with /")
	ErrUnknownMode = errors.New("unknown mode")

	// replication
	ErrProposeQuorumFailed = errors.New("propose quorum failed")
	ErrCommitQuorumFailed  = errors.New("commit quorum failed")
	ErrNodeUnreachable     = errors.New("node unreachable")
	ErrNodeRejected        = errors.New("node rejected request")
	ErrNoNodes             = errors.New("no nodes configured")

	// locking
	ErrLockUnavailable = errors.New("path is locked by another request")
	ErrLockService     = errors.New("lock service unavailable")
)
