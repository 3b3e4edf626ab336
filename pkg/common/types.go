package common

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Transaction is the unit of replication work
type Transaction struct {
	ID      string // unique per request, lets a node match a commit to its propose
	Path    string // always starts with "/"
	Payload []byte // file content, only set for uploads
}

// NewTransaction creates a transaction for path with an optional payload
func NewTransaction(path string, payload []byte) (*Transaction, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	return &Transaction{
		ID:      uuid.NewString(),
		Path:    path,
		Payload: payload,
	}, nil
}

// MutationKind - type of mutation a transaction carries
type MutationKind int

const (
	CreateDir MutationKind = iota
	DeleteDir
	PutFile
	DeleteFile
)

func (k MutationKind) String() string {
	switch k {
	case CreateDir:
		return "create-dir"
	case DeleteDir:
		return "delete-dir"
	case PutFile:
		return "put-file"
	case DeleteFile:
		return "delete-file"
	}
	return fmt.Sprintf("mutation(%d)", int(k))
}

// Endpoint is the node resource the mutation is sent to
func (k MutationKind) Endpoint() string {
	if k == PutFile || k == DeleteFile {
		return "/files"
	}
	return "/dirs"
}

// Method is the HTTP method that carries the mutation
func (k MutationKind) Method() string {
	if k == CreateDir || k == PutFile {
		return http.MethodPost
	}
	return http.MethodDelete
}

// Phase of the replication protocol, carried on the wire as the mode parameter
type Phase int

const (
	PhasePropose Phase = iota
	PhaseCommit
)

func (p Phase) String() string {
	if p == PhaseCommit {
		return "COMMIT"
	}
	return "PROPOSE"
}

// SuccessStatus is the status code a node answers with when the phase succeeded
func (p Phase) SuccessStatus() int {
	if p == PhaseCommit {
		return http.StatusCreated
	}
	return http.StatusOK
}

// Mode is what a node is asked to do with a mutation request
type Mode int

const (
	ModePrepare Mode = iota // run both phases from this node
	ModePropose
	ModeCommit
)

// ParseMode parses the mode query parameter. An empty value means ModePrepare.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "PREPARE":
		return ModePrepare, nil
	case "PROPOSE":
		return ModePropose, nil
	case "COMMIT":
		return ModeCommit, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Phase returns the protocol phase for single-phase modes
func (m Mode) Phase() (Phase, bool) {
	switch m {
	case ModePropose:
		return PhasePropose, true
	case ModeCommit:
		return PhaseCommit, true
	}
	return 0, false
}

// response tokens for protocol level outcomes
const (
	TxnProposeFailed  = "TXN_PROPOSE_FAILED"
	TxnFailed         = "TXN_FAILED"
	TxnProposeSuccess = "TXN_PROPOSE_SUCCESS"
	TxnUnknownMode    = "TXN_UNKNOWN_MODE"
)

// QuorumSize is the strict majority of n nodes
func QuorumSize(n int) int {
	return n/2 + 1
}

// HasQuorum reports whether successes out of n nodes is a strict majority
func HasQuorum(successes, n int) bool {
	return n > 0 && successes >= QuorumSize(n)
}

// SuccessMessage is the body returned once a mutation is applied
func SuccessMessage(kind MutationKind) string {
	switch kind {
	case CreateDir:
		return "Directory Created"
	case DeleteDir:
		return "Directory Deleted"
	case PutFile:
		return "File uploaded"
	case DeleteFile:
		return "File Deleted"
	}
	return "OK"
}
