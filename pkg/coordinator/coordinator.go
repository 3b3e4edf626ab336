// Package coordinator runs the two-phase propose/commit protocol that
// replicates a mutation to every node.
//
// Both phases are a full fan-out to all nodes followed by a barrier. A phase
// succeeds when a strict majority of nodes acknowledged it. Propose already
// performs the mutation on each node, so a transaction that fails commit
// quorum can leave the nodes that applied it diverged from the rest; nothing
// is rolled back.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

const DefaultTimeout = 10 * time.Second

// Nodes lists the addresses a transaction is replicated to
type Nodes interface {
	All() []string
}

// Transport delivers one phase of a transaction to one node. A nil error is a
// success vote; anything else counts against the quorum.
type Transport interface {
	Send(ctx context.Context, addr string, phase common.Phase, txn *common.Transaction, kind common.MutationKind) error
}

// Coordinator drives transactions through propose and commit
type Coordinator struct {
	nodes     Nodes
	transport Transport
	timeout   time.Duration
	logger    zerolog.Logger
}

type Option func(*Coordinator)

// WithTimeout bounds every per-node call
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a coordinator
func New(nodes Nodes, transport Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		nodes:     nodes,
		transport: transport,
		timeout:   DefaultTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReplicationError reports a phase that did not reach quorum
type ReplicationError struct {
	Phase     common.Phase
	Successes int
	Nodes     int
	Failures  map[string]error // node address -> why its vote failed
}

func (e *ReplicationError) Error() string {
	addrs := make([]string, 0, len(e.Failures))
	for addr := range e.Failures {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parts = append(parts, fmt.Sprintf("%s: %v", addr, e.Failures[addr]))
	}
	return fmt.Sprintf("%v: %d/%d nodes acknowledged, need %d [%s]",
		e.Unwrap(), e.Successes, e.Nodes, common.QuorumSize(e.Nodes), strings.Join(parts, "; "))
}

func (e *ReplicationError) Unwrap() error {
	if e.Phase == common.PhaseCommit {
		return common.ErrCommitQuorumFailed
	}
	return common.ErrProposeQuorumFailed
}

// Apply replicates txn to all nodes. It returns nil once both phases reached
// quorum, or a *ReplicationError naming the phase that did not.
func (c *Coordinator) Apply(ctx context.Context, txn *common.Transaction, kind common.MutationKind) error {
	nodes := c.nodes.All()
	if len(nodes) == 0 {
		return common.ErrNoNodes
	}

	logger := c.logger.With().
		Str("txn", txn.ID).
		Str("kind", kind.String()).
		Str("path", txn.Path).
		Logger()

	for _, phase := range []common.Phase{common.PhasePropose, common.PhaseCommit} {
		failures := c.broadcast(ctx, nodes, phase, txn, kind)
		successes := len(nodes) - len(failures)

		for addr, err := range failures {
			logger.Warn().Err(err).Str("node", addr).Stringer("phase", phase).Msg("node vote failed")
		}

		if !common.HasQuorum(successes, len(nodes)) {
			logger.Info().
				Stringer("phase", phase).
				Int("successes", successes).
				Int("nodes", len(nodes)).
				Msg("quorum not reached, aborting")
			return &ReplicationError{
				Phase:     phase,
				Successes: successes,
				Nodes:     len(nodes),
				Failures:  failures,
			}
		}

		logger.Debug().
			Stringer("phase", phase).
			Int("successes", successes).
			Int("nodes", len(nodes)).
			Msg("phase reached quorum")
	}

	return nil
}

type vote struct {
	addr string
	err  error
}

// broadcast sends one phase to every node in parallel and waits until each
// one answered or timed out. It returns the failed votes.
func (c *Coordinator) broadcast(ctx context.Context, nodes []string, phase common.Phase, txn *common.Transaction, kind common.MutationKind) map[string]error {
	votes := make(chan vote, len(nodes))

	var wg sync.WaitGroup
	for _, addr := range nodes {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			votes <- vote{addr: addr, err: c.send(callCtx, addr, phase, txn, kind)}
		}(addr)
	}

	// wait for all nodes before tallying
	wg.Wait()
	close(votes)

	failures := make(map[string]error)
	for v := range votes {
		if v.err != nil {
			failures[v.addr] = v.err
		}
	}
	return failures
}

// send runs a single transport call, giving up when ctx expires even if the
// transport ignores it
func (c *Coordinator) send(ctx context.Context, addr string, phase common.Phase, txn *common.Transaction, kind common.MutationKind) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s to %s panicked: %v", phase, addr, r)
			}
		}()
		done <- c.transport.Send(ctx, addr, phase, txn, kind)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s to %s: %w", phase, addr, ctx.Err())
	}
}
