package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

type staticNodes []string

func (s staticNodes) All() []string { return s }

type call struct {
	addr  string
	phase common.Phase
}

// fakeTransport records calls and fails the nodes it is told to
type fakeTransport struct {
	mu      sync.Mutex
	calls   []call
	fail    map[string]map[common.Phase]bool
	delay   map[string]time.Duration
	ignores bool // ignore context cancellation while delaying
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail:  make(map[string]map[common.Phase]bool),
		delay: make(map[string]time.Duration),
	}
}

func (f *fakeTransport) failOn(addr string, phases ...common.Phase) {
	f.fail[addr] = make(map[common.Phase]bool)
	for _, p := range phases {
		f.fail[addr][p] = true
	}
}

func (f *fakeTransport) Send(ctx context.Context, addr string, phase common.Phase, txn *common.Transaction, kind common.MutationKind) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{addr, phase})
	d := f.delay[addr]
	fail := f.fail[addr][phase]
	f.mu.Unlock()

	if d > 0 {
		if f.ignores {
			time.Sleep(d)
		} else {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if fail {
		return fmt.Errorf("%w: %s", common.ErrNodeUnreachable, addr)
	}
	return nil
}

func (f *fakeTransport) setDelay(addr string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[addr] = d
}

func (f *fakeTransport) count(phase common.Phase) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.phase == phase {
			n++
		}
	}
	return n
}

func nodeNames(n int) staticNodes {
	nodes := make(staticNodes, n)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("node-%d", i)
	}
	return nodes
}

func newTxn(t *testing.T) *common.Transaction {
	t.Helper()
	txn, err := common.NewTransaction("/docs/report.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	return txn
}

func TestApplyAllNodesSucceed(t *testing.T) {
	transport := newFakeTransport()
	c := New(nodeNames(3), transport)

	if err := c.Apply(context.Background(), newTxn(t), common.PutFile); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := transport.count(common.PhasePropose); got != 3 {
		t.Errorf("propose calls = %d, want 3", got)
	}
	if got := transport.count(common.PhaseCommit); got != 3 {
		t.Errorf("commit calls = %d, want 3", got)
	}
}

func TestApplyProposeQuorum(t *testing.T) {
	tests := []struct {
		nodes, failing int
		ok             bool
	}{
		{1, 0, true},
		{1, 1, false},
		{2, 1, false},
		{3, 1, true},
		{3, 2, false},
		{5, 2, true},
		{5, 3, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n%d_fail%d", tt.nodes, tt.failing), func(t *testing.T) {
			nodes := nodeNames(tt.nodes)
			transport := newFakeTransport()
			for i := 0; i < tt.failing; i++ {
				transport.failOn(nodes[i], common.PhasePropose, common.PhaseCommit)
			}

			err := New(nodes, transport).Apply(context.Background(), newTxn(t), common.CreateDir)
			if tt.ok {
				if err != nil {
					t.Fatalf("Apply: %v", err)
				}
				return
			}

			if !errors.Is(err, common.ErrProposeQuorumFailed) {
				t.Fatalf("got %v, want ErrProposeQuorumFailed", err)
			}
			var rerr *ReplicationError
			if !errors.As(err, &rerr) || rerr.Successes != tt.nodes-tt.failing || len(rerr.Failures) != tt.failing {
				t.Fatalf("unexpected replication error %#v", rerr)
			}
			if got := transport.count(common.PhaseCommit); got != 0 {
				t.Fatalf("commit issued %d times after failed propose", got)
			}
		})
	}
}

func TestApplyCommitQuorumFailed(t *testing.T) {
	nodes := nodeNames(3)
	transport := newFakeTransport()
	transport.failOn(nodes[0], common.PhaseCommit)
	transport.failOn(nodes[1], common.PhaseCommit)

	err := New(nodes, transport).Apply(context.Background(), newTxn(t), common.DeleteFile)
	if !errors.Is(err, common.ErrCommitQuorumFailed) {
		t.Fatalf("got %v, want ErrCommitQuorumFailed", err)
	}
	if errors.Is(err, common.ErrProposeQuorumFailed) {
		t.Fatal("commit failure must not read as propose failure")
	}
	if got := transport.count(common.PhasePropose); got != 3 {
		t.Fatalf("propose calls = %d", got)
	}
}

func TestApplyOneNodeDown(t *testing.T) {
	nodes := nodeNames(3)
	transport := newFakeTransport()
	transport.failOn(nodes[2], common.PhasePropose, common.PhaseCommit)

	if err := New(nodes, transport).Apply(context.Background(), newTxn(t), common.PutFile); err != nil {
		t.Fatalf("2 of 3 should be enough: %v", err)
	}
	if got := transport.count(common.PhaseCommit); got != 3 {
		t.Fatalf("commit must still be sent to every node, got %d", got)
	}
}

func TestPhaseRunsNodesConcurrently(t *testing.T) {
	nodes := nodeNames(5)
	transport := newFakeTransport()
	for _, n := range nodes {
		transport.setDelay(n, 100*time.Millisecond)
	}

	start := time.Now()
	if err := New(nodes, transport).Apply(context.Background(), newTxn(t), common.CreateDir); err != nil {
		t.Fatal(err)
	}
	// sequential dispatch would take 5 * 100ms per phase
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("two phases over 5 nodes took %s, calls are not concurrent", elapsed)
	}
}

func TestSlowNodeTimesOutAsFailure(t *testing.T) {
	nodes := nodeNames(3)
	transport := newFakeTransport()
	transport.ignores = true
	transport.setDelay(nodes[0], 2*time.Second)

	start := time.Now()
	err := New(nodes, transport, WithTimeout(50*time.Millisecond)).Apply(context.Background(), newTxn(t), common.CreateDir)
	if err != nil {
		t.Fatalf("quorum reachable without the slow node: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("phase waited on a timed out node for %s", elapsed)
	}

	transport.setDelay(nodes[1], 2*time.Second)
	err = New(nodes, transport, WithTimeout(50*time.Millisecond)).Apply(context.Background(), newTxn(t), common.CreateDir)
	var rerr *ReplicationError
	if !errors.As(err, &rerr) || rerr.Phase != common.PhasePropose {
		t.Fatalf("got %v, want propose quorum failure", err)
	}
	if !errors.Is(rerr.Failures[nodes[0]], context.DeadlineExceeded) {
		t.Fatalf("slow node failure = %v", rerr.Failures[nodes[0]])
	}
}

func TestApplyWithoutNodes(t *testing.T) {
	err := New(staticNodes{}, newFakeTransport()).Apply(context.Background(), newTxn(t), common.CreateDir)
	if !errors.Is(err, common.ErrNoNodes) {
		t.Fatalf("got %v", err)
	}
}
