package dispatcher

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sauravfouzdar/quorumfs/internal/rpc"
	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// ServerRegistry is the fixed, ordered list of replica nodes. Next hands the
// nodes out in round robin order and is safe for concurrent use.
type ServerRegistry struct {
	nodes  []string
	cursor atomic.Uint64
}

// NewServerRegistry creates a registry over addrs. An empty list is a
// configuration error.
func NewServerRegistry(addrs []string) (*ServerRegistry, error) {
	if len(addrs) == 0 {
		return nil, common.ErrNoNodes
	}

	seen := make(map[string]bool, len(addrs))
	nodes := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("blank node address in %q", addrs)
		}
		url := rpc.BaseURL(addr)
		if seen[url] {
			return nil, fmt.Errorf("node %s listed twice", url)
		}
		seen[url] = true
		nodes = append(nodes, url)
	}

	return &ServerRegistry{nodes: nodes}, nil
}

// Next returns the next node in round robin order
func (r *ServerRegistry) Next() string {
	// Add hands every caller its own ticket, so no two callers read the same slot
	ticket := r.cursor.Add(1) - 1
	return r.nodes[ticket%uint64(len(r.nodes))]
}

// All returns every node in order
func (r *ServerRegistry) All() []string {
	nodes := make([]string, len(r.nodes))
	copy(nodes, r.nodes)
	return nodes
}

// Count returns the number of nodes
func (r *ServerRegistry) Count() int {
	return len(r.nodes)
}
