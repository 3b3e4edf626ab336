package node

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// pendingTxns remembers transactions applied during propose so the matching
// commit can confirm them instead of applying the mutation a second time.
// Entries expire if the commit never arrives.
type pendingTxns struct {
	cache *cache.Cache
}

func newPendingTxns(ttl time.Duration) *pendingTxns {
	return &pendingTxns{
		cache: cache.New(ttl, ttl),
	}
}

func pendingKey(txn *common.Transaction, kind common.MutationKind) string {
	return txn.ID + "|" + kind.String() + "|" + txn.Path
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// remember records a successfully proposed transaction
func (p *pendingTxns) remember(txn *common.Transaction, kind common.MutationKind) {
	if txn.ID == "" {
		return
	}
	p.cache.SetDefault(pendingKey(txn, kind), digest(txn.Payload))
}

// take reports whether txn was proposed here with the same payload, and forgets it
func (p *pendingTxns) take(txn *common.Transaction, kind common.MutationKind) bool {
	if txn.ID == "" {
		return false
	}

	key := pendingKey(txn, kind)
	v, ok := p.cache.Get(key)
	if !ok {
		return false
	}
	p.cache.Delete(key)

	return v.(string) == digest(txn.Payload)
}

func (p *pendingTxns) len() int {
	return p.cache.ItemCount()
}
