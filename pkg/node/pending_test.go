package node

import (
	"testing"
	"time"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

func TestPendingTakeMatchesOnce(t *testing.T) {
	p := newPendingTxns(time.Minute)
	txn := &common.Transaction{ID: "t1", Path: "/a.txt", Payload: []byte("hello")}

	p.remember(txn, common.PutFile)
	if !p.take(txn, common.PutFile) {
		t.Fatal("proposed transaction not found")
	}
	if p.take(txn, common.PutFile) {
		t.Fatal("transaction taken twice")
	}
}

func TestPendingMismatch(t *testing.T) {
	p := newPendingTxns(time.Minute)
	txn := &common.Transaction{ID: "t1", Path: "/a.txt", Payload: []byte("hello")}
	p.remember(txn, common.PutFile)

	if p.take(txn, common.DeleteFile) {
		t.Error("different kind matched")
	}

	other := &common.Transaction{ID: "t1", Path: "/a.txt", Payload: []byte("bye")}
	if p.take(other, common.PutFile) {
		t.Error("different payload matched")
	}
	if p.len() != 0 {
		t.Error("a mismatching take should still drop the entry")
	}
}

func TestPendingIgnoresAnonymous(t *testing.T) {
	p := newPendingTxns(time.Minute)
	txn := &common.Transaction{Path: "/a"}

	p.remember(txn, common.CreateDir)
	if p.len() != 0 || p.take(txn, common.CreateDir) {
		t.Fatal("transactions without id must not be tracked")
	}
}

func TestPendingExpires(t *testing.T) {
	p := newPendingTxns(20 * time.Millisecond)
	txn := &common.Transaction{ID: "t1", Path: "/a"}
	p.remember(txn, common.CreateDir)

	time.Sleep(50 * time.Millisecond)
	if p.take(txn, common.CreateDir) {
		t.Fatal("expired transaction still matched")
	}
}
