package client

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
	"github.com/sauravfouzdar/quorumfs/pkg/dispatcher"
	"github.com/sauravfouzdar/quorumfs/pkg/lock"
	"github.com/sauravfouzdar/quorumfs/pkg/node"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	var nodes []string
	for i := 0; i < 3; i++ {
		storage, err := node.NewStorageManager(filepath.Join(t.TempDir(), "root"))
		if err != nil {
			t.Fatal(err)
		}
		ts := httptest.NewServer(node.NewServer(common.DefaultNodeConfig, storage, zerolog.Nop()).Handler())
		t.Cleanup(ts.Close)
		nodes = append(nodes, ts.URL)
	}

	config := common.DefaultDispatcherConfig
	config.Nodes = nodes
	d, err := dispatcher.NewDispatcher(config, lock.NewMemoryStore(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(d.Handler())
	t.Cleanup(ts.Close)

	c, err := NewClient(common.ClientConfig{DispatcherAddress: ts.URL, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Mkdir(ctx, "/docs"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := c.Upload(ctx, "/docs/report.txt", []byte("hello")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := c.Upload(ctx, "/docs/notes.txt", []byte("notes")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	names, err := c.List(ctx, "/docs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"notes.txt", "report.txt"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("List = %v, want %v", names, want)
	}

	buf := &bytes.Buffer{}
	if err := c.Download(ctx, "/docs/report.txt", buf); err != nil || buf.String() != "hello" {
		t.Fatalf("Download = %q, %v", buf.String(), err)
	}

	if err := c.Remove(ctx, "/docs/report.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove(ctx, "/docs/notes.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Rmdir(ctx, "/docs"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}

	names, err = c.List(ctx, "/")
	if err != nil || len(names) != 0 {
		t.Fatalf("List after cleanup = %v, %v", names, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Download(ctx, "/missing.txt", &bytes.Buffer{}); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Download missing: %v", err)
	}
	if _, err := c.List(ctx, "/missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("List missing: %v", err)
	}
	if err := c.Rmdir(ctx, "/missing"); !errors.Is(err, common.ErrProposeQuorumFailed) {
		t.Errorf("Rmdir missing: %v", err)
	}

	var rerr *ResponseError
	if err := c.Upload(ctx, "/orphan/a.txt", []byte("x")); !errors.As(err, &rerr) || rerr.Body != common.TxnProposeFailed {
		t.Errorf("Upload without parent: %v", err)
	}
}

func TestClientLocks(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if ok, err := c.Lock(ctx, "/x", "me"); err != nil || !ok {
		t.Fatalf("Lock = %v, %v", ok, err)
	}
	if ok, _ := c.Lock(ctx, "/x", "you"); ok {
		t.Fatal("second identity took a held lock")
	}

	// path mutations share the lock keyspace
	if err := c.Mkdir(ctx, "/x"); !errors.Is(err, common.ErrLockUnavailable) {
		t.Fatalf("Mkdir on locked path: %v", err)
	}

	if ok, _ := c.Unlock(ctx, "/x", "you"); ok {
		t.Fatal("non holder released the lock")
	}
	if ok, err := c.Unlock(ctx, "/x", "me"); err != nil || !ok {
		t.Fatalf("Unlock = %v, %v", ok, err)
	}
	if err := c.Mkdir(ctx, "/x"); err != nil {
		t.Fatalf("Mkdir after unlock: %v", err)
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(common.ClientConfig{}); err == nil {
		t.Fatal("expected an error")
	}
}
