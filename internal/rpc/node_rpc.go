package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// NodeClient sends protocol phases to replica nodes over HTTP
type NodeClient struct {
	client *http.Client
}

// NewNodeClient creates a node client. Timeouts come from the caller's context.
func NewNodeClient(client *http.Client) *NodeClient {
	if client == nil {
		client = &http.Client{}
	}
	return &NodeClient{client: client}
}

// Send asks the node at addr to run one phase of txn. It returns nil only when
// the node answered with the phase's success status.
func (c *NodeClient) Send(ctx context.Context, addr string, phase common.Phase, txn *common.Transaction, kind common.MutationKind) error {
	query := url.Values{}
	query.Set("path", txn.Path)
	query.Set("mode", phase.String())
	query.Set("txn", txn.ID)
	target := BaseURL(addr) + kind.Endpoint() + "?" + query.Encode()

	var body io.Reader
	var contentType string
	if kind == common.PutFile {
		buf := &bytes.Buffer{}
		ct, err := WriteUpload(buf, path.Base(txn.Path), txn.Payload)
		if err != nil {
			return fmt.Errorf("encode upload: %w", err)
		}
		body, contentType = buf, ct
	}

	req, err := http.NewRequestWithContext(ctx, kind.Method(), target, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", phase, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrNodeUnreachable, addr, err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != phase.SuccessStatus() {
		return fmt.Errorf("%w: %s answered %d: %s", common.ErrNodeRejected, addr, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Forward relays a read-only request to the node at addr and copies the
// node's answer to w
func (c *NodeClient) Forward(ctx context.Context, addr string, w http.ResponseWriter, r *http.Request) error {
	target := BaseURL(addr) + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrNodeUnreachable, addr, err)
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Disposition", "Content-Length"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}
