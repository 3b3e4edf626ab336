package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sauravfouzdar/quorumfs/internal/rpc"
	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// Client talks to the dispatcher of a cluster
type Client struct {
	baseURL string
	http    *http.Client
}

// ResponseError is an answer the dispatcher gave that is not the expected success
type ResponseError struct {
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dispatcher answered %d", e.Status)
	}
	return fmt.Sprintf("dispatcher answered %d: %s", e.Status, e.Body)
}

// Unwrap maps well known answers back onto the common errors
func (e *ResponseError) Unwrap() error {
	switch e.Body {
	case common.TxnProposeFailed:
		return common.ErrProposeQuorumFailed
	case common.TxnFailed:
		return common.ErrCommitQuorumFailed
	case common.TxnUnknownMode:
		return common.ErrUnknownMode
	}

	switch e.Status {
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusConflict:
		return common.ErrLockUnavailable
	case http.StatusRequestEntityTooLarge:
		return common.ErrUploadTooLarge
	case http.StatusServiceUnavailable:
		return common.ErrLockService
	case http.StatusBadGateway:
		return common.ErrNodeUnreachable
	}
	return nil
}

// NewClient creates a client for the dispatcher in config
func NewClient(config common.ClientConfig) (*Client, error) {
	if config.DispatcherAddress == "" {
		return nil, fmt.Errorf("dispatcher address is required")
	}

	return &Client{
		baseURL: rpc.BaseURL(config.DispatcherAddress),
		http:    &http.Client{Timeout: config.Timeout},
	}, nil
}

// List returns the names directly inside a directory
func (c *Client) List(ctx context.Context, dir string) ([]string, error) {
	body, err := c.call(ctx, http.MethodGet, "/dirs", url.Values{"path": {dir}}, nil, "", http.StatusOK)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(body)), nil
}

// Mkdir creates a directory and its missing parents
func (c *Client) Mkdir(ctx context.Context, dir string) error {
	_, err := c.call(ctx, http.MethodPost, "/dirs", url.Values{"path": {dir}}, nil, "", http.StatusCreated)
	return err
}

// Rmdir removes an empty directory
func (c *Client) Rmdir(ctx context.Context, dir string) error {
	_, err := c.call(ctx, http.MethodDelete, "/dirs", url.Values{"path": {dir}}, nil, "", http.StatusCreated)
	return err
}

// Upload stores data at remote, replacing any existing file
func (c *Client) Upload(ctx context.Context, remote string, data []byte) error {
	buf := &bytes.Buffer{}
	contentType, err := rpc.WriteUpload(buf, path.Base(remote), data)
	if err != nil {
		return err
	}

	_, err = c.call(ctx, http.MethodPost, "/files", url.Values{"path": {remote}}, buf, contentType, http.StatusCreated)
	return err
}

// Download writes the content of remote to w
func (c *Client) Download(ctx context.Context, remote string, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/files", url.Values{"path": {remote}}, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Remove deletes a file
func (c *Client) Remove(ctx context.Context, remote string) error {
	_, err := c.call(ctx, http.MethodDelete, "/files", url.Values{"path": {remote}}, nil, "", http.StatusCreated)
	return err
}

// Lock tries to take the named lock for identity
func (c *Client) Lock(ctx context.Context, id, identity string) (bool, error) {
	body, err := c.call(ctx, http.MethodGet, "/distributedLock/lock",
		url.Values{"id": {id}, "identity": {identity}}, nil, "", http.StatusOK)
	if err != nil {
		return false, err
	}
	return string(body) == "lock success", nil
}

// Unlock releases the named lock if identity holds it
func (c *Client) Unlock(ctx context.Context, id, identity string) (bool, error) {
	body, err := c.call(ctx, http.MethodGet, "/distributedLock/unlock",
		url.Values{"id": {id}, "identity": {identity}}, nil, "", http.StatusOK)
	if err != nil {
		return false, err
	}
	return string(body) == "release success", nil
}

// call sends a request and reads the whole answer, failing unless it has status want
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string, want int) ([]byte, error) {
	resp, err := c.do(ctx, method, endpoint, query, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+query.Encode(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ResponseError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}
