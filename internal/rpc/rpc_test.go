package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		"localhost:8081":         "http://localhost:8081",
		" localhost:8081/ ":      "http://localhost:8081",
		"http://10.0.0.1:9000":   "http://10.0.0.1:9000",
		"https://node.internal/": "https://node.internal",
	}
	for in, want := range tests {
		if got := BaseURL(in); got != want {
			t.Errorf("BaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		body   string
	}{
		{fmt.Errorf("wrapped: %w", common.ErrProposeQuorumFailed), http.StatusBadRequest, common.TxnProposeFailed},
		{common.ErrCommitQuorumFailed, http.StatusBadRequest, common.TxnFailed},
		{common.ErrUnknownMode, http.StatusBadRequest, common.TxnUnknownMode},
		{common.ErrDestinationOutsideRoot, http.StatusForbidden, ""},
		{common.ErrNotFound, http.StatusNotFound, ""},
		{common.ErrIsADirectory, http.StatusForbidden, ""},
		{common.ErrDirectoryNotEmpty, http.StatusForbidden, ""},
		{common.ErrEmptyUpload, http.StatusBadRequest, ""},
		{common.ErrUploadTooLarge, http.StatusRequestEntityTooLarge, ""},
		{common.ErrLockUnavailable, http.StatusConflict, ""},
		{common.ErrLockService, http.StatusServiceUnavailable, ""},
		{common.ErrNodeUnreachable, http.StatusBadGateway, ""},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		status, body := StatusFor(tt.err)
		if status != tt.status {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, status, tt.status)
		}
		if tt.body != "" && body != tt.body {
			t.Errorf("StatusFor(%v) body = %q, want %q", tt.err, body, tt.body)
		}
	}
}

func uploadRequest(t *testing.T, field string, payload []byte) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	ct, err := WriteUpload(buf, "f.txt", payload)
	if err != nil {
		t.Fatal(err)
	}
	body := buf.String()
	if field != "file" {
		body = strings.Replace(body, `name="file"`, `name="`+field+`"`, 1)
	}
	r := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader(body))
	r.Header.Set("Content-Type", ct)
	return r
}

func TestReadUpload(t *testing.T) {
	data, err := ReadUpload(httptest.NewRecorder(), uploadRequest(t, "file", []byte("hello")), 16)
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadUpload = %q, %v", data, err)
	}

	if _, err := ReadUpload(httptest.NewRecorder(), uploadRequest(t, "file", []byte("hello")), 4); !errors.Is(err, common.ErrUploadTooLarge) {
		t.Errorf("oversized: %v", err)
	}
	if _, err := ReadUpload(httptest.NewRecorder(), uploadRequest(t, "other", []byte("hello")), 16); !errors.Is(err, common.ErrEmptyUpload) {
		t.Errorf("missing field: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("plain"))
	if _, err := ReadUpload(httptest.NewRecorder(), r, 16); !errors.Is(err, common.ErrEmptyUpload) {
		t.Errorf("not multipart: %v", err)
	}
}

func TestSendEncodesPhase(t *testing.T) {
	var got struct {
		method, path, mode, txn, endpoint string
		payload                           []byte
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.endpoint = r.Method, r.URL.Path
		got.path, got.mode, got.txn = r.URL.Query().Get("path"), r.URL.Query().Get("mode"), r.URL.Query().Get("txn")
		if r.Method == http.MethodPost && r.URL.Path == "/files" {
			got.payload, _ = ReadUpload(w, r, 1024)
		}
		if got.mode == "COMMIT" {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewNodeClient(nil)
	txn := &common.Transaction{ID: "t1", Path: "/docs/a b.txt", Payload: []byte("hello")}

	if err := client.Send(context.Background(), ts.URL, common.PhasePropose, txn, common.PutFile); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.method != http.MethodPost || got.endpoint != "/files" || got.path != txn.Path || got.mode != "PROPOSE" || got.txn != "t1" {
		t.Fatalf("unexpected request %+v", got)
	}
	if string(got.payload) != "hello" {
		t.Fatalf("payload = %q", got.payload)
	}

	if err := client.Send(context.Background(), ts.URL, common.PhaseCommit, txn, common.DeleteDir); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.method != http.MethodDelete || got.endpoint != "/dirs" || got.mode != "COMMIT" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestSendFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a commit status for a propose is still a rejection
		w.WriteHeader(http.StatusCreated)
	}))
	client := NewNodeClient(nil)
	txn := &common.Transaction{ID: "t1", Path: "/a"}

	if err := client.Send(context.Background(), ts.URL, common.PhasePropose, txn, common.CreateDir); !errors.Is(err, common.ErrNodeRejected) {
		t.Errorf("wrong status: %v", err)
	}

	ts.Close()
	if err := client.Send(context.Background(), ts.URL, common.PhasePropose, txn, common.CreateDir); !errors.Is(err, common.ErrNodeUnreachable) {
		t.Errorf("closed node: %v", err)
	}
}

func TestForward(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="a.txt"`)
		w.Header().Set("X-Internal", "secret")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, r.URL.Query().Get("path"))
	}))
	defer ts.Close()

	client := NewNodeClient(nil)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/files?path=/a.txt", nil)

	if err := client.Forward(context.Background(), ts.URL, rec, r); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "/a.txt" {
		t.Fatalf("relayed %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Disposition") == "" || rec.Header().Get("X-Internal") != "" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}

	ts.Close()
	rec = httptest.NewRecorder()
	err := client.Forward(context.Background(), ts.URL, rec, r)
	if !errors.Is(err, common.ErrNodeUnreachable) {
		t.Fatalf("closed node: %v", err)
	}
}
