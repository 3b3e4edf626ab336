package rpc

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// BaseURL turns a configured node address into the URL prefix requests are sent to
func BaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

// StatusFor maps an error to the HTTP status and body a server answers with
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrProposeQuorumFailed):
		return http.StatusBadRequest, common.TxnProposeFailed
	case errors.Is(err, common.ErrCommitQuorumFailed):
		return http.StatusBadRequest, common.TxnFailed
	case errors.Is(err, common.ErrUnknownMode):
		return http.StatusBadRequest, common.TxnUnknownMode
	case errors.Is(err, common.ErrPathEscape):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, common.ErrNotADirectory),
		errors.Is(err, common.ErrIsADirectory),
		errors.Is(err, common.ErrParentMissing),
		errors.Is(err, common.ErrDirectoryNotEmpty),
		errors.Is(err, common.ErrRootMutation):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, common.ErrEmptyUpload), errors.Is(err, common.ErrInvalidPath):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, common.ErrLockUnavailable):
		return http.StatusConflict, err.Error()
	case errors.Is(err, common.ErrLockService):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, common.ErrNodeUnreachable):
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

// WriteText writes a plain text response
func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// WriteError writes the response StatusFor picks for err
func WriteError(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	WriteText(w, status, body)
}

// multipart framing allowance on top of the file itself
const uploadOverhead = 64 << 10

// ReadUpload reads the multipart field "file" of an upload request, refusing
// bodies larger than limit
func ReadUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEmptyUpload, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no file field", common.ErrEmptyUpload)
		}
		if err != nil {
			return nil, uploadError(err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		part.Close()
		if err != nil {
			return nil, uploadError(err)
		}
		if int64(len(data)) > limit {
			return nil, common.ErrUploadTooLarge
		}
		if len(data) == 0 {
			return nil, common.ErrEmptyUpload
		}
		return data, nil
	}
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return common.ErrUploadTooLarge
	}
	return fmt.Errorf("%w: %v", common.ErrEmptyUpload, err)
}

// WriteUpload encodes payload as the multipart field "file"
func WriteUpload(w io.Writer, filename string, payload []byte) (string, error) {
	mw := multipart.NewWriter(w)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(payload); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}
