package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/internal/rpc"
	"github.com/sauravfouzdar/quorumfs/pkg/common"
	"github.com/sauravfouzdar/quorumfs/pkg/coordinator"
	"github.com/sauravfouzdar/quorumfs/pkg/lock"
)

// peerSet is the fixed list of nodes a PREPARE request is replicated to
type peerSet []string

func (p peerSet) All() []string {
	return append([]string(nil), p...)
}

// Server serves one replica: reads straight from storage, mutations either as
// a single protocol phase or as the whole propose/commit sequence over its peers
type Server struct {
	config  common.NodeConfig
	storage *StorageManager
	pending *pendingTxns

	coordinator *coordinator.Coordinator
	locks       lock.Service
	guard       *lock.Guard
	logger      zerolog.Logger

	// Server state
	isHealthy bool
	server    *http.Server
	listener  net.Listener
}

// NewServer creates a node server on top of storage
func NewServer(config common.NodeConfig, storage *StorageManager, logger zerolog.Logger) *Server {
	peers := make(peerSet, 0, len(config.Peers))
	for _, addr := range config.Peers {
		peers = append(peers, rpc.BaseURL(addr))
	}
	if len(peers) == 0 {
		peers = append(peers, rpc.BaseURL(config.Address))
	}

	return &Server{
		config:  config,
		storage: storage,
		pending: newPendingTxns(time.Duration(config.PendingTTL)),
		coordinator: coordinator.New(peers, rpc.NewNodeClient(&http.Client{}),
			coordinator.WithTimeout(time.Duration(config.CallTimeout)),
			coordinator.WithLogger(logger.With().Str("component", "coordinator").Logger()),
		),
		logger: logger,
	}
}

// SetLocks makes PREPARE requests take the path lock in svc, shared with
// the dispatchers and other nodes using the same store
func (s *Server) SetLocks(svc lock.Service) {
	s.locks = svc
	s.guard = lock.NewGuard(svc, time.Duration(s.config.LockTTL), s.logger)
}

// Handler returns the HTTP surface of the node
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dirs", s.handleList)
	mux.HandleFunc("POST /dirs", s.handleMutation(common.CreateDir))
	mux.HandleFunc("DELETE /dirs", s.handleMutation(common.DeleteDir))
	mux.HandleFunc("GET /files", s.handleDownload)
	mux.HandleFunc("POST /files", s.handleMutation(common.PutFile))
	mux.HandleFunc("DELETE /files", s.handleMutation(common.DeleteFile))
	return mux
}

// Start starts serving on the configured address
func (s *Server) Start() error {
	files, size, err := s.storage.Usage()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to scan storage root")
	} else {
		s.logger.Info().
			Str("root", s.storage.Root()).
			Int("files", files).
			Str("size", datasize.ByteSize(size).HumanReadable()).
			Msg("storage loaded")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("node stopped serving")
		}
	}()

	s.isHealthy = true
	s.logger.Info().Str("address", listener.Addr().String()).Msg("node started")
	return nil
}

// Shutdown stops the node, letting in-flight requests finish
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isHealthy {
		return nil
	}
	s.isHealthy = false

	if n := s.pending.len(); n > 0 {
		s.logger.Warn().Int("pending", n).Msg("shutting down with uncommitted transactions")
	}
	err := s.server.Shutdown(ctx)
	if closer, ok := s.locks.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// apply runs one mutation against local storage
func (s *Server) apply(txn *common.Transaction, kind common.MutationKind) error {
	switch kind {
	case common.CreateDir:
		return s.storage.CreateDirectory(txn.Path)
	case common.DeleteDir:
		return s.storage.DeleteDirectory(txn.Path)
	case common.PutFile:
		return s.storage.PutFile(txn.Path, txn.Payload)
	case common.DeleteFile:
		return s.storage.DeleteFile(txn.Path)
	}
	return fmt.Errorf("unsupported mutation %s", kind)
}

func (s *Server) handleMutation(kind common.MutationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		mode, err := common.ParseMode(query.Get("mode"))
		if err != nil {
			rpc.WriteError(w, err)
			return
		}

		var payload []byte
		if kind == common.PutFile {
			data, err := rpc.ReadUpload(w, r, int64(s.config.MaxUploadSize.Bytes()))
			if err != nil {
				rpc.WriteError(w, err)
				return
			}
			payload = data
		}

		txn, err := common.NewTransaction(query.Get("path"), payload)
		if err != nil {
			rpc.WriteError(w, err)
			return
		}
		// phases carry the id the coordinator gave the transaction
		if id := query.Get("txn"); id != "" {
			txn.ID = id
		}

		logger := s.logger.With().
			Str("txn", txn.ID).
			Str("kind", kind.String()).
			Str("path", txn.Path).
			Logger()

		phase, single := mode.Phase()
		if !single {
			if err := s.replicate(r.Context(), txn, kind); err != nil {
				rpc.WriteError(w, err)
				return
			}
			rpc.WriteText(w, http.StatusCreated, common.SuccessMessage(kind))
			return
		}

		switch phase {
		case common.PhasePropose:
			if err := s.apply(txn, kind); err != nil {
				logger.Info().Err(err).Msg("propose rejected")
				rpc.WriteError(w, err)
				return
			}
			s.pending.remember(txn, kind)
			rpc.WriteText(w, http.StatusOK, common.TxnProposeSuccess)

		case common.PhaseCommit:
			if !s.pending.take(txn, kind) {
				if err := s.apply(txn, kind); err != nil {
					logger.Info().Err(err).Msg("commit rejected")
					rpc.WriteError(w, err)
					return
				}
			}
			logger.Debug().Msg("committed")
			rpc.WriteText(w, http.StatusCreated, common.SuccessMessage(kind))
		}
	}
}

// replicate runs the whole propose/commit sequence over the peers, under the
// path lock when the node has one
func (s *Server) replicate(ctx context.Context, txn *common.Transaction, kind common.MutationKind) error {
	ctx = context.WithoutCancel(ctx)
	if s.guard == nil {
		return s.coordinator.Apply(ctx, txn, kind)
	}
	return s.guard.Run(ctx, path.Clean(txn.Path), func() error {
		return s.coordinator.Apply(ctx, txn, kind)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	children, err := s.storage.ListChildren(path)
	if err != nil {
		rpc.WriteError(w, err)
		return
	}
	rpc.WriteText(w, http.StatusOK, strings.Join(children, " "))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		rpc.WriteError(w, common.ErrInvalidPath)
		return
	}

	file, info, err := s.storage.Open(path)
	if err != nil {
		rpc.WriteError(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(info.Name())}))
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}
