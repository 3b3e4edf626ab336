package dispatcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/internal/rpc"
	"github.com/sauravfouzdar/quorumfs/pkg/common"
	"github.com/sauravfouzdar/quorumfs/pkg/coordinator"
	"github.com/sauravfouzdar/quorumfs/pkg/lock"
)

// Dispatcher is the entry point of the cluster. Reads go to one node, mutations
// are serialized per path with the lock service and replicated to all nodes.
type Dispatcher struct {
	config      common.DispatcherConfig
	registry    *ServerRegistry
	coordinator *coordinator.Coordinator
	locks       lock.Service
	guard       *lock.Guard
	client      *rpc.NodeClient
	logger      zerolog.Logger

	// Server state
	isHealthy bool
	server    *http.Server
	listener  net.Listener
}

// NewDispatcher creates a dispatcher for the nodes in config
func NewDispatcher(config common.DispatcherConfig, locks lock.Service, logger zerolog.Logger) (*Dispatcher, error) {
	registry, err := NewServerRegistry(config.Nodes)
	if err != nil {
		return nil, err
	}

	client := rpc.NewNodeClient(&http.Client{})
	d := &Dispatcher{
		config:   config,
		registry: registry,
		coordinator: coordinator.New(registry, client,
			coordinator.WithTimeout(time.Duration(config.CallTimeout)),
			coordinator.WithLogger(logger.With().Str("component", "coordinator").Logger()),
		),
		locks:  locks,
		guard:  lock.NewGuard(locks, time.Duration(config.LockTTL), logger),
		client: client,
		logger: logger,
	}
	return d, nil
}

// Handler returns the HTTP surface of the dispatcher
func (d *Dispatcher) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dirs", d.handleRead)
	mux.HandleFunc("POST /dirs", d.handleMutation(common.CreateDir))
	mux.HandleFunc("DELETE /dirs", d.handleMutation(common.DeleteDir))
	mux.HandleFunc("GET /files", d.handleRead)
	mux.HandleFunc("POST /files", d.handleMutation(common.PutFile))
	mux.HandleFunc("DELETE /files", d.handleMutation(common.DeleteFile))
	mux.HandleFunc("GET /distributedLock/lock", d.handleLock)
	mux.HandleFunc("GET /distributedLock/unlock", d.handleUnlock)
	return mux
}

// Start starts serving on the configured address
func (d *Dispatcher) Start() error {
	listener, err := net.Listen("tcp", d.config.Address)
	if err != nil {
		return err
	}

	d.listener = listener
	d.server = &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("dispatcher stopped serving")
		}
	}()

	d.isHealthy = true
	d.logger.Info().
		Str("address", listener.Addr().String()).
		Int("nodes", d.registry.Count()).
		Msg("dispatcher started")
	return nil
}

// Shutdown stops the dispatcher, letting in-flight requests finish
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	// if already unhealthy
	if !d.isHealthy {
		return nil
	}
	d.isHealthy = false

	err := d.server.Shutdown(ctx)
	if closer, ok := d.locks.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Execute runs a mutation under the lock for its path
func (d *Dispatcher) Execute(ctx context.Context, txn *common.Transaction, kind common.MutationKind) error {
	return d.guard.Run(ctx, path.Clean(txn.Path), func() error {
		return d.coordinator.Apply(ctx, txn, kind)
	})
}

func (d *Dispatcher) handleMutation(kind common.MutationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		// PROPOSE and COMMIT are node level phases, only the full sequence is accepted here
		if mode, err := common.ParseMode(query.Get("mode")); err != nil || mode != common.ModePrepare {
			rpc.WriteText(w, http.StatusBadRequest, common.TxnUnknownMode)
			return
		}

		var payload []byte
		if kind == common.PutFile {
			data, err := rpc.ReadUpload(w, r, int64(d.config.MaxUploadSize.Bytes()))
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

		// a client hanging up must not cut a transaction short halfway through
		ctx := context.WithoutCancel(r.Context())
		if err := d.Execute(ctx, txn, kind); err != nil {
			d.logger.Info().Err(err).Str("path", txn.Path).Str("kind", kind.String()).Msg("mutation failed")
			rpc.WriteError(w, err)
			return
		}

		d.logger.Info().Str("txn", txn.ID).Str("path", txn.Path).Str("kind", kind.String()).Msg("mutation replicated")
		rpc.WriteText(w, http.StatusCreated, common.SuccessMessage(kind))
	}
}

func (d *Dispatcher) handleRead(w http.ResponseWriter, r *http.Request) {
	addr := d.registry.Next()
	err := d.client.Forward(r.Context(), addr, w, r)
	if err == nil {
		return
	}

	if errors.Is(err, common.ErrNodeUnreachable) {
		d.logger.Warn().Err(err).Str("node", addr).Msg("read forward failed")
		rpc.WriteError(w, err)
		return
	}
	// response already started, nothing left to tell the client
	d.logger.Debug().Err(err).Str("node", addr).Msg("read forward interrupted")
}

func (d *Dispatcher) handleLock(w http.ResponseWriter, r *http.Request) {
	id, identity := r.URL.Query().Get("id"), r.URL.Query().Get("identity")
	if id == "" || identity == "" {
		rpc.WriteText(w, http.StatusBadRequest, "id and identity are required")
		return
	}

	ok, err := d.locks.Acquire(r.Context(), lock.Key(id), identity, lock.DefaultTTL)
	if err != nil {
		rpc.WriteError(w, err)
		return
	}
	if ok {
		rpc.WriteText(w, http.StatusOK, "lock success")
		return
	}
	rpc.WriteText(w, http.StatusOK, "lock failed")
}

func (d *Dispatcher) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, identity := r.URL.Query().Get("id"), r.URL.Query().Get("identity")
	if id == "" || identity == "" {
		rpc.WriteText(w, http.StatusBadRequest, "id and identity are required")
		return
	}

	ok, err := d.locks.Release(r.Context(), lock.Key(id), identity)
	if err != nil {
		rpc.WriteError(w, err)
		return
	}
	if ok {
		rpc.WriteText(w, http.StatusOK, "release success")
		return
	}
	rpc.WriteText(w, http.StatusOK, "release failed")
}
