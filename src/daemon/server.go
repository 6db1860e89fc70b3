package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"ppm/src/composer"
	"ppm/src/config"
	"ppm/src/database"
	"ppm/src/draft"
	apperrors "ppm/src/errors"
	"ppm/src/logging"
	"ppm/src/ports"
	"ppm/src/reorder"
	"ppm/src/token"
	"ppm/src/tokenizer"
)

// Application error codes, outside the range reserved by JSON-RPC 2.0.
const (
	CodeNotFound      = -32001
	CodeConflict      = -32002
	CodeCommitFailed  = -32003
	CodeStorageFailed = -32004
)

type Server struct {
	store      *database.Store
	drafts     *draft.Controller
	reconciler *reorder.Reconciler
	counter    ports.TokenCounter
	debouncer  *tokenizer.Debouncer
	logger     *zap.Logger
	logLevel   *zap.AtomicLevel

	listener   net.Listener
	server     *http.Server
	socketPath string

	mu       sync.RWMutex
	settings *config.Settings
	levels   []token.GranularityLevel
	live     *LiveCounts
	started  time.Time
	stats    map[string]int
}

// LiveCounts is the most recent background count of the active draft.
type LiveCounts struct {
	PersonaID string               `json:"persona_id"`
	Positive  tokenizer.TokenCount `json:"positive"`
	Negative  tokenizer.TokenCount `json:"negative"`
	CountedAt time.Time            `json:"counted_at"`
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

type ServerOption func(*Server)

// WithLogLevel lets Reload change the level of the logger passed to
// NewServer.
func WithLogLevel(level zap.AtomicLevel) ServerOption {
	return func(s *Server) {
		s.logLevel = &level
	}
}

// NewServer creates a JSON-RPC server over an open store. The caller keeps
// ownership of store and counter.
func NewServer(ctx context.Context, store *database.Store, counter ports.TokenCounter, settings *config.Settings, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	levels, err := store.GetGranularityLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load granularity levels: %w", err)
	}

	s := &Server{
		store:      store,
		drafts:     draft.NewController(store, logger),
		reconciler: reorder.NewReconciler(store, logger),
		counter:    counter,
		debouncer:  tokenizer.NewDebouncer(settings.Tokenizer.Debounce.Duration),
		logger:     logger,
		socketPath: settings.Daemon.Socket,
		settings:   settings,
		levels:     levels,
		started:    time.Now(),
		stats:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SocketPath returns the unix socket the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening for JSON-RPC requests
func (s *Server) Start() error {
	// Remove old socket if exists
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("JSON-RPC server listening", zap.String("socket", s.socketPath))

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("JSON-RPC server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Handler returns the HTTP handler serving /rpc.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	return mux
}

// Stop gracefully shuts down the server. A pending draft is discarded.
func (s *Server) Stop(ctx context.Context) error {
	s.debouncer.Stop()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	if s.listener != nil {
		s.listener.Close()
	}

	os.Remove(s.socketPath)

	if session, ok := s.drafts.Active(); ok && session.HasChanges() {
		s.logger.Warn("discarding uncommitted draft on shutdown",
			zap.String("persona_id", session.PersonaID()),
			zap.Int("pending", len(session.Pending())))
	}
	s.drafts.Close()

	s.logger.Info("JSON-RPC server stopped")
	return nil
}

// Reload swaps in new settings. Socket and database paths only change on
// restart.
func (s *Server) Reload(settings *config.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Prompt = settings.Prompt
	s.settings.Tokenizer.DefaultModel = settings.Tokenizer.DefaultModel
	s.settings.Log = settings.Log

	if s.logLevel != nil {
		if err := logging.SetLevel(*s.logLevel, settings.Log.Level); err != nil {
			s.logger.Warn("keeping log level", zap.Error(err))
		}
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, -32700, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, -32600, "Invalid Request", nil)
		return
	}

	s.mu.Lock()
	s.stats[req.Method]++
	s.mu.Unlock()

	result, err := s.routeMethod(r.Context(), req.Method, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == -32603 || rpcErr.Code == CodeStorageFailed {
			s.logger.Error("rpc call failed", zap.String("method", req.Method), zap.Error(err))
		} else {
			s.logger.Debug("rpc call rejected", zap.String("method", req.Method), zap.Error(err))
		}
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toRPCError maps domain errors onto JSON-RPC error codes.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var cerr *apperrors.CommitError
	if errors.As(err, &cerr) {
		return &RPCError{Code: CodeCommitFailed, Message: cerr.Error(), Data: map[string]string{
			"phase":    cerr.Phase,
			"token_id": cerr.TokenID,
		}}
	}

	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		return &RPCError{Code: -32602, Message: verr.Error(), Data: map[string]string{"field": verr.Field}}
	}

	switch {
	case apperrors.IsNotFound(err):
		return &RPCError{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, apperrors.ErrAlreadyActive),
		errors.Is(err, apperrors.ErrNoActiveSession),
		errors.Is(err, apperrors.ErrAlreadyCommitted),
		errors.Is(err, apperrors.ErrDuplicateRecord):
		return &RPCError{Code: CodeConflict, Message: err.Error()}
	}

	var dberr *apperrors.DatabaseError
	if errors.As(err, &dberr) {
		return &RPCError{Code: CodeStorageFailed, Message: err.Error()}
	}

	return &RPCError{Code: -32603, Message: err.Error()}
}

// composeOptions returns the configured defaults, overridden by req.
func (s *Server) composeOptions(req *ComposeOverrides) composer.Options {
	s.mu.RLock()
	opts := s.settings.Prompt.ComposeOptions()
	s.mu.RUnlock()

	if req == nil {
		return opts
	}
	if req.IncludeWeights != nil {
		opts.IncludeWeights = *req.IncludeWeights
	}
	if req.Separator != nil {
		opts.Separator = *req.Separator
	}
	if len(req.GranularityOrder) > 0 {
		opts.GranularityOrder = req.GranularityOrder
	}
	opts.AdhocPositive = req.AdhocPositive
	opts.AdhocNegative = req.AdhocNegative
	if req.AdhocPosition != "" {
		opts.AdhocPosition = composer.AdhocPosition(req.AdhocPosition)
	}
	return opts
}

func (s *Server) defaultModel(modelID string) string {
	if modelID != "" {
		return modelID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Tokenizer.DefaultModel
}

// modelFor picks requested, else the persona's model, else the configured
// default.
func (s *Server) modelFor(ctx context.Context, personaID, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return s.store.PersonaModel(ctx, personaID, s.defaultModel(""))
}

// scheduleRecount recomposes and recounts the active draft once staging
// settles. Only the last trigger inside the debounce window runs.
func (s *Server) scheduleRecount(session *draft.Session) {
	s.debouncer.Trigger(func() {
		s.recount(context.Background(), session)
	})
}

func (s *Server) recount(ctx context.Context, session *draft.Session) {
	modelID, err := s.modelFor(ctx, session.PersonaID(), "")
	if err != nil {
		s.logger.Warn("falling back to default model for recount",
			zap.String("persona_id", session.PersonaID()), zap.Error(err))
		modelID = s.defaultModel("")
	}

	prompt := composer.Compose(session.CurrentView(), s.levels, s.composeOptions(nil))
	pos, neg := tokenizer.Annotate(ctx, s.counter, &prompt, modelID)

	s.mu.Lock()
	s.live = &LiveCounts{
		PersonaID: session.PersonaID(),
		Positive:  pos,
		Negative:  neg,
		CountedAt: time.Now(),
	}
	s.mu.Unlock()
}

func (s *Server) LiveCountsFor(personaID string) *LiveCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live == nil || s.live.PersonaID != personaID {
		return nil
	}
	c := *s.live
	return &c
}
