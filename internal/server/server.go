// Package server maneja las conexiones WebSocket y el encolamiento de trabajos.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcondev/receipt-daemon/internal/poller"
	"github.com/adcondev/receipt-daemon/internal/printer"
	"github.com/adcondev/receipt-daemon/internal/queue"
	"github.com/adcondev/receipt-daemon/internal/render"
)

const (
	// DefaultRateLimit is the number of jobs a client may submit per minute.
	DefaultRateLimit = 30
	// MaxMessageBytes bounds one incoming message (templates may embed a logo).
	MaxMessageBytes = 1 << 20
	notifyTimeout   = 5 * time.Second
)

// PrinterLister enumerates installed printers.
type PrinterLister interface {
	GetPrinters(ctx context.Context, forceRefresh bool) ([]printer.Detail, error)
	GetSummary() printer.Summary
}

// Intake accepts jobs submitted over the websocket.
type Intake interface {
	Enqueue(job queue.Job) (queue.Job, int, error)
	Get(id string) (queue.Job, bool)
	List() []queue.Job
	Len() int
	Capacity() int
}

// Waker triggers an immediate poll.
type Waker interface {
	Wake()
}

// TokenValidator checks the submit token.
type TokenValidator interface {
	ValidateToken(token string) bool
}

// Config holds server configuration
type Config struct {
	AllowedOrigins []string
	// RateLimit is jobs per minute per client address.
	RateLimit int
	// Profile renders previews of jobs that name no paper width.
	Profile render.Profile
}

// Deps are the collaborators of the server. Intake is nil when jobs arrive
// through an external queue; Tokens is nil when submissions are open.
type Deps struct {
	Printers PrinterLister
	Intake   Intake
	Waker    Waker
	Renderer poller.Renderer
	Tokens   TokenValidator
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo    string          `json:"tipo"`
	ID      string          `json:"id,omitempty"`
	Datos   json.RawMessage `json:"datos,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Printer string          `json:"printer,omitempty"`
	Paper   string          `json:"paper,omitempty"`
	Token   string          `json:"token,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo     string   `json:"tipo"`
	ID       string   `json:"id,omitempty"`
	Status   string   `json:"status,omitempty"`
	Mensaje  string   `json:"mensaje,omitempty"`
	Current  int      `json:"current,omitempty"`
	Capacity int      `json:"capacity,omitempty"`
	Position int      `json:"position,omitempty"`
	Printer  string   `json:"printer,omitempty"`
	Method   string   `json:"method,omitempty"`
	Text     string   `json:"text,omitempty"`
	Image    string   `json:"image,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// pendingJob is a submitted job whose result is still owed to a client.
type pendingJob struct {
	conn  *websocket.Conn
	acked chan struct{}
}

// Server manages WebSocket connections and job intake
type Server struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	clients *ClientRegistry
	limiter *JobRateLimiter

	pendingMu sync.Mutex
	pending   map[string]*pendingJob

	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Profile.Columns == 0 {
		cfg.Profile = render.Profile80mm
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		clients:      NewClientRegistry(),
		limiter:      NewJobRateLimiter(cfg.RateLimit),
		pending:      make(map[string]*pendingJob),
		shutdownChan: make(chan struct{}),
	}
}

// QueueStatus returns current and max queue size
func (s *Server) QueueStatus() (current, capacity int) {
	if s.deps.Intake == nil {
		return 0, 0
	}
	return s.deps.Intake.Len(), s.deps.Intake.Capacity()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.clients.Count()
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("error accepting client", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(MaxMessageBytes)

	s.clients.Add(conn, r.RemoteAddr)
	s.logger.Info("client connected", zap.Int("total", s.clients.Count()), zap.String("remote", r.RemoteAddr))

	ctx := r.Context()
	welcome := Response{
		Tipo:    "info",
		Status:  "connected",
		Mensaje: "Servidor respondiendo desde Receipt Daemon",
	}
	_ = wsjson.Write(ctx, conn, welcome)

	s.handleMessages(ctx, conn, r.RemoteAddr)

	s.clients.Remove(conn)
	s.dropPending(conn)
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
	s.logger.Info("client disconnected", zap.Int("remaining", s.clients.Count()))
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, remote string) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			// Normal closure or context cancelled
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return
			}
			s.logger.Warn("error reading message", zap.Error(err))
			return
		}

		s.routeMessage(ctx, conn, remote, &msg)
	}
}

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, conn *websocket.Conn, remote string, msg *Message) {
	switch msg.Tipo {
	case "ticket":
		s.handleTicket(ctx, conn, remote, msg)
	case "preview":
		s.handlePreview(ctx, conn, remote, msg)
	case "status":
		s.handleStatus(ctx, conn)
	case "ping":
		s.handlePing(ctx, conn, msg)
	case "get_printers":
		s.handleGetPrinters(ctx, conn)
	default:
		s.logger.Warn("unknown message type", zap.String("tipo", msg.Tipo))
		s.sendError(ctx, conn, msg.ID, "Unknown message type: "+msg.Tipo)
	}
}

// admit applies the rate limit and submit token shared by ticket and preview.
func (s *Server) admit(ctx context.Context, conn *websocket.Conn, remote string, msg *Message) bool {
	if s.deps.Tokens != nil && !s.deps.Tokens.ValidateToken(msg.Token) {
		s.logger.Warn("AUDIT: rejected submission with invalid token", zap.String("remote", remote))
		s.sendError(ctx, conn, msg.ID, "Invalid or missing token")
		return false
	}
	if !s.limiter.Allow(remote) {
		s.logger.Warn("rate limit exceeded", zap.String("remote", remote))
		s.sendError(ctx, conn, msg.ID, "Too many jobs, please slow down")
		return false
	}
	if len(msg.Datos) == 0 {
		s.sendError(ctx, conn, msg.ID, "Field 'datos' is required for type '"+msg.Tipo+"'")
		return false
	}
	return true
}

// handleTicket queues a print job
func (s *Server) handleTicket(ctx context.Context, conn *websocket.Conn, remote string, msg *Message) {
	if s.deps.Intake == nil {
		s.sendError(ctx, conn, msg.ID, "Job intake disabled: jobs are read from an external queue")
		return
	}
	if !s.admit(ctx, conn, remote, msg) {
		return
	}

	// Generate ID if not provided
	jobID := msg.ID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	log := s.logger.With(zap.String("job_id", jobID))

	job, err := newJob(jobID, msg)
	if err != nil {
		log.Info("job rejected", zap.Error(err))
		s.sendError(ctx, conn, jobID, friendly(err))
		return
	}

	// register before the job becomes visible to the poller
	p := &pendingJob{conn: conn, acked: make(chan struct{})}
	if !s.addPending(jobID, p) {
		s.sendError(ctx, conn, jobID, "Job "+jobID+" is already queued")
		return
	}

	job, position, err := s.deps.Intake.Enqueue(job)
	if err != nil {
		s.removePending(jobID)
		current, capacity := s.QueueStatus()
		log.Warn("job not queued", zap.Int("current", current), zap.Int("capacity", capacity), zap.Error(err))
		s.sendError(ctx, conn, jobID, friendly(err))
		return
	}

	current, capacity := s.QueueStatus()
	log.Info("job queued", zap.Int("position", position), zap.Int("current", current), zap.Int("capacity", capacity))
	_ = wsjson.Write(ctx, conn, Response{
		Tipo:     "ack",
		ID:       job.ID,
		Status:   "queued",
		Current:  current,
		Capacity: capacity,
		Position: position,
		Mensaje:  "Job queued for printing",
	})
	close(p.acked)

	if s.deps.Waker != nil {
		s.deps.Waker.Wake()
	}
}

// handleStatus sends queue status
func (s *Server) handleStatus(ctx context.Context, conn *websocket.Conn) {
	current, capacity := s.QueueStatus()

	response := Response{
		Tipo:     "status",
		Status:   "ok",
		Current:  current,
		Capacity: capacity,
		Mensaje:  formatStatus(current, capacity),
	}
	_ = wsjson.Write(ctx, conn, response)
}

// handlePing responds to ping
func (s *Server) handlePing(ctx context.Context, conn *websocket.Conn, msg *Message) {
	response := Response{
		Tipo:   "pong",
		ID:     msg.ID,
		Status: "ok",
	}
	_ = wsjson.Write(ctx, conn, response)
}

// handleGetPrinters handles printer enumeration requests
func (s *Server) handleGetPrinters(ctx context.Context, conn *websocket.Conn) {
	if s.deps.Printers == nil {
		s.sendError(ctx, conn, "", "Printer discovery unavailable")
		return
	}
	printers, err := s.deps.Printers.GetPrinters(ctx, false)
	if err != nil && printers == nil {
		s.sendError(ctx, conn, "", "Failed to enumerate printers: "+err.Error())
		return
	}

	dtos := make([]printer.DetailDTO, len(printers))
	for i, p := range printers {
		dtos[i] = p.DTO()
	}

	response := struct {
		Tipo     string              `json:"tipo"`
		Status   string              `json:"status"`
		Printers []printer.DetailDTO `json:"printers"`
		Summary  printer.Summary     `json:"summary"`
	}{
		Tipo:     "printers",
		Status:   "ok",
		Printers: dtos,
		Summary:  s.deps.Printers.GetSummary(),
	}

	_ = wsjson.Write(ctx, conn, response)
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, id, mensaje string) {
	response := Response{
		Tipo:    "error",
		ID:      id,
		Status:  "error",
		Mensaje: mensaje,
	}
	_ = wsjson.Write(ctx, conn, response)
}

// JobFinished implements poller.Notifier by pushing the outcome to the
// client that submitted the job, if it is still connected.
func (s *Server) JobFinished(out poller.Outcome) {
	s.pendingMu.Lock()
	p, ok := s.pending[out.JobID]
	delete(s.pending, out.JobID)
	s.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case <-p.acked:
	case <-time.After(notifyTimeout):
	}

	status := "success"
	if out.Status != queue.StatusCompleted {
		status = "error"
	}
	err := s.NotifyClient(p.conn, Response{
		Tipo:    "result",
		ID:      out.JobID,
		Status:  status,
		Mensaje: out.Message,
		Printer: out.Printer,
		Method:  out.Method,
	})
	if err != nil {
		s.logger.Debug("result not delivered to client", zap.String("job_id", out.JobID), zap.Error(err))
	}
}

// NotifyClient sends a result back to a specific client
func (s *Server) NotifyClient(conn *websocket.Conn, response Response) error {
	if conn == nil || !s.clients.Contains(conn) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, response)
}

func (s *Server) addPending(id string, p *pendingJob) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, exists := s.pending[id]; exists {
		return false
	}
	s.pending[id] = p
	return true
}

func (s *Server) removePending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Server) dropPending(conn *websocket.Conn) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, p := range s.pending {
		if p.conn == conn {
			delete(s.pending, id)
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		s.logger.Info("shutting down, disconnecting clients", zap.Int("clients", s.clients.Count()))

		// Notify all clients
		s.clients.ForEach(func(conn *websocket.Conn) {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		})
	})
}

func formatStatus(current, capacity int) string {
	return "Queue: " + strconv.Itoa(current) + "/" + strconv.Itoa(capacity)
}
