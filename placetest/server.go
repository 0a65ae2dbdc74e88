// Package placetest provides an in-process canvas server for tests.
//
// The server speaks the same wire protocol as a real deployment: a lobby
// socket on /ws, session sockets on /game_ws, and the session REST calls.
// It keeps just enough state to answer a client: each session's pixels and
// users. Nothing is persisted.
//
//	srv := placetest.NewServer()
//	defer srv.Close()
//
//	mgr := ws.New(ws.NewConfig(srv.HostPort(), "alice", ws.NoRateLimit()))
package placetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/placenet/internal/protocol"
)

// Frame is an inbound frame recorded by the server.
type Frame struct {
	ClientID string
	User     string
	Path     string
	Text     string
}

// Options configures a Server.
type Options struct {
	// Width and Height are the dimensions reported for new sessions.
	Width, Height int

	// InboundLimit enables per-client rate limiting of inbound frames. A
	// client that exceeds it is closed with ClosePolicyViolation.
	InboundLimit rate.Limit
	InboundBurst int

	// SendSnapshot controls whether a game client receives a state frame
	// right after connecting.
	SendSnapshot bool

	// OnConnect runs after the handshake, before the read loop starts.
	OnConnect func(c *Client)

	// StallReads keeps accepted sockets open without ever reading from
	// them. Control frames go unanswered and the client's writes back up.
	StallReads bool
}

// Option mutates Options.
type Option func(*Options)

// WithDimensions sets the size reported for new sessions.
func WithDimensions(width, height int) Option {
	return func(o *Options) {
		o.Width, o.Height = width, height
	}
}

// WithInboundLimit rate limits frames from each client.
func WithInboundLimit(perSecond rate.Limit, burst int) Option {
	return func(o *Options) {
		o.InboundLimit, o.InboundBurst = perSecond, burst
	}
}

// WithoutSnapshot stops the server from sending a state frame on connect.
func WithoutSnapshot() Option {
	return func(o *Options) {
		o.SendSnapshot = false
	}
}

// WithOnConnect registers a connect callback.
func WithOnConnect(fn func(c *Client)) Option {
	return func(o *Options) {
		o.OnConnect = fn
	}
}

// WithStalledReads makes the server stop reading after the handshake.
func WithStalledReads() Option {
	return func(o *Options) {
		o.StallReads = true
	}
}

type session struct {
	name      string
	createdAt time.Time
	users     []string
	pixels    map[string]string
}

// Server is a fake canvas server listening on a loopback port.
type Server struct {
	opts     Options
	http     *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]*Client
	sessions map[string]*session
	frames   []Frame
	notify   chan struct{}
}

// NewServer starts a server.
func NewServer(opts ...Option) *Server {
	o := Options{Width: 5, Height: 9, SendSnapshot: true}
	for _, fn := range opts {
		fn(&o)
	}

	s := &Server{
		opts: o,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:  make(map[string]*Client),
		sessions: make(map[string]*session),
		notify:   make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Get("/ws", s.handleLobby)
	r.Get("/game_ws", s.handleGame)
	r.Post("/new_session", s.handleNewSession)
	r.Post("/join_session", s.handleJoinSession)

	s.http = httptest.NewServer(r)
	return s
}

// URL returns the http:// base URL.
func (s *Server) URL() string {
	return s.http.URL
}

// HostPort returns the listening address without scheme.
func (s *Server) HostPort() string {
	return strings.TrimPrefix(s.http.URL, "http://")
}

// Close disconnects every client and stops the server.
func (s *Server) Close() {
	for _, c := range s.Clients() {
		c.Drop()
	}
	s.http.CloseClientConnections()
	s.http.Close()
}

// CreateSession registers a session as if POST /new_session had been called.
func (s *Server) CreateSession(name string, pixels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &session{name: name, createdAt: time.Now(), users: []string{}, pixels: map[string]string{}}
	for k, v := range pixels {
		sess.pixels[k] = v
	}
	s.sessions[name] = sess
}

// Pixels returns a copy of a session's pixels.
func (s *Server) Pixels(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]string{}
	if sess, ok := s.sessions[name]; ok {
		for k, v := range sess.pixels {
			out[k] = v
		}
	}
	return out
}

// Clients returns the currently connected clients.
func (s *Server) Clients() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Frames returns every frame received so far.
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// WaitFor polls the server state until cond holds or ctx ends.
func (s *Server) WaitFor(ctx context.Context, cond func(s *Server) bool) bool {
	for {
		s.mu.Lock()
		notify := s.notify
		s.mu.Unlock()

		if cond(s) {
			return true
		}

		select {
		case <-notify:
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return cond(s)
		}
	}
}

// Broadcast sends text to every client connected to the session.
func (s *Server) Broadcast(sessionID, text string) {
	for _, c := range s.Clients() {
		if c.SessionID == sessionID {
			c.Send(text)
		}
	}
}

// changedLocked wakes WaitFor callers.
func (s *Server) changedLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	s.serve(w, r, user, "")
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("session_id")
	if id == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	s.serve(w, r, q.Get("user"), id)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, user, sessionID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, uuid.New().String(), user, sessionID, r.URL.Path, s.opts)

	s.mu.Lock()
	s.clients[c.ID] = c
	var snapshot string
	if sessionID != "" {
		sess := s.sessionLocked(sessionID)
		if !contains(sess.users, user) {
			sess.users = append(sess.users, user)
		}
		if s.opts.SendSnapshot {
			snapshot = s.snapshotLocked(sess)
		}
	}
	s.changedLocked()
	s.mu.Unlock()

	if s.opts.OnConnect != nil {
		s.opts.OnConnect(c)
	}
	if snapshot != "" {
		c.Send(snapshot)
	}
	if s.opts.StallReads {
		return
	}

	go s.readLoop(c)
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.ID)
		s.changedLocked()
		s.mu.Unlock()
		c.Drop()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if !c.allow() {
			c.CloseWithCode(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}

		text := string(data)
		s.mu.Lock()
		s.frames = append(s.frames, Frame{ClientID: c.ID, User: c.User, Path: c.Path, Text: text})
		s.changedLocked()
		s.mu.Unlock()

		if c.SessionID == "" {
			continue
		}
		if px, ok := protocol.DecodePixel(text); ok {
			s.applyPixel(c, px)
		}
	}
}

func (s *Server) applyPixel(c *Client, px protocol.ColorPixel) {
	s.mu.Lock()
	s.sessionLocked(c.SessionID).pixels[protocol.PixelKey(px.X, px.Y)] = px.Color
	s.mu.Unlock()

	// Broadcasts carry session and user, which the client encoder never emits.
	frame, err := json.Marshal(pixelBroadcast{
		Type:      string(protocol.TypeColorPixel),
		SessionID: c.SessionID,
		User:      c.User,
		X:         px.X,
		Y:         px.Y,
		Color:     px.Color,
	})
	if err != nil {
		return
	}
	s.Broadcast(c.SessionID, string(frame))
}

type pixelBroadcast struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	User      string `json:"user"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Color     string `json:"color"`
}

func (s *Server) sessionLocked(name string) *session {
	sess, ok := s.sessions[name]
	if !ok {
		sess = &session{name: name, createdAt: time.Now(), users: []string{}, pixels: map[string]string{}}
		s.sessions[name] = sess
	}
	return sess
}

func (s *Server) snapshotLocked(sess *session) string {
	pixels := make(map[string]string, len(sess.pixels))
	for k, v := range sess.pixels {
		pixels[k] = v
	}
	frame, _ := protocol.Encode(protocol.State{
		SessionID: sess.name,
		Meta: protocol.Meta{
			GameStarted: true,
			Width:       s.opts.Width,
			Height:      s.opts.Height,
			CreatedAt:   sess.createdAt.Unix(),
		},
		Users:  append([]string(nil), sess.users...),
		Pixels: pixels,
	})
	return frame
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name, user := q.Get("session_name"), q.Get("user_id")
	if name == "" || user == "" {
		http.Error(w, "missing session_name or user_id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[name]; exists {
		http.Error(w, "session exists", http.StatusConflict)
		return
	}
	sess := s.sessionLocked(name)
	sess.users = append(sess.users, user)
	s.changedLocked()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name, user := q.Get("session_id"), q.Get("user_id")

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok || user == "" {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}
	if !contains(sess.users, user) {
		sess.users = append(sess.users, user)
	}
	s.changedLocked()
	w.WriteHeader(http.StatusOK)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
