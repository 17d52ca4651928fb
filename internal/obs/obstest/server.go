/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package obstest runs an in-process obs-websocket 4.x server for tests.
package obstest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	salt      = "c2FsdA=="
	challenge = "Y2hhbGxlbmdl"
)

// HandlerFunc answers one request. A returned error becomes a status
// "error" reply carrying its message.
type HandlerFunc func(args map[string]any) (map[string]any, error)

// Request is a recorded request.
type Request struct {
	Type string
	Args map[string]any
}

// Server is a fake control socket.
type Server struct {
	srv      *httptest.Server
	password string

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	conns    map[*websocket.Conn]context.CancelFunc
	requests []Request
	accepted int
	refuse   bool
}

// NewServer starts a fake server. An empty password disables authentication.
func NewServer(password string) *Server {
	s := &Server{
		password: password,
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[*websocket.Conn]context.CancelFunc),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// Handle installs fn for requestType.
func (s *Server) Handle(requestType string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[requestType] = fn
}

// Fail makes requestType answer with message.
func (s *Server) Fail(requestType, message string) {
	s.Handle(requestType, func(map[string]any) (map[string]any, error) {
		return nil, errors.New(message)
	})
}

// Refuse makes new websocket upgrades fail with 503.
func (s *Server) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// Requests returns the recorded requests, excluding authentication.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsOf returns recorded requests of one type.
func (s *Server) RequestsOf(requestType string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Type == requestType {
			out = append(out, r)
		}
	}
	return out
}

// Accepted returns how many connections were upgraded.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Emit pushes an event to every connection.
func (s *Server) Emit(updateType string, body map[string]any) {
	msg := make(map[string]any, len(body)+1)
	for k, v := range body {
		msg[k] = v
	}
	msg["update-type"] = updateType

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = wsjson.Write(context.Background(), c, msg)
	}
}

// DropConnections closes every open connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[*websocket.Conn]context.CancelFunc)
	s.mu.Unlock()

	for c, cancel := range conns {
		cancel()
		_ = c.Close(websocket.StatusGoingAway, "bye")
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conns[conn] = cancel
	s.accepted++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		requestType, _ := msg["request-type"].(string)
		id, _ := msg["message-id"].(string)
		delete(msg, "request-type")
		delete(msg, "message-id")

		reply := s.answer(requestType, msg)
		reply["message-id"] = id
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) answer(requestType string, args map[string]any) map[string]any {
	switch requestType {
	case "GetAuthRequired":
		if s.password == "" {
			return map[string]any{"status": "ok", "authRequired": false}
		}
		return map[string]any{"status": "ok", "authRequired": true, "salt": salt, "challenge": challenge}
	case "Authenticate":
		if got, _ := args["auth"].(string); got != expectedAuth(s.password) {
			return map[string]any{"status": "error", "error": "Authentication Failed."}
		}
		return map[string]any{"status": "ok"}
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{Type: requestType, Args: args})
	fn := s.handlers[requestType]
	s.mu.Unlock()

	if fn == nil {
		return map[string]any{"status": "ok"}
	}
	body, err := fn(args)
	if err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	out := make(map[string]any, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	out["status"] = "ok"
	return out
}

func expectedAuth(password string) string {
	secret := sha256.Sum256([]byte(password + salt))
	auth := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
