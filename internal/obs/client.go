/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package obs is a client for the obs-websocket 4.x control protocol.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("obs: connection closed")

// readLimit covers base64 screenshots returned by TakeSourceScreenshot.
const readLimit = 16 << 20

// RequestError is a request the server answered with status "error".
type RequestError struct {
	RequestType string
	Message     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("obs: %s: %s", e.RequestType, e.Message)
}

// IsRequestError reports whether err is a RequestError carrying message.
func IsRequestError(err error, message string) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	return strings.EqualFold(re.Message, message)
}

// Response is a raw request reply.
type Response struct {
	Raw json.RawMessage
}

// Decode unmarshals the reply into v.
func (r Response) Decode(v any) error {
	if len(r.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.Raw, v)
}

// Event is a server-pushed update.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the event body into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Sender issues control requests. *Client implements it.
type Sender interface {
	Send(ctx context.Context, requestType string, args map[string]any) (Response, error)
}

type envelope struct {
	MessageID  string `json:"message-id"`
	UpdateType string `json:"update-type"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

type pendingRequest struct {
	requestType string
	ch          chan Response
	errCh       chan error
}

// Client is one authenticated control socket. Event handlers run on the
// reader goroutine in arrival order and must not block.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	cancel context.CancelFunc

	mu            sync.Mutex
	pending       map[string]pendingRequest
	handlers      map[string]map[int]func(Event)
	closeHandlers map[int]func(error)
	nextHandler   int

	done      chan struct{}
	closeErr  error
	closeOnce sync.Once
}

// Dial connects to address (host:port or ws:// URL) and authenticates when
// the server asks for it.
func Dial(ctx context.Context, address, password string, logger zerolog.Logger) (*Client, error) {
	url := address
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:          conn,
		logger:        logger.With().Str("component", "obs").Str("endpoint", address).Logger(),
		cancel:        cancel,
		pending:       make(map[string]pendingRequest),
		handlers:      make(map[string]map[int]func(Event)),
		closeHandlers: make(map[int]func(error)),
		done:          make(chan struct{}),
	}
	go c.readLoop(readCtx)

	if err := c.authenticate(ctx, password); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) authenticate(ctx context.Context, password string) error {
	resp, err := c.Send(ctx, "GetAuthRequired", nil)
	if err != nil {
		return fmt.Errorf("auth probe: %w", err)
	}
	var probe struct {
		AuthRequired bool   `json:"authRequired"`
		Challenge    string `json:"challenge"`
		Salt         string `json:"salt"`
	}
	if err := resp.Decode(&probe); err != nil {
		return fmt.Errorf("decode auth probe: %w", err)
	}
	if !probe.AuthRequired {
		return nil
	}
	_, err = c.Send(ctx, "Authenticate", map[string]any{
		"auth": authResponse(password, probe.Salt, probe.Challenge),
	})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

// authResponse computes base64(sha256(base64(sha256(password+salt))+challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// Send issues a request and waits for its reply.
func (c *Client) Send(ctx context.Context, requestType string, args map[string]any) (Response, error) {
	id := uuid.NewString()
	msg := make(map[string]any, len(args)+2)
	for k, v := range args {
		msg[k] = v
	}
	msg["request-type"] = requestType
	msg["message-id"] = id

	p := pendingRequest{
		requestType: requestType,
		ch:          make(chan Response, 1),
		errCh:       make(chan error, 1),
	}
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return Response{}, ErrClosed
	default:
	}
	c.pending[id] = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", requestType, err)
	}

	select {
	case resp := <-p.ch:
		return resp, nil
	case err := <-p.errCh:
		return Response{}, err
	case <-c.done:
		return Response{}, ErrClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// On registers fn for events of eventType. The returned func removes it.
func (c *Client) On(eventType string, fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandler
	c.nextHandler++
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[int]func(Event))
	}
	c.handlers[eventType][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[eventType], id)
	}
}

// OnClose registers fn to run once when the connection ends, including on
// Close. Remove the handler first to close without being notified.
func (c *Client) OnClose(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandler
	c.nextHandler++
	c.closeHandlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.closeHandlers, id)
	}
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the socket. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = reason
		close(c.done)
		handlers := make([]func(error), 0, len(c.closeHandlers))
		for _, fn := range c.closeHandlers {
			handlers = append(handlers, fn)
		}
		c.mu.Unlock()

		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")

		for _, fn := range handlers {
			fn(reason)
		}
	})
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("control socket read failed")
			}
			c.shutdown(fmt.Errorf("obs: connection lost: %w", err))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable control message")
			continue
		}

		if env.UpdateType != "" {
			c.dispatch(Event{Type: env.UpdateType, Raw: data})
			continue
		}

		c.mu.Lock()
		p, ok := c.pending[env.MessageID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug().Str("message_id", env.MessageID).Msg("reply for unknown request")
			continue
		}
		if env.Status == "error" {
			select {
			case p.errCh <- &RequestError{RequestType: p.requestType, Message: env.Error}:
			default:
			}
			continue
		}
		select {
		case p.ch <- Response{Raw: data}:
		default:
		}
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.handlers[ev.Type]))
	for _, fn := range c.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
