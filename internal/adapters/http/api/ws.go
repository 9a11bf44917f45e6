package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/putmeon/internal/adapters/pubsub"
	service "github.com/okian/putmeon/internal/app"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPongTimeout  = 45 * time.Second
	wsWriteTimeout      = 5 * time.Second
	wsReadLimit         = 4 << 10
	wsOutboxSize        = 16
)

type wsConfig struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func defaultWSConfig() wsConfig {
	return wsConfig{pingInterval: defaultPingInterval, pongTimeout: defaultPongTimeout}
}

// Websocket operations sent by clients.
const (
	wsSubscribe   = "subscribe"
	wsUnsubscribe = "unsubscribe"
)

type wsRequest struct {
	Op   string `json:"op"`
	Path string `json:"path"`
}

// wsMessage is every frame the server sends.
type wsMessage struct {
	Type     string           `json:"type"`
	ConnID   string           `json:"connId,omitempty"`
	Snapshot *pubsub.Snapshot `json:"snapshot,omitempty"`
	Prefix   string           `json:"prefix,omitempty"`
	Code     string           `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// handleWS handles GET /ws. The websocket is the participant's live
// connection: it keeps the user online and carries their subscriptions. A
// normal close signs the connection off, anything else counts as a drop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := context.WithoutCancel(r.Context())
	p, err := s.deps.Join(ctx, id)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, errs.Code(err)),
			time.Now().Add(wsWriteTimeout))
		s.logger.Error(ctx, "join failed", logger.String("uid", id.UID), logger.Error(err))
		return
	}

	metrics.AddWebsocketConnections(1)
	defer metrics.AddWebsocketConnections(-1)

	pr := &peer{
		conn:   conn,
		p:      p,
		cfg:    s.ws,
		logger: s.logger.With(logger.String("uid", id.UID), logger.String("conn_id", p.ConnID())),
		out:    make(chan wsMessage, wsOutboxSize),
		subs:   make(map[string]*pubsub.Subscription),
	}
	pr.run(ctx)
}

type peer struct {
	conn   *websocket.Conn
	p      *service.Participant
	cfg    wsConfig
	logger logger.Logger
	out    chan wsMessage

	mu   sync.Mutex
	subs map[string]*pubsub.Subscription
	wg   sync.WaitGroup
}

func (pr *peer) run(ctx context.Context) {
	live, cancel := context.WithCancel(pr.p.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pr.write(live)
	}()

	pr.send(live, wsMessage{Type: "ready", ConnID: pr.p.ConnID()})
	err := pr.read(live)

	if isCleanClose(err) {
		if lerr := pr.p.Leave(ctx); lerr != nil {
			pr.logger.Error(ctx, "leave failed", logger.Error(lerr))
		}
	} else {
		pr.logger.Debug(ctx, "connection dropped", logger.Error(err))
		if derr := pr.p.Drop(ctx); derr != nil {
			pr.logger.Error(ctx, "drop failed", logger.Error(derr))
		}
	}
	cancel()
	<-writerDone
	pr.releaseAll()
	pr.wg.Wait()
}

func (pr *peer) releaseAll() {
	pr.mu.Lock()
	subs := pr.subs
	pr.subs = make(map[string]*pubsub.Subscription)
	pr.mu.Unlock()
	for _, sub := range subs {
		sub.Release()
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// read handles client requests until the connection fails. Every frame,
// pong included, extends the read deadline.
func (pr *peer) read(ctx context.Context) error {
	pr.conn.SetReadLimit(wsReadLimit)
	_ = pr.conn.SetReadDeadline(time.Now().Add(pr.cfg.pongTimeout))
	pr.conn.SetPongHandler(func(string) error {
		return pr.conn.SetReadDeadline(time.Now().Add(pr.cfg.pongTimeout))
	})

	for {
		_, data, err := pr.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = pr.conn.SetReadDeadline(time.Now().Add(pr.cfg.pongTimeout))

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			pr.fail(ctx, "", errs.WrapKind("api.ws", errs.ErrValidation, err))
			continue
		}
		pr.handle(ctx, req)
	}
}

func (pr *peer) handle(ctx context.Context, req wsRequest) {
	const op = "api.ws"
	prefix := strings.Trim(req.Path, "/")
	switch req.Op {
	case wsSubscribe:
		pr.subscribe(ctx, prefix)
	case wsUnsubscribe:
		pr.mu.Lock()
		sub, ok := pr.subs[prefix]
		delete(pr.subs, prefix)
		pr.mu.Unlock()
		if ok {
			sub.Release()
		}
	default:
		pr.fail(ctx, prefix, errs.Newf(op, errs.ErrValidation, "unknown op %q", req.Op))
	}
}

func (pr *peer) subscribe(ctx context.Context, prefix string) {
	pr.mu.Lock()
	_, dup := pr.subs[prefix]
	pr.mu.Unlock()
	if dup {
		return
	}

	sub, err := pr.p.Subscribe(prefix)
	if err != nil {
		pr.fail(ctx, prefix, err)
		return
	}
	pr.mu.Lock()
	pr.subs[prefix] = sub
	pr.mu.Unlock()

	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		for snap := range sub.C() {
			pr.send(ctx, wsMessage{Type: "snapshot", Snapshot: &snap})
		}
	}()
}

func (pr *peer) fail(ctx context.Context, prefix string, err error) {
	pr.send(ctx, wsMessage{Type: "error", Prefix: prefix, Code: errs.Code(err), Message: err.Error()})
}

func (pr *peer) send(ctx context.Context, m wsMessage) {
	select {
	case pr.out <- m:
	case <-ctx.Done():
	}
}

// write owns every write to the socket.
func (pr *peer) write(ctx context.Context) {
	ticker := time.NewTicker(pr.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = pr.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			_ = pr.conn.Close()
			return
		case m := <-pr.out:
			_ = pr.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := pr.conn.WriteJSON(m); err != nil {
				pr.abort(ctx, err)
				return
			}
		case <-ticker.C:
			if err := pr.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				pr.abort(ctx, err)
				return
			}
		}
	}
}

// abort unblocks the reader after a failed write so the peer is dropped.
func (pr *peer) abort(ctx context.Context, err error) {
	if !errors.Is(err, websocket.ErrCloseSent) {
		pr.logger.Debug(ctx, "websocket write failed", logger.Error(err))
	}
	_ = pr.conn.Close()
}
