// Package gateway is the websocket surface the chat-platform bridge
// connects to. It decodes command frames into engine operations and plays
// the interaction collaborator role for disambiguation prompts: prompts go
// out as frames, selection events come back in and are routed to the
// awaiting session.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/viksva/lobbyd/internal/auth"
	"github.com/viksva/lobbyd/internal/engine"
	"github.com/viksva/lobbyd/internal/models"
)

// Subprotocol is the websocket subprotocol bridges must speak.
const Subprotocol = "lobby-bridge"

// ErrNoBridge is returned when a prompt is issued for a guild whose bridge
// is not connected.
var ErrNoBridge = errors.New("no bridge connected for guild")

// errBridgeGone signals that the bridge disconnected while a prompt was
// awaiting its selection.
var errBridgeGone = errors.New("bridge disconnected")

// frame is the wire format in both directions. Fields are used depending
// on Type; unknown types are rejected.
type frame struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`

	Member     *models.Member `json:"member,omitempty"`
	LobbyName  string         `json:"lobby_name,omitempty"`
	Date       string         `json:"date,omitempty"`
	Size       int            `json:"size,omitempty"`
	Scope      string         `json:"scope,omitempty"`
	MemberName string         `json:"member_name,omitempty"`

	PromptID string `json:"prompt_id,omitempty"`
	Selector string `json:"selector,omitempty"`
	ActorID  string `json:"actor_id,omitempty"`
}

// bridgeConn is one guild's live bridge connection.
type bridgeConn struct {
	guild   string
	outChan chan map[string]interface{}
	cancel  func()
}

// write pushes a message onto the bridge's out channel non-blockingly and
// logs drops, the same way the rest of the service treats a slow consumer.
func (c *bridgeConn) write(logger *logrus.Logger, msg map[string]interface{}) {
	select {
	case c.outChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		logger.Warnf("bridge %s out channel full, dropped message type %q", c.guild, msgType)
	}
}

// pendingPrompt tracks one issued prompt awaiting its selection event.
type pendingPrompt struct {
	guild string
	ch    chan models.SelectionEvent
}

// Gateway owns the bridge connections and pending prompts. It implements
// engine.Interactor.
type Gateway struct {
	engine *engine.Engine
	auth   *auth.Bridge
	logger *logrus.Logger

	mu      sync.Mutex
	bridges map[string]*bridgeConn
	pending map[string]*pendingPrompt
}

// New builds a gateway. Call BindEngine before serving; the engine and the
// gateway reference each other (the gateway dispatches commands to the
// engine, the engine issues prompts through the gateway).
func New(authBridge *auth.Bridge, logger *logrus.Logger) *Gateway {
	return &Gateway{
		auth:    authBridge,
		logger:  logger,
		bridges: make(map[string]*bridgeConn),
		pending: make(map[string]*pendingPrompt),
	}
}

// BindEngine attaches the engine the gateway dispatches to.
func (g *Gateway) BindEngine(e *engine.Engine) {
	g.engine = e
}

// Handler accepts bridge connections on /bridge/ws/{guild}.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guild := strings.TrimPrefix(r.URL.Path, "/bridge/ws/")
		if guild == "" || strings.Contains(guild, "/") {
			http.Error(w, "missing guild", http.StatusBadRequest)
			return
		}

		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		tokenGuild, err := g.auth.VerifyToken(token)
		if err != nil {
			g.logger.Warnf("bridge auth failed for guild %s: %v", guild, err)
			http.Error(w, "invalid bridge token", http.StatusUnauthorized)
			return
		}
		if tokenGuild != guild {
			http.Error(w, "token issued for another guild", http.StatusForbidden)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{Subprotocol},
		})
		if err != nil {
			g.logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(websocket.StatusPolicyViolation, "client must speak the lobby-bridge subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &bridgeConn{
			guild:   guild,
			outChan: make(chan map[string]interface{}, 16),
			cancel:  cancel,
		}

		if err := g.addBridge(conn); err != nil {
			c.Close(websocket.StatusPolicyViolation, err.Error())
			cancel()
			return
		}
		g.logger.Infof("bridge connected for guild %s (%s)", guild, r.RemoteAddr)

		go g.writePump(ctx, c, conn)
		g.readPump(ctx, c, conn)

		g.removeBridge(conn)
		cancel()
		g.logger.Infof("bridge disconnected for guild %s", guild)
	}
}

func (g *Gateway) addBridge(conn *bridgeConn) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.bridges[conn.guild]; ok {
		return fmt.Errorf("bridge already connected for guild %s", conn.guild)
	}
	g.bridges[conn.guild] = conn
	return nil
}

// removeBridge drops the connection and closes every pending prompt channel
// belonging to its guild, waking their awaiting sessions with a withdrawal.
func (g *Gateway) removeBridge(conn *bridgeConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bridges[conn.guild] == conn {
		delete(g.bridges, conn.guild)
	}
	for id, p := range g.pending {
		if p.guild == conn.guild {
			close(p.ch)
			delete(g.pending, id)
		}
	}
}

func (g *Gateway) writePump(ctx context.Context, c *websocket.Conn, conn *bridgeConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-conn.outChan:
			data, err := json.Marshal(msg)
			if err != nil {
				g.logger.Warnf("failed to marshal outbound frame: %v", err)
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, data); err != nil {
				g.logger.Warnf("bridge %s write error: %v", conn.guild, err)
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, c *websocket.Conn, conn *bridgeConn) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				g.logger.Warnf("bridge %s read error: %v", conn.guild, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.write(g.logger, errorFrame(0, "malformed frame"))
			continue
		}
		g.handleFrame(ctx, conn, f)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, conn *bridgeConn, f frame) {
	switch f.Type {
	case "register_member":
		if f.Member == nil {
			conn.write(g.logger, errorFrame(f.Seq, "register_member requires member"))
			return
		}
		if err := g.engine.RegisterMember(ctx, conn.guild, *f.Member); err != nil {
			conn.write(g.logger, errorFrame(f.Seq, err.Error()))
			return
		}
		conn.write(g.logger, map[string]interface{}{"type": "member_registered", "seq": f.Seq})

	case "create":
		if f.Member == nil {
			conn.write(g.logger, errorFrame(f.Seq, "create requires member"))
			return
		}
		created, err := g.engine.Create(ctx, engine.CreateCommand{
			Guild:     conn.guild,
			Requester: *f.Member,
			LobbyName: f.LobbyName,
			RawDate:   f.Date,
			Size:      f.Size,
		})
		if err != nil {
			conn.write(g.logger, errorFrame(f.Seq, err.Error()))
			return
		}
		conn.write(g.logger, map[string]interface{}{
			"type": "lobby_created", "seq": f.Seq, "lobby": created,
		})

	case "list":
		g.handleList(ctx, conn, f)

	case "leave":
		if f.Member == nil {
			conn.write(g.logger, errorFrame(f.Seq, "leave requires member"))
			return
		}
		// Leave can block on a disambiguation session; run it off the read
		// pump so selection frames keep flowing.
		go func() {
			outcome, err := g.engine.Leave(ctx, engine.LeaveCommand{
				Guild:     conn.guild,
				Requester: *f.Member,
				LobbyName: f.LobbyName,
			})
			if err != nil {
				conn.write(g.logger, errorFrame(f.Seq, err.Error()))
				return
			}
			conn.write(g.logger, map[string]interface{}{
				"type": "leave_result", "seq": f.Seq, "outcome": outcome,
			})
		}()

	case "selection":
		g.routeSelection(models.SelectionEvent{
			PromptID: f.PromptID,
			Selector: f.Selector,
			ActorID:  f.ActorID,
		})

	default:
		conn.write(g.logger, errorFrame(f.Seq, fmt.Sprintf("unsupported frame type %q", f.Type)))
	}
}

func (g *Gateway) handleList(ctx context.Context, conn *bridgeConn, f frame) {
	var (
		lobbies map[int64]models.LobbySummary
		err     error
	)
	switch f.Scope {
	case "", "all":
		lobbies, err = g.engine.List(ctx, conn.guild, models.ScopeAllLobbies())
	case "me":
		if f.Member == nil {
			conn.write(g.logger, errorFrame(f.Seq, "scope me requires member"))
			return
		}
		lobbies, err = g.engine.List(ctx, conn.guild, models.ScopeMember(f.Member.ID))
	case "member":
		lobbies, err = g.engine.ListByMemberName(ctx, conn.guild, f.MemberName)
	default:
		conn.write(g.logger, errorFrame(f.Seq, fmt.Sprintf("unsupported scope %q", f.Scope)))
		return
	}
	if err != nil {
		conn.write(g.logger, errorFrame(f.Seq, err.Error()))
		return
	}
	conn.write(g.logger, map[string]interface{}{
		"type": "lobby_list", "seq": f.Seq, "lobbies": lobbies,
	})
}

// routeSelection forwards a selection frame to the prompt awaiting it.
// Events for unknown prompts are dropped; validation against the session's
// predicates happens on the awaiting side.
func (g *Gateway) routeSelection(ev models.SelectionEvent) {
	// The send stays under the lock so removeBridge cannot close the
	// channel mid-send; it is non-blocking, so the lock is held briefly.
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[ev.PromptID]
	if !ok {
		g.logger.Debugf("selection for unknown prompt %s dropped", ev.PromptID)
		return
	}
	select {
	case p.ch <- ev:
	default:
		g.logger.Debugf("selection for prompt %s dropped, awaiter busy", ev.PromptID)
	}
}

func errorFrame(seq int64, msg string) map[string]interface{} {
	return map[string]interface{}{"type": "error", "seq": seq, "message": msg}
}
