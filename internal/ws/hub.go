package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// Authenticator validates the optional ?token= query parameter.
type Authenticator interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte    // buffered outbound message queue
	addr common.Address // zero-value = anonymous
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub maintains the set of active clients and routes broadcast messages.
// Run must be started before ServeWs is used. Hub implements market.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// channels consumed by Run()
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	auth     Authenticator // optional; nil = all connections anonymous
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewHub creates a Hub ready to be started with Run. An empty allowedOrigins
// accepts every origin.
func NewHub(auth Authenticator, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		auth:       auth,
		logger:     logger.With("component", "ws"),
		now:        time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run: hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration and broadcast events until ctx
// is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow client; drop for this client only
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs: HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection, optionally
// identifies the caller's wallet from a JWT in the ?token= query parameter,
// and starts the read/write pumps.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	var addr common.Address
	if token := r.URL.Query().Get("token"); token != "" && h.auth != nil {
		addr = h.parseJWT(token)
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		addr: addr,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// parseJWT returns the wallet address in a valid access token, or the zero
// address (anonymous) on any failure.
func (h *Hub) parseJWT(token string) common.Address {
	claims, err := h.auth.ParseAccessToken(token)
	if err != nil {
		return common.Address{}
	}
	addr, err := claims.Address()
	if err != nil {
		return common.Address{}
	}
	return addr
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection. It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection drops. Only pongs matter; the
// protocol is server-push only.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("unexpected close", "address", c.addr, "error", err)
			}
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Publishing
// ──────────────────────────────────────────────────────────────────────────────

// BroadcastRateUpdate serialises and broadcasts a RateUpdateMessage.
func (h *Hub) BroadcastRateUpdate(msg RateUpdateMessage) {
	msg.Type = MsgTypeRateUpdate
	h.broadcastJSON(msg)
}

// Publish converts an engine event into its wire message. It never blocks.
func (h *Hub) Publish(kind string, payload any) {
	ts := h.now().UTC()
	switch kind {
	case market.EventLotTraded:
		r, ok := payload.(domain.TradeReceipt)
		if !ok {
			break
		}
		h.broadcastJSON(LotTradedMessage{
			Type:             MsgTypeLotTraded,
			FrameKey:         r.FrameKey,
			Bucket:           r.Bucket,
			Owner:            r.State.Owner,
			PreviousOwner:    r.PreviousOwner,
			AcquisitionPrice: r.State.AcquisitionPrice,
			Tax:              r.Tax,
			StateIndex:       r.StateIndex,
			Timestamp:        ts,
		})
		if r.Resale && r.PreviousOwner != r.State.Owner {
			refunded := "0"
			if r.Refunded != nil {
				refunded = r.Refunded.String()
			}
			h.sendTo(r.PreviousOwner, LotDisplacedMessage{
				Type:      MsgTypeLotDisplaced,
				FrameKey:  r.FrameKey,
				Bucket:    r.Bucket,
				NewOwner:  r.State.Owner,
				Refunded:  refunded,
				Timestamp: ts,
			})
		}
		return

	case market.EventRateSet:
		f, ok := payload.(domain.Frame)
		if !ok {
			break
		}
		h.broadcastJSON(RateSetMessage{
			Type:        MsgTypeRateSet,
			FrameKey:    f.Key,
			ClosingRate: f.ClosingRate,
			RateText:    f.ClosingRate.Decimal().String(),
			Overridden:  f.RateOverridden,
			Timestamp:   ts,
		})
		return

	case market.EventFrameSettled:
		s, ok := payload.(domain.Settlement)
		if !ok {
			break
		}
		h.broadcastJSON(FrameSettledMessage{Type: MsgTypeFrameSettled, Settlement: s, Timestamp: ts})
		return

	case market.EventParams:
		p, ok := payload.(domain.Params)
		if !ok {
			break
		}
		h.broadcastJSON(ParamsChangedMessage{Type: MsgTypeParamsChanged, Params: p, Timestamp: ts})
		return
	}
	h.logger.Debug("unhandled event", "kind", kind)
}

// broadcastJSON is the common marshalling path.
func (h *Hub) broadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal error", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, message dropped")
	}
}

// sendTo queues v for every connection authenticated as addr.
func (h *Hub) sendTo(addr common.Address, v interface{}) {
	if addr == (common.Address{}) {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal error", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.addr != addr {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// SendError writes an error message directly to one client's send channel.
func (h *Hub) SendError(client *Client, code, message string) {
	data, err := json.Marshal(ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}
