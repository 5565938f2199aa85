package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"rtsp-bridge/internal/stream"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Gateway accepts signaling connections, dispatches inbound control messages
// to the orchestrator, and fans lifecycle events out to subscribed clients.
// It implements stream.Notifier.
type Gateway struct {
	orch     *stream.Orchestrator
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewGateway returns a gateway bound to orch. Wire it back into the
// orchestrator with orch.SetNotifier.
func NewGateway(orch *stream.Orchestrator, log *slog.Logger) *Gateway {
	return &Gateway{
		orch: orch,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*Client),
	}
}

// HandleWS upgrades the request and runs the connection's pumps. The new
// client immediately receives the current session list.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		gw:   g,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	g.log.Info("signaling client connected", slog.String("client_id", c.id))

	go c.writePump()
	go c.readPump()

	c.enqueue(streamsMessage{Type: "streams", Data: g.orch.Sessions()})
}

// ClientCount returns the number of connected signaling clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// dispatch routes one inbound message. Unknown types are logged and ignored
// so protocol evolution on the client side never kills a connection.
func (g *Gateway) dispatch(c *Client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(newError("Invalid message format"))
		return
	}

	switch msg.Type {
	case msgSubscribe:
		g.handleSubscribe(c, msg.StreamID)
	case msgPing:
		c.enqueue(pongMessage{Type: "pong"})
	case msgOffer:
		// Accepted and echoed; no negotiation is performed server-side.
		c.enqueue(answerMessage{Type: "answer", Answer: msg.Offer})
	case msgICECandidate:
		g.log.Debug("ice candidate received", slog.String("client_id", c.id))
	default:
		g.log.Debug("unknown message type", slog.String("client_id", c.id), slog.String("type", msg.Type))
	}
}

func (g *Gateway) handleSubscribe(c *Client, streamID string) {
	s, err := g.orch.Subscribe(c.id, streamID)
	if err != nil {
		c.enqueue(newError("Stream not found"))
		return
	}

	c.setStream(streamID)
	g.log.Info("client subscribed",
		slog.String("client_id", c.id),
		slog.String("stream_id", streamID))

	c.enqueue(subscribedMessage{
		Type:     "subscribed",
		PeerID:   c.id,
		StreamID: streamID,
		Stream:   s,
	})
}

// unregister removes a closed connection and drops its subscription, which
// may arm idle reclamation for the session it was watching.
func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	_, present := g.clients[c.id]
	delete(g.clients, c.id)
	g.mu.Unlock()

	if !present {
		return
	}

	c.markClosed()
	g.orch.Unsubscribe(c.id)
	g.log.Info("signaling client disconnected", slog.String("client_id", c.id))
}

// subscribers snapshots the clients currently watching streamID.
func (g *Gateway) subscribers(streamID string) []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Client, 0, 4)
	for _, c := range g.clients {
		if c.stream() == streamID {
			out = append(out, c)
		}
	}
	return out
}

// StreamUpdated implements stream.Notifier. Delivery is per-client
// best-effort; one dead connection never affects the rest.
func (g *Gateway) StreamUpdated(s stream.Session) {
	for _, c := range g.subscribers(s.ID) {
		c.enqueue(streamUpdateMessage{Type: "streamUpdate", Data: s})
	}
}

// StreamStopped implements stream.Notifier.
func (g *Gateway) StreamStopped(id string) {
	for _, c := range g.subscribers(id) {
		c.enqueue(streamStoppedMessage{Type: "stream-stopped", StreamID: id})
		c.setStream("")
	}
}
