package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/auth"
	"github.com/FueledByOctane/fieldtalk/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The channel grant is the access control; origin checks add
		// nothing for a token-authenticated socket.
		return true
	},
}

// Gateway owns the websocket side of the transport: it verifies channel
// grants, upgrades connections, and runs one hub per room channel that
// bridges the bus to the attached sockets.
type Gateway struct {
	bus      Bus
	presence Presence
	secret   string
	logger   *zap.Logger

	mu   sync.Mutex
	hubs map[string]*hub
}

func NewGateway(bus Bus, presence Presence, secret string, logger *zap.Logger) *Gateway {
	return &Gateway{
		bus:      bus,
		presence: presence,
		secret:   secret,
		logger:   logger,
		hubs:     make(map[string]*hub),
	}
}

// HandleWS upgrades GET /v1/ws?grant=<token>. The grant was issued by
// the authorize endpoint and carries the channel name plus the presence
// payload the member shows to the room.
func (g *Gateway) HandleWS(c *gin.Context) {
	grant := c.Query("grant")
	if grant == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing channel grant"})
		return
	}

	claims, err := auth.ParseGrant(grant, g.secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired grant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s, err := g.attach(claims.Channel, conn, claims.Participant)
	if err != nil {
		g.logger.Error("subscribe room channel failed",
			zap.String("channel", claims.Channel), zap.Error(err))
		_ = conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

// attach registers a new session with a live hub for channel. A hub can
// shut down between lookup and registration (last member leaving, bus
// subscription dying), so the register send selects on the hub's done
// channel and retries against a fresh hub instead of blocking forever.
func (g *Gateway) attach(channel string, conn *websocket.Conn, p models.Participant) (*session, error) {
	for {
		h, err := g.hub(channel)
		if err != nil {
			return nil, err
		}
		s := newSession(h, conn, p)
		select {
		case h.register <- s:
			return s, nil
		case <-h.done:
		}
	}
}

// hub returns a live hub for a channel, subscribing on first use. A hub
// whose run loop already exited is discarded and replaced.
func (g *Gateway) hub(channel string) (*hub, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.hubs[channel]; ok {
		select {
		case <-h.done:
			delete(g.hubs, channel)
		default:
			return h, nil
		}
	}

	events, stop, err := g.bus.Subscribe(context.Background(), channel)
	if err != nil {
		return nil, err
	}

	h := &hub{
		gw:         g,
		channel:    channel,
		register:   make(chan *session),
		unregister: make(chan *session),
		done:       make(chan struct{}),
		events:     events,
		stopSub:    stop,
		sessions:   make(map[*session]bool),
	}
	g.hubs[channel] = h
	go h.run()
	return h, nil
}

// dropHub removes h from the map only if it is still the registered hub
// for its channel; a replacement hub must not be evicted by its
// predecessor's shutdown.
func (g *Gateway) dropHub(h *hub) {
	g.mu.Lock()
	if g.hubs[h.channel] == h {
		delete(g.hubs, h.channel)
	}
	g.mu.Unlock()
}

// hub fans bus events out to every socket attached to one room channel.
// All session bookkeeping happens on the run goroutine, so no lock is
// needed around the sessions map. done is closed when the run loop
// exits; register and unregister senders must select on it, since a hub
// stops receiving the moment its last member leaves or its bus
// subscription dies.
type hub struct {
	gw         *Gateway
	channel    string
	register   chan *session
	unregister chan *session
	done       chan struct{}
	events     <-chan Event
	stopSub    func()
	sessions   map[*session]bool
}

func (h *hub) run() {
	defer func() {
		h.gw.dropHub(h)
		h.stopSub()
		close(h.done)
	}()

	for {
		select {
		case s := <-h.register:
			h.sessions[s] = true
			s.announceJoin()

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
				s.announceLeave()
			}
			if len(h.sessions) == 0 {
				return
			}

		case ev, ok := <-h.events:
			if !ok {
				// Bus subscription died; drop all sockets so clients
				// reconnect through a fresh grant.
				for s := range h.sessions {
					close(s.send)
					s.announceLeave()
				}
				return
			}
			raw, err := ev.Encode()
			if err != nil {
				continue
			}
			for s := range h.sessions {
				select {
				case s.send <- raw:
				default:
					// Slow consumer: disconnect rather than stall the room.
					delete(h.sessions, s)
					close(s.send)
					s.announceLeave()
				}
			}
		}
	}
}

func (h *hub) publish(ev Event) {
	if err := h.gw.bus.Publish(context.Background(), h.channel, ev); err != nil {
		h.gw.logger.Warn("publish failed",
			zap.String("channel", h.channel),
			zap.String("event", string(ev.Name)),
			zap.Error(err))
	}
}
