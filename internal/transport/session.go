package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 8 * 1024
)

// session is one partner's websocket attachment to a room hub. Inbound
// frames are limited to typing signals; messages travel over the HTTP
// API so they hit the durable transcript before the bus.
type session struct {
	hub         *hub
	conn        *websocket.Conn
	send        chan []byte
	participant models.Participant
	typing      *TypingDebounce
}

func newSession(h *hub, conn *websocket.Conn, p models.Participant) *session {
	p.Online = true
	s := &session{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 64),
		participant: p,
	}
	s.typing = NewTypingDebounce(TypingIdleTimeout, func(isTyping bool) {
		ev, err := NewEvent(EventUserTyping, &UserTyping{
			SenderID:   p.ID.String(),
			SenderName: p.DisplayName,
			IsTyping:   isTyping,
		})
		if err != nil {
			return
		}
		h.publish(ev)
	})
	return s
}

// announceJoin records presence, broadcasts member-added, and hands the
// joining socket the current member snapshot. Runs on the hub goroutine.
func (s *session) announceJoin() {
	ctx := context.Background()
	code := strings.TrimPrefix(s.hub.channel, ChannelPrefix)

	if err := s.hub.gw.presence.Add(ctx, code, s.participant); err != nil {
		s.hub.gw.logger.Warn("presence add failed", zap.Error(err))
	}

	if members, err := s.hub.gw.presence.Members(ctx, code); err == nil {
		if ev, err := NewEvent(EventSubscriptionSucceeded, &MemberSnapshot{Members: members}); err == nil {
			if raw, err := ev.Encode(); err == nil {
				s.send <- raw
			}
		}
	}

	if ev, err := NewEvent(EventMemberAdded, &MemberChange{Member: s.participant}); err == nil {
		s.hub.publish(ev)
	}
}

// announceLeave clears presence and broadcasts member-removed. The event
// only means "offline"; a network drop and a graceful leave look the
// same here.
func (s *session) announceLeave() {
	s.typing.Stop()

	ctx := context.Background()
	code := strings.TrimPrefix(s.hub.channel, ChannelPrefix)

	removed, err := s.hub.gw.presence.Remove(ctx, code, s.participant.ID.String())
	if err != nil {
		s.hub.gw.logger.Warn("presence remove failed", zap.Error(err))
	}
	member := s.participant
	if removed != nil {
		member = *removed
	}
	member.Online = false

	if ev, err := NewEvent(EventMemberRemoved, &MemberChange{Member: member}); err == nil {
		s.hub.publish(ev)
	}
}

func (s *session) readPump() {
	defer func() {
		// The hub may already be gone (bus failure tore it down); never
		// block this goroutine on a receiver that exited.
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		payload, err := ev.Decode()
		if err != nil {
			continue
		}

		switch p := payload.(type) {
		case *UserTyping:
			// Sender identity comes from the grant, never the frame.
			s.typing.Observe(p.IsTyping)
		default:
			// Everything else enters the room through the HTTP API.
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
