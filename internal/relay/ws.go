package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
)

// wsPeer is one WebSocket connection. Waits run concurrently, each
// cancellable by a cancel frame carrying its id; writes are serialised.
type wsPeer struct {
	hub    *Hub
	peerID string
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	waiting map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func (s *Server) serveWS(c *gin.Context) {
	peerID := c.Query("peerId")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, signaling.ErrorResponse{Error: ErrInvalidPeer.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "relay").Err(err).Msg("websocket upgrade failed")
		return
	}

	p := &wsPeer{
		hub:     s.hub,
		peerID:  peerID,
		conn:    conn,
		waiting: make(map[string]context.CancelFunc),
	}
	log.Debug().Str("module", "relay").Str("peer", peerID).Msg("websocket peer connected")
	p.run(c.Request.Context())
}

func (p *wsPeer) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		p.wg.Wait()
		p.conn.Close()
		log.Debug().Str("module", "relay").Str("peer", p.peerID).Msg("websocket peer disconnected")
	}()

	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go p.ping(ctx)

	for {
		var req signaling.Request
		if err := p.conn.ReadJSON(&req); err != nil {
			return
		}
		// Any frame proves the client is alive.
		p.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch req.Type {
		case signaling.FrameSend:
			p.reply(p.handleSend(req))
		case signaling.FrameProbe:
			p.reply(p.handleProbe(req))
		case signaling.FrameWait:
			p.startWait(ctx, req)
		case signaling.FrameCancel:
			p.cancelWait(req.ID)
		case signaling.FrameLeave:
			p.reply(p.handleLeave(req))
		default:
			p.reply(signaling.Reply{ID: req.ID, Type: signaling.FrameError, Status: http.StatusBadRequest, Error: "unknown frame type " + req.Type})
		}
	}
}

func (p *wsPeer) handleSend(req signaling.Request) signaling.Reply {
	if len(req.Message) == 0 {
		return signaling.Reply{ID: req.ID, Type: signaling.FrameError, Status: http.StatusBadRequest, Error: "envelope has no message"}
	}
	if err := p.hub.Send(req.RoomID, p.peerID, req.Message); err != nil {
		return errorReply(req.ID, err)
	}
	return signaling.Reply{ID: req.ID, Type: signaling.FrameAck, Status: http.StatusNoContent}
}

func (p *wsPeer) handleProbe(req signaling.Request) signaling.Reply {
	occupied, err := p.hub.Probe(req.RoomID, p.peerID)
	if err != nil {
		return errorReply(req.ID, err)
	}
	status := http.StatusOK
	if !occupied {
		status = http.StatusNotFound
	}
	return signaling.Reply{ID: req.ID, Type: signaling.FrameAck, Status: status, Occupied: occupied}
}

func (p *wsPeer) handleLeave(req signaling.Request) signaling.Reply {
	if err := p.hub.Leave(req.RoomID, p.peerID); err != nil {
		return errorReply(req.ID, err)
	}
	return signaling.Reply{ID: req.ID, Type: signaling.FrameAck, Status: http.StatusNoContent}
}

func (p *wsPeer) startWait(parent context.Context, req signaling.Request) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.waiting[req.ID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.cancelWait(req.ID)

		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		message, err := p.hub.Wait(ctx, req.RoomID, p.peerID, timeout)
		if err != nil {
			if statusFor(err) != 0 {
				p.reply(errorReply(req.ID, err))
			}
			return
		}
		p.reply(signaling.Reply{ID: req.ID, Type: signaling.FrameMessage, Status: http.StatusOK, Message: message})
	}()
}

func (p *wsPeer) cancelWait(id string) {
	p.mu.Lock()
	cancel, ok := p.waiting[id]
	delete(p.waiting, id)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *wsPeer) reply(r signaling.Reply) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(r); err != nil {
		log.Debug().Str("module", "relay").Str("peer", p.peerID).Err(err).Msg("websocket write failed")
	}
}

func (p *wsPeer) ping(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func errorReply(id string, err error) signaling.Reply {
	return signaling.Reply{ID: id, Type: signaling.FrameError, Status: statusFor(err), Error: err.Error()}
}
