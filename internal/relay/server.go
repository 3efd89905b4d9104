package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server exposes a Hub over HTTP long-poll and WebSocket.
//
//	GET  /health
//	POST /rooms                  mint a room token
//	GET  /rooms/:id              room occupancy
//	GET  /signal/wait            ?roomId&peerId[&timeout=ms][&probe=1]
//	POST /signal/send            {roomId, peerId, message}
//	POST /signal/leave           {roomId, peerId}
//	GET  /signal/ws              ?peerId
type Server struct {
	hub      *Hub
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// NewServer wires the routes. mode is a gin mode ("debug", "release" or
// "test"); anything else is treated as release.
func NewServer(hub *Hub, mode string) *Server {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxFrameSize,
			WriteBufferSize: maxFrameSize,
			// Peers are CLIs and browsers on arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)
	r.POST("/rooms", s.createRoom)
	r.GET("/rooms/:id", s.roomInfo)

	sig := r.Group("/signal")
	sig.GET("/wait", s.wait)
	sig.POST("/send", s.send)
	sig.POST("/leave", s.leave)
	sig.GET("/ws", s.serveWS)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe runs the server and the hub's janitor until ctx ends,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "relay").Str("addr", addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Str("module", "relay").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": s.hub.Len()})
}

func (s *Server) createRoom(c *gin.Context) {
	c.JSON(http.StatusCreated, s.hub.Create())
}

func (s *Server) roomInfo(c *gin.Context) {
	info, err := s.hub.Info(c.Param("id"))
	if errors.Is(err, ErrInvalidRoom) {
		c.JSON(http.StatusNotFound, signaling.ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) wait(c *gin.Context) {
	roomID := c.Query("roomId")
	peerID := c.Query("peerId")

	if c.Query("probe") == "1" {
		occupied, err := s.hub.Probe(roomID, peerID)
		if err != nil {
			s.fail(c, err)
			return
		}
		if !occupied {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
		return
	}

	message, err := s.hub.Wait(c.Request.Context(), roomID, peerID, queryTimeout(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, signaling.WaitResponse{Message: message})
}

func (s *Server) send(c *gin.Context) {
	var env signaling.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, signaling.ErrorResponse{Error: "malformed envelope: " + err.Error()})
		return
	}
	if len(env.Message) == 0 || !json.Valid(env.Message) {
		c.JSON(http.StatusBadRequest, signaling.ErrorResponse{Error: "envelope has no message"})
		return
	}

	if err := s.hub.Send(env.RoomID, env.PeerID, env.Message); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) leave(c *gin.Context) {
	var req signaling.LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, signaling.ErrorResponse{Error: "malformed leave request: " + err.Error()})
		return
	}
	if err := s.hub.Leave(req.RoomID, req.PeerID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == 0 {
		// Client went away; nobody reads the reply.
		c.Abort()
		return
	}
	c.JSON(status, signaling.ErrorResponse{Error: err.Error()})
}

// statusFor maps hub errors onto the relay's status codes. It returns 0
// when the request itself was cancelled.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrWaitTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrRoomFull), errors.Is(err, ErrInitiatorTaken):
		return http.StatusConflict
	case errors.Is(err, ErrRoomExpired):
		return http.StatusGone
	case errors.Is(err, ErrInvalidRoom), errors.Is(err, ErrInvalidPeer):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 0
	default:
		return http.StatusInternalServerError
	}
}

func queryTimeout(c *gin.Context) time.Duration {
	ms, err := strconv.ParseInt(c.Query("timeout"), 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "relay").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Str("room", c.Query("roomId")).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
