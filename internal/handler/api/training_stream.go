package api

import (
	"net/http"
	"time"

	"RLSignal/internal/domain/models"
	"RLSignal/internal/usecase"
	applogger "RLSignal/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// statusFrame is one websocket message on /ws/training.
type statusFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	models.TrainingStatusResponse
}

// TrainingStream pushes training status frames to websocket clients: one
// on connect and one on every state change.
type TrainingStream struct {
	state    *usecase.ServiceState
	logger   *applogger.Logger
	upgrader websocket.Upgrader
}

// NewTrainingStream accepts connections from allowedOrigins; an empty list
// or "*" accepts any origin, and requests without Origin are always accepted.
func NewTrainingStream(state *usecase.ServiceState, allowedOrigins []string, logger *applogger.Logger) *TrainingStream {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &TrainingStream{
		state:  state,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func (s *TrainingStream) Serve(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", applogger.Error(err))
		return nil
	}
	defer conn.Close()

	frames, unsubscribe := s.state.Subscribe()
	defer unsubscribe()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reads only detect the close; clients send nothing meaningful.
	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	if err := s.write(conn, s.state.Status()); err != nil {
		return nil
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", applogger.Error(err))
			}
			return nil
		case st, ok := <-frames:
			if !ok {
				return nil
			}
			if err := s.write(conn, st); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping failed", applogger.Error(err))
				return nil
			}
		}
	}
}

func (s *TrainingStream) write(conn *websocket.Conn, st models.TrainingStatusResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := conn.WriteJSON(statusFrame{Type: "training_status", Timestamp: time.Now().UnixMilli(), TrainingStatusResponse: st})
	if err != nil {
		s.logger.Debug("websocket write failed", applogger.Error(err))
	}
	return err
}
