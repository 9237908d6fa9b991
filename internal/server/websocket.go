package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const echoPrefix = "Message text was: "

// echoHandler answers every text frame on a connection with the same text
// behind echoPrefix. Each connection is served on its own and shares no state.
type echoHandler struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func newEchoHandler(allowedOrigins []string, logger *zap.Logger) *echoHandler {
	anyOrigin := allowsAnyOrigin(allowedOrigins)
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return &echoHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if anyOrigin || origin == "" {
					return true
				}
				parsed, err := url.Parse(origin)
				if err != nil {
					return false
				}
				_, ok := allowed[strings.ToLower(parsed.Scheme+"://"+parsed.Host)]
				return ok
			},
		},
		logger: logger,
	}
}

func (e *echoHandler) serve(c *gin.Context) {
	conn, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.logger.Info("websocket upgrade rejected", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(echoPrefix+string(payload))); err != nil {
			e.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}
