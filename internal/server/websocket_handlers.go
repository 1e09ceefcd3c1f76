package server

import (
	"errors"
	"log/slog"

	"postservice/internal/middleware"
	"postservice/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketFeedHandler streams post events to the client. Plain HTTP requests
// are answered with 426 Upgrade Required.
func (s *Server) WebSocketFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client, err := s.feedHub.Register(conn)
		if err != nil {
			middleware.Logger.Warn("feed socket rejected", slog.String("error", err.Error()))
			reason := "feed unavailable"
			if errors.Is(err, notifications.ErrHubFull) {
				reason = "too many connections"
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		// The handler must block; the connection is released when it returns.
		client.ReadPump()
	})
}
