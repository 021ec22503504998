package api

import (
	"errors"

	"FoodDetServer/logger"
	"FoodDetServer/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// wsDetect answers every frame with one JSON message. Text frames carry
// base64 (optionally a data URL), binary frames carry raw image bytes.
func (s *Server) wsDetect(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Log().Debug("websocket closed", zap.Error(err))
			}
			return
		}

		var img gocv.Mat
		switch mt {
		case websocket.TextMessage:
			img, err = service.DecodeBase64Image(string(msg))
		case websocket.BinaryMessage:
			img, err = service.DecodeImage(msg)
		default:
			img, err = gocv.NewMat(), errors.New("unsupported message type")
		}
		if err != nil {
			_ = img.Close()
			if writeErr := conn.WriteJSON(gin.H{"success": false, "error": "Invalid image file"}); writeErr != nil {
				return
			}
			continue
		}

		resp, _, err := s.run(c.Request.Context(), img, "ws")
		_ = img.Close()
		if err != nil {
			logger.Log().Error("websocket prediction failed", zap.Error(err))
			if writeErr := conn.WriteJSON(gin.H{"success": false, "error": err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}
