package handlers

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/middleware/requestid"
	"github.com/rennixue/question-app/internal/question"
)

// WebSocketHandler serves the block protocol over a WebSocket: the first
// client message is the request, every block is one JSON message.
type WebSocketHandler struct {
	questions *QuestionHandler
	log       *zap.Logger
}

func NewWebSocketHandler(questions *QuestionHandler, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{questions: questions, log: log}
}

// Upgrade rejects plain HTTP requests and keeps the request id for the
// connection.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("ws_request_id", requestid.Get(c))
	return c.Next()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	id, _ := c.Locals("ws_request_id").(string)
	if id == "" {
		id = uuid.NewString()
	}
	log := h.log.With(zap.String("request_id", id))
	log.Info("WebSocket connection established")

	defer func() {
		c.Close()
		log.Info("WebSocket connection closed")
	}()

	var body question.GenerateRequest
	if err := c.ReadJSON(&body); err != nil {
		log.Warn("Failed to read WebSocket request", zap.Error(err))
		h.sendError(c, "Invalid JSON format")
		return
	}
	req, err := body.Validate()
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	stream, cancel := h.questions.start(id, req)
	defer cancel()
	defer stream.Close()

	// Any read error means the client is gone; stop the job.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		b, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err := h.send(c, b); err != nil {
			log.Warn("Failed to send block", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) send(c *websocket.Conn, b question.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(fiber.Map{"error": errorMsg})
}
