package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the JSON payload pushed by WebsocketSink.
type Message struct {
	BotID   string    `json:"bot_id"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Time    time.Time `json:"time"`
}

// WebsocketSink pushes each alert as one text frame to a websocket endpoint,
// dialing a fresh connection per alert.
type WebsocketSink struct {
	url    string
	botID  string
	dialer *websocket.Dialer
}

// NewWebsocketSink creates a sink for the given ws:// or wss:// URL.
func NewWebsocketSink(url, botID string) *WebsocketSink {
	return &WebsocketSink{
		url:    url,
		botID:  botID,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (s *WebsocketSink) Name() string { return "websocket" }

func (s *WebsocketSink) Send(ctx context.Context, subject, body string) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	data, err := json.Marshal(Message{BotID: s.botID, Subject: subject, Body: body, Time: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to %s: %w", s.url, err)
	}
	// the alert is delivered; a failed close handshake is not an error
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}
