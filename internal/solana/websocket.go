package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSClient is a WebSocket client used to watch transaction signatures for
// confirmation instead of polling getSignatureStatuses.
type WSClient struct {
	url    string
	conn   *websocket.Conn
	logger *logrus.Logger
	mu     sync.Mutex
	nextID int

	// pending maps the request id of a signatureSubscribe call to the
	// channel its notification is delivered on.
	pending map[int]chan signatureNotification
	// active maps a confirmed subscription number back to the request id.
	active map[int]int
}

type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type signatureNotification struct {
	Err json.RawMessage
}

// NewWSClient creates a confirmation watcher for a ws:// or wss:// endpoint.
// An http endpoint is rewritten to its ws equivalent.
func NewWSClient(url string, logger *logrus.Logger) *WSClient {
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return &WSClient{
		url:     url,
		logger:  logger,
		pending: make(map[int]chan signatureNotification),
		active:  make(map[int]int),
	}
}

// Connect establishes the WebSocket connection and starts the read loop.
func (ws *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, ws.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	conn.SetReadLimit(1024 * 1024)

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()

	ws.logger.WithField("url", ws.url).Debug("websocket connected")

	go ws.readLoop()
	go ws.pingLoop(ctx)

	return nil
}

// Close shuts the connection down; in-flight waits fail with a closed channel.
func (ws *WSClient) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.conn == nil {
		return nil
	}
	err := ws.conn.Close()
	ws.conn = nil
	for id, ch := range ws.pending {
		close(ch)
		delete(ws.pending, id)
	}
	return err
}

// WaitForSignature subscribes to one signature and blocks until the node
// reports it at the requested commitment, the context expires, or the
// connection drops. A non-empty returned error payload is the node's raw
// transaction error.
func (ws *WSClient) WaitForSignature(ctx context.Context, signature string, commitment string) (json.RawMessage, error) {
	if commitment == "" {
		commitment = "confirmed"
	}

	ws.mu.Lock()
	if ws.conn == nil {
		ws.mu.Unlock()
		return nil, fmt.Errorf("websocket not connected")
	}
	id := ws.nextID
	ws.nextID++
	ch := make(chan signatureNotification, 1)
	ws.pending[id] = ch

	msg := struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      int           `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
	}{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "signatureSubscribe",
		Params:  []interface{}{signature, map[string]interface{}{"commitment": commitment}},
	}
	err := ws.conn.WriteJSON(msg)
	ws.mu.Unlock()
	if err != nil {
		ws.dropPending(id)
		return nil, fmt.Errorf("failed to send signatureSubscribe: %w", err)
	}

	ws.logger.WithFields(logrus.Fields{
		"signature":  signature,
		"commitment": commitment,
	}).Debug("watching signature")

	select {
	case n, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("websocket closed while waiting for signature")
		}
		return n.Err, nil
	case <-ctx.Done():
		ws.dropPending(id)
		return nil, ctx.Err()
	}
}

func (ws *WSClient) dropPending(id int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	delete(ws.pending, id)
	for sub, req := range ws.active {
		if req == id {
			delete(ws.active, sub)
		}
	}
}

func (ws *WSClient) readLoop() {
	for {
		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.WithError(err).Debug("websocket read error")
			}
			ws.Close()
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.logger.WithError(err).Debug("failed to unmarshal websocket message")
			continue
		}
		ws.handleMessage(msg)
	}
}

func (ws *WSClient) handleMessage(msg wsMessage) {
	// Subscription confirmation: result carries the subscription number.
	if msg.ID != nil && len(msg.Result) > 0 {
		var sub int
		if err := json.Unmarshal(msg.Result, &sub); err != nil {
			return
		}
		ws.mu.Lock()
		if _, ok := ws.pending[*msg.ID]; ok {
			ws.active[sub] = *msg.ID
		}
		ws.mu.Unlock()
		return
	}

	if msg.Error != nil {
		ws.logger.WithFields(logrus.Fields{
			"code":    msg.Error.Code,
			"message": msg.Error.Message,
		}).Debug("websocket error response")
		if msg.ID != nil {
			ws.mu.Lock()
			if ch, ok := ws.pending[*msg.ID]; ok {
				close(ch)
				delete(ws.pending, *msg.ID)
			}
			ws.mu.Unlock()
		}
		return
	}

	if msg.Method != "signatureNotification" {
		return
	}

	var params struct {
		Subscription int `json:"subscription"`
		Result       struct {
			Value struct {
				Err json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		ws.logger.WithError(err).Debug("failed to unmarshal signature notification")
		return
	}

	ws.mu.Lock()
	reqID, ok := ws.active[params.Subscription]
	if ok {
		delete(ws.active, params.Subscription)
		if ch, exists := ws.pending[reqID]; exists {
			ch <- signatureNotification{Err: params.Result.Value.Err}
			delete(ws.pending, reqID)
		}
	}
	ws.mu.Unlock()
}

func (ws *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			conn := ws.conn
			ws.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.logger.WithError(err).Debug("failed to send ping")
			}
		}
	}
}
