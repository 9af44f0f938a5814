package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rtchat/backend/internal/models"
)

const (
	TargetStartConversation = "StartConversation"
	TargetUpdateUserStatus  = "UpdateUserStatus"
	TargetSendMessage       = "SendMessage"
)

const (
	maxMessageSize = 8192
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	closeTimeout   = 10 * time.Second
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownTarget  = errors.New("unknown target")
)

// Handler receives the invocations of one authenticated connection.
type Handler interface {
	ConnectionOpened(ctx context.Context, caller models.Caller) error
	ConnectionClosed(ctx context.Context, caller models.Caller) error
	StartConversation(ctx context.Context, caller models.Caller, email string) error
	UpdateStatus(ctx context.Context, caller models.Caller, status models.Status) error
	SendMessage(ctx context.Context, caller models.Caller, receiverID, content string) error
}

type invocation struct {
	InvocationID string          `json:"invocationId"`
	Target       string          `json:"target"`
	Arguments    json.RawMessage `json:"arguments"`
}

type startConversationArgs struct {
	Email string `json:"email"`
}

type updateStatusArgs struct {
	Status models.Status `json:"status"`
}

type sendMessageArgs struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// NewUpgrader accepts browser origins from allowed. An empty list or "*"
// accepts any origin.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	_, wildcard := set["*"]
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard || len(set) == 0 {
				return true
			}
			_, ok := set[origin]
			return ok
		},
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
// Open and close notifications for the connection are issued from this
// goroutine, so they reach the handler in order. A connection whose open
// notification fails gets an Error frame and is closed without a close
// notification.
func ServeWS(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, hub *Hub, handler Handler, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn().Err(err).Str("user_id", userID).Msg("Websocket upgrade failed.")
		return
	}
	client := NewClient(uuid.NewString(), userID)
	caller := models.Caller{UserID: userID, ConnectionID: client.ID}
	hub.Register(client)

	go writePump(conn, client, hub)

	ctx := r.Context()
	if err := handler.ConnectionOpened(ctx, caller); err != nil {
		hub.logger.Error().Err(err).Str("user_id", userID).Str("connection_id", client.ID).Msg("Connection open handling failed.")
		// writePump flushes the error frame, sends a close frame and closes conn.
		hub.SendToConnection(client.ID, models.Error("", err))
		hub.Unregister(client)
		return
	}
	hub.logger.Debug().Str("user_id", userID).Str("connection_id", client.ID).Msg("Connection opened.")

	readPump(ctx, conn, client, hub, handler, caller)
}

func readPump(ctx context.Context, conn *websocket.Conn, client *Client, hub *Hub, handler Handler, caller models.Caller) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := handler.ConnectionClosed(closeCtx, caller); err != nil {
			hub.logger.Error().Err(err).Str("user_id", caller.UserID).Str("connection_id", caller.ConnectionID).Msg("Connection close handling failed.")
		}
		hub.Unregister(client)
		_ = conn.Close()
		hub.logger.Debug().Str("user_id", caller.UserID).Str("connection_id", caller.ConnectionID).Msg("Connection closed.")
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Debug().Err(err).Str("connection_id", caller.ConnectionID).Msg("Unexpected close.")
			}
			return
		}
		invocationID, target, err := dispatch(ctx, handler, caller, data)
		hub.metrics.Invocation(target, err)
		if err != nil {
			hub.logger.Warn().Err(err).
				Str("user_id", caller.UserID).
				Str("target", target).
				Msg("Invocation failed.")
			hub.SendToConnection(caller.ConnectionID, models.Error(invocationID, err))
			continue
		}
		hub.SendToConnection(caller.ConnectionID, models.Completion(invocationID))
	}
}

func dispatch(ctx context.Context, handler Handler, caller models.Caller, data []byte) (string, string, error) {
	var inv invocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch inv.Target {
	case TargetStartConversation:
		var args startConversationArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return inv.InvocationID, inv.Target, err
		}
		return inv.InvocationID, inv.Target, handler.StartConversation(ctx, caller, args.Email)
	case TargetUpdateUserStatus:
		var args updateStatusArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return inv.InvocationID, inv.Target, err
		}
		return inv.InvocationID, inv.Target, handler.UpdateStatus(ctx, caller, args.Status)
	case TargetSendMessage:
		var args sendMessageArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return inv.InvocationID, inv.Target, err
		}
		return inv.InvocationID, inv.Target, handler.SendMessage(ctx, caller, args.ReceiverID, args.Content)
	default:
		return inv.InvocationID, inv.Target, fmt.Errorf("%w: %q", ErrUnknownTarget, inv.Target)
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: arguments: %v", ErrMalformedFrame, err)
	}
	return nil
}

func writePump(conn *websocket.Conn, client *Client, hub *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		hub.Unregister(client)
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
