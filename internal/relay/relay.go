// Package relay turns authenticated hub invocations into presence updates
// and message deliveries.
package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"rtchat/backend/internal/models"
)

// Presence is the subset of the presence registry the relay drives.
type Presence interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	RecordConnectionOpened(userID string) bool
	RecordConnectionClosed(userID string) (bool, error)
	Subscribe(observerID, subjectID string)
	UpdateStatus(user models.User, status models.Status) []string
}

// Transport delivers events to live connections. Delivery is best effort.
type Transport interface {
	SendToConnection(connectionID string, event models.Event)
	SendToUser(userID string, event models.Event)
	SendToUsers(userIDs []string, event models.Event)
}

type Relay struct {
	presence  Presence
	transport Transport
	validate  *validator.Validate
	logger    zerolog.Logger
}

func New(presence Presence, transport Transport, logger zerolog.Logger) *Relay {
	return &Relay{
		presence:  presence,
		transport: transport,
		validate:  validator.New(),
		logger:    logger.With().Str("component", "Relay").Logger(),
	}
}

// ConnectionOpened marks the caller online when this is their first
// connection. If the announcement fails the connection is not counted, so
// the next open is treated as the first again.
func (r *Relay) ConnectionOpened(ctx context.Context, caller models.Caller) error {
	if caller.UserID == "" {
		return ErrMissingIdentity
	}
	if !r.presence.RecordConnectionOpened(caller.UserID) {
		return nil
	}
	if err := r.setStatus(ctx, caller.UserID, models.StatusOnline); err != nil {
		if _, rerr := r.presence.RecordConnectionClosed(caller.UserID); rerr != nil {
			r.logger.Error().Err(rerr).Str("user_id", caller.UserID).Msg("Failed to roll back connection count.")
		}
		return err
	}
	r.logger.Debug().Str("user_id", caller.UserID).Msg("User came online.")
	return nil
}

// ConnectionClosed marks the caller offline when their last connection goes away.
func (r *Relay) ConnectionClosed(ctx context.Context, caller models.Caller) error {
	if caller.UserID == "" {
		return ErrMissingIdentity
	}
	last, err := r.presence.RecordConnectionClosed(caller.UserID)
	if err != nil {
		return err
	}
	if !last {
		return nil
	}
	r.logger.Debug().Str("user_id", caller.UserID).Msg("User went offline.")
	return r.setStatus(ctx, caller.UserID, models.StatusOffline)
}

// StartConversation looks up a peer by email and subscribes both parties to
// each other's status. Only the calling connection is told the result.
func (r *Relay) StartConversation(ctx context.Context, caller models.Caller, email string) error {
	if caller.UserID == "" {
		return ErrMissingIdentity
	}
	if err := r.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: email %q", ErrInvalidIdentifier, email)
	}

	user, err := r.presence.UserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("look up %s: %w", email, err)
	}
	if user != nil {
		if user.Status == "" {
			user.Status = models.StatusOffline
		}
		r.presence.Subscribe(caller.UserID, user.ID)
	}
	r.transport.SendToConnection(caller.ConnectionID, models.StartConversation(user))
	return nil
}

// UpdateStatus sets the caller's status and tells their listeners.
func (r *Relay) UpdateStatus(ctx context.Context, caller models.Caller, status models.Status) error {
	if caller.UserID == "" {
		return ErrMissingIdentity
	}
	if err := r.validate.Var(string(status), "required,oneof=online away busy offline"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.setStatus(ctx, caller.UserID, status)
}

// setStatus stores status on the user's profile, notifies every listener and
// syncs all of the user's own connections.
func (r *Relay) setStatus(ctx context.Context, userID string, status models.Status) error {
	user, err := r.resolve(ctx, userID)
	if err != nil {
		return err
	}
	listeners := r.presence.UpdateStatus(*user, status)
	r.transport.SendToUsers(listeners, models.UpdateUserStatus(models.UserStatus{UserID: userID, Status: status}))
	r.transport.SendToUser(userID, models.SyncCurrentUserStatus(status))
	return nil
}

// SendMessage delivers content to every connection of the receiver and
// echoes it to the calling connection. Self-chat is delivered once.
func (r *Relay) SendMessage(ctx context.Context, caller models.Caller, receiverID, content string) error {
	if caller.UserID == "" {
		return ErrMissingIdentity
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if receiverID == "" {
		return fmt.Errorf("%w: empty receiver", ErrInvalidIdentifier)
	}

	sender, err := r.resolve(ctx, caller.UserID)
	if err != nil {
		return err
	}
	receiver, err := r.resolve(ctx, receiverID)
	if err != nil {
		return err
	}

	event := models.ReceiveMessage(models.Message{Sender: *sender, Receiver: *receiver, Content: content})
	if sender.ID != receiver.ID {
		r.transport.SendToUser(receiver.ID, event)
	}
	r.transport.SendToConnection(caller.ConnectionID, event)
	return nil
}

func (r *Relay) resolve(ctx context.Context, id string) (*models.User, error) {
	user, err := r.presence.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", id, err)
	}
	if user == nil {
		return nil, &UnknownUserError{ID: id}
	}
	return user, nil
}
