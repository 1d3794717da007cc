package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusloop/campusloop/internal/logging"
	"github.com/campusloop/campusloop/internal/models"
)

var (
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrConnectionExists      = errors.New("connection already exists")
	ErrCannotConnectSelf     = errors.New("cannot send a connection request to yourself")
	ErrNotConnectionReceiver = errors.New("only the receiver can accept/decline")
	ErrNotConnectionSender   = errors.New("only the sender can withdraw")
	ErrConnectionNotPending  = errors.New("connection request is not pending")
)

// ConnectionNotifier emits notifications for connection events.
type ConnectionNotifier interface {
	NotifyConnection(ctx context.Context, recipientID, actorID, connectionID uuid.UUID, nType models.NotificationType) error
}

// ConnectionService owns directed connection requests. Connection rows are
// the authoritative state the notification reconciliation checks against.
type ConnectionService struct {
	db       DB
	notifier ConnectionNotifier
	feed     FeedPublisher
}

func NewConnectionService(db DB, notifier ConnectionNotifier, feed FeedPublisher) *ConnectionService {
	return &ConnectionService{db: db, notifier: notifier, feed: feed}
}

const connectionColumns = `id, requester_id, receiver_id, status, created_at, updated_at`

func scanConnection(row Row) (*models.Connection, error) {
	c := &models.Connection{}
	var status string
	err := row.Scan(&c.ID, &c.RequesterID, &c.ReceiverID, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConnectionStatus(status)
	return c, nil
}

// Send creates a pending connection request and notifies the receiver.
func (s *ConnectionService) Send(ctx context.Context, requesterID, receiverID uuid.UUID) (*models.Connection, error) {
	if requesterID == receiverID {
		return nil, ErrCannotConnectSelf
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM connections
			WHERE (requester_id = $1 AND receiver_id = $2)
			   OR (requester_id = $2 AND receiver_id = $1)
		)`,
		requesterID, receiverID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking connection existence: %w", err)
	}
	if exists {
		return nil, ErrConnectionExists
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO connections (requester_id, receiver_id, status)
		 VALUES ($1, $2, 'pending')
		 RETURNING `+connectionColumns,
		requesterID, receiverID,
	)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("creating connection: %w", err)
	}

	s.notify(ctx, receiverID, requesterID, conn.ID, models.NotificationTypeConnection)
	s.publish(ctx, conn.ID)
	return conn, nil
}

// Accept flips pending -> accepted; only the receiver may do so. The update
// is conditional on the current status so a racing decline/withdraw loses
// cleanly.
func (s *ConnectionService) Accept(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE connections
		 SET status = 'accepted', updated_at = NOW()
		 WHERE id = $1 AND receiver_id = $2 AND status = 'pending'
		 RETURNING `+connectionColumns,
		connectionID, userID,
	)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyFailure(ctx, connectionID, userID, models.ConnectionStatusAccepted)
	}
	if err != nil {
		return nil, fmt.Errorf("accepting connection: %w", err)
	}

	s.notify(ctx, conn.RequesterID, userID, conn.ID, models.NotificationTypeConnectionAccepted)
	s.publish(ctx, conn.ID)
	return conn, nil
}

// Decline flips pending -> rejected. The row is kept: reconciliation needs
// the authoritative status to suppress stale action buttons.
func (s *ConnectionService) Decline(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE connections
		 SET status = 'rejected', updated_at = NOW()
		 WHERE id = $1 AND receiver_id = $2 AND status = 'pending'
		 RETURNING `+connectionColumns,
		connectionID, userID,
	)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyFailure(ctx, connectionID, userID, models.ConnectionStatusRejected)
	}
	if err != nil {
		return nil, fmt.Errorf("declining connection: %w", err)
	}

	s.publish(ctx, conn.ID)
	return conn, nil
}

// Withdraw lets the sender retract a pending request.
func (s *ConnectionService) Withdraw(ctx context.Context, userID, connectionID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM connections WHERE id = $1 AND requester_id = $2 AND status = 'pending'",
		connectionID, userID,
	)
	if err != nil {
		return fmt.Errorf("withdrawing connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		conn, loadErr := s.GetByID(ctx, connectionID)
		if loadErr != nil {
			return loadErr
		}
		if conn.RequesterID != userID {
			return ErrNotConnectionSender
		}
		return ErrConnectionNotPending
	}

	s.publish(ctx, connectionID)
	return nil
}

// GetByID returns the authoritative connection row; used by notification
// reconciliation.
func (s *ConnectionService) GetByID(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE id = $1",
		connectionID,
	)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	return conn, nil
}

// List returns the user's connections filtered by status, with the other
// party's display name.
func (s *ConnectionService) List(ctx context.Context, userID uuid.UUID, status models.ConnectionStatus) ([]models.ConnectionWithUser, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.requester_id, c.receiver_id, c.status, c.created_at, c.updated_at,
		        CASE WHEN c.requester_id = $1 THEN receiver.display_name ELSE requester.display_name END
		 FROM connections c
		 JOIN users requester ON requester.id = c.requester_id
		 JOIN users receiver ON receiver.id = c.receiver_id
		 WHERE (c.requester_id = $1 OR c.receiver_id = $1) AND c.status = $2
		 ORDER BY c.created_at DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var results []models.ConnectionWithUser
	for rows.Next() {
		var c models.ConnectionWithUser
		var st string
		if err := rows.Scan(&c.ID, &c.RequesterID, &c.ReceiverID, &st, &c.CreatedAt, &c.UpdatedAt, &c.OtherUserName); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		c.Status = models.ConnectionStatus(st)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading connections: %w", err)
	}
	if results == nil {
		results = []models.ConnectionWithUser{}
	}
	return results, nil
}

func (s *ConnectionService) classifyFailure(ctx context.Context, connectionID, userID uuid.UUID, target models.ConnectionStatus) error {
	conn, err := s.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.ReceiverID != userID {
		return ErrNotConnectionReceiver
	}
	if conn.Status == target {
		return ErrAlreadyApplied
	}
	return ErrConnectionNotPending
}

func (s *ConnectionService) notify(ctx context.Context, recipientID, actorID, connectionID uuid.UUID, nType models.NotificationType) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyConnection(ctx, recipientID, actorID, connectionID, nType); err != nil {
		logging.Error("Failed to send connection notification", map[string]interface{}{
			"error":         err.Error(),
			"connection_id": connectionID.String(),
			"type":          string(nType),
		})
	}
}

func (s *ConnectionService) publish(ctx context.Context, connectionID uuid.UUID) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, TopicConnections, connectionID.String()); err != nil {
		logging.Error("Failed to publish connection event", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
