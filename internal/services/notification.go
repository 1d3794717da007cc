package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/logging"
	"github.com/campusloop/campusloop/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationEmailSender is the slice of the email service notifications
// need.
type NotificationEmailSender interface {
	SendNotificationEmail(ctx context.Context, to, subject, html, text string) error
}

// ConnectionLookup resolves the authoritative connection row behind a
// connection notification.
type ConnectionLookup interface {
	GetByID(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error)
}

type NotificationListParams struct {
	Limit      int
	Before     *time.Time
	UnreadOnly bool
}

// NotificationService stores and reads notifications and reconciles
// connection notifications against the authoritative connection rows. It
// implements MentorshipNotifier and ConnectionNotifier for the write side.
type NotificationService struct {
	db           DB
	emailService NotificationEmailSender
	feed         FeedPublisher
	async        func(fn func())
	asyncCtx     context.Context
}

func NewNotificationService(db DB, emailService NotificationEmailSender, feed FeedPublisher) *NotificationService {
	return &NotificationService{
		db:           db,
		emailService: emailService,
		feed:         feed,
		async: func(fn func()) {
			go fn()
		},
		asyncCtx: context.Background(),
	}
}

// SetAsync overrides how email dispatch is scheduled; tests make it
// synchronous.
func (s *NotificationService) SetAsync(fn func(fn func())) {
	s.async = fn
}

func (s *NotificationService) SetAsyncContext(ctx context.Context) {
	if ctx == nil {
		s.asyncCtx = context.Background()
		return
	}
	s.asyncCtx = ctx
}

func (s *NotificationService) NotifyMentorship(ctx context.Context, recipientID, actorID, requestID uuid.UUID, nType models.NotificationType) error {
	return s.insert(ctx, recipientID, actorID, requestID, nType)
}

func (s *NotificationService) NotifyConnection(ctx context.Context, recipientID, actorID, connectionID uuid.UUID, nType models.NotificationType) error {
	return s.insert(ctx, recipientID, actorID, connectionID, nType)
}

// insert stores the notification and, when the recipient has a verified
// email, dispatches an email asynchronously. Email failure never fails the
// notification.
func (s *NotificationService) insert(ctx context.Context, recipientID, actorID, relatedID uuid.UUID, nType models.NotificationType) error {
	var notificationID uuid.UUID
	var recipientEmail string
	var emailVerified bool
	var actorName string
	err := s.db.QueryRow(ctx,
		`INSERT INTO notifications (user_id, type, actor_user_id, related_id)
		 SELECT u.id, $2, $3, $4 FROM users u WHERE u.id = $1
		 RETURNING id,
		           (SELECT email FROM users WHERE id = $1),
		           (SELECT email_verified FROM users WHERE id = $1),
		           COALESCE((SELECT display_name FROM users WHERE id = $3), '')`,
		recipientID, string(nType), actorID, relatedID,
	).Scan(&notificationID, &recipientEmail, &emailVerified, &actorName)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return s.afterInsert(ctx, notificationID, recipientEmail, emailVerified, actorName, nType)
}

func (s *NotificationService) afterInsert(ctx context.Context, notificationID uuid.UUID, recipientEmail string, emailVerified bool, actorName string, nType models.NotificationType) error {
	if s.feed != nil {
		if err := s.feed.Publish(ctx, TopicNotifications, notificationID.String()); err != nil {
			logging.Warn("Failed to publish notification event", map[string]interface{}{"error": err.Error()})
		}
	}

	if s.emailService == nil || !emailVerified || s.async == nil {
		return nil
	}

	subject, html, text := buildNotificationEmail(nType, actorName)
	s.async(func() {
		baseCtx := s.asyncCtx
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		sendCtx, cancel := context.WithTimeout(baseCtx, 10*time.Second)
		defer cancel()
		if err := s.emailService.SendNotificationEmail(sendCtx, recipientEmail, subject, html, text); err != nil {
			logging.Error("Failed to send notification email", map[string]interface{}{
				"error":           err.Error(),
				"notification_id": notificationID.String(),
			})
		}
	})
	return nil
}

// List returns the user's notifications newest first. Connection
// notifications are reconciled in the same query: actionable only while the
// referenced connection row is still pending and the viewer is its receiver.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, params NotificationListParams) ([]models.Notification, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	conditions := "n.user_id = $1"
	args := []any{userID}
	idx := 2
	if params.Before != nil {
		conditions += fmt.Sprintf(" AND n.created_at < $%d", idx)
		args = append(args, *params.Before)
		idx++
	}
	if params.UnreadOnly {
		conditions += " AND n.read_at IS NULL"
	}

	query := fmt.Sprintf(
		`SELECT n.id, n.user_id, n.type, n.actor_user_id, au.display_name,
		        n.related_id, n.read_at, n.created_at,
		        c.status, c.receiver_id
		 FROM notifications n
		 LEFT JOIN users au ON au.id = n.actor_user_id
		 LEFT JOIN connections c ON n.type = 'connection' AND c.id = n.related_id
		 WHERE %s
		 ORDER BY n.created_at DESC
		 LIMIT $%d`,
		conditions, idx,
	)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var nType string
		var connStatus *string
		var connReceiver *uuid.UUID
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&nType,
			&n.ActorUserID,
			&n.ActorName,
			&n.RelatedID,
			&n.ReadAt,
			&n.CreatedAt,
			&connStatus,
			&connReceiver,
		); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.Type = models.NotificationType(nType)
		n.Actionable = connectionActionable(n.Type, connStatus, connReceiver, userID)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading notifications: %w", err)
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}

// ResolveActionability re-checks a single notification against the
// authoritative connection row. Any lookup failure resolves to
// non-actionable: hiding a live button is recoverable, showing a stale one
// is not.
func (s *NotificationService) ResolveActionability(ctx context.Context, viewerID uuid.UUID, n models.Notification, lookup ConnectionLookup) bool {
	if n.Type != models.NotificationTypeConnection || n.RelatedID == nil || lookup == nil {
		return false
	}
	conn, err := lookup.GetByID(ctx, *n.RelatedID)
	if err != nil {
		if !errors.Is(err, ErrConnectionNotFound) {
			logging.Warn("Actionability lookup failed", map[string]interface{}{
				"notification_id": n.ID.String(),
				"error":           err.Error(),
			})
		}
		return false
	}
	return conn.Status == models.ConnectionStatusPending && conn.ReceiverID == viewerID
}

func connectionActionable(nType models.NotificationType, connStatus *string, connReceiver *uuid.UUID, viewerID uuid.UUID) bool {
	if nType != models.NotificationTypeConnection {
		return false
	}
	if connStatus == nil || connReceiver == nil {
		return false
	}
	return models.ConnectionStatus(*connStatus) == models.ConnectionStatusPending && *connReceiver == viewerID
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE notifications SET read_at = NOW() WHERE id = $1 AND user_id = $2 AND read_at IS NULL",
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)",
			notificationID, userID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("classifying mark-read failure: %w", checkErr)
		}
		if exists {
			return ErrAlreadyApplied
		}
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		"UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL",
		userID,
	)
	if err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL",
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

func buildNotificationEmail(nType models.NotificationType, actorName string) (string, string, string) {
	actor := "Someone on CampusLoop"
	if actorName != "" {
		actor = actorName
	}

	var subject, message string
	switch nType {
	case models.NotificationTypeConnection:
		subject = "New connection request"
		message = fmt.Sprintf("%s wants to connect with you.", actor)
	case models.NotificationTypeConnectionAccepted:
		subject = "Connection accepted"
		message = fmt.Sprintf("%s accepted your connection request.", actor)
	case models.NotificationTypeMentorshipRequested:
		subject = "New mentorship request"
		message = fmt.Sprintf("%s requested mentorship from you.", actor)
	case models.NotificationTypeMentorshipAccepted:
		subject = "Mentorship request accepted"
		message = fmt.Sprintf("%s accepted your mentorship request.", actor)
	case models.NotificationTypeMentorshipRejected:
		subject = "Mentorship request update"
		message = fmt.Sprintf("%s was unable to take your mentorship request.", actor)
	case models.NotificationTypeMentorshipCompleted:
		subject = "Mentorship completed"
		message = "Your mentorship has been marked completed. You can now leave feedback."
	case models.NotificationTypeMentorshipExpired:
		subject = "Mentorship request expired"
		message = "Your mentorship request expired after 14 days without a response."
	default:
		subject = "New notification"
		message = "You have a new notification on CampusLoop."
	}

	html := fmt.Sprintf(`<p>%s</p><p><a href="https://campusloop.app/notifications">View notifications</a></p>`, templateEscape(message))
	text := message + "\n\nView notifications: https://campusloop.app/notifications"
	return subject, html, text
}

func templateEscape(value string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(value)
}
