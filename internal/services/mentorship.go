package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusloop/campusloop/internal/logging"
	"github.com/campusloop/campusloop/internal/models"
)

// RequestTTL is how long a pending request may dwell before the sweep
// cancels it.
const RequestTTL = 14 * 24 * time.Hour

var (
	ErrRequestNotFound        = errors.New("mentorship request not found")
	ErrMentorNotFound         = errors.New("mentor not found")
	ErrNotAuthorized          = errors.New("not a party to this request")
	ErrInvalidTransition      = errors.New("transition not allowed from current status")
	ErrAlreadyApplied         = errors.New("transition already applied")
	ErrDuplicateActiveRequest = errors.New("an active request to this mentor already exists")
	ErrSlotsExhausted         = errors.New("mentor has no remaining slots")
	ErrCannotMentorSelf       = errors.New("cannot request mentorship from yourself")
	ErrInvalidSuggestion      = errors.New("suggested mentor must differ from the rejecting mentor")
	ErrFeedbackAlreadySet     = errors.New("feedback has already been submitted")
	ErrTopicRequired          = errors.New("topic is required")
)

// MentorshipNotifier emits in-app/email notifications for transitions.
// Delivery is fire-and-forget; failures are logged, never propagated.
type MentorshipNotifier interface {
	NotifyMentorship(ctx context.Context, recipientID, actorID, requestID uuid.UUID, nType models.NotificationType) error
}

// MentorshipService owns the request lifecycle. Every transition is a single
// conditional SQL statement so the database's compare-and-update is the sole
// arbiter of concurrent transitions; slot accounting is folded into the same
// statement and can never double-fire on retry.
type MentorshipService struct {
	db       DB
	notifier MentorshipNotifier
	feed     FeedPublisher
}

func NewMentorshipService(db DB, notifier MentorshipNotifier, feed FeedPublisher) *MentorshipService {
	return &MentorshipService{db: db, notifier: notifier, feed: feed}
}

const mentorshipColumns = `id, mentee_id, mentor_id, topic, message, status, suggested_mentor_id, mentee_feedback, auto_expired, created_at, updated_at`

func scanMentorship(row Row) (*models.MentorshipRequest, error) {
	req := &models.MentorshipRequest{}
	var status string
	err := row.Scan(
		&req.ID,
		&req.MenteeID,
		&req.MentorID,
		&req.Topic,
		&req.Message,
		&status,
		&req.SuggestedMentorID,
		&req.MenteeFeedback,
		&req.AutoExpired,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = models.MentorshipStatus(status)
	return req, nil
}

// Create persists a new pending request. The guarded INSERT re-checks
// capacity and the one-active-request-per-pair rule so racing creates cannot
// both land.
func (s *MentorshipService) Create(ctx context.Context, params models.CreateMentorshipParams) (*models.MentorshipRequest, error) {
	if params.MenteeID == params.MentorID {
		return nil, ErrCannotMentorSelf
	}
	if strings.TrimSpace(params.Topic) == "" {
		return nil, ErrTopicRequired
	}

	var availableSlots, currentMentees int
	err := s.db.QueryRow(ctx,
		"SELECT available_slots, current_mentees FROM mentor_offers WHERE mentor_id = $1",
		params.MentorID,
	).Scan(&availableSlots, &currentMentees)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMentorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading mentor offer: %w", err)
	}
	if currentMentees >= availableSlots {
		return nil, ErrSlotsExhausted
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO mentorship_requests (mentee_id, mentor_id, topic, message, status)
		 SELECT $1, $2, $3, $4, 'pending'
		 WHERE EXISTS (
		   SELECT 1 FROM mentor_offers
		   WHERE mentor_id = $2 AND current_mentees < available_slots
		 )
		 AND NOT EXISTS (
		   SELECT 1 FROM mentorship_requests
		   WHERE mentee_id = $1 AND mentor_id = $2 AND status IN ('pending', 'accepted')
		 )
		 RETURNING `+mentorshipColumns,
		params.MenteeID, params.MentorID, params.Topic, params.Message,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race after the pre-checks passed; figure out which one.
		var dup bool
		if checkErr := s.db.QueryRow(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM mentorship_requests
				WHERE mentee_id = $1 AND mentor_id = $2 AND status IN ('pending', 'accepted')
			)`,
			params.MenteeID, params.MentorID,
		).Scan(&dup); checkErr != nil {
			return nil, fmt.Errorf("classifying create failure: %w", checkErr)
		}
		if dup {
			return nil, ErrDuplicateActiveRequest
		}
		// The offer itself may have been withdrawn between the pre-check
		// and the insert; distinguish that from a full roster.
		var offerExists bool
		if checkErr := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM mentor_offers WHERE mentor_id = $1)",
			params.MentorID,
		).Scan(&offerExists); checkErr != nil {
			return nil, fmt.Errorf("classifying create failure: %w", checkErr)
		}
		if !offerExists {
			return nil, ErrMentorNotFound
		}
		return nil, ErrSlotsExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("creating mentorship request: %w", err)
	}

	s.notify(ctx, params.MentorID, params.MenteeID, req.ID, models.NotificationTypeMentorshipRequested)
	s.publish(ctx, req.ID)
	return req, nil
}

// Accept flips pending -> accepted and consumes a slot in one statement. The
// req CTE locks the request row, so under a concurrent transition the losing
// statement re-reads the committed row, finds it no longer pending and
// touches neither the slot counter nor the status. The slot increment only
// fires while current_mentees < available_slots, and the status flip only
// lands if the increment did.
func (s *MentorshipService) Accept(ctx context.Context, mentorID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	row := s.db.QueryRow(ctx,
		`WITH req AS (
		   SELECT id, mentor_id FROM mentorship_requests
		   WHERE id = $1 AND mentor_id = $2 AND status = 'pending'
		   FOR UPDATE
		 ), slot AS (
		   UPDATE mentor_offers o
		   SET current_mentees = o.current_mentees + 1, updated_at = NOW()
		   FROM req
		   WHERE o.mentor_id = req.mentor_id AND o.current_mentees < o.available_slots
		   RETURNING o.mentor_id
		 )
		 UPDATE mentorship_requests r
		 SET status = 'accepted', updated_at = NOW()
		 FROM slot
		 WHERE r.id = $1 AND r.status = 'pending'
		 RETURNING `+prefixColumns("r", mentorshipColumns),
		requestID, mentorID,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyFailure(ctx, requestID, mentorID, partyMentor, models.MentorshipStatusAccepted, true)
	}
	if err != nil {
		return nil, fmt.Errorf("accepting mentorship request: %w", err)
	}

	s.notify(ctx, req.MenteeID, mentorID, req.ID, models.NotificationTypeMentorshipAccepted)
	s.publish(ctx, req.ID)
	return req, nil
}

// Reject flips pending -> rejected, optionally recording a suggested
// alternative mentor for the mentee's one-click follow-up. The suggestion is
// recorded only; no new request is created.
func (s *MentorshipService) Reject(ctx context.Context, mentorID, requestID uuid.UUID, suggestedMentorID *uuid.UUID) (*models.MentorshipRequest, error) {
	if suggestedMentorID != nil {
		if *suggestedMentorID == mentorID {
			return nil, ErrInvalidSuggestion
		}
		var exists bool
		err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM mentor_offers WHERE mentor_id = $1)",
			*suggestedMentorID,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking suggested mentor: %w", err)
		}
		if !exists {
			return nil, ErrMentorNotFound
		}
	}

	row := s.db.QueryRow(ctx,
		`UPDATE mentorship_requests
		 SET status = 'rejected', suggested_mentor_id = $3, updated_at = NOW()
		 WHERE id = $1 AND mentor_id = $2 AND status = 'pending'
		 RETURNING `+mentorshipColumns,
		requestID, mentorID, suggestedMentorID,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyFailure(ctx, requestID, mentorID, partyMentor, models.MentorshipStatusRejected, false)
	}
	if err != nil {
		return nil, fmt.Errorf("rejecting mentorship request: %w", err)
	}

	s.notify(ctx, req.MenteeID, mentorID, req.ID, models.NotificationTypeMentorshipRejected)
	s.publish(ctx, req.ID)
	return req, nil
}

// CancelPending cancels a pending request; either party may do this.
func (s *MentorshipService) CancelPending(ctx context.Context, actorID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE mentorship_requests
		 SET status = 'cancelled', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND (mentee_id = $2 OR mentor_id = $2)
		 RETURNING `+mentorshipColumns,
		requestID, actorID,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyFailure(ctx, requestID, actorID, partyEither, models.MentorshipStatusCancelled, false)
	}
	if err != nil {
		return nil, fmt.Errorf("cancelling mentorship request: %w", err)
	}

	s.publish(ctx, req.ID)
	return req, nil
}

// CancelAccepted lets the mentee leave an accepted mentorship, releasing the
// slot in the same statement.
func (s *MentorshipService) CancelAccepted(ctx context.Context, menteeID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return s.leaveAccepted(ctx, requestID, &menteeID, models.MentorshipStatusCancelled)
}

// Complete is the administrative accepted -> completed transition; feedback
// becomes eligible afterwards. The caller is capability-gated by the handler.
func (s *MentorshipService) Complete(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	req, err := s.leaveAccepted(ctx, requestID, nil, models.MentorshipStatusCompleted)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, req.MenteeID, req.MentorID, req.ID, models.NotificationTypeMentorshipCompleted)
	return req, nil
}

// leaveAccepted flips accepted -> target and releases the mentor's slot. The
// req CTE locks the request row so racing Complete/CancelAccepted cannot
// both decrement; the loser re-reads a row that is no longer accepted and
// fires neither update. The slot decrement is guarded at zero but the status
// flip does not depend on it, so leaving an accepted mentorship always
// succeeds exactly once.
func (s *MentorshipService) leaveAccepted(ctx context.Context, requestID uuid.UUID, menteeID *uuid.UUID, target models.MentorshipStatus) (*models.MentorshipRequest, error) {
	row := s.db.QueryRow(ctx,
		`WITH req AS (
		   SELECT id, mentor_id FROM mentorship_requests
		   WHERE id = $1 AND status = 'accepted' AND ($3::uuid IS NULL OR mentee_id = $3)
		   FOR UPDATE
		 ), slot AS (
		   UPDATE mentor_offers o
		   SET current_mentees = o.current_mentees - 1, updated_at = NOW()
		   FROM req
		   WHERE o.mentor_id = req.mentor_id AND o.current_mentees > 0
		   RETURNING o.mentor_id
		 )
		 UPDATE mentorship_requests r
		 SET status = $2, updated_at = NOW()
		 FROM req
		 WHERE r.id = req.id AND r.status = 'accepted'
		 RETURNING `+prefixColumns("r", mentorshipColumns),
		requestID, string(target), menteeID,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		party := partyAny
		actor := uuid.Nil
		if menteeID != nil {
			party = partyMentee
			actor = *menteeID
		}
		return nil, s.classifyFailure(ctx, requestID, actor, party, target, false)
	}
	if err != nil {
		return nil, fmt.Errorf("leaving accepted mentorship: %w", err)
	}

	s.publish(ctx, req.ID)
	return req, nil
}

// SubmitFeedback records the mentee's one-time helpful/not-helpful verdict.
// Write-once: the update lands only while mentee_feedback is still null.
func (s *MentorshipService) SubmitFeedback(ctx context.Context, menteeID, requestID uuid.UUID, helpful bool) (*models.MentorshipRequest, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE mentorship_requests
		 SET mentee_feedback = $3, updated_at = NOW()
		 WHERE id = $1 AND mentee_id = $2 AND status = 'completed' AND mentee_feedback IS NULL
		 RETURNING `+mentorshipColumns,
		requestID, menteeID, helpful,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, loadErr := s.load(ctx, requestID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.MenteeID != menteeID {
			return nil, ErrNotAuthorized
		}
		if current.Status != models.MentorshipStatusCompleted {
			return nil, ErrInvalidTransition
		}
		if current.MenteeFeedback != nil {
			if *current.MenteeFeedback == helpful {
				return nil, ErrAlreadyApplied
			}
			return nil, ErrFeedbackAlreadySet
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("submitting feedback: %w", err)
	}
	return req, nil
}

// AutoExpireSweep cancels pending requests older than RequestTTL as of now,
// marking them auto-expired. Idempotent: rows already cancelled no longer
// match the predicate, so a re-run is a no-op.
func (s *MentorshipService) AutoExpireSweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-RequestTTL)
	rows, err := s.db.Query(ctx,
		`UPDATE mentorship_requests
		 SET status = 'cancelled', auto_expired = TRUE, updated_at = NOW()
		 WHERE status = 'pending' AND created_at < $1
		 RETURNING id, mentee_id, mentor_id`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expiring mentorship requests: %w", err)
	}
	defer rows.Close()

	type expired struct {
		id, menteeID, mentorID uuid.UUID
	}
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.menteeID, &e.mentorID); err != nil {
			return 0, fmt.Errorf("scanning expired request: %w", err)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading expired requests: %w", err)
	}

	for _, e := range batch {
		s.notify(ctx, e.menteeID, e.mentorID, e.id, models.NotificationTypeMentorshipExpired)
	}
	if len(batch) > 0 {
		s.publish(ctx, uuid.Nil)
	}
	return len(batch), nil
}

// GetByID returns a request without a party check. Moderation paths use it;
// party-scoped reads go through Get.
func (s *MentorshipService) GetByID(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return s.load(ctx, requestID)
}

// Get returns a request to one of its parties.
func (s *MentorshipService) Get(ctx context.Context, viewerID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.MenteeID != viewerID && req.MentorID != viewerID {
		return nil, ErrNotAuthorized
	}
	return req, nil
}

// ListForUser returns requests where the user is a party, newest first, with
// suggested-alternative availability resolved at read time: a suggestion is
// only offered while the suggested mentor still has an offer with remaining
// slots.
func (s *MentorshipService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.MentorshipWithUsers, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.mentee_id, r.mentor_id, r.topic, r.message, r.status,
		        r.suggested_mentor_id, r.mentee_feedback, r.auto_expired, r.created_at, r.updated_at,
		        mentee.display_name, mentor.display_name,
		        COALESCE(so.available_slots - so.current_mentees, 0) > 0
		 FROM mentorship_requests r
		 JOIN users mentee ON mentee.id = r.mentee_id
		 JOIN users mentor ON mentor.id = r.mentor_id
		 LEFT JOIN mentor_offers so ON so.mentor_id = r.suggested_mentor_id
		 WHERE r.mentee_id = $1 OR r.mentor_id = $1
		 ORDER BY r.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing mentorship requests: %w", err)
	}
	defer rows.Close()

	var results []models.MentorshipWithUsers
	for rows.Next() {
		var m models.MentorshipWithUsers
		var status string
		if err := rows.Scan(
			&m.ID,
			&m.MenteeID,
			&m.MentorID,
			&m.Topic,
			&m.Message,
			&status,
			&m.SuggestedMentorID,
			&m.MenteeFeedback,
			&m.AutoExpired,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.MenteeName,
			&m.MentorName,
			&m.SuggestedMentorAvailable,
		); err != nil {
			return nil, fmt.Errorf("scanning mentorship request: %w", err)
		}
		m.Status = models.MentorshipStatus(status)
		if m.SuggestedMentorID == nil {
			m.SuggestedMentorAvailable = false
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading mentorship requests: %w", err)
	}
	if results == nil {
		results = []models.MentorshipWithUsers{}
	}
	return results, nil
}

type transitionParty int

const (
	partyMentor transitionParty = iota
	partyMentee
	partyEither
	partyAny
)

// classifyFailure turns a zero-row conditional update into the error the
// caller should see. A retry that finds the row already in the attempted
// target state reports ErrAlreadyApplied so callers treat it as success
// without re-touching slot accounting.
func (s *MentorshipService) classifyFailure(ctx context.Context, requestID, actorID uuid.UUID, party transitionParty, target models.MentorshipStatus, slotGated bool) error {
	current, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}

	switch party {
	case partyMentor:
		if current.MentorID != actorID {
			return ErrNotAuthorized
		}
	case partyMentee:
		if current.MenteeID != actorID {
			return ErrNotAuthorized
		}
	case partyEither:
		if current.MentorID != actorID && current.MenteeID != actorID {
			return ErrNotAuthorized
		}
	}

	if current.Status == target {
		return ErrAlreadyApplied
	}
	// The row was still eligible but the statement didn't land: the only
	// non-status guard is slot capacity on accept.
	if slotGated && current.Status == models.MentorshipStatusPending && target == models.MentorshipStatusAccepted {
		return ErrSlotsExhausted
	}
	return ErrInvalidTransition
}

func (s *MentorshipService) load(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+mentorshipColumns+" FROM mentorship_requests WHERE id = $1",
		requestID,
	)
	req, err := scanMentorship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading mentorship request: %w", err)
	}
	return req, nil
}

func (s *MentorshipService) notify(ctx context.Context, recipientID, actorID, requestID uuid.UUID, nType models.NotificationType) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyMentorship(ctx, recipientID, actorID, requestID, nType); err != nil {
		logging.Error("Failed to send mentorship notification", map[string]interface{}{
			"error":      err.Error(),
			"request_id": requestID.String(),
			"type":       string(nType),
		})
	}
}

func (s *MentorshipService) publish(ctx context.Context, requestID uuid.UUID) {
	if s.feed == nil {
		return
	}
	ref := ""
	if requestID != uuid.Nil {
		ref = requestID.String()
	}
	if err := s.feed.Publish(ctx, TopicMentorship, ref); err != nil {
		logging.Error("Failed to publish mentorship event", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// prefixColumns qualifies each column in list with alias for statements that
// need a table alias in RETURNING.
func prefixColumns(alias, list string) string {
	cols := strings.Split(list, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
