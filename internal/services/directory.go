package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusloop/campusloop/internal/logging"
	"github.com/campusloop/campusloop/internal/models"
)

var (
	ErrOfferInUse   = errors.New("offer still has active mentees")
	ErrSlotsBelowMentees = errors.New("available slots cannot drop below current mentees")
	ErrInvalidOffer = errors.New("offer must have at least one slot")
)

const (
	directoryCacheTTL = time.Minute
	// DirectoryCachePrefix is the key namespace invalidated on mentorship
	// and offer changes.
	DirectoryCachePrefix = "directory:mentors:"
)

// DirectoryService is the mentor directory read model: profiles joined with
// offers and computed remaining slots. Reads go through a short-lived redis
// cache; the authoritative rows are re-read on every miss, so staleness is
// bounded by the TTL and the change-feed invalidation.
type DirectoryService struct {
	db    DB
	cache Cache
	feed  FeedPublisher
}

func NewDirectoryService(db DB, cache Cache, feed FeedPublisher) *DirectoryService {
	return &DirectoryService{db: db, cache: cache, feed: feed}
}

const listingColumns = `o.mentor_id, o.help_type, o.commitment_level, o.session_minutes, o.channels,
	        o.availability, o.available_slots, o.current_mentees, o.created_at, o.updated_at,
	        u.display_name, u.domain, GREATEST(o.available_slots - o.current_mentees, 0)`

func scanListing(row Row) (*models.MentorListing, error) {
	m := &models.MentorListing{}
	err := row.Scan(
		&m.MentorID,
		&m.HelpType,
		&m.CommitmentLevel,
		&m.SessionMinutes,
		&m.Channels,
		&m.Availability,
		&m.AvailableSlots,
		&m.CurrentMentees,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DisplayName,
		&m.Domain,
		&m.RemainingSlots,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMentors returns the directory, optionally filtered by academic domain.
func (s *DirectoryService) ListMentors(ctx context.Context, domain string) ([]models.MentorListing, error) {
	cacheKey := DirectoryCachePrefix + "all"
	if domain != "" {
		cacheKey = DirectoryCachePrefix + domain
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			var listings []models.MentorListing
			if jsonErr := json.Unmarshal([]byte(cached), &listings); jsonErr == nil {
				return listings, nil
			}
		} else if !errors.Is(err, ErrCacheMiss) {
			logging.Warn("Directory cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	query := `SELECT ` + listingColumns + `
	 FROM mentor_offers o
	 JOIN users u ON u.id = o.mentor_id
	 ORDER BY u.display_name`
	args := []any{}
	if domain != "" {
		query = `SELECT ` + listingColumns + `
	 FROM mentor_offers o
	 JOIN users u ON u.id = o.mentor_id
	 WHERE u.domain = $1
	 ORDER BY u.display_name`
		args = append(args, domain)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing mentors: %w", err)
	}
	defer rows.Close()

	var listings []models.MentorListing
	for rows.Next() {
		m, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mentor listing: %w", err)
		}
		listings = append(listings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading mentor listings: %w", err)
	}
	if listings == nil {
		listings = []models.MentorListing{}
	}

	if s.cache != nil {
		if data, err := json.Marshal(listings); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(data), directoryCacheTTL); err != nil {
				logging.Warn("Directory cache write failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	return listings, nil
}

// LookupMentor returns a single mentor's listing for availability display.
// Always reads the authoritative rows; suggestion gating depends on it.
func (s *DirectoryService) LookupMentor(ctx context.Context, mentorID uuid.UUID) (*models.MentorListing, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+listingColumns+`
		 FROM mentor_offers o
		 JOIN users u ON u.id = o.mentor_id
		 WHERE o.mentor_id = $1`,
		mentorID,
	)
	m, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMentorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up mentor: %w", err)
	}
	return m, nil
}

// UpsertOffer publishes or updates a mentor's offer. current_mentees is
// owned by the lifecycle and never touched here; shrinking available_slots
// below it is refused.
func (s *DirectoryService) UpsertOffer(ctx context.Context, params models.UpsertOfferParams) (*models.MentorOffer, error) {
	if params.AvailableSlots < 1 {
		return nil, ErrInvalidOffer
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO mentor_offers (mentor_id, help_type, commitment_level, session_minutes, channels, availability, available_slots)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (mentor_id) DO UPDATE
		 SET help_type = EXCLUDED.help_type,
		     commitment_level = EXCLUDED.commitment_level,
		     session_minutes = EXCLUDED.session_minutes,
		     channels = EXCLUDED.channels,
		     availability = EXCLUDED.availability,
		     available_slots = EXCLUDED.available_slots,
		     updated_at = NOW()
		 WHERE mentor_offers.current_mentees <= EXCLUDED.available_slots
		 RETURNING mentor_id, help_type, commitment_level, session_minutes, channels,
		           availability, available_slots, current_mentees, created_at, updated_at`,
		params.MentorID, params.HelpType, params.CommitmentLevel, params.SessionMinutes,
		params.Channels, params.Availability, params.AvailableSlots,
	)
	offer := &models.MentorOffer{}
	err := row.Scan(
		&offer.MentorID,
		&offer.HelpType,
		&offer.CommitmentLevel,
		&offer.SessionMinutes,
		&offer.Channels,
		&offer.Availability,
		&offer.AvailableSlots,
		&offer.CurrentMentees,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotsBelowMentees
	}
	if err != nil {
		return nil, fmt.Errorf("upserting mentor offer: %w", err)
	}

	s.publish(ctx, params.MentorID)
	return offer, nil
}

// WithdrawOffer removes a mentor from the directory. Refused while the offer
// still has consumed slots; active mentorships must finish or be cancelled
// first.
func (s *DirectoryService) WithdrawOffer(ctx context.Context, mentorID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM mentor_offers WHERE mentor_id = $1 AND current_mentees = 0",
		mentorID,
	)
	if err != nil {
		return fmt.Errorf("withdrawing mentor offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM mentor_offers WHERE mentor_id = $1)",
			mentorID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("classifying withdraw failure: %w", checkErr)
		}
		if exists {
			return ErrOfferInUse
		}
		return ErrMentorNotFound
	}

	s.publish(ctx, mentorID)
	return nil
}

func (s *DirectoryService) publish(ctx context.Context, mentorID uuid.UUID) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, TopicMentorship, mentorID.String()); err != nil {
		logging.Error("Failed to publish directory event", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
