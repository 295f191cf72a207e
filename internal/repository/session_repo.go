package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neurotune/neurotune-api/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound is returned when no session has the requested ID
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyEnded is returned when ending a session twice
	ErrSessionAlreadyEnded = errors.New("session already ended")
)

// SessionRepository stores listening sessions
type SessionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSessionRepository creates a repository on db
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// Create inserts a session and fills its ID
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get loads one session
func (r *SessionRepository) Get(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return &session, nil
}

// End marks a session finished and stores the listener's feedback
func (r *SessionRepository) End(ctx context.Context, id uint, rating *int, note string) (*models.Session, error) {
	session, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		return nil, ErrSessionAlreadyEnded
	}

	endedAt := r.now().UTC()
	updates := map[string]interface{}{
		"ended_at":      endedAt,
		"feedback_note": note,
	}
	if rating != nil {
		updates["rating"] = *rating
	}

	result := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ? AND ended_at IS NULL", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("end session %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSessionAlreadyEnded
	}

	session.EndedAt = &endedAt
	session.FeedbackNote = note
	if rating != nil {
		session.Rating = rating
	}
	return session, nil
}
