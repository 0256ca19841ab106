package convo

import (
	"context"

	"gorm.io/gorm"
)

const listSessionsLimit = 50

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *ChatSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*ChatSession, error) {
	var s ChatSession
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns up to 50 non-archived sessions for the owner,
// most-recently-updated first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]ChatSession, error) {
	var sessions []ChatSession
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND archived = ?", userID, false).
		Order("updated_at DESC").
		Limit(listSessionsLimit).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// SaveSession writes back title/summary/scratchpad/archived and bumps
// UpdatedAt.
func (r *Repo) SaveSession(ctx context.Context, s *ChatSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *Repo) AppendMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns the full raw log in chronological order.
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error
	return n, err
}

// TruncateMessages deletes everything but the newest keep messages. Used by
// compaction; one-way and lossy.
func (r *Repo) TruncateMessages(ctx context.Context, sessionID string, keep int) error {
	var cutoff Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Offset(keep - 1).
		First(&cutoff).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// fewer than keep messages, nothing to trim
			return nil
		}
		return err
	}
	return r.db.WithContext(ctx).
		Where("session_id = ? AND id < ?", sessionID, cutoff.ID).
		Delete(&Message{}).Error
}
