package activitylog

import (
	"context"
	"time"

	"github.com/google/uuid"
	accounts "github.com/lungvision/go-accounts"
	"github.com/uptrace/bun"
)

// Record is one row of the account_activity table
type Record struct {
	bun.BaseModel `bun:"table:account_activity,alias:act"`

	ID         uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	EventType  string         `bun:"event_type,notnull" json:"event_type"`
	ActorID    string         `bun:"actor_id" json:"actor_id"`
	ActorType  string         `bun:"actor_type,notnull" json:"actor_type"`
	AccountID  string         `bun:"account_id" json:"account_id"`
	FromStatus string         `bun:"from_status" json:"from_status,omitempty"`
	ToStatus   string         `bun:"to_status" json:"to_status,omitempty"`
	Metadata   map[string]any `bun:"metadata" json:"metadata,omitempty"`
	OccurredAt time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

// Sink writes activity events to the database.
type Sink struct {
	db   bun.IDB
	opts []Option
}

var _ accounts.ActivitySink = (*Sink)(nil)

func NewSink(db bun.IDB, opts ...Option) *Sink {
	return &Sink{db: db, opts: opts}
}

// Record implements accounts.ActivitySink.
func (s *Sink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	n := Normalize(event, s.opts...)
	record := &Record{
		ID:         uuid.New(),
		EventType:  n.Verb,
		ActorID:    n.ActorID,
		ActorType:  n.ActorType,
		AccountID:  n.ObjectID,
		FromStatus: n.FromStatus,
		ToStatus:   n.ToStatus,
		Metadata:   n.Metadata,
		OccurredAt: n.OccurredAt,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

// History returns the events recorded for an account, oldest first.
func (s *Sink) History(ctx context.Context, accountID string, eventTypes ...accounts.ActivityEventType) ([]Record, error) {
	records := []Record{}
	q := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Order("occurred_at ASC")

	if len(eventTypes) > 0 {
		types := make([]string, 0, len(eventTypes))
		for _, t := range eventTypes {
			types = append(types, string(t))
		}
		q = q.Where("?TableAlias.event_type IN (?)", bun.In(types))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}
