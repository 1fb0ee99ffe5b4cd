package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var TrackLoginSQL = `UPDATE "accounts"
SET
	"last_login_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?;`

// likeEscaper neutralizes LIKE wildcards in search terms. Paired with ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// decisionColumns are the only columns the state machine writes.
var decisionColumns = []string{
	"account_status",
	"rejection_reason",
	"reviewed_by",
	"reviewed_at",
	"updated_at",
}

// Accounts is the account repository
type Accounts interface {
	AccountFinder

	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Account, error)
	List(ctx context.Context, filter AccountFilter) ([]*Account, int, error)

	Create(ctx context.Context, record *Account) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)
	SaveDecision(ctx context.Context, record *Account) (*Account, error)
	SaveDecisionTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)
	UpdateFields(ctx context.Context, record *Account, columns ...string) (*Account, error)
	UpdateFieldsTx(ctx context.Context, tx bun.IDB, record *Account, columns ...string) (*Account, error)
	TrackLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AccountFilter narrows account listings
type AccountFilter struct {
	Role            Role
	Status          AccountStatus
	Country         string
	Specialization  Specialization
	AffiliationType AffiliationType
	JoinedAfter     *time.Time
	JoinedBefore    *time.Time
	ReviewedAfter   *time.Time
	ReviewedBefore  *time.Time
	Search          string
	// Ordering is a column name, prefixed with "-" for descending order.
	Ordering string
	Limit    int
	Offset   int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultOrdering  = "-date_joined"
)

var orderableColumns = map[string]struct{}{
	"date_joined":    {},
	"email":          {},
	"full_name":      {},
	"role":           {},
	"account_status": {},
	"reviewed_at":    {},
	"country":        {},
}

type accountStore struct {
	repository.Repository[*Account]
	db  *bun.DB
	now func() time.Time
}

var _ Accounts = (*accountStore)(nil)

// AccountsOption customizes the repository
type AccountsOption func(*accountStore)

// WithAccountsClock injects the clock used for updated_at and login tracking.
func WithAccountsClock(clock func() time.Time) AccountsOption {
	return func(s *accountStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewAccountsRepository returns the bun backed repository
func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	store := &accountStore{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *accountStore) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	record, err := s.Repository.GetByID(ctx, id.String())
	if err != nil {
		return nil, mapNotFound(err, "id", id.String())
	}
	return record, nil
}

func (s *accountStore) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "id", id.String())
	}
	return record, nil
}

func (s *accountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.GetByEmailTx(ctx, s.db, email)
}

func (s *accountStore) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	normalized := NormalizeEmail(email)
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.email) = ?", normalized).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, "email", normalized)
	}
	return record, nil
}

func (s *accountStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.EmailExistsTx(ctx, s.db, email)
}

func (s *accountStore) EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	return tx.NewSelect().
		Model((*Account)(nil)).
		Where("LOWER(?TableAlias.email) = ?", NormalizeEmail(email)).
		Exists(ctx)
}

func (s *accountStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Account, error) {
	records := []*Account{}
	if len(ids) == 0 {
		return records, nil
	}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Order("date_joined DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return records, nil
}

func (s *accountStore) List(ctx context.Context, filter AccountFilter) ([]*Account, int, error) {
	records := []*Account{}
	q := s.db.NewSelect().Model(&records)

	if filter.Role != "" {
		q = q.Where("?TableAlias.role = ?", filter.Role)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.account_status = ?", filter.Status)
	}
	if filter.Country != "" {
		q = q.Where("?TableAlias.country = ?", filter.Country)
	}
	if filter.Specialization != "" {
		q = q.Where("?TableAlias.specialization = ?", filter.Specialization)
	}
	if filter.AffiliationType != "" {
		q = q.Where("?TableAlias.affiliation_type = ?", filter.AffiliationType)
	}
	if filter.JoinedAfter != nil {
		q = q.Where("?TableAlias.date_joined >= ?", *filter.JoinedAfter)
	}
	if filter.JoinedBefore != nil {
		q = q.Where("?TableAlias.date_joined < ?", *filter.JoinedBefore)
	}
	if filter.ReviewedAfter != nil {
		q = q.Where("?TableAlias.reviewed_at >= ?", *filter.ReviewedAfter)
	}
	if filter.ReviewedBefore != nil {
		q = q.Where("?TableAlias.reviewed_at < ?", *filter.ReviewedBefore)
	}

	if term := strings.ToLower(strings.TrimSpace(filter.Search)); term != "" {
		like := "%" + likeEscaper.Replace(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(?TableAlias.email) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(?TableAlias.full_name) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(?TableAlias.medical_license_number) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(?TableAlias.research_institution) LIKE ? ESCAPE '!'", like)
		})
	}

	column, direction := resolveOrdering(filter.Ordering)
	q = q.Order(fmt.Sprintf("%s %s", column, direction))

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	total, err := q.Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, err
	}
	return records, total, nil
}

func resolveOrdering(ordering string) (string, string) {
	ordering = strings.TrimSpace(ordering)
	if ordering == "" {
		ordering = defaultOrdering
	}

	direction := "ASC"
	if strings.HasPrefix(ordering, "-") {
		direction = "DESC"
		ordering = strings.TrimPrefix(ordering, "-")
	}

	if _, ok := orderableColumns[ordering]; !ok {
		return "date_joined", "DESC"
	}
	return ordering, direction
}

func (s *accountStore) Create(ctx context.Context, record *Account) (*Account, error) {
	return s.CreateTx(ctx, s.db, record)
}

func (s *accountStore) CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	s.prepareAccountDefaults(record)
	created, err := s.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewValidationError("", FieldErrors{"email": {ErrEmailTaken.Message}})
		}
		return nil, err
	}
	return created, nil
}

func (s *accountStore) SaveDecision(ctx context.Context, record *Account) (*Account, error) {
	return s.SaveDecisionTx(ctx, s.db, record)
}

// SaveDecisionTx persists the status group in a single statement.
func (s *accountStore) SaveDecisionTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, ErrAccountNotFound
	}

	now := s.now()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column(decisionColumns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound("id", record.ID.String())
	}

	return record, nil
}

func (s *accountStore) UpdateFields(ctx context.Context, record *Account, columns ...string) (*Account, error) {
	return s.UpdateFieldsTx(ctx, s.db, record, columns...)
}

// UpdateFieldsTx writes the given non status columns. Status columns are
// rejected so every decision goes through the state machine.
func (s *accountStore) UpdateFieldsTx(ctx context.Context, tx bun.IDB, record *Account, columns ...string) (*Account, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, ErrAccountNotFound
	}
	if len(columns) == 0 {
		return record, nil
	}

	for _, col := range columns {
		for _, guarded := range decisionColumns {
			if col == guarded && col != "updated_at" {
				return nil, ErrInvalidTransition
			}
		}
	}

	cols := make([]string, 0, len(columns)+1)
	cols = append(cols, columns...)
	cols = append(cols, "updated_at")

	now := s.now()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column(cols...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound("id", record.ID.String())
	}
	return record, nil
}

func (s *accountStore) TrackLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.NewRaw(TrackLoginSQL, at, s.now(), id).Exec(ctx)
	return err
}

func (s *accountStore) prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsureStatus()

	if record.Country == "" {
		record.Country = DefaultCountry
	}

	if record.DateJoined.IsZero() {
		record.DateJoined = s.now()
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func mapNotFound(err error, key, value string) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return notFound(key, value)
	}
	return err
}

func notFound(key, value string) error {
	return fmt.Errorf("%w: %s=%s", ErrAccountNotFound, key, value)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsDuplicatedKey(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
