package accounts_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	accounts "github.com/lungvision/go-accounts"
	"github.com/lungvision/go-accounts/persistence"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Sup3rSecret!"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fastPasswords keeps bcrypt cheap in tests.
var fastPasswords = accounts.NewBcryptAuthenticator(bcrypt.MinCost)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	require.NoError(t, err)
	require.NoError(t, persistence.ApplySchema(ctx, db, persistence.DriverSQLite))

	return db
}

func setupRepo(t *testing.T) (*bun.DB, accounts.RepositoryManager) {
	t.Helper()
	db := setupTestDB(t)
	return db, accounts.NewRepositoryManager(db, accounts.WithAccountsClock(fixedClock))
}

// seedAccount inserts an account with the test password.
func seedAccount(t *testing.T, repo accounts.RepositoryManager, email string, role accounts.Role, status accounts.AccountStatus) *accounts.Account {
	t.Helper()

	hash, err := fastPasswords.HashPassword(testPassword)
	require.NoError(t, err)

	account := &accounts.Account{
		Email:        email,
		FullName:     "Test " + string(role),
		Role:         role,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   testNow,
		Status:       status,
	}

	switch role {
	case accounts.RoleDoctor:
		account.MedicalLicenseNumber = "MD-1001"
		account.Specialization = accounts.SpecializationPulmonologist
		account.HospitalAffiliation = "General Hospital"
	case accounts.RoleResearcher:
		account.ResearchInstitution = "Lung Institute"
		account.AffiliationType = accounts.AffiliationPostdoc
		account.PurposeOfUse = accounts.PurposeAcademicResearch
	case accounts.RoleAdmin:
		account.IsStaff = true
	}

	created, err := repo.Accounts().Create(context.Background(), account)
	require.NoError(t, err)
	return created
}

type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) ofType(eventType accounts.ActivityEventType) []accounts.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.ActivityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// stubNotifier records decision notifications and reports sent unless
// the recipient is listed in fail.
type stubNotifier struct {
	mu        sync.Mutex
	approvals []string
	rejects   []string
	reasons   []string
	fail      map[string]bool
}

func (n *stubNotifier) NotifyApproval(_ context.Context, account *accounts.Account, _ accounts.ActorRef) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals = append(n.approvals, account.Email)
	return !n.fail[account.Email]
}

func (n *stubNotifier) NotifyRejection(_ context.Context, account *accounts.Account, reason string, _ accounts.ActorRef) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejects = append(n.rejects, account.Email)
	n.reasons = append(n.reasons, reason)
	return !n.fail[account.Email]
}

// mailbox is a Notifier that keeps every notification.
type mailbox struct {
	mu   sync.Mutex
	sent []accounts.Notification
	fail map[string]bool
}

func (m *mailbox) Send(_ context.Context, n accounts.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[n.To] {
		return errSMTPDown
	}
	m.sent = append(m.sent, n)
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errSMTPDown = testError("smtp unavailable")

type tokenConfig struct{}

func (tokenConfig) GetSigningKey() string             { return "test-signing-key" }
func (tokenConfig) GetIssuer() string                 { return "lungvision-test" }
func (tokenConfig) GetAudience() []string             { return []string{"lungvision"} }
func (tokenConfig) GetAccessTokenTTL() time.Duration  { return time.Hour }
func (tokenConfig) GetRefreshTokenTTL() time.Duration { return 24 * time.Hour }
