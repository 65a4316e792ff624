package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

const (
	userColumns         = "id, email, password_hash, full_name, role, active, last_login, created_at, updated_at"
	refreshTokenColumns = "id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent"

	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

// userOrderings maps the sort keys accepted by the account listing to ORDER BY clauses.
// Teachers that never logged in sort after everyone else.
var userOrderings = map[string]string{
	"email":      "email %s",
	"full_name":  "full_name %s",
	"role":       "role %s",
	"last_login": "last_login %s NULLS LAST",
	"created_at": "created_at %s",
	"updated_at": "updated_at %s",
}

// UserRepository stores teacher and administrator accounts together with their
// refresh-token sessions and the audit trail of ledger and roster actions.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// findUser returns sql.ErrNoRows unwrapped so services can map it to NOT_FOUND.
func (r *UserRepository) findUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	var user models.User
	query := "SELECT " + userColumns + " FROM users WHERE " + where + " LIMIT 1"
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find account (%s): %w", where, err)
	}
	return &user, nil
}

// FindByEmail looks an account up by its login email. Emails are stored lower-cased.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(ctx, "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

// FindByID looks an account up by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findUser(ctx, "id = $1", id)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, ts); err != nil {
		return fmt.Errorf("record login of %s: %w", id, err)
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password of %s: %w", id, err)
	}
	return nil
}

func userListWhere(filter models.UserFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	bind := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Role != nil {
		bind("role = ?", string(*filter.Role))
	}
	if filter.Active != nil {
		bind("active = ?", *filter.Active)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		bind("(LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?)", "%"+strings.ToLower(term)+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func userListOrder(filter models.UserFilter) string {
	pattern, ok := userOrderings[filter.SortBy]
	if !ok {
		pattern = userOrderings["created_at"]
	}
	direction := strings.ToUpper(filter.SortOrder)
	if direction != "ASC" {
		direction = "DESC"
	}
	return fmt.Sprintf(pattern, direction) + ", id ASC"
}

// List returns one page of accounts matching filter and the total number of matches.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	where, args := userListWhere(filter)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize, defaultUserPageSize, maxUserPageSize)
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY %s LIMIT %d OFFSET %d",
		userColumns, where, userListOrder(filter), size, (page-1)*size)

	users := make([]models.User, 0, size)
	if total == 0 {
		return users, 0, nil
	}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	return users, total, nil
}

// Create inserts a new account, assigning an id and timestamps when missing.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
VALUES (:id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create account %s: %w", user.Email, err)
	}
	return nil
}

// Update stores the profile fields an administrator may change.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET full_name = :full_name, role = :role, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update account %s: %w", user.ID, err)
	}
	return nil
}

// Delete deactivates an account and revokes its open sessions in one transaction, so a
// removed teacher cannot keep granting through an old refresh token. Rows stay because
// classes and ledger entries reference the account.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate account: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("deactivate account %s: %w", id, err)
	}
	if err = revokeSessions(ctx, tx, id, now); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit deactivate account %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored accounts, active or not.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return total, nil
}

// ExistingIDs reports which of ids belong to stored accounts. Snapshot import uses it to
// drop owners and collaborators that do not exist here.
func (r *UserRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := r.db.SelectContext(ctx, &found, `SELECT id FROM users WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lookup account ids: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("store session of %s: %w", token.UserID, err)
	}
	return nil
}

// FindRefreshToken returns the session holding token. Revoked sessions are returned too;
// callers decide what a revoked token means.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, "SELECT "+refreshTokenColumns+" FROM refresh_tokens WHERE token = $1 LIMIT 1", token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &rt, nil
}

func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`, id, revokedAt); err != nil {
		return fmt.Errorf("revoke session %s: %w", id, err)
	}
	return nil
}

// RevokeUserRefreshTokens ends every open session of userID.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return revokeSessions(ctx, r.db, userID, time.Now().UTC())
}

func revokeSessions(ctx context.Context, exec sqlx.ExecerContext, userID string, at time.Time) error {
	if _, err := exec.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`, userID, at); err != nil {
		return fmt.Errorf("revoke sessions of %s: %w", userID, err)
	}
	return nil
}

// CreateAuditLog appends an entry to the audit trail.
func (r *UserRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at)
VALUES (:id, :user_id, :action, :resource, :resource_id, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit %s on %s: %w", entry.Action, entry.Resource, err)
	}
	return nil
}
