package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
)

// UserRepository implements port.UserRepository over the users table
type UserRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlite.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, name, email, roles, is_supervisor, supervisor_id, department, lark_open_id`

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

// ListByRole returns every user holding the role
func (r *UserRepository) ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE EXISTS (SELECT 1 FROM json_each(users.roles) AS rl WHERE rl.value = ?)
		ORDER BY id
	`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role %s: %w", role, err)
	}
	defer rows.Close()

	var out []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a user
func (r *UserRepository) Upsert(ctx context.Context, user *entity.User) error {
	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			roles = excluded.roles,
			is_supervisor = excluded.is_supervisor,
			supervisor_id = excluded.supervisor_id,
			department = excluded.department,
			lark_open_id = excluded.lark_open_id,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		string(roles),
		user.IsSupervisor,
		user.SupervisorID,
		user.Department,
		user.LarkOpenID,
	)
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", user.ID), zap.Error(err))
		return wrapWrite(err, "failed to upsert user %s", user.ID)
	}
	return nil
}

func scanUser(row rowScanner) (*entity.User, error) {
	var (
		user  entity.User
		roles string
	)
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&roles,
		&user.IsSupervisor,
		&user.SupervisorID,
		&user.Department,
		&user.LarkOpenID,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &user.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles of %s: %w", user.ID, err)
	}
	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
