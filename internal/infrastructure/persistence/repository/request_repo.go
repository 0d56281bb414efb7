package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
)

// timeLayout sorts lexically in the same order as the instants it encodes
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new request with version 1
func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	req.Version = 1
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	query := `
		INSERT INTO requests (
			id, kind, requester_id, supervisor_id, current_stage,
			assigned_driver_id, payload, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		req.ID,
		string(req.Kind),
		req.RequesterID,
		req.SupervisorID,
		string(req.CurrentStage),
		assignedDriver(req),
		string(payload),
		req.Version,
		formatTime(req.CreatedAt),
		formatTime(req.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("request_id", req.ID), zap.Error(err))
		return wrapWrite(err, "failed to create request %s", req.ID)
	}
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.Request, error) {
	query := `SELECT payload, version FROM requests WHERE id = ?`

	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request %s: %w", id, err)
	}
	return req, nil
}

// Update rewrites the request when the stored version still matches and bumps req.Version
func (r *RequestRepository) Update(ctx context.Context, req *entity.Request) error {
	next := *req
	next.Version = req.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	query := `
		UPDATE requests
		SET supervisor_id = ?, current_stage = ?, assigned_driver_id = ?,
			payload = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	exec := r.db.Executor(ctx)
	result, err := exec.ExecContext(ctx, query,
		req.SupervisorID,
		string(req.CurrentStage),
		assignedDriver(req),
		string(payload),
		next.Version,
		formatTime(req.UpdatedAt),
		req.ID,
		req.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update request", zap.String("request_id", req.ID), zap.Error(err))
		return wrapWrite(err, "failed to update request %s", req.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return casFailure(ctx, exec, "requests", req.ID)
	}

	req.Version = next.Version
	return nil
}

// Find returns requests of q.Kind matching any of the other criteria, newest first
func (r *RequestRepository) Find(ctx context.Context, q port.RequestQuery) ([]*entity.Request, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if q.RequesterID != "" {
		clauses = append(clauses, "requester_id = ?")
		args = append(args, q.RequesterID)
	}
	if len(q.Stages) > 0 {
		marks := make([]string, len(q.Stages))
		for i, st := range q.Stages {
			marks[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "current_stage IN ("+strings.Join(marks, ", ")+")")
	}
	if q.ActedBy != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM json_each(requests.payload, '$.action_history') AS h
			WHERE json_extract(h.value, '$.performed_by') = ?)`)
		args = append(args, q.ActedBy)
	}
	if q.AssignedDriverID != "" {
		clauses = append(clauses, "assigned_driver_id = ?")
		args = append(args, q.AssignedDriverID)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT payload, version FROM requests WHERE (` + strings.Join(clauses, " OR ") + `)`
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.Request, error) {
	var (
		payload string
		version int64
	)
	if err := row.Scan(&payload, &version); err != nil {
		return nil, err
	}
	var req entity.Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	req.Version = version
	return &req, nil
}

func assignedDriver(req *entity.Request) string {
	if req.Vehicle == nil {
		return ""
	}
	return req.Vehicle.AssignedDriverID
}

var _ port.RequestRepository = (*RequestRepository)(nil)
