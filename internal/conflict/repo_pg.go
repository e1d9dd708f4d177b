package conflict

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conflictCols = `id, resource_type, resource_id, provider, field, conflict_type, severity, status,
	local_value, remote_value, local_timestamp, remote_timestamp, local_version, remote_version, detected_at`

// Conflict values are arbitrary JSON, stored as jsonb.
func scanConflict(row pgx.Row) (*DataConflict, error) {
	var c DataConflict
	var localRaw, remoteRaw []byte
	err := row.Scan(&c.ID, &c.ResourceType, &c.ResourceID, &c.Provider, &c.Field, &c.Type, &c.Severity, &c.Status,
		&localRaw, &remoteRaw, &c.LocalTimestamp, &c.RemoteTimestamp, &c.LocalVersion, &c.RemoteVersion, &c.DetectedAt)
	if err != nil {
		return nil, err
	}
	if len(localRaw) > 0 {
		if err := json.Unmarshal(localRaw, &c.LocalValue); err != nil {
			return nil, fmt.Errorf("decode local value: %w", err)
		}
	}
	if len(remoteRaw) > 0 {
		if err := json.Unmarshal(remoteRaw, &c.RemoteValue); err != nil {
			return nil, fmt.Errorf("decode remote value: %w", err)
		}
	}
	return &c, nil
}

func encodeValue(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (r *repoPG) Save(ctx context.Context, c *DataConflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	localRaw, err := encodeValue(c.LocalValue)
	if err != nil {
		return fmt.Errorf("encode local value: %w", err)
	}
	remoteRaw, err := encodeValue(c.RemoteValue)
	if err != nil {
		return fmt.Errorf("encode remote value: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO data_conflict (id, resource_type, resource_id, provider, field, conflict_type, severity, status,
			local_value, remote_value, local_timestamp, remote_timestamp, local_version, remote_version, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		c.ID, c.ResourceType, c.ResourceID, c.Provider, c.Field, c.Type, c.Severity, c.Status,
		localRaw, remoteRaw, c.LocalTimestamp, c.RemoteTimestamp, c.LocalVersion, c.RemoteVersion, c.DetectedAt)
	return err
}

func (r *repoPG) Update(ctx context.Context, c *DataConflict) error {
	localRaw, err := encodeValue(c.LocalValue)
	if err != nil {
		return fmt.Errorf("encode local value: %w", err)
	}
	remoteRaw, err := encodeValue(c.RemoteValue)
	if err != nil {
		return fmt.Errorf("encode remote value: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE data_conflict SET conflict_type=$2, severity=$3, status=$4, local_value=$5, remote_value=$6,
			local_timestamp=$7, remote_timestamp=$8, local_version=$9, remote_version=$10, detected_at=$11
		WHERE id = $1`,
		c.ID, c.Type, c.Severity, c.Status, localRaw, remoteRaw,
		c.LocalTimestamp, c.RemoteTimestamp, c.LocalVersion, c.RemoteVersion, c.DetectedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DataConflict, error) {
	c, err := scanConflict(r.conn(ctx).QueryRow(ctx, `SELECT `+conflictCols+` FROM data_conflict WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	res, err := r.GetResolution(ctx, c.ID)
	if err == nil {
		c.Resolution = res
	} else if err != pgx.ErrNoRows {
		return nil, err
	}
	return c, nil
}

func (r *repoPG) GetOpenByField(ctx context.Context, resourceType canonical.ResourceType, resourceID uuid.UUID, field string) (*DataConflict, error) {
	return scanConflict(r.conn(ctx).QueryRow(ctx, `
		SELECT `+conflictCols+` FROM data_conflict
		WHERE resource_type = $1 AND resource_id = $2 AND field = $3 AND status IN ('DETECTED','PENDING_REVIEW')
		ORDER BY detected_at DESC LIMIT 1`,
		resourceType, resourceID, field))
}

func (r *repoPG) ListOpenByResource(ctx context.Context, resourceType canonical.ResourceType, resourceID uuid.UUID) ([]*DataConflict, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+conflictCols+` FROM data_conflict
		WHERE resource_type = $1 AND resource_id = $2 AND status IN ('DETECTED','PENDING_REVIEW')
		ORDER BY detected_at`,
		resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DataConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*DataConflict, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM data_conflict WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+conflictCols+` FROM data_conflict WHERE status = $1
		ORDER BY detected_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DataConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListOpen(ctx context.Context, limit, offset int) ([]*DataConflict, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM data_conflict WHERE status IN ('DETECTED','PENDING_REVIEW')`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+conflictCols+` FROM data_conflict WHERE status IN ('DETECTED','PENDING_REVIEW')
		ORDER BY detected_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DataConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SaveResolution(ctx context.Context, res *Resolution) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	valRaw, err := encodeValue(res.ResolvedValue)
	if err != nil {
		return fmt.Errorf("encode resolved value: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO conflict_resolution (id, conflict_id, strategy, resolved_value, resolved_by, resolved_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.ConflictID, res.Strategy, valRaw, res.ResolvedBy, res.ResolvedAt, res.Reason)
	return err
}

func (r *repoPG) GetResolution(ctx context.Context, conflictID uuid.UUID) (*Resolution, error) {
	var res Resolution
	var valRaw []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, conflict_id, strategy, resolved_value, resolved_by, resolved_at, reason
		FROM conflict_resolution WHERE conflict_id = $1`, conflictID).
		Scan(&res.ID, &res.ConflictID, &res.Strategy, &valRaw, &res.ResolvedBy, &res.ResolvedAt, &res.Reason)
	if err != nil {
		return nil, err
	}
	if len(valRaw) > 0 {
		if err := json.Unmarshal(valRaw, &res.ResolvedValue); err != nil {
			return nil, fmt.Errorf("decode resolved value: %w", err)
		}
	}
	return &res, nil
}
