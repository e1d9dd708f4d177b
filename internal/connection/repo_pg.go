package connection

import (
	"context"

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

const connCols = `id, patient_id, provider, status, vendor_patient_id, credential_ref,
	sync_in_progress, last_synced_at, last_error, created_at, updated_at`

func scanConnection(row pgx.Row) (*EHRConnection, error) {
	var c EHRConnection
	err := row.Scan(&c.ID, &c.PatientID, &c.Provider, &c.Status, &c.VendorPatientID, &c.CredentialRef,
		&c.SyncInProgress, &c.LastSyncedAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *EHRConnection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ehr_connection (id, patient_id, provider, status, vendor_patient_id, credential_ref)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.PatientID, c.Provider, c.Status, c.VendorPatientID, c.CredentialRef)
	return err
}

func (r *repoPG) Update(ctx context.Context, c *EHRConnection) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE ehr_connection SET status=$2, vendor_patient_id=$3, credential_ref=$4,
			last_synced_at=$5, last_error=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.VendorPatientID, c.CredentialRef, c.LastSyncedAt, c.LastError)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM ehr_connection WHERE id = $1`, id)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*EHRConnection, error) {
	return scanConnection(r.conn(ctx).QueryRow(ctx, `SELECT `+connCols+` FROM ehr_connection WHERE id = $1`, id))
}

func (r *repoPG) GetByPatientProvider(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (*EHRConnection, error) {
	return scanConnection(r.conn(ctx).QueryRow(ctx,
		`SELECT `+connCols+` FROM ehr_connection WHERE patient_id = $1 AND provider = $2`, patientID, provider))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*EHRConnection, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+connCols+` FROM ehr_connection WHERE patient_id = $1 ORDER BY provider`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*EHRConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*EHRConnection, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ehr_connection`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+connCols+` FROM ehr_connection ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*EHRConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) TryBeginSync(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ehr_connection SET sync_in_progress = TRUE, updated_at = NOW()
		WHERE id = $1 AND sync_in_progress = FALSE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) EndSync(ctx context.Context, id uuid.UUID, status Status, lastError string) error {
	if status == StatusActive && lastError == "" {
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE ehr_connection SET sync_in_progress = FALSE, status = $2, last_error = '',
				last_synced_at = NOW(), updated_at = NOW()
			WHERE id = $1`, id, status)
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE ehr_connection SET sync_in_progress = FALSE, status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`, id, status, lastError)
	return err
}
