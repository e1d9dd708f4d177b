package canonical

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehrsync/ehrsync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, mrn, first_name, last_name, birth_date, gender,
	address_line, city, state, postal_code, phone, email, provider_ids, created_at, updated_at`

func scanPatient(row pgx.Row) (*PatientRecord, error) {
	var p PatientRecord
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.AddressLine, &p.City, &p.State, &p.PostalCode, &p.Phone, &p.Email,
		&p.ProviderIDs, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *PatientRecord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ProviderIDs == nil {
		p.ProviderIDs = ProviderIDs{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_record (id, mrn, first_name, last_name, birth_date, gender,
			address_line, city, state, postal_code, phone, email, provider_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.AddressLine, p.City, p.State, p.PostalCode, p.Phone, p.Email, p.ProviderIDs)
	return err
}

func (r *patientRepoPG) Update(ctx context.Context, p *PatientRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_record SET mrn=$2, first_name=$3, last_name=$4, birth_date=$5, gender=$6,
			address_line=$7, city=$8, state=$9, postal_code=$10, phone=$11, email=$12,
			provider_ids=$13, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.AddressLine, p.City, p.State, p.PostalCode, p.Phone, p.Email, p.ProviderIDs)
	return err
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_record WHERE id = $1`, id)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient_record WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*PatientRecord, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient_record WHERE mrn = $1`, mrn))
}

func (r *patientRepoPG) GetByProviderID(ctx context.Context, provider Provider, externalID string) (*PatientRecord, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient_record WHERE provider_ids ->> $1 = $2`, string(provider), externalID))
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_record`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient_record ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientRecord
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Encounter Repository ===========

type encounterRepoPG struct{ pool *pgxpool.Pool }

func NewEncounterRepoPG(pool *pgxpool.Pool) EncounterRepository { return &encounterRepoPG{pool: pool} }

func (r *encounterRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const encounterCols = `id, patient_id, class, status, reason, location,
	started_at, ended_at, provider_ids, created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PatientID, &e.Class, &e.Status, &e.Reason, &e.Location,
		&e.StartedAt, &e.EndedAt, &e.ProviderIDs, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *encounterRepoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ProviderIDs == nil {
		e.ProviderIDs = ProviderIDs{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (id, patient_id, class, status, reason, location, started_at, ended_at, provider_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.PatientID, e.Class, e.Status, e.Reason, e.Location, e.StartedAt, e.EndedAt, e.ProviderIDs)
	return err
}

func (r *encounterRepoPG) Update(ctx context.Context, e *Encounter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET class=$2, status=$3, reason=$4, location=$5,
			started_at=$6, ended_at=$7, provider_ids=$8, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Class, e.Status, e.Reason, e.Location, e.StartedAt, e.EndedAt, e.ProviderIDs)
	return err
}

func (r *encounterRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounter WHERE id = $1`, id)
	return err
}

func (r *encounterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encounterCols+` FROM encounter WHERE id = $1`, id))
}

func (r *encounterRepoPG) GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Encounter, error) {
	return scanEncounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE provider_ids ->> $1 = $2`, string(provider), externalID))
}

func (r *encounterRepoPG) GetByNaturalKey(ctx context.Context, patientID uuid.UUID, class string, startedAt *time.Time) (*Encounter, error) {
	return scanEncounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE patient_id = $1 AND class = $2 AND started_at = $3`,
		patientID, class, startedAt))
}

func (r *encounterRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE patient_id = $1 ORDER BY started_at DESC NULLS LAST`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// =========== Observation Repository ===========

type observationRepoPG struct{ pool *pgxpool.Pool }

func NewObservationRepoPG(pool *pgxpool.Pool) ObservationRepository {
	return &observationRepoPG{pool: pool}
}

func (r *observationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const observationCols = `id, patient_id, code, display, value, unit, status,
	effective_at, provider_ids, created_at, updated_at`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(&o.ID, &o.PatientID, &o.Code, &o.Display, &o.Value, &o.Unit, &o.Status,
		&o.EffectiveAt, &o.ProviderIDs, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *observationRepoPG) Create(ctx context.Context, o *Observation) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.ProviderIDs == nil {
		o.ProviderIDs = ProviderIDs{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO observation (id, patient_id, code, display, value, unit, status, effective_at, provider_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.PatientID, o.Code, o.Display, o.Value, o.Unit, o.Status, o.EffectiveAt, o.ProviderIDs)
	return err
}

func (r *observationRepoPG) Update(ctx context.Context, o *Observation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE observation SET code=$2, display=$3, value=$4, unit=$5, status=$6,
			effective_at=$7, provider_ids=$8, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Code, o.Display, o.Value, o.Unit, o.Status, o.EffectiveAt, o.ProviderIDs)
	return err
}

func (r *observationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM observation WHERE id = $1`, id)
	return err
}

func (r *observationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Observation, error) {
	return scanObservation(r.conn(ctx).QueryRow(ctx, `SELECT `+observationCols+` FROM observation WHERE id = $1`, id))
}

func (r *observationRepoPG) GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Observation, error) {
	return scanObservation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+observationCols+` FROM observation WHERE provider_ids ->> $1 = $2`, string(provider), externalID))
}

func (r *observationRepoPG) GetByNaturalKey(ctx context.Context, patientID uuid.UUID, code string, effectiveAt *time.Time) (*Observation, error) {
	return scanObservation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+observationCols+` FROM observation WHERE patient_id = $1 AND code = $2 AND effective_at = $3`,
		patientID, code, effectiveAt))
}

func (r *observationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Observation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+observationCols+` FROM observation WHERE patient_id = $1 ORDER BY effective_at DESC NULLS LAST`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const medicationCols = `id, patient_id, code, name, dosage, route, status,
	prescribed_at, provider_ids, created_at, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.PatientID, &m.Code, &m.Name, &m.Dosage, &m.Route, &m.Status,
		&m.PrescribedAt, &m.ProviderIDs, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ProviderIDs == nil {
		m.ProviderIDs = ProviderIDs{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication (id, patient_id, code, name, dosage, route, status, prescribed_at, provider_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.PatientID, m.Code, m.Name, m.Dosage, m.Route, m.Status, m.PrescribedAt, m.ProviderIDs)
	return err
}

func (r *medicationRepoPG) Update(ctx context.Context, m *Medication) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET code=$2, name=$3, dosage=$4, route=$5, status=$6,
			prescribed_at=$7, provider_ids=$8, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Code, m.Name, m.Dosage, m.Route, m.Status, m.PrescribedAt, m.ProviderIDs)
	return err
}

func (r *medicationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM medication WHERE id = $1`, id)
	return err
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMedication(r.conn(ctx).QueryRow(ctx, `SELECT `+medicationCols+` FROM medication WHERE id = $1`, id))
}

func (r *medicationRepoPG) GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Medication, error) {
	return scanMedication(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicationCols+` FROM medication WHERE provider_ids ->> $1 = $2`, string(provider), externalID))
}

func (r *medicationRepoPG) GetByNaturalKey(ctx context.Context, patientID uuid.UUID, code string) (*Medication, error) {
	return scanMedication(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicationCols+` FROM medication WHERE patient_id = $1 AND code = $2`, patientID, code))
}

func (r *medicationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicationCols+` FROM medication WHERE patient_id = $1 ORDER BY prescribed_at DESC NULLS LAST`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository { return &allergyRepoPG{pool: pool} }

func (r *allergyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const allergyCols = `id, patient_id, code, substance, severity, reaction, status,
	recorded_at, provider_ids, created_at, updated_at`

func scanAllergy(row pgx.Row) (*Allergy, error) {
	var a Allergy
	err := row.Scan(&a.ID, &a.PatientID, &a.Code, &a.Substance, &a.Severity, &a.Reaction, &a.Status,
		&a.RecordedAt, &a.ProviderIDs, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.ProviderIDs == nil {
		a.ProviderIDs = ProviderIDs{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO allergy (id, patient_id, code, substance, severity, reaction, status, recorded_at, provider_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PatientID, a.Code, a.Substance, a.Severity, a.Reaction, a.Status, a.RecordedAt, a.ProviderIDs)
	return err
}

func (r *allergyRepoPG) Update(ctx context.Context, a *Allergy) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE allergy SET code=$2, substance=$3, severity=$4, reaction=$5, status=$6,
			recorded_at=$7, provider_ids=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Code, a.Substance, a.Severity, a.Reaction, a.Status, a.RecordedAt, a.ProviderIDs)
	return err
}

func (r *allergyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM allergy WHERE id = $1`, id)
	return err
}

func (r *allergyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error) {
	return scanAllergy(r.conn(ctx).QueryRow(ctx, `SELECT `+allergyCols+` FROM allergy WHERE id = $1`, id))
}

func (r *allergyRepoPG) GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Allergy, error) {
	return scanAllergy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+allergyCols+` FROM allergy WHERE provider_ids ->> $1 = $2`, string(provider), externalID))
}

func (r *allergyRepoPG) GetByNaturalKey(ctx context.Context, patientID uuid.UUID, substance string) (*Allergy, error) {
	return scanAllergy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+allergyCols+` FROM allergy WHERE patient_id = $1 AND LOWER(substance) = LOWER($2)`,
		patientID, substance))
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+allergyCols+` FROM allergy WHERE patient_id = $1 ORDER BY recorded_at DESC NULLS LAST`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Allergy
	for rows.Next() {
		a, err := scanAllergy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Condition Repository ===========

type conditionRepoPG struct{ pool *pgxpool.Pool }

func NewConditionRepoPG(pool *pgxpool.Pool) ConditionRepository { return &conditionRepoPG{pool: pool} }

func (r *conditionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conditionCols = `id, patient_id, code, display, status, onset_at, provider_ids, created_at, updated_at`

func scanCondition(row pgx.Row) (*Condition, error) {
	var c Condition
	err := row.Scan(&c.ID, &c.PatientID, &c.Code, &c.Display, &c.Status,
		&c.OnsetAt, &c.ProviderIDs, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *conditionRepoPG) Create(ctx context.Context, c *Condition) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ProviderIDs == nil {
		c.ProviderIDs = ProviderIDs{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO condition (id, patient_id, code, display, status, onset_at, provider_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.PatientID, c.Code, c.Display, c.Status, c.OnsetAt, c.ProviderIDs)
	return err
}

func (r *conditionRepoPG) Update(ctx context.Context, c *Condition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE condition SET code=$2, display=$3, status=$4, onset_at=$5, provider_ids=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Code, c.Display, c.Status, c.OnsetAt, c.ProviderIDs)
	return err
}

func (r *conditionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM condition WHERE id = $1`, id)
	return err
}

func (r *conditionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Condition, error) {
	return scanCondition(r.conn(ctx).QueryRow(ctx, `SELECT `+conditionCols+` FROM condition WHERE id = $1`, id))
}

func (r *conditionRepoPG) GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Condition, error) {
	return scanCondition(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conditionCols+` FROM condition WHERE provider_ids ->> $1 = $2`, string(provider), externalID))
}

func (r *conditionRepoPG) GetByNaturalKey(ctx context.Context, patientID uuid.UUID, code string) (*Condition, error) {
	return scanCondition(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conditionCols+` FROM condition WHERE patient_id = $1 AND code = $2`, patientID, code))
}

func (r *conditionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Condition, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+conditionCols+` FROM condition WHERE patient_id = $1 ORDER BY onset_at DESC NULLS LAST`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
