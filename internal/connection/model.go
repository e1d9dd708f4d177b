package connection

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// Status is the lifecycle state of a patient/provider connection.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDisconnected Status = "DISCONNECTED"
	StatusError        Status = "ERROR"
)

// EHRConnection pairs a local patient with one vendor account. At most one
// connection exists per (patient, provider).
type EHRConnection struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	PatientID       uuid.UUID          `db:"patient_id" json:"patient_id"`
	Provider        canonical.Provider `db:"provider" json:"provider"`
	Status          Status             `db:"status" json:"status"`
	VendorPatientID string             `db:"vendor_patient_id" json:"vendor_patient_id,omitempty"`
	// CredentialRef names the secret holding this connection's vendor
	// credentials. Credential material itself is never stored here.
	CredentialRef  string     `db:"credential_ref" json:"credential_ref,omitempty"`
	SyncInProgress bool       `db:"sync_in_progress" json:"sync_in_progress"`
	LastSyncedAt   *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastError      string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
