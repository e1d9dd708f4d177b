package conflict

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// ConflictType classifies how the two sides disagree.
type ConflictType string

const (
	TypeUpdateUpdate  ConflictType = "UPDATE_UPDATE"
	TypeUpdateDelete  ConflictType = "UPDATE_DELETE"
	TypeDeleteUpdate  ConflictType = "DELETE_UPDATE"
	TypeFieldMismatch ConflictType = "FIELD_MISMATCH"
)

// Severity ranks the clinical risk of resolving a conflict wrongly.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the conflict lifecycle state. RESOLVED and IGNORED are terminal.
type Status string

const (
	StatusDetected      Status = "DETECTED"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusResolved      Status = "RESOLVED"
	StatusIgnored       Status = "IGNORED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusIgnored
}

// Strategy names a resolution rule.
type Strategy string

const (
	StrategyLastWriteWins  Strategy = "LAST_WRITE_WINS"
	StrategyFirstWriteWins Strategy = "FIRST_WRITE_WINS"
	StrategyLocalWins      Strategy = "LOCAL_WINS"
	StrategyRemoteWins     Strategy = "REMOTE_WINS"
	StrategyMerge          Strategy = "MERGE"
	StrategyManual         Strategy = "MANUAL"
	StrategyCustom         Strategy = "CUSTOM"
)

// MergeHint steers MERGE for primitive values.
type MergeHint string

const (
	MergePreferLocal  MergeHint = "prefer-local"
	MergePreferRemote MergeHint = "prefer-remote"
	MergeConcatenate  MergeHint = "concatenate"
	MergeNumericAvg   MergeHint = "numeric-average"
	MergeNumericMax   MergeHint = "numeric-max"
	MergeNumericMin   MergeHint = "numeric-min"
)

// DataConflict is one detected field-level disagreement between the local
// record and a freshly transformed remote record.
type DataConflict struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	ResourceType    canonical.ResourceType `db:"resource_type" json:"resource_type"`
	ResourceID      uuid.UUID              `db:"resource_id" json:"resource_id"`
	Provider        canonical.Provider     `db:"provider" json:"provider"`
	Field           string                 `db:"field" json:"field"`
	Type            ConflictType           `db:"conflict_type" json:"type"`
	Severity        Severity               `db:"severity" json:"severity"`
	Status          Status                 `db:"status" json:"status"`
	LocalValue      interface{}            `db:"local_value" json:"local_value"`
	RemoteValue     interface{}            `db:"remote_value" json:"remote_value"`
	LocalTimestamp  *time.Time             `db:"local_timestamp" json:"local_timestamp,omitempty"`
	RemoteTimestamp *time.Time             `db:"remote_timestamp" json:"remote_timestamp,omitempty"`
	LocalVersion    string                 `db:"local_version" json:"local_version,omitempty"`
	RemoteVersion   string                 `db:"remote_version" json:"remote_version,omitempty"`
	DetectedAt      time.Time              `db:"detected_at" json:"detected_at"`
	Resolution      *Resolution            `db:"-" json:"resolution,omitempty"`
}

// Resolution is attached to a conflict exactly once, when it resolves.
type Resolution struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	ConflictID    uuid.UUID   `db:"conflict_id" json:"conflict_id"`
	Strategy      Strategy    `db:"strategy" json:"strategy"`
	ResolvedValue interface{} `db:"resolved_value" json:"resolved_value"`
	ResolvedBy    string      `db:"resolved_by" json:"resolved_by"`
	ResolvedAt    time.Time   `db:"resolved_at" json:"resolved_at"`
	Reason        string      `db:"reason" json:"reason,omitempty"`
}

// DetectOptions tune one detection pass.
type DetectOptions struct {
	// IgnoreFields are skipped entirely.
	IgnoreFields []string
	// SensitiveFields force CRITICAL severity regardless of name rules.
	SensitiveFields []string
	// Timestamps and versions stamp detected conflicts for the
	// write-order strategies.
	LocalTimestamp  *time.Time
	RemoteTimestamp *time.Time
	LocalVersion    string
	RemoteVersion   string
}

// Summary aggregates one detection pass.
type Summary struct {
	Total      int                  `json:"total"`
	BySeverity map[Severity]int     `json:"by_severity"`
	ByType     map[ConflictType]int `json:"by_type"`
}

// DetectionResult is the outcome of DetectConflicts.
type DetectionResult struct {
	HasConflicts bool            `json:"has_conflicts"`
	Conflicts    []*DataConflict `json:"conflicts"`
	Summary      Summary         `json:"summary"`
}

// ResolveOptions carry per-call resolution inputs.
type ResolveOptions struct {
	MergeHint    MergeHint
	ResolverName string
	ResolvedBy   string
	Reason       string
}

// ResolutionResult is the outcome of one resolution attempt. A failed
// attempt leaves the conflict in its prior state.
type ResolutionResult struct {
	ConflictID    uuid.UUID   `json:"conflict_id"`
	Field         string      `json:"field"`
	Success       bool        `json:"success"`
	Strategy      Strategy    `json:"strategy,omitempty"`
	ResolvedValue interface{} `json:"resolved_value,omitempty"`
	Errors        []string    `json:"errors,omitempty"`
	Warnings      []string    `json:"warnings,omitempty"`
}

// StrategyConfig binds a (resourceType, field) pair to its auto-resolution
// strategy.
type StrategyConfig struct {
	Strategy     Strategy
	MergeHint    MergeHint
	ResolverName string
}

// StrategyKey identifies one configured pair.
type StrategyKey struct {
	ResourceType canonical.ResourceType
	Field        string
}
