package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// TxRunner wraps a function in a storage transaction so the resolution
// record and the status change land together or not at all.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// Engine detects and resolves conflicts. Stateless apart from its strategy
// table and resolver registry, so one instance is shared by all adapters.
type Engine struct {
	repo       Repository
	strategies map[StrategyKey]StrategyConfig
	resolvers  map[string]ResolverFunc
	tx         TxRunner
	log        zerolog.Logger
}

// NewEngine builds the engine. Register custom resolvers before first use;
// the registry is not guarded for concurrent mutation. A nil tx runner
// degrades to sequential writes.
func NewEngine(repo Repository, strategies map[StrategyKey]StrategyConfig, tx TxRunner, log zerolog.Logger) *Engine {
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	if tx == nil {
		tx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	return &Engine{
		repo:       repo,
		strategies: strategies,
		resolvers:  map[string]ResolverFunc{},
		tx:         tx,
		log:        log.With().Str("component", "conflict").Logger(),
	}
}

// RegisterResolver installs a named resolver for the CUSTOM strategy.
func (e *Engine) RegisterResolver(name string, fn ResolverFunc) {
	e.resolvers[name] = fn
}

// DefaultStrategies auto-resolves demographic drift by write recency and
// leaves clinical value fields for review. Identity fields are never listed
// here; the CRITICAL gate covers them regardless.
func DefaultStrategies() map[StrategyKey]StrategyConfig {
	out := map[StrategyKey]StrategyConfig{}
	lww := StrategyConfig{Strategy: StrategyLastWriteWins}
	for _, f := range []string{"first_name", "last_name", "gender", "address_line", "city", "state", "postal_code", "phone", "email"} {
		out[StrategyKey{ResourceType: canonical.ResourcePatient, Field: f}] = lww
	}
	for _, rt := range canonical.DependentResources() {
		out[StrategyKey{ResourceType: rt, Field: "display"}] = lww
		out[StrategyKey{ResourceType: rt, Field: "status"}] = lww
	}
	out[StrategyKey{ResourceType: canonical.ResourceEncounter, Field: "reason"}] = lww
	out[StrategyKey{ResourceType: canonical.ResourceEncounter, Field: "location"}] = lww
	return out
}

// DetectConflicts diffs the two field maps and persists every divergence.
// A still-open conflict for the same field is refreshed in place rather
// than duplicated, so repeated syncs do not stack conflicts.
func (e *Engine) DetectConflicts(ctx context.Context, resourceType canonical.ResourceType, resourceID uuid.UUID,
	provider canonical.Provider, localData, remoteData map[string]interface{}, opts DetectOptions) (*DetectionResult, error) {

	detected := detect(resourceType, resourceID, provider, localData, remoteData, opts)

	persisted := make([]*DataConflict, 0, len(detected))
	for _, c := range detected {
		existing, err := e.repo.GetOpenByField(ctx, resourceType, resourceID, c.Field)
		switch {
		case err == nil:
			existing.Type = c.Type
			existing.Severity = c.Severity
			existing.LocalValue = c.LocalValue
			existing.RemoteValue = c.RemoteValue
			existing.LocalTimestamp = c.LocalTimestamp
			existing.RemoteTimestamp = c.RemoteTimestamp
			existing.LocalVersion = c.LocalVersion
			existing.RemoteVersion = c.RemoteVersion
			existing.DetectedAt = c.DetectedAt
			if err := e.repo.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("refresh conflict %s: %w", existing.ID, err)
			}
			persisted = append(persisted, existing)
		case err == pgx.ErrNoRows:
			if err := e.repo.Save(ctx, c); err != nil {
				return nil, fmt.Errorf("save conflict for field %s: %w", c.Field, err)
			}
			persisted = append(persisted, c)
		default:
			return nil, err
		}
	}

	if len(persisted) > 0 {
		e.log.Info().
			Str("resource_type", string(resourceType)).
			Str("resource_id", resourceID.String()).
			Int("count", len(persisted)).
			Msg("conflicts detected")
	}
	return &DetectionResult{
		HasConflicts: len(persisted) > 0,
		Conflicts:    persisted,
		Summary:      summarize(persisted),
	}, nil
}

// ResolveConflict applies a strategy to one conflict. A failed attempt
// leaves the conflict exactly as it was.
func (e *Engine) ResolveConflict(ctx context.Context, c *DataConflict, strategy Strategy, opts ResolveOptions) ResolutionResult {
	result := ResolutionResult{ConflictID: c.ID, Field: c.Field, Strategy: strategy}

	if c.Status.Terminal() {
		result.Errors = append(result.Errors, fmt.Sprintf("conflict is %s and cannot be resolved again", c.Status))
		return result
	}

	value, err := applyStrategy(c, strategy, opts, e.resolvers)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	resolvedBy := opts.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = "system"
	}
	resolution := &Resolution{
		ID:            uuid.New(),
		ConflictID:    c.ID,
		Strategy:      strategy,
		ResolvedValue: value,
		ResolvedBy:    resolvedBy,
		ResolvedAt:    time.Now().UTC(),
		Reason:        opts.Reason,
	}

	// The resolution record goes in before the status flip, both inside
	// one transaction: a conflict must never read as RESOLVED without its
	// resolution attached.
	prior := c.Status
	c.Status = StatusResolved
	c.Resolution = resolution
	err = e.tx(ctx, func(ctx context.Context) error {
		if err := e.repo.SaveResolution(ctx, resolution); err != nil {
			return fmt.Errorf("persist resolution record: %w", err)
		}
		if err := e.repo.Update(ctx, c); err != nil {
			return fmt.Errorf("persist resolution: %w", err)
		}
		return nil
	})
	if err != nil {
		c.Status = prior
		c.Resolution = nil
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.Success = true
	result.ResolvedValue = value
	return result
}

// IsAutoResolvable gates automatic resolution. CRITICAL conflicts and
// pairs with no configured strategy always require a human; there is no
// fallback strategy for unconfigured pairs.
func (e *Engine) IsAutoResolvable(c *DataConflict) bool {
	if c.Severity == SeverityCritical {
		return false
	}
	cfg, ok := e.strategies[StrategyKey{ResourceType: c.ResourceType, Field: c.Field}]
	if !ok {
		return false
	}
	return cfg.Strategy != StrategyManual
}

// AutoResolveConflicts resolves every open, auto-resolvable conflict on the
// resource. Safe to call repeatedly; resolved conflicts drop out of the
// open set.
func (e *Engine) AutoResolveConflicts(ctx context.Context, resourceType canonical.ResourceType, resourceID uuid.UUID) ([]ResolutionResult, error) {
	open, err := e.repo.ListOpenByResource(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}

	var results []ResolutionResult
	for _, c := range open {
		if !e.IsAutoResolvable(c) {
			continue
		}
		cfg := e.strategies[StrategyKey{ResourceType: c.ResourceType, Field: c.Field}]
		res := e.ResolveConflict(ctx, c, cfg.Strategy, ResolveOptions{
			MergeHint:    cfg.MergeHint,
			ResolverName: cfg.ResolverName,
			ResolvedBy:   "auto-resolver",
		})
		results = append(results, res)
	}
	return results, nil
}

// MarkPendingReview moves a DETECTED conflict into the review queue.
func (e *Engine) MarkPendingReview(ctx context.Context, id uuid.UUID) (*DataConflict, error) {
	c, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("conflict is %s", c.Status)
	}
	c.Status = StatusPendingReview
	if err := e.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Ignore dismisses a conflict explicitly. Terminal.
func (e *Engine) Ignore(ctx context.Context, id uuid.UUID, by, reason string) (*DataConflict, error) {
	c, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("conflict is %s", c.Status)
	}
	c.Status = StatusIgnored
	if err := e.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	e.log.Info().Str("conflict_id", id.String()).Str("by", by).Str("reason", reason).Msg("conflict ignored")
	return c, nil
}

// ResolveByID loads and resolves one conflict, for the review API.
func (e *Engine) ResolveByID(ctx context.Context, id uuid.UUID, strategy Strategy, opts ResolveOptions) (ResolutionResult, error) {
	c, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return ResolutionResult{}, err
	}
	return e.ResolveConflict(ctx, c, strategy, opts), nil
}

// ListPending pages the review queue.
func (e *Engine) ListPending(ctx context.Context, limit, offset int) ([]*DataConflict, int, error) {
	return e.repo.ListOpen(ctx, limit, offset)
}
