package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kebairia/backchain/internal/catalog"
	"github.com/kebairia/backchain/internal/logger"
	"github.com/kebairia/backchain/internal/tool"
)

// Options configure a Controller.
type Options struct {
	ChainPolicy      catalog.ChainPolicy
	MaxDifferentials int
	Timeout          time.Duration
	Compress         bool
}

// BeginOptions carry the per-request knobs forwarded to the external tool.
type BeginOptions struct {
	// Target is the location the artifact should be produced at.
	Target string
	// Tables restricts a partial backup to the named tables.
	Tables []string
	// Args are extra arguments passed through to the tool.
	Args []string
}

// Handle represents one accepted backup request. The caller drives it to
// completion with Run, or with Complete/Fail when it streams progress itself.
type Handle struct {
	ctrl *Controller
	opts BeginOptions

	mu  sync.Mutex
	rec *catalog.BackupRecord
}

// ID returns the backup record id.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.ID
}

// SetTarget points the pending operation at its artifact location. Targets
// usually embed the backup id, which only exists after Begin.
func (h *Handle) SetTarget(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts.Target = target
}

// Record returns a copy of the current record state.
func (h *Handle) Record() *catalog.BackupRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Clone()
}

// Controller orchestrates the state machine of backup operations:
//
//	pending --accept--> running --tool success, artifact verified--> completed
//	pending|running --tool failure, timeout, or verification failure--> failed
//
// The per-database advisory lock is taken at Begin time, before basis
// selection, and held until the record reaches a terminal state. Two
// operations on the same database can therefore never hold the same basis
// in flight; the second Begin fails with ErrLockHeld.
//
// It owns no durable state itself; every transition goes through the
// injected store.
type Controller struct {
	store *catalog.Store
	log   logger.Logger
	opts  Options
	locks *lockTable
	now   func() time.Time

	mu     sync.Mutex
	active map[string]*Handle
}

// NewController wires a controller to its store. There is no ambient
// catalog: every controller works against the handle it was given.
func NewController(store *catalog.Store, log logger.Logger, opts Options) *Controller {
	if !opts.ChainPolicy.IsValid() {
		opts.ChainPolicy = catalog.PolicyImmediatePredecessor
	}
	return &Controller{
		store:  store,
		log:    log,
		opts:   opts,
		locks:  newLockTable(),
		now:    time.Now,
		active: make(map[string]*Handle),
	}
}

func (c *Controller) register(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[h.rec.ID] = h
}

func (c *Controller) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

// ActiveIDs snapshots the record ids owned by live handles, so graph builds
// can distinguish running from interrupted.
func (c *Controller) ActiveIDs() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make(map[string]struct{}, len(c.active))
	for id := range c.active {
		ids[id] = struct{}{}
	}
	return ids
}

// begin persists the pending record and hands out its handle. The caller
// must already hold the database lock; begin releases it when the record
// cannot be persisted.
func (c *Controller) begin(rec *catalog.BackupRecord, opts BeginOptions) (*Handle, error) {
	// The pending record is persisted before any external tool runs, so a
	// failure before tool invocation is still on the books.
	if err := c.store.Put(rec); err != nil {
		c.locks.Release(rec.Database)
		return nil, err
	}
	h := &Handle{ctrl: c, opts: opts, rec: rec}
	c.register(h)
	c.log.Info("backup accepted",
		"id", rec.ID,
		"type", string(rec.Type),
		"database", rec.Database,
	)
	return h, nil
}

// BeginFull creates a new chain root in pending state and opens a new chain,
// closing the prior one for future differentials.
func (c *Controller) BeginFull(ctx context.Context, database string, opts BeginOptions) (*Handle, error) {
	if database == "" {
		return nil, catalog.NewValidationError("database", "database name is required", database)
	}
	if err := c.locks.TryAcquire(database); err != nil {
		return nil, err
	}
	now := c.now().UTC()
	rec := &catalog.BackupRecord{
		ID:          catalog.GenerateID(catalog.TypeFull, database, now),
		Type:        catalog.TypeFull,
		Database:    database,
		Status:      catalog.StatusPending,
		StartedAt:   now,
		ChainPolicy: c.opts.ChainPolicy,
	}
	return c.begin(rec, opts)
}

// BeginPartial creates a standalone table-level backup record. Partial
// backups never carry a basis and never open a chain.
func (c *Controller) BeginPartial(ctx context.Context, database string, opts BeginOptions) (*Handle, error) {
	if database == "" {
		return nil, catalog.NewValidationError("database", "database name is required", database)
	}
	if len(opts.Tables) == 0 {
		return nil, catalog.NewValidationError("tables", "partial backup requires at least one table", opts.Tables)
	}
	if err := c.locks.TryAcquire(database); err != nil {
		return nil, err
	}
	now := c.now().UTC()
	rec := &catalog.BackupRecord{
		ID:        catalog.GenerateID(catalog.TypePartial, database, now),
		Type:      catalog.TypePartial,
		Database:  database,
		Status:    catalog.StatusPending,
		StartedAt: now,
	}
	return c.begin(rec, opts)
}

// BeginDifferential selects a basis first; if selection fails no record is
// ever created. Selection runs under the database lock, so the chosen basis
// cannot be shared with a second in-flight differential.
func (c *Controller) BeginDifferential(ctx context.Context, database string, opts BeginOptions) (*Handle, error) {
	if database == "" {
		return nil, catalog.NewValidationError("database", "database name is required", database)
	}
	if err := c.locks.TryAcquire(database); err != nil {
		return nil, err
	}
	graph, err := c.buildGraph(database)
	if err != nil {
		c.locks.Release(database)
		return nil, err
	}
	selector := &catalog.Selector{MaxDifferentials: c.opts.MaxDifferentials}
	basis, err := selector.SelectBasis(graph)
	if err != nil {
		c.locks.Release(database)
		return nil, err
	}
	now := c.now().UTC()
	rec := &catalog.BackupRecord{
		ID:          catalog.GenerateID(catalog.TypeDifferential, database, now),
		Type:        catalog.TypeDifferential,
		Database:    database,
		Status:      catalog.StatusPending,
		StartedAt:   now,
		BasisID:     basis.ID,
		ChainPolicy: c.opts.ChainPolicy,
	}
	return c.begin(rec, opts)
}

// BeginWalArchive chains a WAL archive record under a completed full backup.
func (c *Controller) BeginWalArchive(ctx context.Context, database, baseBackupID string, opts BeginOptions) (*Handle, error) {
	if database == "" {
		return nil, catalog.NewValidationError("database", "database name is required", database)
	}
	if err := c.locks.TryAcquire(database); err != nil {
		return nil, err
	}
	base, err := c.store.Get(baseBackupID)
	if err != nil {
		c.locks.Release(database)
		return nil, err
	}
	if base.Database != database {
		c.locks.Release(database)
		return nil, catalog.NewValidationError("base_backup_id",
			"base backup belongs to a different database", base.Database)
	}
	if base.Type != catalog.TypeFull {
		c.locks.Release(database)
		return nil, catalog.NewValidationError("base_backup_id",
			"WAL archives must chain under a full backup", base.Type)
	}
	if base.Status != catalog.StatusCompleted {
		c.locks.Release(database)
		return nil, catalog.NewValidationError("base_backup_id",
			"base backup is not completed", base.Status)
	}
	now := c.now().UTC()
	rec := &catalog.BackupRecord{
		ID:        catalog.GenerateID(catalog.TypeWalArchive, database, now),
		Type:      catalog.TypeWalArchive,
		Database:  database,
		Status:    catalog.StatusPending,
		StartedAt: now,
		BasisID:   base.ID,
	}
	return c.begin(rec, opts)
}

// Run drives the handle through the external tool: transitions to running,
// invokes the runner, verifies the artifact, and records the outcome. The
// database lock was taken at Begin time and is released once the record is
// terminal. Cancelling ctx cancels the tool; the record is marked failed with
// reason cancelled once the tool exit is observed, never left running. A
// configured timeout is treated identically to cancellation.
func (h *Handle) Run(ctx context.Context, runner tool.Runner) (*catalog.BackupRecord, error) {
	c := h.ctrl
	rec := h.Record()
	h.mu.Lock()
	opts := h.opts
	h.mu.Unlock()

	if rec.Status != catalog.StatusPending {
		return nil, catalog.NewValidationError("status",
			fmt.Sprintf("only pending backups can run, %s is %s", rec.ID, rec.Status), rec.Status)
	}

	if err := h.transition(catalog.StatusRunning, func(r *catalog.BackupRecord) {}); err != nil {
		return nil, err
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	res, runErr := runner.Run(ctx, tool.Request{
		Database: rec.Database,
		Target:   opts.Target,
		Tables:   opts.Tables,
		Args:     opts.Args,
	})
	if runErr != nil || res.ExitCode != 0 {
		detail := failureDetail(ctx, res, runErr)
		c.Fail(h, detail)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return h.Record(), fmt.Errorf("backup %s: %w", rec.ID, tool.ErrTimeout)
		}
		if runErr != nil {
			return h.Record(), fmt.Errorf("backup %s: %w", rec.ID, runErr)
		}
		return h.Record(), fmt.Errorf("backup %s: %w: exit code %d", rec.ID, tool.ErrToolFailure, res.ExitCode)
	}

	// Never report success for an artifact that cannot be verified to exist
	// and be non-empty.
	if err := tool.VerifyArtifact(res.ArtifactPath); err != nil {
		c.Fail(h, fmt.Sprintf("artifact verification failed: %v", err))
		return h.Record(), fmt.Errorf("backup %s: %w", rec.ID, err)
	}

	location := res.ArtifactPath
	if c.opts.Compress {
		compressed, err := tool.CompressZstd(location)
		if err != nil {
			c.Fail(h, fmt.Sprintf("compress artifact: %v", err))
			return h.Record(), fmt.Errorf("backup %s: %w", rec.ID, err)
		}
		location = compressed
	}

	stats := &catalog.Statistics{
		TotalTables:        len(opts.Tables),
		TotalSizeBytes:     res.BytesWritten,
		TotalRowsProcessed: res.RowsProcessed,
	}
	if err := c.Complete(h, location, stats); err != nil {
		return h.Record(), err
	}
	return h.Record(), nil
}

// failureDetail builds the human-readable errorDetail for a failed run,
// preserving the tool's stderr excerpt.
func failureDetail(ctx context.Context, res tool.Result, runErr error) string {
	var reason string
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = "cancelled: timeout expired"
	case errors.Is(ctx.Err(), context.Canceled):
		reason = "cancelled by caller"
	case runErr != nil:
		reason = runErr.Error()
	default:
		reason = fmt.Sprintf("external tool exited with code %d", res.ExitCode)
	}
	if res.StderrExcerpt != "" {
		reason = fmt.Sprintf("%s; stderr: %s", reason, res.StderrExcerpt)
	}
	return reason
}

// transition persists a status change. A storage failure leaves the
// in-memory record untouched and propagates unchanged: the record's durable
// state is unknown, not failed.
func (h *Handle) transition(to catalog.BackupStatus, mutate func(*catalog.BackupRecord)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.rec.Clone()
	next.Status = to
	mutate(next)
	if err := h.ctrl.store.Put(next); err != nil {
		return err
	}
	h.rec = next
	return nil
}

// Complete transitions running -> completed. It is idempotent: a second call
// with identical arguments (a crash-recovery replay) is a no-op.
func (c *Controller) Complete(h *Handle, location string, stats *catalog.Statistics) error {
	h.mu.Lock()
	cur := h.rec
	if cur.Status == catalog.StatusCompleted {
		same := cur.Location == location &&
			(cur.Statistics == nil) == (stats == nil) &&
			(cur.Statistics == nil || *cur.Statistics == *stats)
		h.mu.Unlock()
		if same {
			return nil
		}
		return catalog.NewValidationError("status",
			"backup already completed with different results", cur.ID)
	}
	if cur.Status != catalog.StatusRunning {
		h.mu.Unlock()
		return catalog.NewValidationError("status",
			fmt.Sprintf("cannot complete a %s backup", cur.Status), cur.ID)
	}
	h.mu.Unlock()

	err := h.transition(catalog.StatusCompleted, func(r *catalog.BackupRecord) {
		r.FinishedAt = c.now().UTC()
		r.Location = location
		r.Statistics = stats
	})
	if err != nil {
		return err
	}

	c.unregister(h.ID())
	c.locks.Release(h.Record().Database)
	c.refreshChainSummary(h.Record())
	c.log.Info("backup completed",
		"id", h.ID(),
		"database", h.Record().Database,
		"location", location,
	)
	return nil
}

// Fail transitions to failed, preserving any statistics gathered so far. It
// never propagates bookkeeping errors: the primary operation has already
// failed and bookkeeping must not mask the real cause.
func (c *Controller) Fail(h *Handle, errorDetail string) {
	h.mu.Lock()
	if h.rec.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if errorDetail == "" {
		errorDetail = "backup failed with no detail recorded"
	}
	err := h.transition(catalog.StatusFailed, func(r *catalog.BackupRecord) {
		r.FinishedAt = c.now().UTC()
		r.ErrorDetail = errorDetail
	})
	if err != nil {
		c.log.Error("failed to record backup failure",
			"id", h.ID(),
			"error", err.Error(),
		)
	}
	c.unregister(h.ID())
	c.locks.Release(h.Record().Database)
	c.log.Warn("backup failed",
		"id", h.ID(),
		"database", h.Record().Database,
		"detail", errorDetail,
	)
}

// refreshChainSummary regenerates the integrity file of the chain the record
// belongs to. Summary writes are best-effort bookkeeping for external restore
// tooling; failures are logged, not propagated.
func (c *Controller) refreshChainSummary(rec *catalog.BackupRecord) {
	graph, err := c.buildGraph(rec.Database)
	if err != nil {
		c.log.Warn("chain summary skipped", "database", rec.Database, "error", err.Error())
		return
	}
	for _, chain := range graph.Chains() {
		for _, member := range chain.Members {
			if member.Record.ID != rec.ID {
				continue
			}
			sum := catalog.SummarizeChain(chain, rec.Database, c.now())
			if err := c.store.WriteChainSummary(sum); err != nil {
				c.log.Warn("chain summary write failed",
					"root", sum.RootID,
					"error", err.Error(),
				)
			}
			return
		}
	}
}

func (c *Controller) buildGraph(database string) (*catalog.Graph, error) {
	records, err := c.store.ListByDatabase(database)
	if err != nil {
		return nil, err
	}
	index, err := c.store.Index(database)
	if err != nil {
		return nil, err
	}
	return catalog.BuildGraph(database, records, index,
		catalog.WithActiveHandles(c.ActiveIDs())), nil
}
