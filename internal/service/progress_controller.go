package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dsaroadmap/internal/models"
	"dsaroadmap/internal/observability"
	"dsaroadmap/internal/stats"
)

// DefaultNoteDebounce is the quiet period before a note edit is written.
const DefaultNoteDebounce = time.Second

// State is the controller lifecycle.
type State int

const (
	StateUnloaded State = iota // nobody signed in
	StateLoading               // identity present, snapshot fetch in flight
	StateReady                 // snapshot available, mutators allowed
	StateFailed                // identity present, last fetch failed; Reload retries
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome tells what happened to an optimistic mutation.
type Outcome int

const (
	// OutcomeRejected means nothing was applied, locally or remotely.
	OutcomeRejected Outcome = iota
	// OutcomeApplied means the local change stands (and was stored, for toggles).
	OutcomeApplied
	// OutcomeReverted means the store refused the write and the local change was undone.
	OutcomeReverted
	// OutcomeRetained means the write failed but the local change was kept.
	OutcomeRetained
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeApplied:
		return "applied"
	case OutcomeReverted:
		return "reverted"
	case OutcomeRetained:
		return "retained"
	}
	return "unknown"
}

// MutationResult is returned by every controller mutator.
type MutationResult struct {
	Outcome Outcome
	Err     error
}

// Identity is the signed-in user the controller works for.
type Identity struct {
	UserID string
	Email  string
}

// ControllerOptions configures a ProgressController. Zero values get defaults.
type ControllerOptions struct {
	Notifier     Notifier
	Logger       *slog.Logger
	NoteDebounce time.Duration
	Now          func() time.Time
}

type pendingNote struct {
	dayID  string
	text   string
	userID string
	epoch  uint64
	seq    uint64 // edit order; higher is newer
	timer  *time.Timer
}

// ProgressController owns the progress snapshot of the signed-in user. Every
// change is applied locally first and then written through the store; failed
// toggles are reconciled by reloading, failed note writes keep the local text.
type ProgressController struct {
	store    ProgressStore
	notifier Notifier
	logger   *slog.Logger
	debounce time.Duration
	now      func() time.Time

	mu            sync.RWMutex
	identity      *Identity
	state         State
	epoch         uint64
	progress      models.UserProgress
	lastErr       error
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	pending       map[string]*pendingNote
	writing       map[*pendingNote]chan struct{}
	noteSeq       uint64
}

// NewProgressController creates a controller with nobody signed in.
func NewProgressController(store ProgressStore, opts ControllerOptions) *ProgressController {
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(Notification) {})
	}
	if opts.Logger == nil {
		opts.Logger = observability.Logger()
	}
	if opts.NoteDebounce <= 0 {
		opts.NoteDebounce = DefaultNoteDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ProgressController{
		store:    store,
		notifier: opts.Notifier,
		logger:   opts.Logger.With("component", "progress_controller"),
		debounce: opts.NoteDebounce,
		now:      opts.Now,
		state:    StateUnloaded,
		progress: models.EmptyProgress(),
		pending:  make(map[string]*pendingNote),
		writing:  make(map[*pendingNote]chan struct{}),
	}
}

// SetIdentity switches the controller to id, or signs it out when id is nil.
// A new identity replaces the snapshot wholesale with a fresh load; the same
// identity again is a no-op unless the previous load failed.
func (c *ProgressController) SetIdentity(ctx context.Context, id *Identity) error {
	c.mu.Lock()
	if id != nil && c.identity != nil && c.identity.UserID == id.UserID {
		ident := *id
		c.identity = &ident
		failed := c.state == StateFailed
		c.mu.Unlock()
		if failed {
			return c.Reload(ctx)
		}
		return nil
	}

	c.teardownLocked()
	if id == nil || id.UserID == "" {
		c.mu.Unlock()
		return nil
	}

	ident := *id
	c.identity = &ident
	c.state = StateLoading
	c.sessionCtx, c.cancelSession = context.WithCancel(context.Background())
	epoch := c.epoch
	c.mu.Unlock()

	c.logger.Debug("loading progress", "user_id", ident.UserID)
	return c.load(ctx, ident.UserID, epoch)
}

// HandleAuthEvent adapts an identity change notification. USER_UPDATED only
// refreshes the identity that is already signed in.
func (c *ProgressController) HandleAuthEvent(ctx context.Context, event AuthEvent, session *Session) error {
	if event == EventSignedOut || session == nil || session.User == nil {
		return c.SetIdentity(ctx, nil)
	}
	if event == EventUserUpdated {
		current := c.Identity()
		if current == nil || current.UserID != session.User.ID {
			return nil
		}
	}
	return c.SetIdentity(ctx, &Identity{UserID: session.User.ID, Email: session.User.Email})
}

// Close signs out locally, dropping unsent notes. Call FlushNotes first to keep them.
func (c *ProgressController) Close() {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
}

// teardownLocked invalidates everything tied to the current identity.
func (c *ProgressController) teardownLocked() {
	c.epoch++
	c.cancelPendingLocked()
	if c.cancelSession != nil {
		c.cancelSession()
	}
	c.sessionCtx = nil
	c.cancelSession = nil
	c.identity = nil
	c.state = StateUnloaded
	c.progress = models.EmptyProgress()
	c.lastErr = nil
}

func (c *ProgressController) cancelPendingLocked() {
	for dayID, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, dayID)
	}
}

// Reload replaces the snapshot with a fresh load for the current identity.
func (c *ProgressController) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.identity == nil {
		c.mu.Unlock()
		return ErrAuthRequired
	}
	userID, epoch := c.identity.UserID, c.epoch
	if c.state != StateReady {
		c.state = StateLoading
	}
	c.mu.Unlock()
	return c.load(ctx, userID, epoch)
}

func (c *ProgressController) load(ctx context.Context, userID string, epoch uint64) error {
	progress, err := c.store.LoadAll(ctx, userID)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding stale load", "user_id", userID)
		return nil
	}
	if err != nil {
		c.lastErr = err
		if c.state != StateReady {
			c.state = StateFailed
		}
		c.mu.Unlock()
		c.logger.Error("failed to load progress", "user_id", userID, "error", err)
		c.notify(NotifyError, UserMessage(err))
		return err
	}
	c.overlayPendingLocked(&progress)
	c.progress = progress
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

// overlayPendingLocked keeps note edits that are queued or still being
// written visible across a reload. The newest edit of each day wins.
func (c *ProgressController) overlayPendingLocked(p *models.UserProgress) {
	latest := make(map[string]*pendingNote)
	keep := func(entry *pendingNote) {
		if entry.epoch != c.epoch {
			return
		}
		if cur := latest[entry.dayID]; cur == nil || entry.seq > cur.seq {
			latest[entry.dayID] = entry
		}
	}
	for entry := range c.writing {
		keep(entry)
	}
	for _, entry := range c.pending {
		keep(entry)
	}
	for dayID, entry := range latest {
		p.Notes[dayID] = entry.text
	}
}

func (c *ProgressController) checkReadyLocked() (string, uint64, error) {
	if c.identity == nil {
		return "", 0, ErrAuthRequired
	}
	if c.state != StateReady {
		return "", 0, ErrNotReady
	}
	return c.identity.UserID, c.epoch, nil
}

func (c *ProgressController) reject(err error) MutationResult {
	if errors.Is(err, ErrAuthRequired) {
		c.notify(NotifyAuth, UserMessage(err))
	}
	return MutationResult{Outcome: OutcomeRejected, Err: err}
}

// ToggleTask flips the completion of taskID.
func (c *ProgressController) ToggleTask(ctx context.Context, taskID string) MutationResult {
	c.mu.Lock()
	userID, epoch, err := c.checkReadyLocked()
	if err != nil {
		c.mu.Unlock()
		return c.reject(err)
	}
	prev, was := c.progress.CompletedTasks[taskID]
	if was {
		delete(c.progress.CompletedTasks, taskID)
	} else {
		c.progress.CompletedTasks[taskID] = c.now()
	}
	c.mu.Unlock()

	completed := !was
	err = c.store.SetTaskCompletion(ctx, userID, taskID, completed)
	if IsBenign(err) {
		c.refreshStats(ctx, userID, epoch)
		return MutationResult{Outcome: OutcomeApplied}
	}

	c.report(epoch, "task_id", taskID, err)
	c.reconcile(ctx, userID, epoch, func(p *models.UserProgress) {
		if completed {
			delete(p.CompletedTasks, taskID)
		} else {
			p.CompletedTasks[taskID] = prev
		}
	})
	return MutationResult{Outcome: OutcomeReverted, Err: err}
}

// ToggleSkipDay flips the skip mark of dayID. Completion is not touched.
func (c *ProgressController) ToggleSkipDay(ctx context.Context, dayID string) MutationResult {
	c.mu.Lock()
	userID, epoch, err := c.checkReadyLocked()
	if err != nil {
		c.mu.Unlock()
		return c.reject(err)
	}
	prev, was := c.progress.SkippedDays[dayID]
	if was {
		delete(c.progress.SkippedDays, dayID)
	} else {
		c.progress.SkippedDays[dayID] = c.now()
	}
	c.mu.Unlock()

	skipped := !was
	err = c.store.SetSkipped(ctx, userID, dayID, skipped)
	if IsBenign(err) {
		return MutationResult{Outcome: OutcomeApplied}
	}

	c.report(epoch, "day_id", dayID, err)
	c.reconcile(ctx, userID, epoch, func(p *models.UserProgress) {
		if skipped {
			delete(p.SkippedDays, dayID)
		} else {
			p.SkippedDays[dayID] = prev
		}
	})
	return MutationResult{Outcome: OutcomeReverted, Err: err}
}

// UpdateNote sets the note of dayID locally and schedules the remote write
// after the debounce period. Each edit of the same day restarts its timer, so
// only the last text of a burst is written. Days debounce independently.
func (c *ProgressController) UpdateNote(dayID, text string) MutationResult {
	c.mu.Lock()
	userID, epoch, err := c.checkReadyLocked()
	if err != nil {
		c.mu.Unlock()
		return c.reject(err)
	}
	c.progress.Notes[dayID] = text

	if prev := c.pending[dayID]; prev != nil {
		prev.timer.Stop()
	}
	c.noteSeq++
	entry := &pendingNote{dayID: dayID, text: text, userID: userID, epoch: epoch, seq: c.noteSeq}
	entry.timer = time.AfterFunc(c.debounce, func() { c.fireNote(entry) })
	c.pending[dayID] = entry
	c.mu.Unlock()

	return MutationResult{Outcome: OutcomeApplied}
}

func (c *ProgressController) fireNote(entry *pendingNote) {
	c.mu.Lock()
	if c.pending[entry.dayID] != entry || c.epoch != entry.epoch {
		c.mu.Unlock()
		return
	}
	delete(c.pending, entry.dayID)
	ctx := c.sessionCtx
	prior := c.priorWritesLocked(entry)
	done := make(chan struct{})
	c.writing[entry] = done
	c.mu.Unlock()

	c.writeNote(ctx, entry, prior, done)
}

// priorWritesLocked returns the in-flight writes of older edits of the same
// day. A write must wait for them so an older text never lands last.
func (c *ProgressController) priorWritesLocked(entry *pendingNote) []chan struct{} {
	var prior []chan struct{}
	for other, done := range c.writing {
		if other.dayID == entry.dayID && other.userID == entry.userID && other.seq < entry.seq {
			prior = append(prior, done)
		}
	}
	return prior
}

func (c *ProgressController) writeNote(ctx context.Context, entry *pendingNote, prior []chan struct{}, done chan struct{}) MutationResult {
	defer func() {
		c.mu.Lock()
		delete(c.writing, entry)
		c.mu.Unlock()
		close(done)
	}()

	for _, p := range prior {
		select {
		case <-p:
		case <-ctx.Done():
			c.logger.Debug("note write abandoned", "day_id", entry.dayID, "error", ctx.Err())
			return MutationResult{Outcome: OutcomeRetained, Err: ctx.Err()}
		}
	}

	err := c.store.SetNote(ctx, entry.userID, entry.dayID, entry.text)
	if err == nil {
		return MutationResult{Outcome: OutcomeApplied}
	}
	if ctx.Err() != nil {
		c.logger.Debug("note write abandoned", "day_id", entry.dayID, "error", ctx.Err())
		return MutationResult{Outcome: OutcomeRetained, Err: ctx.Err()}
	}
	c.report(entry.epoch, "day_id", entry.dayID, err)
	return MutationResult{Outcome: OutcomeRetained, Err: err}
}

// FlushNotes writes every pending note now and waits for writes already in
// flight. It returns the joined write errors; the local text is kept either way.
func (c *ProgressController) FlushNotes(ctx context.Context) error {
	c.mu.Lock()
	sessionCtx := c.sessionCtx
	var inflight []chan struct{}
	for _, done := range c.writing {
		inflight = append(inflight, done)
	}
	entries := make([]*pendingNote, 0, len(c.pending))
	priors := make([][]chan struct{}, 0, len(c.pending))
	dones := make([]chan struct{}, 0, len(c.pending))
	for dayID, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, dayID)
		priors = append(priors, c.priorWritesLocked(p))
		done := make(chan struct{})
		c.writing[p] = done
		entries = append(entries, p)
		dones = append(dones, done)
	}
	c.mu.Unlock()

	var errs []error
	if len(entries) > 0 {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		if sessionCtx != nil {
			stop := context.AfterFunc(sessionCtx, cancel)
			defer stop()
		}
		for i, entry := range entries {
			if res := c.writeNote(wctx, entry, priors[i], dones[i]); res.Err != nil {
				errs = append(errs, res.Err)
			}
		}
	}

	for _, done := range inflight {
		select {
		case <-done:
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}

// ResetProgress deletes every record of the signed-in user.
func (c *ProgressController) ResetProgress(ctx context.Context) error {
	c.mu.Lock()
	if c.identity == nil {
		c.mu.Unlock()
		c.reject(ErrAuthRequired)
		return ErrAuthRequired
	}
	userID, epoch := c.identity.UserID, c.epoch
	c.cancelPendingLocked()
	c.mu.Unlock()

	if err := c.store.Reset(ctx, userID); err != nil {
		c.report(epoch, "user_id", userID, err)
		return err
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.progress = models.EmptyProgress()
		c.progress.StartDate = c.now().UTC()
		c.state = StateReady
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.notify(NotifySuccess, "Progress reset")
	return nil
}

// reconcile replaces the snapshot with the store's view after a failed
// write. If the store cannot be read either, undo reverts the optimistic
// change locally.
func (c *ProgressController) reconcile(ctx context.Context, userID string, epoch uint64, undo func(*models.UserProgress)) {
	progress, err := c.store.LoadAll(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	if err != nil {
		c.logger.Warn("reload after failed write failed, reverting locally", "user_id", userID, "error", err)
		undo(&c.progress)
		return
	}
	c.overlayPendingLocked(&progress)
	c.progress = progress
}

// refreshStats pulls the recomputed aggregate row, falling back to a local
// computation when the store cannot provide it.
func (c *ProgressController) refreshStats(ctx context.Context, userID string, epoch uint64) {
	recomputeErr := c.store.RecomputeStreaks(ctx, userID)
	fresh, err := c.store.Stats(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	if recomputeErr != nil || err != nil {
		c.logger.Debug("using local stats", "user_id", userID, "recompute_error", recomputeErr, "error", err)
		fresh = stats.RecomputeCache(c.progress.CompletedTasks, c.now())
	}
	c.progress.Stats = fresh
}

func (c *ProgressController) report(epoch uint64, key, value string, err error) {
	c.mu.Lock()
	if c.epoch == epoch {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.logger.Error("progress write failed", key, value, "kind", string(KindOf(err)), "error", err)
	c.notify(NotifyError, UserMessage(err))
}

func (c *ProgressController) notify(kind NotificationKind, message string) {
	c.notifier.Notify(Notification{Kind: kind, Message: message, Duration: DefaultDuration(kind)})
}

// Snapshot returns a copy of the current progress.
func (c *ProgressController) Snapshot() models.UserProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress.Clone()
}

func (c *ProgressController) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identity returns the signed-in identity, or nil.
func (c *ProgressController) Identity() *Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil
	}
	ident := *c.identity
	return &ident
}

// LastError is the most recent failure for the current identity.
func (c *ProgressController) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// PendingNotes is the number of note writes waiting for their quiet period.
func (c *ProgressController) PendingNotes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}
