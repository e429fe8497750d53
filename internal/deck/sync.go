package deck

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/knol"
	"github.com/conorfennell/recall/internal/storage"
)

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Notes     int           `json:"notes"`
	Entries   int           `json:"entries"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Recreated int           `json:"recreated"`
	Hidden    int           `json:"hidden"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// SyncOp is a handle on a running sync. Callers that arrive while it runs
// share it instead of starting another pass.
type SyncOp struct {
	m    *Manager
	done chan struct{}

	mu     sync.Mutex
	want   string
	report SyncReport
	err    error
}

// Want records the deck the caller will look at once the sync finishes.
// The latest call wins.
func (op *SyncOp) Want(deckName string) {
	op.mu.Lock()
	op.want = deckName
	op.mu.Unlock()
}

// Done is closed when the sync has finished.
func (op *SyncOp) Done() <-chan struct{} {
	return op.done
}

// Wait blocks until the sync finishes or ctx is done, then returns the
// refreshed snapshot of the wanted deck (nil when none was wanted). Giving
// up on ctx does not stop the sync.
func (op *SyncOp) Wait(ctx context.Context) (*Deck, error) {
	select {
	case <-op.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	op.mu.Lock()
	want, err := op.want, op.err
	op.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if want == "" {
		return nil, nil
	}
	d, ok := op.m.Deck(want)
	if !ok {
		return nil, fmt.Errorf("%q: %w", want, storage.ErrDeckNotFound)
	}
	return d, nil
}

// Report returns the pass summary. It is only complete once Done is closed.
func (op *SyncOp) Report() SyncReport {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.report
}

// StartSync starts a sync, or returns the one already running. The sync
// runs to completion even if ctx is cancelled.
func (m *Manager) StartSync(ctx context.Context) *SyncOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight != nil {
		return m.inflight
	}

	op := &SyncOp{m: m, done: make(chan struct{})}
	m.inflight = op
	go func() {
		report, err := m.runSync(context.WithoutCancel(ctx))
		op.mu.Lock()
		op.report, op.err = report, err
		op.mu.Unlock()

		m.mu.Lock()
		m.inflight = nil
		m.mu.Unlock()
		close(op.done)
	}()
	return op
}

// Sync starts or joins a sync and waits for it.
func (m *Manager) Sync(ctx context.Context) (SyncReport, error) {
	op := m.StartSync(ctx)
	_, err := op.Wait(ctx)
	return op.Report(), err
}

type pass struct {
	m      *Manager
	now    time.Time
	report SyncReport
	known  map[string]*domain.Memory
	seen   map[string]bool
	// unreadable records exist but could not be decoded. They are never
	// overwritten by a sync.
	unreadable map[string]bool
	// failedNotes could not be read; their records keep their visibility.
	failedNotes map[string]bool
}

func (m *Manager) runSync(ctx context.Context) (SyncReport, error) {
	start := m.now()
	m.logger.Info("Starting sync")

	mems, err := m.memory.AllMemories(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to load cards: %w", err)
	}
	ids, err := m.memory.Store().List(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to list cards: %w", err)
	}
	notes, err := m.notes.Notes(ctx)
	if err != nil {
		return SyncReport{}, err
	}

	p := &pass{
		m:           m,
		now:         start,
		known:       make(map[string]*domain.Memory, len(mems)),
		seen:        make(map[string]bool),
		unreadable:  make(map[string]bool),
		failedNotes: make(map[string]bool),
	}
	for _, mem := range mems {
		p.known[mem.ID] = mem
	}
	for _, id := range ids {
		if _, ok := p.known[id]; !ok {
			p.unreadable[id] = true
		}
	}

	p.report.Notes = len(notes)
	for _, note := range notes {
		p.syncNote(ctx, note)
	}
	p.hideUnseen(ctx)

	if err := m.PopulateDecks(ctx); err != nil {
		m.logger.Error("Failed to rebuild decks after sync", "error", err)
		p.report.Duration = m.now().Sub(start)
		return p.report, err
	}

	p.report.Duration = m.now().Sub(start)
	m.logger.Info("Sync complete",
		"notes", p.report.Notes,
		"entries", p.report.Entries,
		"created", p.report.Created,
		"updated", p.report.Updated,
		"recreated", p.report.Recreated,
		"hidden", p.report.Hidden,
		"failed", p.report.Failed,
		"dry_run", m.dryRun,
	)
	return p.report, nil
}

// syncNote reconciles the entries of one note. New entries get ids embedded
// from the highest line down, so earlier embeds never move a later target.
// Extraction and embedding run inside one note edit, so the ids always land
// in the content actually on disk.
func (p *pass) syncNote(ctx context.Context, note string) {
	log := p.m.logger.With("path", note)

	var (
		read     bool
		entries  []domain.Entry
		embedded []domain.Entry
		failed   int
	)
	err := p.m.notes.Edit(note, func(content string) (string, error) {
		read = true
		entries = p.m.extractor.Extract(content, note)
		embedded, failed = nil, 0

		var fresh []domain.Entry
		for _, e := range entries {
			if e.IsNew {
				e.ID = p.newID()
				fresh = append(fresh, e)
			}
		}
		slices.SortStableFunc(fresh, func(a, b domain.Entry) int {
			return cmp.Compare(*b.LineToAddID, *a.LineToAddID)
		})

		updated := content
		for _, e := range fresh {
			next, err := p.m.extractor.EmbedID(updated, e)
			if err != nil {
				log.Warn("Failed to embed card id", "id", e.ID, "line", *e.LineToAddID, "error", err)
				failed++
				continue
			}
			updated = next
			embedded = append(embedded, e)
		}
		return updated, nil
	})
	if !read {
		log.Warn("Failed to read note", "error", err)
		p.failedNotes[note] = true
		p.report.Failed++
		return
	}

	p.report.Entries += len(entries)
	p.report.Failed += failed
	for _, e := range entries {
		if !e.IsNew {
			p.syncExisting(ctx, e)
		}
	}
	if err != nil {
		log.Warn("Failed to write card ids into note", "error", err)
		p.report.Failed += len(embedded)
		return
	}

	for _, e := range embedded {
		p.seen[e.ID] = true
		e.IsNew = false
		e.LineToAddID = nil
		if err := p.create(ctx, e); err != nil {
			log.Warn("Failed to create card record", "id", e.ID, "error", err)
			p.report.Failed++
			continue
		}
		p.report.Created++
	}
}

func (p *pass) syncExisting(ctx context.Context, e domain.Entry) {
	log := p.m.logger.With("path", e.Path, "id", e.ID)
	if p.seen[e.ID] {
		log.Warn("Card id appears more than once; keeping the first")
		p.report.Failed++
		return
	}
	p.seen[e.ID] = true

	if p.unreadable[e.ID] {
		log.Warn("Card record is unreadable, leaving it alone")
		p.report.Failed++
		return
	}
	if _, ok := p.known[e.ID]; !ok {
		// The note carries an id whose record is gone. Start it over.
		log.Warn("Card record missing, recreating it without review history")
		if err := p.create(ctx, e); err != nil {
			log.Warn("Failed to recreate card record", "error", err)
			p.report.Failed++
			return
		}
		p.report.Recreated++
		return
	}

	changed, err := p.update(ctx, e.ID, &e, true)
	if err != nil {
		log.Warn("Failed to update card record", "error", err)
		p.report.Failed++
		return
	}
	if changed {
		p.report.Updated++
	}
}

// hideUnseen soft-hides every record whose card was not found in this pass.
// Records of notes that could not be read are left alone.
func (p *pass) hideUnseen(ctx context.Context) {
	for id, mem := range p.known {
		if p.seen[id] || !mem.IsShown || p.failedNotes[mem.Card.Path] {
			continue
		}
		changed, err := p.update(ctx, id, nil, false)
		if err != nil {
			p.m.logger.Warn("Failed to hide card record", "id", id, "error", err)
			p.report.Failed++
			continue
		}
		if changed {
			p.report.Hidden++
		}
	}
}

func (p *pass) newID() string {
	for {
		id := knol.NewID()
		if _, taken := p.known[id]; !taken && !p.seen[id] && !p.unreadable[id] {
			return id
		}
	}
}

func (p *pass) create(ctx context.Context, e domain.Entry) error {
	card := domain.NewCard(e, p.now)
	if p.m.dryRun {
		return nil
	}
	_, err := p.m.memory.CreateMemory(ctx, card, true)
	return err
}

func (p *pass) update(ctx context.Context, id string, e *domain.Entry, shown bool) (bool, error) {
	if p.m.dryRun {
		mem := p.known[id]
		if mem == nil {
			return false, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
		}
		if mem.IsShown != shown {
			return true, nil
		}
		if e == nil {
			return false, nil
		}
		return knol.Hash(mem.Card.Entry) != knol.Hash(*e) || mem.Card.EntryType != e.EntryType, nil
	}
	changed, err := p.m.memory.UpdateMemoryContent(ctx, id, e, &shown)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("record vanished during sync: %w", err)
	}
	return changed, err
}
