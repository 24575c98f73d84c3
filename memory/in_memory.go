package memory

import (
	"context"
	"sync"
	"time"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/internal/util"
	"github.com/polytool/polytool/logging"
)

// InMemoryOptions configure an InMemoryStore.
type InMemoryOptions struct {
	// FragmentCap is the per-session fragment ceiling that triggers
	// compaction. Defaults to 200.
	FragmentCap int

	// MinRecentWindow is the number of newest fragments compaction never
	// touches. Defaults to 20 and is clamped below FragmentCap.
	MinRecentWindow int

	// IdleTimeout expires sessions with no activity. Zero disables the
	// janitor. Defaults to 1 hour.
	IdleTimeout time.Duration

	// JanitorInterval is how often idle sessions are swept. Defaults to
	// one tenth of IdleTimeout.
	JanitorInterval time.Duration

	// Embedder, when set, vectorizes fragments at append time. Embedding
	// failures are logged and the fragment is stored without a vector.
	Embedder Embedder

	// Summarizer condenses compacted fragment blocks. Defaults to
	// ConcatSummarizer.
	Summarizer Summarizer

	Logger logging.Logger
}

type sessionRecord struct {
	mu        sync.Mutex
	session   core.Session
	fragments []core.Fragment
}

// InMemoryStore is the default Store, backed by process memory. Each session
// record carries its own mutex so appends in different sessions never
// contend with each other.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord

	opts InMemoryOptions

	closeOnce sync.Once
	closed    chan struct{}
	janitorWG sync.WaitGroup
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a store and starts its idle-session janitor when
// IdleTimeout is non-zero. Call Close to stop the janitor.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{
		FragmentCap:     200,
		MinRecentWindow: 20,
		IdleTimeout:     time.Hour,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FragmentCap < 2 {
		opts.FragmentCap = 2
	}
	if opts.MinRecentWindow < 1 {
		opts.MinRecentWindow = 1
	}
	if opts.MinRecentWindow >= opts.FragmentCap {
		opts.MinRecentWindow = opts.FragmentCap - 1
	}
	if opts.Summarizer == nil {
		opts.Summarizer = &ConcatSummarizer{}
	}
	if opts.JanitorInterval <= 0 && opts.IdleTimeout > 0 {
		opts.JanitorInterval = opts.IdleTimeout / 10
	}

	s := &InMemoryStore{
		sessions: make(map[string]*sessionRecord),
		opts:     opts,
		closed:   make(chan struct{}),
	}
	if opts.IdleTimeout > 0 {
		s.janitorWG.Add(1)
		go s.janitor()
	}
	return s
}

// Close stops the janitor goroutine.
func (s *InMemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.janitorWG.Wait()
	return nil
}

// Create implements Store.
func (s *InMemoryStore) Create(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = util.NewID()
	}

	s.mu.Lock()
	rec, exists := s.sessions[sessionID]
	if !exists {
		rec = &sessionRecord{session: *core.NewSession(sessionID)}
		s.sessions[sessionID] = rec
	}
	s.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	session := rec.session.Clone()
	return session, nil
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session.Clone(), nil
}

// Append implements Store. The sequence number is assigned while holding the
// session lock, so concurrent appenders serialize and no number repeats.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, turn core.Turn) (*core.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	fragment := s.buildFragment(ctx, sessionID, turn)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	turn.Seq = rec.session.NextSeq()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	rec.session.Turns = append(rec.session.Turns, turn.Clone())
	rec.session.LastActive = time.Now().UTC()
	if fragment != nil {
		rec.fragments = append(rec.fragments, *fragment)
	}

	committed := turn.Clone()
	return &committed, nil
}

func (s *InMemoryStore) buildFragment(ctx context.Context, sessionID string, turn core.Turn) *core.Fragment {
	if turn.Content == "" {
		return nil
	}
	fragment := &core.Fragment{
		ID:        util.NewID(),
		SessionID: sessionID,
		Text:      turn.Content,
		Tags:      []string{string(turn.Role)},
		Timestamp: time.Now().UTC(),
	}
	if s.opts.Embedder != nil {
		vec, err := s.opts.Embedder.Embed(ctx, turn.Content)
		if err != nil {
			s.opts.Logger.Warn("memory.embed.failed", "session_id", sessionID, "error", err)
		} else {
			fragment.Vector = vec
		}
	}
	return fragment
}

// Recent implements Store.
func (s *InMemoryStore) Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session.Recent(n), nil
}

// Fragments implements Store.
func (s *InMemoryStore) Fragments(ctx context.Context, sessionID string) ([]core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.Fragment, len(rec.fragments))
	for i := range rec.fragments {
		out[i] = rec.fragments[i].Clone()
	}
	return out, nil
}

// Compact implements Store. When the fragment count exceeds the cap, the
// oldest overflow+1 fragments outside the recent window are replaced by one
// summary fragment, bringing the count back to the cap exactly.
func (s *InMemoryStore) Compact(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := s.record(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	n := len(rec.fragments)
	overflow := n - s.opts.FragmentCap
	if overflow <= 0 {
		return nil
	}

	blockSize := overflow + 1
	if max := n - s.opts.MinRecentWindow; blockSize > max {
		blockSize = max
	}
	if blockSize < 2 {
		return nil
	}

	block := rec.fragments[:blockSize]
	summary, err := s.opts.Summarizer.Summarize(ctx, block)
	if err != nil {
		s.opts.Logger.Warn("memory.compact.summarizer_failed", "session_id", sessionID, "error", err)
		summary, _ = (&ConcatSummarizer{}).Summarize(ctx, block)
	}

	summaryFragment := core.Fragment{
		ID:        util.NewID(),
		SessionID: sessionID,
		Text:      summary,
		Tags:      []string{"summary"},
		Timestamp: block[len(block)-1].Timestamp,
		Summary:   true,
	}
	if s.opts.Embedder != nil {
		if vec, embedErr := s.opts.Embedder.Embed(ctx, summary); embedErr == nil {
			summaryFragment.Vector = vec
		}
	}

	compacted := make([]core.Fragment, 0, n-blockSize+1)
	compacted = append(compacted, summaryFragment)
	compacted = append(compacted, rec.fragments[blockSize:]...)
	rec.fragments = compacted

	s.opts.Logger.Info("memory.compact.done",
		"session_id", sessionID,
		"folded", blockSize,
		"fragments", len(rec.fragments),
	)
	return nil
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *InMemoryStore) record(sessionID string) (*sessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) janitor() {
	defer s.janitorWG.Done()
	ticker := time.NewTicker(s.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.sweepIdle()
		}
	}
}

func (s *InMemoryStore) sweepIdle() {
	cutoff := time.Now().UTC().Add(-s.opts.IdleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.sessions {
		rec.mu.Lock()
		idle := rec.session.LastActive.Before(cutoff)
		rec.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			s.opts.Logger.Info("memory.session.expired", "session_id", id)
		}
	}
}
