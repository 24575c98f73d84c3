// Package postgres implements memory.Store on PostgreSQL via bun. It keeps
// the same sequencing contract as the in-memory store: Append assigns seq
// inside a transaction holding a row lock on the session, so concurrent
// writers serialize at the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/internal/util"
	"github.com/polytool/polytool/logging"
	"github.com/polytool/polytool/memory"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID         string    `bun:"id,pk"`
	Summary    string    `bun:"summary"`
	Created    time.Time `bun:"created,notnull"`
	LastActive time.Time `bun:"last_active,notnull"`
}

type turnRow struct {
	bun.BaseModel `bun:"table:turns,alias:t"`

	ID        int64           `bun:"id,pk,autoincrement"`
	SessionID string          `bun:"session_id,notnull"`
	Seq       int             `bun:"seq,notnull"`
	Role      string          `bun:"role,notnull"`
	Content   string          `bun:"content"`
	ToolCall  json.RawMessage `bun:"tool_call,type:jsonb,nullzero"`
	Timestamp time.Time       `bun:"timestamp,notnull"`
}

type fragmentRow struct {
	bun.BaseModel `bun:"table:fragments,alias:f"`

	ID        string          `bun:"id,pk"`
	SessionID string          `bun:"session_id,notnull"`
	Text      string          `bun:"text"`
	Vector    json.RawMessage `bun:"vector,type:jsonb,nullzero"`
	Tags      []string        `bun:"tags,array"`
	Timestamp time.Time       `bun:"timestamp,notnull"`
	Summary   bool            `bun:"summary"`
}

// Options configure the Postgres store.
type Options struct {
	// FragmentCap and MinRecentWindow carry the same meaning as the
	// in-memory store's options.
	FragmentCap     int
	MinRecentWindow int

	// Embedder, when set, vectorizes fragments at append time.
	Embedder memory.Embedder

	// Summarizer condenses compacted fragment blocks. Defaults to
	// memory.ConcatSummarizer.
	Summarizer memory.Summarizer

	Logger logging.Logger
}

// Store is a memory.Store backed by PostgreSQL.
type Store struct {
	db   *bun.DB
	opts Options
}

var _ memory.Store = (*Store)(nil)

// New opens a connection pool for dsn and wraps it in a Store. Call Init
// once to create the schema.
func New(dsn string, optFns ...func(o *Options)) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return NewFromDB(db, optFns...)
}

// NewFromDB wraps an existing bun.DB.
func NewFromDB(db *bun.DB, optFns ...func(o *Options)) *Store {
	opts := Options{
		FragmentCap:     200,
		MinRecentWindow: 20,
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
		opts.Summarizer = &memory.ConcatSummarizer{}
	}
	return &Store{db: db, opts: opts}
}

// Init creates the tables and indexes if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	models := []any{(*sessionRow)(nil), (*turnRow)(nil), (*fragmentRow)(nil)}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	if _, err := s.db.NewCreateIndex().
		Model((*turnRow)(nil)).
		Index("turns_session_seq_idx").
		Unique().
		Column("session_id", "seq").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewCreateIndex().
		Model((*fragmentRow)(nil)).
		Index("fragments_session_idx").
		Column("session_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Create implements memory.Store.
func (s *Store) Create(ctx context.Context, sessionID string) (*core.Session, error) {
	if sessionID == "" {
		sessionID = util.NewID()
	}
	now := time.Now().UTC()
	row := &sessionRow{ID: sessionID, Created: now, LastActive: now}
	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

// Get implements memory.Store.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var turnRows []turnRow
	if err := s.db.NewSelect().
		Model(&turnRows).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	session := &core.Session{
		ID:         row.ID,
		Summary:    row.Summary,
		Created:    row.Created,
		LastActive: row.LastActive,
		Turns:      make([]core.Turn, 0, len(turnRows)),
	}
	for _, tr := range turnRows {
		turn, err := toTurn(tr)
		if err != nil {
			return nil, err
		}
		session.Turns = append(session.Turns, turn)
	}
	return session, nil
}

// Append implements memory.Store. The session row lock makes concurrent
// appends in one session serialize, which keeps seq gapless.
func (s *Store) Append(ctx context.Context, sessionID string, turn core.Turn) (*core.Turn, error) {
	var committed core.Turn

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var sess sessionRow
		err := tx.NewSelect().Model(&sess).Where("id = ?", sessionID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return memory.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var maxSeq sql.NullInt64
		if err := tx.NewSelect().
			Model((*turnRow)(nil)).
			ColumnExpr("max(seq)").
			Where("session_id = ?", sessionID).
			Scan(ctx, &maxSeq); err != nil {
			return err
		}

		committed = turn.Clone()
		committed.Seq = int(maxSeq.Int64) + 1
		if committed.Timestamp.IsZero() {
			committed.Timestamp = time.Now().UTC()
		}

		row := turnRow{
			SessionID: sessionID,
			Seq:       committed.Seq,
			Role:      string(committed.Role),
			Content:   committed.Content,
			Timestamp: committed.Timestamp,
		}
		if committed.ToolCall != nil {
			raw, err := json.Marshal(committed.ToolCall)
			if err != nil {
				return err
			}
			row.ToolCall = raw
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return err
		}

		if committed.Content != "" {
			frag := fragmentRow{
				ID:        util.NewID(),
				SessionID: sessionID,
				Text:      committed.Content,
				Tags:      []string{string(committed.Role)},
				Timestamp: time.Now().UTC(),
			}
			if s.opts.Embedder != nil {
				if vec, embedErr := s.opts.Embedder.Embed(ctx, committed.Content); embedErr == nil {
					if raw, marshalErr := json.Marshal(vec); marshalErr == nil {
						frag.Vector = raw
					}
				} else {
					s.opts.Logger.Warn("memory.embed.failed", "session_id", sessionID, "error", embedErr)
				}
			}
			if _, err := tx.NewInsert().Model(&frag).Exec(ctx); err != nil {
				return err
			}
		}

		_, err = tx.NewUpdate().
			Model((*sessionRow)(nil)).
			Set("last_active = ?", time.Now().UTC()).
			Where("id = ?", sessionID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &committed, nil
}

// Recent implements memory.Store.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error) {
	if n <= 0 {
		return []core.Turn{}, nil
	}
	if _, err := s.sessionExists(ctx, sessionID); err != nil {
		return nil, err
	}

	var rows []turnRow
	if err := s.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(n).
		Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]core.Turn, len(rows))
	for i, tr := range rows {
		turn, err := toTurn(tr)
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = turn
	}
	return out, nil
}

// Fragments implements memory.Store.
func (s *Store) Fragments(ctx context.Context, sessionID string) ([]core.Fragment, error) {
	if _, err := s.sessionExists(ctx, sessionID); err != nil {
		return nil, err
	}

	var rows []fragmentRow
	if err := s.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]core.Fragment, 0, len(rows))
	for _, fr := range rows {
		frag, err := toFragment(fr)
		if err != nil {
			return nil, err
		}
		out = append(out, frag)
	}
	return out, nil
}

// Compact implements memory.Store with the same folding rule as the
// in-memory store.
func (s *Store) Compact(ctx context.Context, sessionID string) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var sess sessionRow
		err := tx.NewSelect().Model(&sess).Where("id = ?", sessionID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return memory.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var rows []fragmentRow
		if err := tx.NewSelect().
			Model(&rows).
			Where("session_id = ?", sessionID).
			Order("timestamp ASC").
			Scan(ctx); err != nil {
			return err
		}

		n := len(rows)
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

		block := make([]core.Fragment, 0, blockSize)
		ids := make([]string, 0, blockSize)
		for _, fr := range rows[:blockSize] {
			frag, err := toFragment(fr)
			if err != nil {
				return err
			}
			block = append(block, frag)
			ids = append(ids, fr.ID)
		}

		summary, err := s.opts.Summarizer.Summarize(ctx, block)
		if err != nil {
			s.opts.Logger.Warn("memory.compact.summarizer_failed", "session_id", sessionID, "error", err)
			summary, _ = (&memory.ConcatSummarizer{}).Summarize(ctx, block)
		}

		summaryRow := fragmentRow{
			ID:        util.NewID(),
			SessionID: sessionID,
			Text:      summary,
			Tags:      []string{"summary"},
			Timestamp: rows[blockSize-1].Timestamp,
			Summary:   true,
		}
		if s.opts.Embedder != nil {
			if vec, embedErr := s.opts.Embedder.Embed(ctx, summary); embedErr == nil {
				if raw, marshalErr := json.Marshal(vec); marshalErr == nil {
					summaryRow.Vector = raw
				}
			}
		}

		if _, err := tx.NewDelete().
			Model((*fragmentRow)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&summaryRow).Exec(ctx); err != nil {
			return err
		}

		s.opts.Logger.Info("memory.compact.done",
			"session_id", sessionID,
			"folded", blockSize,
			"fragments", n-blockSize+1,
		)
		return nil
	})
}

// ArchiveIdle deletes sessions with no activity since the cutoff and returns
// how many were removed.
func (s *Store) ArchiveIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-idleFor)

	var ids []string
	if err := s.db.NewSelect().
		Model((*sessionRow)(nil)).
		Column("id").
		Where("last_active < ?", cutoff).
		Scan(ctx, &ids); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*turnRow)(nil)).
			Where("session_id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*fragmentRow)(nil)).
			Where("session_id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*sessionRow)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.opts.Logger.Info("memory.session.expired", "session_id", id)
	}
	return len(ids), nil
}

// Sessions returns the number of live sessions.
func (s *Store) Sessions(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*sessionRow)(nil)).Count(ctx)
}

func (s *Store) sessionExists(ctx context.Context, sessionID string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*sessionRow)(nil)).
		Where("id = ?", sessionID).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, memory.ErrSessionNotFound
	}
	return true, nil
}

func toTurn(tr turnRow) (core.Turn, error) {
	turn := core.Turn{
		Seq:       tr.Seq,
		Role:      core.Role(tr.Role),
		Content:   tr.Content,
		Timestamp: tr.Timestamp,
	}
	if len(tr.ToolCall) > 0 {
		var call core.ToolCallDescriptor
		if err := json.Unmarshal(tr.ToolCall, &call); err != nil {
			return core.Turn{}, err
		}
		turn.ToolCall = &call
	}
	return turn, nil
}

func toFragment(fr fragmentRow) (core.Fragment, error) {
	frag := core.Fragment{
		ID:        fr.ID,
		SessionID: fr.SessionID,
		Text:      fr.Text,
		Tags:      fr.Tags,
		Timestamp: fr.Timestamp,
		Summary:   fr.Summary,
	}
	if len(fr.Vector) > 0 {
		if err := json.Unmarshal(fr.Vector, &frag.Vector); err != nil {
			return core.Fragment{}, err
		}
	}
	return frag, nil
}
