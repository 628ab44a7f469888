package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"
	"lukechampine.com/blake3"

	"mvault/core/events"
	"mvault/core/types"
)

// Storage is the vaultd journal: every committed engine event plus the price
// samples and rounds handled by the keeper.
type Storage struct {
	db *sql.DB
	// mu serialises appends so each entry chains onto the previous digest.
	mu sync.Mutex
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("vaultd journal path must be configured")
	// ErrNotFound is returned when a lookup has no matching row.
	ErrNotFound = errors.New("journal record not found")
	// ErrChainBroken is returned by VerifyChain when a digest does not match.
	ErrChainBroken = errors.New("journal digest chain broken")
)

// Open initialises the backing store using sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS journal_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    vault TEXT NOT NULL,
    attributes TEXT NOT NULL,
    digest TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(type, id);
CREATE INDEX IF NOT EXISTS idx_journal_events_vault ON journal_events(vault, id);

CREATE TABLE IF NOT EXISTS keeper_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    aggregator TEXT NOT NULL,
    source TEXT NOT NULL,
    answer TEXT NOT NULL,
    observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_keeper_samples_agg ON keeper_samples(aggregator, observed_at);

CREATE TABLE IF NOT EXISTS keeper_rounds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    aggregator TEXT NOT NULL,
    answer TEXT NOT NULL,
    sources TEXT NOT NULL,
    accepted INTEGER NOT NULL,
    error TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_keeper_rounds_agg ON keeper_rounds(aggregator, id);
`

// Entry is one journaled event.
type Entry struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Vault      string            `json:"vault,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// chainDigest binds an entry to its predecessor.
func chainDigest(prev, eventType, attrs string, recordedAt int64) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attrs))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", recordedAt)))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Storage) lastDigest(ctx context.Context, tx *sql.Tx) (string, error) {
	var digest string
	err := tx.QueryRowContext(ctx, `SELECT digest FROM journal_events ORDER BY id DESC LIMIT 1`).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last digest: %w", err)
	}
	return digest, nil
}

// AppendEvent journals evt and returns the stored entry.
func (s *Storage) AppendEvent(ctx context.Context, evt *types.Event, at time.Time) (Entry, error) {
	if s == nil {
		return Entry{}, fmt.Errorf("storage not configured")
	}
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return Entry{}, fmt.Errorf("event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	// encoding/json sorts map keys, which keeps digests reproducible.
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Entry{}, fmt.Errorf("encode attributes: %w", err)
	}
	recorded := at.UTC().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	prev, err := s.lastDigest(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	digest := chainDigest(prev, evt.Type, string(encoded), recorded)
	result, err := tx.ExecContext(ctx, `
        INSERT INTO journal_events(type, vault, attributes, digest, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, evt.Type, strings.ToLower(evt.Vault()), string(encoded), digest, recorded)
	if err != nil {
		return Entry{}, fmt.Errorf("insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit: %w", err)
	}
	return Entry{
		ID:         id,
		Type:       evt.Type,
		Vault:      evt.Vault(),
		Attributes: attrs,
		Digest:     digest,
		RecordedAt: time.Unix(0, recorded).UTC(),
	}, nil
}

// EventFilter narrows ListEvents. Zero values match everything; Limit
// defaults to 100 and is capped at 1000.
type EventFilter struct {
	Type    string
	Prefix  string
	Vault   string
	AfterID int64
	Limit   int
}

// ListEvents returns journaled events in insertion order.
func (s *Storage) ListEvents(ctx context.Context, filter EventFilter) ([]Entry, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	clauses := []string{"id > ?"}
	args := []any{filter.AfterID}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Prefix != "" {
		clauses = append(clauses, "type LIKE ?")
		args = append(args, filter.Prefix+"%")
	}
	if filter.Vault != "" {
		clauses = append(clauses, "vault = ?")
		args = append(args, strings.ToLower(filter.Vault))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, type, attributes, digest, recorded_at
        FROM journal_events
        WHERE `+strings.Join(clauses, " AND ")+`
        ORDER BY id ASC
        LIMIT ?
    `, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry    Entry
		attrs    string
		recorded int64
	)
	if err := row.Scan(&entry.ID, &entry.Type, &attrs, &entry.Digest, &recorded); err != nil {
		return entry, fmt.Errorf("scan event: %w", err)
	}
	entry.Attributes = map[string]string{}
	if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
		return entry, fmt.Errorf("decode attributes: %w", err)
	}
	entry.Vault = entry.Attributes["vault"]
	entry.RecordedAt = time.Unix(0, recorded).UTC()
	return entry, nil
}

// VerifyChain recomputes every digest and returns the number of entries
// checked.
func (s *Storage) VerifyChain(ctx context.Context) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, type, attributes, digest, recorded_at
        FROM journal_events
        ORDER BY id ASC
    `)
	if err != nil {
		return 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	prev := ""
	count := 0
	for rows.Next() {
		var (
			id       int64
			typ      string
			attrs    string
			digest   string
			recorded int64
		)
		if err := rows.Scan(&id, &typ, &attrs, &digest, &recorded); err != nil {
			return count, fmt.Errorf("scan event: %w", err)
		}
		if chainDigest(prev, typ, attrs, recorded) != digest {
			return count, fmt.Errorf("%w at entry %d", ErrChainBroken, id)
		}
		prev = digest
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("iterate events: %w", err)
	}
	return count, nil
}

// Sample is one answer reported by a keeper source.
type Sample struct {
	Aggregator string    `json:"aggregator"`
	Source     string    `json:"source"`
	Answer     string    `json:"answer"`
	ObservedAt time.Time `json:"observedAt"`
}

// RecordSample persists a raw keeper sample.
func (s *Storage) RecordSample(ctx context.Context, sample Sample) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(sample.Answer) == "" {
		return fmt.Errorf("sample missing answer")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO keeper_samples(aggregator, source, answer, observed_at)
        VALUES(?, ?, ?, ?)
    `, sample.Aggregator, strings.ToLower(sample.Source), sample.Answer, sample.ObservedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit samples for aggregator, newest first.
func (s *Storage) RecentSamples(ctx context.Context, aggregator string, limit int) ([]Sample, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT aggregator, source, answer, observed_at
        FROM keeper_samples
        WHERE aggregator = ?
        ORDER BY id DESC
        LIMIT ?
    `, aggregator, limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			sample   Sample
			observed int64
		)
		if err := rows.Scan(&sample.Aggregator, &sample.Source, &sample.Answer, &observed); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.ObservedAt = time.Unix(observed, 0).UTC()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}

// Round is the outcome of one keeper submission.
type Round struct {
	Aggregator string    `json:"aggregator"`
	Answer     string    `json:"answer"`
	Sources    []string  `json:"sources"`
	Accepted   bool      `json:"accepted"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// RecordRound stores a keeper submission outcome.
func (s *Storage) RecordRound(ctx context.Context, round Round) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	accepted := 0
	if round.Accepted {
		accepted = 1
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO keeper_rounds(aggregator, answer, sources, accepted, error, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, round.Aggregator, round.Answer, strings.Join(round.Sources, ","), accepted, round.Error, round.RecordedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// LatestRound returns the most recent keeper submission for aggregator.
func (s *Storage) LatestRound(ctx context.Context, aggregator string) (Round, error) {
	result := Round{Aggregator: aggregator}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT answer, sources, accepted, error, recorded_at
        FROM keeper_rounds
        WHERE aggregator = ?
        ORDER BY id DESC
        LIMIT 1
    `, aggregator)
	var (
		sources  string
		accepted int
		recorded int64
	)
	if err := row.Scan(&result.Answer, &sources, &accepted, &result.Error, &recorded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("query round: %w", err)
	}
	if sources != "" {
		result.Sources = strings.Split(sources, ",")
	}
	result.Accepted = accepted == 1
	result.RecordedAt = time.Unix(recorded, 0).UTC()
	return result, nil
}

// Emitter journals every event it receives. Failures are logged and do not
// reach the engines, whose state has already been committed.
type Emitter struct {
	store  *Storage
	logger *log.Logger
	now    func() time.Time
}

// NewEmitter builds a journaling emitter over store.
func NewEmitter(store *Storage, logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.Default()
	}
	return &Emitter{store: store, logger: logger, now: time.Now}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(evt events.Event) {
	if e == nil || e.store == nil || evt == nil {
		return
	}
	if _, err := e.store.AppendEvent(context.Background(), events.Render(evt), e.now()); err != nil {
		e.logger.Printf("vaultd: journal %s: %v", evt.EventType(), err)
	}
}
