// Package graph maintains the structured continuity graph: labeled nodes
// keyed by (name, project_id) with temporal attributes and history lists,
// and typed edges between characters and objects. Backed by sqlite; upserts
// are idempotent and history lists are append-only.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/henribesnard/novellaforge/internal/types"
)

// Node labels.
const (
	LabelCharacter = "Character"
	LabelLocation  = "Location"
	LabelEvent     = "Event"
	LabelObject    = "Object"
)

// Edge types.
const (
	EdgeRelation  = "RELATION"
	EdgePossesses = "POSSESSES"
)

// ErrUnavailable marks the degraded mode: queries return empty results and
// a warning is logged once per process.
var ErrUnavailable = errors.New("graph unavailable")

// Store is the sqlite-backed graph.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	warnOnce sync.Once

	// detectCharacterContradictions cache, keyed by project/name.
	contraMu    sync.Mutex
	contraCache map[string]contraEntry
	contraTTL   time.Duration
}

type contraEntry struct {
	issues  []Contradiction
	expires time.Time
}

// Config configures the graph store.
type Config struct {
	DB     *sql.DB
	Logger *slog.Logger
	// ContradictionTTL bounds the contradiction-query cache (default 10m).
	ContradictionTTL time.Duration
}

// New creates a graph store over an existing sqlite handle.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ContradictionTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Store{
		db:          cfg.DB,
		logger:      logger.With("component", "graph"),
		contraCache: make(map[string]contraEntry),
		contraTTL:   ttl,
	}
}

// InitSchema creates the graph tables and secondary indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return ErrUnavailable
	}
	const schema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	project_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	label         TEXT NOT NULL,
	properties    TEXT NOT NULL DEFAULT '{}',
	history       TEXT NOT NULL DEFAULT '[]',
	unresolved    INTEGER NOT NULL DEFAULT 0,
	first_chapter INTEGER NOT NULL DEFAULT 0,
	last_chapter  INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (project_id, name, label)
);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_project ON graph_nodes(project_id);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_unresolved ON graph_nodes(unresolved);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_last_chapter ON graph_nodes(last_chapter);

CREATE TABLE IF NOT EXISTS graph_edges (
	project_id TEXT NOT NULL,
	from_name  TEXT NOT NULL,
	to_name    TEXT NOT NULL,
	edge_type  TEXT NOT NULL,
	rel_type   TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '{}',
	history    TEXT NOT NULL DEFAULT '[]',
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (project_id, from_name, to_name, edge_type, rel_type)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_project ON graph_edges(project_id);

CREATE TABLE IF NOT EXISTS graph_character_locations (
	project_id        TEXT NOT NULL,
	character_name    TEXT NOT NULL,
	location          TEXT NOT NULL,
	chapter_index     INTEGER NOT NULL,
	travel_from       TEXT NOT NULL DEFAULT '',
	travel_to         TEXT NOT NULL DEFAULT '',
	arrival_confirmed INTEGER NOT NULL DEFAULT 0,
	recorded_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (project_id, character_name, chapter_index)
);
CREATE INDEX IF NOT EXISTS idx_graph_charloc_project ON graph_character_locations(project_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	s.logger.Info("graph schema ready")
	return nil
}

func (s *Store) warnUnavailable(err error) {
	s.warnOnce.Do(func() {
		s.logger.Warn("graph store unavailable, continuity graph checks degraded", "error", err)
	})
}

// nodeKey normalizes names for keying.
func nodeKey(name string) string {
	return strings.TrimSpace(name)
}

// upsertNode performs a MERGE-style upsert: properties are replaced with the
// incoming values, a history entry is appended when the tracked status
// changed, and last_chapter only moves forward.
func (s *Store) upsertNode(ctx context.Context, projectID, name, label string,
	props map[string]any, status string, chapterIndex int, unresolved bool) error {

	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return ErrUnavailable
	}
	name = nodeKey(name)
	if name == "" {
		return nil
	}

	now := time.Now().UTC()

	var prevProps, prevHistory string
	var firstChapter, lastChapter int
	err := s.db.QueryRowContext(ctx, `
		SELECT properties, history, first_chapter, last_chapter
		FROM graph_nodes WHERE project_id = ? AND name = ? AND label = ?`,
		projectID, name, label,
	).Scan(&prevProps, &prevHistory, &firstChapter, &lastChapter)

	var history []types.StatusEntry
	switch {
	case errors.Is(err, sql.ErrNoRows):
		firstChapter = chapterIndex
		lastChapter = chapterIndex
	case err != nil:
		return fmt.Errorf("failed to read node: %w", err)
	default:
		if uerr := json.Unmarshal([]byte(prevHistory), &history); uerr != nil {
			history = nil
		}
		if chapterIndex > lastChapter {
			lastChapter = chapterIndex
		}
		if firstChapter == 0 || (chapterIndex > 0 && chapterIndex < firstChapter) {
			firstChapter = chapterIndex
		}
	}

	// Append to history only on change; history is append-only.
	if status != "" {
		last := ""
		if len(history) > 0 {
			last = history[len(history)-1].Value
		}
		if !strings.EqualFold(last, status) {
			history = append(history, types.StatusEntry{
				Value:        status,
				ChapterIndex: chapterIndex,
				Timestamp:    now,
			})
		}
	}

	propsRaw, merr := json.Marshal(props)
	if merr != nil {
		return fmt.Errorf("failed to marshal node properties: %w", merr)
	}
	historyRaw, merr := json.Marshal(history)
	if merr != nil {
		return fmt.Errorf("failed to marshal node history: %w", merr)
	}

	unresolvedInt := 0
	if unresolved {
		unresolvedInt = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (project_id, name, label, properties, history,
			unresolved, first_chapter, last_chapter, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name, label) DO UPDATE SET
			properties = excluded.properties,
			history = excluded.history,
			unresolved = excluded.unresolved,
			first_chapter = excluded.first_chapter,
			last_chapter = excluded.last_chapter,
			updated_at = excluded.updated_at`,
		projectID, name, label, string(propsRaw), string(historyRaw),
		unresolvedInt, firstChapter, lastChapter, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

// UpsertCharacter merges a character fact into the graph.
func (s *Store) UpsertCharacter(ctx context.Context, projectID string, c *types.CharacterFact, chapterIndex int) error {
	props := map[string]any{
		"role":          c.Role,
		"status":        c.Status,
		"current_state": c.CurrentState,
		"arc_stage":     c.ArcStage,
		"motivations":   c.Motivations,
		"traits":        c.Traits,
		"goals":         c.Goals,
	}
	return s.upsertNode(ctx, projectID, c.Name, LabelCharacter, props, c.Status, chapterIndex, false)
}

// UpsertLocation merges a location fact into the graph.
func (s *Store) UpsertLocation(ctx context.Context, projectID string, l *types.LocationFact, chapterIndex int) error {
	props := map[string]any{
		"description":      l.Description,
		"rules":            l.Rules,
		"timeline_markers": l.TimelineMarkers,
		"atmosphere":       l.Atmosphere,
	}
	return s.upsertNode(ctx, projectID, l.Name, LabelLocation, props, "", chapterIndex, false)
}

// UpsertEvent merges an event fact into the graph. The unresolved flag is
// derived from open threads and indexed for the orphaned-thread query.
func (s *Store) UpsertEvent(ctx context.Context, projectID string, e *types.EventFact, chapterIndex int) error {
	props := map[string]any{
		"summary":            e.Summary,
		"time_reference":     e.TimeReference,
		"impact":             e.Impact,
		"unresolved_threads": e.UnresolvedThreads,
	}
	return s.upsertNode(ctx, projectID, e.Name, LabelEvent, props, "", chapterIndex, e.Unresolved())
}

// UpsertObject merges an object fact into the graph and refreshes the
// POSSESSES edge when the object has a holder.
func (s *Store) UpsertObject(ctx context.Context, projectID string, o *types.ObjectFact, chapterIndex int) error {
	props := map[string]any{
		"status":             o.Status,
		"current_holder":     o.CurrentHolder,
		"location":           o.Location,
		"magical_properties": o.MagicalProperties,
	}
	if err := s.upsertNode(ctx, projectID, o.Name, LabelObject, props, o.Status, chapterIndex, false); err != nil {
		return err
	}
	if o.CurrentHolder != "" {
		return s.upsertEdge(ctx, projectID, o.CurrentHolder, o.Name, EdgePossesses, "", o.Status, chapterIndex)
	}
	return nil
}

// UpsertRelation merges a character relation edge.
func (s *Store) UpsertRelation(ctx context.Context, projectID string, r *types.RelationFact, chapterIndex int) error {
	return s.upsertEdge(ctx, projectID, r.From, r.To, EdgeRelation, r.Type, r.CurrentState, chapterIndex)
}

func (s *Store) upsertEdge(ctx context.Context, projectID, from, to, edgeType, relType, state string, chapterIndex int) error {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return ErrUnavailable
	}
	from, to = nodeKey(from), nodeKey(to)
	if from == "" || to == "" {
		return nil
	}

	now := time.Now().UTC()

	var prevHistory string
	err := s.db.QueryRowContext(ctx, `
		SELECT history FROM graph_edges
		WHERE project_id = ? AND from_name = ? AND to_name = ? AND edge_type = ? AND rel_type = ?`,
		projectID, from, to, edgeType, relType,
	).Scan(&prevHistory)

	var history []types.StatusEntry
	if err == nil {
		if uerr := json.Unmarshal([]byte(prevHistory), &history); uerr != nil {
			history = nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read edge: %w", err)
	}

	if state != "" {
		last := ""
		if len(history) > 0 {
			last = history[len(history)-1].Value
		}
		if !strings.EqualFold(last, state) {
			history = append(history, types.StatusEntry{
				Value:        state,
				ChapterIndex: chapterIndex,
				Timestamp:    now,
			})
		}
	}

	historyRaw, merr := json.Marshal(history)
	if merr != nil {
		return fmt.Errorf("failed to marshal edge history: %w", merr)
	}
	props, merr := json.Marshal(map[string]any{"state": state})
	if merr != nil {
		return fmt.Errorf("failed to marshal edge properties: %w", merr)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (project_id, from_name, to_name, edge_type, rel_type,
			properties, history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, from_name, to_name, edge_type, rel_type) DO UPDATE SET
			properties = excluded.properties,
			history = excluded.history,
			updated_at = excluded.updated_at`,
		projectID, from, to, edgeType, relType, string(props), string(historyRaw), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

// RecordCharacterLocation places a character at a location for a chapter.
// Idempotent per (character, chapter).
func (s *Store) RecordCharacterLocation(ctx context.Context, projectID string, cl *types.CharacterLocation) error {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return ErrUnavailable
	}
	name := nodeKey(cl.CharacterName)
	if name == "" || cl.Location == "" {
		return nil
	}
	confirmed := 0
	if cl.ArrivalConfirmed {
		confirmed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_character_locations (project_id, character_name, location,
			chapter_index, travel_from, travel_to, arrival_confirmed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, character_name, chapter_index) DO UPDATE SET
			location = excluded.location,
			travel_from = excluded.travel_from,
			travel_to = excluded.travel_to,
			arrival_confirmed = excluded.arrival_confirmed,
			recorded_at = excluded.recorded_at`,
		projectID, name, cl.Location, cl.ChapterIndex,
		cl.TravelFrom, cl.TravelTo, confirmed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record character location: %w", err)
	}
	return nil
}

// SyncFacts upserts an extracted fact set into the graph in one pass.
func (s *Store) SyncFacts(ctx context.Context, projectID string, facts *types.ContinuityFacts, chapterIndex int) error {
	if facts == nil {
		return nil
	}
	for i := range facts.Characters {
		if err := s.UpsertCharacter(ctx, projectID, &facts.Characters[i], chapterIndex); err != nil {
			return err
		}
	}
	for i := range facts.Locations {
		if err := s.UpsertLocation(ctx, projectID, &facts.Locations[i], chapterIndex); err != nil {
			return err
		}
	}
	for i := range facts.Events {
		if err := s.UpsertEvent(ctx, projectID, &facts.Events[i], chapterIndex); err != nil {
			return err
		}
	}
	for i := range facts.Objects {
		if err := s.UpsertObject(ctx, projectID, &facts.Objects[i], chapterIndex); err != nil {
			return err
		}
	}
	for i := range facts.Relations {
		if err := s.UpsertRelation(ctx, projectID, &facts.Relations[i], chapterIndex); err != nil {
			return err
		}
	}
	for i := range facts.CharacterLocations {
		if err := s.RecordCharacterLocation(ctx, projectID, &facts.CharacterLocations[i]); err != nil {
			return err
		}
	}
	return nil
}
