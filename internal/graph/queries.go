package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/henribesnard/novellaforge/internal/types"
)

// CharacterEvolution summarizes a character's trajectory.
type CharacterEvolution struct {
	Name            string              `json:"name"`
	FirstAppearance int                 `json:"first_appearance"`
	LastSeenChapter int                 `json:"last_seen_chapter"`
	StatusHistory   []types.StatusEntry `json:"status_history"`
}

// Contradiction is a dead/alive style transition detected in a history.
type Contradiction struct {
	Name        string `json:"name"`
	FromValue   string `json:"from_value"`
	FromChapter int    `json:"from_chapter"`
	ToValue     string `json:"to_value"`
	ToChapter   int    `json:"to_chapter"`
	Detail      string `json:"detail"`
}

// OrphanedThread is an unresolved event that has gone quiet.
type OrphanedThread struct {
	Event                string   `json:"event"`
	LastMentionedChapter int      `json:"last_mentioned_chapter"`
	UnresolvedThreads    []string `json:"unresolved_threads"`
}

// ObjectAvailability reports whether an object can plausibly appear.
type ObjectAvailability struct {
	Available bool   `json:"available"`
	Status    string `json:"status"`
	Issue     string `json:"issue,omitempty"`
}

// LocationCheck reports character-location consistency.
type LocationCheck struct {
	Consistent    bool   `json:"consistent"`
	LastKnown     string `json:"last_known,omitempty"`
	LastChapter   int    `json:"last_chapter,omitempty"`
	Inconsistency string `json:"inconsistency,omitempty"`
}

// ExportedGraph is the visualization payload.
type ExportedGraph struct {
	Nodes []ExportedNode `json:"nodes"`
	Edges []ExportedEdge `json:"edges"`
}

// ExportedNode is one node of the export.
type ExportedNode struct {
	Name        string         `json:"name"`
	Label       string         `json:"label"`
	Properties  map[string]any `json:"properties,omitempty"`
	LastChapter int            `json:"last_chapter"`
}

// ExportedEdge is one edge of the export.
type ExportedEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
	Rel  string `json:"rel,omitempty"`
}

// CharacterEvolution returns first appearance, last seen chapter and the
// status history for a character.
func (s *Store) CharacterEvolution(ctx context.Context, projectID, name string) (*CharacterEvolution, error) {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return nil, ErrUnavailable
	}
	var historyRaw string
	var first, last int
	err := s.db.QueryRowContext(ctx, `
		SELECT history, first_chapter, last_chapter FROM graph_nodes
		WHERE project_id = ? AND name = ? AND label = ?`,
		projectID, nodeKey(name), LabelCharacter,
	).Scan(&historyRaw, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query character evolution: %w", err)
	}

	var history []types.StatusEntry
	if uerr := json.Unmarshal([]byte(historyRaw), &history); uerr != nil {
		history = nil
	}
	return &CharacterEvolution{
		Name:            name,
		FirstAppearance: first,
		LastSeenChapter: last,
		StatusHistory:   history,
	}, nil
}

// terminal/active status sets for contradiction detection.
var (
	terminalStatuses = map[string]bool{"dead": true, "destroyed": true, "morte": true, "mort": true}
	activeStatuses   = map[string]bool{"alive": true, "active": true, "vivant": true, "vivante": true}
)

// DetectCharacterContradictions returns dead->alive style transitions in a
// character's status history. Results are cached with a TTL because the
// validator asks for the same characters on every revision loop.
func (s *Store) DetectCharacterContradictions(ctx context.Context, projectID, name string) ([]Contradiction, error) {
	cacheKey := projectID + "/" + strings.ToLower(nodeKey(name))

	s.contraMu.Lock()
	if entry, ok := s.contraCache[cacheKey]; ok && time.Now().Before(entry.expires) {
		issues := entry.issues
		s.contraMu.Unlock()
		return issues, nil
	}
	s.contraMu.Unlock()

	evo, err := s.CharacterEvolution(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	var issues []Contradiction
	if evo != nil {
		for i := 0; i+1 < len(evo.StatusHistory); i++ {
			from := evo.StatusHistory[i]
			to := evo.StatusHistory[i+1]
			if terminalStatuses[strings.ToLower(from.Value)] && activeStatuses[strings.ToLower(to.Value)] {
				issues = append(issues, Contradiction{
					Name:        name,
					FromValue:   from.Value,
					FromChapter: from.ChapterIndex,
					ToValue:     to.Value,
					ToChapter:   to.ChapterIndex,
					Detail: fmt.Sprintf("%s: resurrection without explanation (%s in chapter %d, %s in chapter %d)",
						name, from.Value, from.ChapterIndex, to.Value, to.ChapterIndex),
				})
			}
		}
	}

	s.contraMu.Lock()
	s.contraCache[cacheKey] = contraEntry{issues: issues, expires: time.Now().Add(s.contraTTL)}
	s.contraMu.Unlock()

	return issues, nil
}

// InvalidateContradictionCache drops cached contradiction results for a
// project, e.g. after an approval changes histories.
func (s *Store) InvalidateContradictionCache(projectID string) {
	s.contraMu.Lock()
	defer s.contraMu.Unlock()
	for key := range s.contraCache {
		if strings.HasPrefix(key, projectID+"/") {
			delete(s.contraCache, key)
		}
	}
}

// RelationshipEvolution returns the ordered states of the relation between
// two characters (either direction).
func (s *Store) RelationshipEvolution(ctx context.Context, projectID, a, b string) ([]types.StatusEntry, error) {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT history FROM graph_edges
		WHERE project_id = ? AND edge_type = ?
		  AND ((from_name = ? AND to_name = ?) OR (from_name = ? AND to_name = ?))`,
		projectID, EdgeRelation, nodeKey(a), nodeKey(b), nodeKey(b), nodeKey(a),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationship evolution: %w", err)
	}
	defer rows.Close()

	var all []types.StatusEntry
	for rows.Next() {
		var historyRaw string
		if err := rows.Scan(&historyRaw); err != nil {
			return nil, fmt.Errorf("failed to scan edge history: %w", err)
		}
		var history []types.StatusEntry
		if uerr := json.Unmarshal([]byte(historyRaw), &history); uerr == nil {
			all = append(all, history...)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edges: %w", err)
	}

	// Order by chapter; insertion order breaks ties.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ChapterIndex < all[j].ChapterIndex
	})
	return all, nil
}

// FindOrphanedPlotThreads returns unresolved events last mentioned 10+
// chapters before currentChapter.
func (s *Store) FindOrphanedPlotThreads(ctx context.Context, projectID string, currentChapter int) ([]OrphanedThread, error) {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, properties, last_chapter FROM graph_nodes
		WHERE project_id = ? AND label = ? AND unresolved = 1 AND last_chapter < ?`,
		projectID, LabelEvent, currentChapter-10,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned threads: %w", err)
	}
	defer rows.Close()

	var threads []OrphanedThread
	for rows.Next() {
		var name, propsRaw string
		var last int
		if err := rows.Scan(&name, &propsRaw, &last); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var props struct {
			UnresolvedThreads []string `json:"unresolved_threads"`
		}
		_ = json.Unmarshal([]byte(propsRaw), &props)
		threads = append(threads, OrphanedThread{
			Event:                name,
			LastMentionedChapter: last,
			UnresolvedThreads:    props.UnresolvedThreads,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return threads, nil
}

// CheckObjectAvailability reports whether an object can appear in the given
// chapter, considering its latest status entry and any "found after lost"
// counter-entry.
func (s *Store) CheckObjectAvailability(ctx context.Context, projectID, name string, chapter int) (*ObjectAvailability, error) {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return nil, ErrUnavailable
	}
	var historyRaw string
	err := s.db.QueryRowContext(ctx, `
		SELECT history FROM graph_nodes
		WHERE project_id = ? AND name = ? AND label = ?`,
		projectID, nodeKey(name), LabelObject,
	).Scan(&historyRaw)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown objects are not constrained.
		return &ObjectAvailability{Available: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query object: %w", err)
	}

	var history []types.StatusEntry
	if uerr := json.Unmarshal([]byte(historyRaw), &history); uerr != nil {
		history = nil
	}

	// Latest entry at or before the chapter of interest.
	var latest *types.StatusEntry
	for i := range history {
		if history[i].ChapterIndex <= chapter {
			latest = &history[i]
		}
	}
	if latest == nil {
		return &ObjectAvailability{Available: true}, nil
	}

	switch latest.Value {
	case types.ObjectDestroyed:
		return &ObjectAvailability{
			Available: false,
			Status:    latest.Value,
			Issue:     fmt.Sprintf("%s was destroyed in chapter %d", name, latest.ChapterIndex),
		}, nil
	case types.ObjectLost:
		return &ObjectAvailability{
			Available: false,
			Status:    latest.Value,
			Issue:     fmt.Sprintf("%s was lost in chapter %d and not recovered since", name, latest.ChapterIndex),
		}, nil
	}
	return &ObjectAvailability{Available: true, Status: latest.Value}, nil
}

// CheckCharacterLocationConsistency verifies a character can be at the
// required location in the given chapter. A 2-chapter tolerance allows
// implicit travel; beyond that, the inconsistency cites the last known
// location.
func (s *Store) CheckCharacterLocationConsistency(ctx context.Context, projectID, name, requiredLocation string, chapter int) (*LocationCheck, error) {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return nil, ErrUnavailable
	}
	var location string
	var lastChapter int
	err := s.db.QueryRowContext(ctx, `
		SELECT location, chapter_index FROM graph_character_locations
		WHERE project_id = ? AND character_name = ? AND chapter_index <= ?
		ORDER BY chapter_index DESC LIMIT 1`,
		projectID, nodeKey(name), chapter,
	).Scan(&location, &lastChapter)
	if errors.Is(err, sql.ErrNoRows) {
		return &LocationCheck{Consistent: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query character location: %w", err)
	}

	if strings.EqualFold(location, requiredLocation) {
		return &LocationCheck{Consistent: true, LastKnown: location, LastChapter: lastChapter}, nil
	}
	// Implicit travel window.
	if chapter-lastChapter <= 2 {
		return &LocationCheck{Consistent: true, LastKnown: location, LastChapter: lastChapter}, nil
	}
	return &LocationCheck{
		Consistent:  false,
		LastKnown:   location,
		LastChapter: lastChapter,
		Inconsistency: fmt.Sprintf("%s was last seen in %s (chapter %d) and cannot be in %s without travel",
			name, location, lastChapter, requiredLocation),
	}, nil
}

// ExportGraph returns all nodes and edges of a project for visualization.
func (s *Store) ExportGraph(ctx context.Context, projectID string) (*ExportedGraph, error) {
	if s.db == nil {
		s.warnUnavailable(ErrUnavailable)
		return nil, ErrUnavailable
	}
	out := &ExportedGraph{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, label, properties, last_chapter FROM graph_nodes WHERE project_id = ?`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n ExportedNode
		var propsRaw string
		if err := rows.Scan(&n.Name, &n.Label, &propsRaw, &n.LastChapter); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		_ = json.Unmarshal([]byte(propsRaw), &n.Properties)
		out.Nodes = append(out.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT from_name, to_name, edge_type, rel_type FROM graph_edges WHERE project_id = ?`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e ExportedEdge
		if err := edgeRows.Scan(&e.From, &e.To, &e.Type, &e.Rel); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		out.Edges = append(out.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edges: %w", err)
	}

	return out, nil
}
