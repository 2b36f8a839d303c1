package graph

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// SearchHit is a full-text match with its relevance score (higher is better).
type SearchHit struct {
	Node  ContentNode `json:"node"`
	Score float64     `json:"score"`
}

// ftsQuote turns free text into a safe FTS5 MATCH expression: each term is
// quoted so user input can't inject FTS syntax.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// SearchText performs BM25-ranked full-text search over node text and titles.
// An empty or all-whitespace query returns no results.
func (s *Store) SearchText(query string, limit int) ([]SearchHit, error) {
	return s.searchTextLevel(query, limit, -1, nil)
}

// searchTextLevel is SearchText with optional hierarchy-level and thread
// restrictions (minLevel < 0 disables the level filter; empty threadRoots
// disables the thread filter). Used by staged retrieval.
func (s *Store) searchTextLevel(query string, limit, minLevel int, threadRoots []string) ([]SearchHit, error) {
	match := ftsQuote(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	q := `SELECT ` + prefixColumns("n") + `, bm25(node_fts) AS rank
		FROM node_fts f JOIN content_nodes n ON n.rowid = f.rowid
		WHERE node_fts MATCH ?`
	args := []any{match}

	if minLevel >= 0 {
		q += " AND n.hierarchy_level >= ?"
		args = append(args, minLevel)
	}
	if len(threadRoots) > 0 {
		q += " AND n.thread_root_id IN (?" + strings.Repeat(",?", len(threadRoots)-1) + ")"
		for _, tr := range threadRoots {
			args = append(args, tr)
		}
		q += " AND n.hierarchy_level = 0"
	}

	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		// Reuse scanNode by scanning the rank separately.
		hit, err := scanSearchHit(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// SearchSummaries restricts full-text search to pyramid levels >= 1.
func (s *Store) SearchSummaries(query string, limit int) ([]SearchHit, error) {
	return s.searchTextLevel(query, limit, 1, nil)
}

// SearchChunksInThreads restricts full-text search to level-0 chunks of the
// given thread roots.
func (s *Store) SearchChunksInThreads(query string, limit int, threadRoots []string) ([]SearchHit, error) {
	if len(threadRoots) == 0 {
		return nil, nil
	}
	return s.searchTextLevel(query, limit, -1, threadRoots)
}

func prefixColumns(alias string) string {
	cols := strings.Split(nodeColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type hitScanner struct {
	rank float64
	row  rowScanner
}

func scanSearchHit(row rowScanner) (SearchHit, error) {
	h := &hitScanner{row: row}
	n, err := scanNode(h)
	if err != nil {
		return SearchHit{}, err
	}
	// bm25() reports lower-is-better (negative); flip so higher is better.
	return SearchHit{Node: n, Score: -h.rank}, nil
}

func (h *hitScanner) Scan(dest ...any) error {
	return h.row.Scan(append(dest, &h.rank)...)
}

// KeywordOptions controls FindByKeyword.
type KeywordOptions struct {
	ExcludeNodeID string
	Limit         int
}

// KeywordMatch is a node ranked by how central the keyword is to it.
type KeywordMatch struct {
	Node       ContentNode `json:"node"`
	TFIDF      float64     `json:"tfidf"`
	Centrality float64     `json:"centrality"`
}

// Bonus multipliers for keyword centrality. Title mentions and early
// occurrences indicate the keyword is what the passage is about, not a
// passing reference.
const (
	titleBonus      = 1.5
	positionBonus   = 1.25
	earlyWordWindow = 50
)

// FindByKeyword ranks nodes containing the keyword by centrality:
// tf·idf scaled by title and early-position bonuses. This ordering — not raw
// similarity — is what the related-passages feature consumes.
func (s *Store) FindByKeyword(keyword string, opts KeywordOptions) ([]KeywordMatch, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is required", ErrValidation)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM content_nodes").Scan(&total); err != nil {
		return nil, fmt.Errorf("counting corpus: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	// Candidate set via the FTS index; oversample so the centrality re-rank
	// has room to reorder beyond the bm25 cut.
	candidates, err := s.SearchText(keyword, limit*5+20)
	if err != nil {
		return nil, err
	}
	df := len(candidates)
	if df == 0 {
		return nil, nil
	}
	idf := math.Log(1 + float64(total)/float64(df))

	lower := strings.ToLower(keyword)
	var matches []KeywordMatch
	for _, hit := range candidates {
		n := hit.Node
		if n.ID == opts.ExcludeNodeID {
			continue
		}
		occurrences := strings.Count(strings.ToLower(n.Text), lower)
		if occurrences == 0 || n.WordCount == 0 {
			continue
		}
		tf := float64(occurrences) / float64(n.WordCount)
		tfidf := tf * idf

		titleWeight := 1.0
		if strings.Contains(strings.ToLower(n.Title), lower) {
			titleWeight = titleBonus
		}
		positionWeight := 1.0
		if firstOccurrenceWord(n.Text, lower) < earlyWordWindow {
			positionWeight = positionBonus
		}

		matches = append(matches, KeywordMatch{
			Node:       n,
			TFIDF:      tfidf,
			Centrality: tfidf * positionWeight * titleWeight,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Centrality > matches[j].Centrality
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// firstOccurrenceWord returns the word index of the first word containing the
// keyword, or math.MaxInt when absent.
func firstOccurrenceWord(text, lowerKeyword string) int {
	for i, w := range strings.Fields(strings.ToLower(text)) {
		if strings.Contains(w, lowerKeyword) {
			return i
		}
	}
	return math.MaxInt
}
