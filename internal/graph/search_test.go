package graph

import (
	"errors"
	"testing"
)

func TestSearchText(t *testing.T) {
	s := openTestStore(t)

	mustCreate(t, s, NodeInput{Text: "goroutines communicate by sharing channels", SourceType: "note"})
	mustCreate(t, s, NodeInput{Text: "sourdough starter needs daily feeding", SourceType: "note"})

	hits, err := s.SearchText("channels", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Node.Text != "goroutines communicate by sharing channels" {
		t.Errorf("wrong hit: %q", hits[0].Node.Text)
	}
	if hits[0].Score <= 0 {
		t.Errorf("Score = %f, want positive", hits[0].Score)
	}

	none, err := s.SearchText("kubernetes", 10)
	if err != nil {
		t.Fatalf("SearchText(no match): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d hits for absent term", len(none))
	}
}

func TestSearchText_QuotesUserInput(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, NodeInput{Text: "plain text body", SourceType: "note"})

	// FTS5 operators in the query must not be interpreted as syntax.
	for _, q := range []string{`NEAR(a b)`, `"unbalanced`, `col: value`, `a*`} {
		if _, err := s.SearchText(q, 10); err != nil {
			t.Errorf("SearchText(%q) error: %v", q, err)
		}
	}

	if hits, err := s.SearchText("   ", 10); err != nil || hits != nil {
		t.Errorf("blank query: hits=%v err=%v, want nil/nil", hits, err)
	}
}

func TestSearchText_IndexFollowsUpdates(t *testing.T) {
	s := openTestStore(t)
	n := mustCreate(t, s, NodeInput{Text: "the original wording", SourceType: "note"})

	text := "the revised phrasing"
	head, err := s.UpdateNode(n.ID, NodePatch{Text: &text}, "edit", "")
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	hits, err := s.SearchText("revised", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("revised text: got %d hits, want 1", len(hits))
	}

	if _, err := s.DeleteNode(head.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	// Deleting the head removes its text from the index; the superseded
	// version row survives and stays searchable.
	hits, err = s.SearchText("revised", 10)
	if err != nil {
		t.Fatalf("SearchText after delete: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("after head delete: got %d hits for deleted text, want 0", len(hits))
	}
	hits, err = s.SearchText("original", 10)
	if err != nil {
		t.Fatalf("SearchText after delete: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("after head delete: got %d hits for old version, want 1", len(hits))
	}
}

func TestSearchSummaries_LevelFilter(t *testing.T) {
	s := openTestStore(t)

	root := mustCreate(t, s, NodeInput{Text: "thread root chunk mentioning lighthouses", SourceType: "conversation"})
	mustCreate(t, s, NodeInput{
		Text: "summary of the lighthouse discussion", SourceType: "conversation",
		HierarchyLevel: 1, ThreadRootID: root.ID,
	})

	hits, err := s.SearchSummaries("lighthouse", 10)
	if err != nil {
		t.Fatalf("SearchSummaries: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d summary hits, want 1", len(hits))
	}
	if hits[0].Node.HierarchyLevel != 1 {
		t.Errorf("hit level = %d, want 1", hits[0].Node.HierarchyLevel)
	}
}

func TestSearchChunksInThreads(t *testing.T) {
	s := openTestStore(t)

	rootA := mustCreate(t, s, NodeInput{Text: "thread A root", SourceType: "conversation"})
	rootB := mustCreate(t, s, NodeInput{Text: "thread B root", SourceType: "conversation"})
	mustCreate(t, s, NodeInput{Text: "chunk about ravens in thread A", SourceType: "conversation", ThreadRootID: rootA.ID})
	mustCreate(t, s, NodeInput{Text: "chunk about ravens in thread B", SourceType: "conversation", ThreadRootID: rootB.ID})

	hits, err := s.SearchChunksInThreads("ravens", 10, []string{rootA.ID})
	if err != nil {
		t.Fatalf("SearchChunksInThreads: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 (thread A only)", len(hits))
	}
	if hits[0].Node.ThreadRootID != rootA.ID {
		t.Errorf("hit thread = %q, want %q", hits[0].Node.ThreadRootID, rootA.ID)
	}

	if hits, err := s.SearchChunksInThreads("ravens", 10, nil); err != nil || hits != nil {
		t.Errorf("no threads: hits=%v err=%v, want nil/nil", hits, err)
	}
}

func TestFindByKeyword_CentralityOrdering(t *testing.T) {
	s := openTestStore(t)

	// Passing mention: keyword appears once, late, in a long text.
	long := "This passage talks about many topics over many words and eventually, " +
		"somewhere well beyond the opening stretch of fifty words that the position " +
		"bonus rewards, after much meandering through unrelated ideas and filler " +
		"sentences padding out the body to keep the term frequency low across the " +
		"whole of the text, it finally mentions the word falcon exactly once near the end."
	passing := mustCreate(t, s, NodeInput{Text: long, SourceType: "note"})

	// Central use: keyword in title and opening words, repeated.
	central := mustCreate(t, s, NodeInput{
		Text:       "Falcon training notes. The falcon hunts at dawn; a falcon returns to the glove.",
		Title:      "Falcon journal",
		SourceType: "note",
	})

	matches, err := s.FindByKeyword("falcon", KeywordOptions{Limit: 10})
	if err != nil {
		t.Fatalf("FindByKeyword: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Node.ID != central.ID {
		t.Errorf("top match = %q, want the central passage %q", matches[0].Node.ID, central.ID)
	}
	if matches[0].Centrality <= matches[1].Centrality {
		t.Errorf("centrality not descending: %f <= %f", matches[0].Centrality, matches[1].Centrality)
	}
	// Title and position bonuses push centrality above bare tf-idf.
	if matches[0].Centrality <= matches[0].TFIDF {
		t.Errorf("central match got no bonus: centrality %f, tfidf %f", matches[0].Centrality, matches[0].TFIDF)
	}

	excluded, err := s.FindByKeyword("falcon", KeywordOptions{ExcludeNodeID: central.ID, Limit: 10})
	if err != nil {
		t.Fatalf("FindByKeyword(exclude): %v", err)
	}
	if len(excluded) != 1 || excluded[0].Node.ID != passing.ID {
		t.Errorf("exclude filter: got %d matches", len(excluded))
	}
}

func TestFindByKeyword_Validation(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.FindByKeyword("  ", KeywordOptions{}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank keyword: err = %v, want ErrValidation", err)
	}
}
