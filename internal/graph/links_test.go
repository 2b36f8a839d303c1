package graph

import (
	"errors"
	"testing"
)

func TestCreateLink(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, NodeInput{Text: "node a", SourceType: "note"})
	b := mustCreate(t, s, NodeInput{Text: "node b", SourceType: "note"})

	l, err := s.CreateLink(LinkInput{SourceID: a.ID, TargetID: b.ID, Type: LinkReferences, Strength: 0.8})
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if l.SourceID != a.ID || l.TargetID != b.ID || l.Type != LinkReferences {
		t.Errorf("link = %+v", l)
	}
	if l.Strength != 0.8 {
		t.Errorf("Strength = %f, want 0.8", l.Strength)
	}

	// Same (source, target, type) is a conflict.
	if _, err := s.CreateLink(LinkInput{SourceID: a.ID, TargetID: b.ID, Type: LinkReferences}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate link: err = %v, want ErrConflict", err)
	}
	// A different type between the same pair is fine.
	if _, err := s.CreateLink(LinkInput{SourceID: a.ID, TargetID: b.ID, Type: LinkRelatedTo}); err != nil {
		t.Errorf("second type: %v", err)
	}
	// The reverse direction is a distinct link.
	if _, err := s.CreateLink(LinkInput{SourceID: b.ID, TargetID: a.ID, Type: LinkReferences}); err != nil {
		t.Errorf("reverse direction: %v", err)
	}
}

func TestCreateLink_Validation(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, NodeInput{Text: "node a", SourceType: "note"})

	if _, err := s.CreateLink(LinkInput{SourceID: a.ID, Type: LinkReferences}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing target: err = %v, want ErrValidation", err)
	}
	if _, err := s.CreateLink(LinkInput{SourceID: a.ID, TargetID: "ghost", Type: LinkReferences}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown endpoint: err = %v, want ErrNotFound", err)
	}
}

func TestLinkQueries(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, NodeInput{Text: "node a", SourceType: "note"})
	b := mustCreate(t, s, NodeInput{Text: "node b", SourceType: "note"})
	c := mustCreate(t, s, NodeInput{Text: "node c", SourceType: "note"})

	for _, in := range []LinkInput{
		{SourceID: a.ID, TargetID: b.ID, Type: LinkReferences},
		{SourceID: a.ID, TargetID: c.ID, Type: LinkRelatedTo},
		{SourceID: b.ID, TargetID: a.ID, Type: LinkRespondsTo},
	} {
		if _, err := s.CreateLink(in); err != nil {
			t.Fatalf("CreateLink(%+v): %v", in, err)
		}
	}

	from, err := s.GetLinksFrom(a.ID)
	if err != nil {
		t.Fatalf("GetLinksFrom: %v", err)
	}
	if len(from) != 2 {
		t.Errorf("GetLinksFrom(a) = %d links, want 2", len(from))
	}

	typed, err := s.GetLinksFrom(a.ID, LinkRelatedTo)
	if err != nil {
		t.Fatalf("GetLinksFrom(typed): %v", err)
	}
	if len(typed) != 1 || typed[0].TargetID != c.ID {
		t.Errorf("typed filter = %+v", typed)
	}

	to, err := s.GetLinksTo(a.ID)
	if err != nil {
		t.Fatalf("GetLinksTo: %v", err)
	}
	if len(to) != 1 || to[0].SourceID != b.ID {
		t.Errorf("GetLinksTo(a) = %+v", to)
	}

	n, err := s.CountLinksTouching(a.ID)
	if err != nil {
		t.Fatalf("CountLinksTouching: %v", err)
	}
	if n != 3 {
		t.Errorf("CountLinksTouching(a) = %d, want 3", n)
	}

	all, err := s.AllLinks()
	if err != nil {
		t.Fatalf("AllLinks: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("AllLinks = %d, want 3", len(all))
	}
}

func TestDeleteLink(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, NodeInput{Text: "node a", SourceType: "note"})
	b := mustCreate(t, s, NodeInput{Text: "node b", SourceType: "note"})

	l, err := s.CreateLink(LinkInput{SourceID: a.ID, TargetID: b.ID, Type: LinkReferences})
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	existed, err := s.DeleteLink(l.ID)
	if err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	if !existed {
		t.Error("DeleteLink returned existed=false")
	}
	if _, err := s.GetLink(l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("link still present: %v", err)
	}

	// Endpoints are untouched.
	if _, err := s.GetNode(a.ID); err != nil {
		t.Errorf("endpoint deleted with link: %v", err)
	}

	existed, err = s.DeleteLink(l.ID)
	if err != nil {
		t.Fatalf("DeleteLink (again): %v", err)
	}
	if existed {
		t.Error("second DeleteLink returned existed=true")
	}
}

func TestDeleteNode_CascadesLinks(t *testing.T) {
	s := openTestStore(t)
	a := mustCreate(t, s, NodeInput{Text: "node a", SourceType: "note"})
	b := mustCreate(t, s, NodeInput{Text: "node b", SourceType: "note"})

	l, err := s.CreateLink(LinkInput{SourceID: a.ID, TargetID: b.ID, Type: LinkReferences})
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if _, err := s.DeleteNode(b.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, err := s.GetLink(l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("link survived endpoint deletion: %v", err)
	}
}
