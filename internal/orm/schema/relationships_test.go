package schema

import (
	"strings"
	"testing"
)

func TestRelationshipGraph(t *testing.T) {
	t.Run("dependencies", func(t *testing.T) {
		g := NewRelationshipGraph(catalogue())
		deps := g.GetDependencies("Album")
		if len(deps) != 2 || deps[0] != "Artist" || deps[1] != "Label" {
			t.Errorf("expected [Artist Label], got %v", deps)
		}
		if deps := g.GetDependencies("Artist"); len(deps) != 0 {
			t.Errorf("lists are not dependencies, got %v", deps)
		}
	})

	t.Run("topological sort puts referenced entities first", func(t *testing.T) {
		metas := catalogue()
		// register the dependent first
		order, err := NewRelationshipGraph([]*EntityMetadata{metas[2], metas[0], metas[1]}).TopologicalSort()
		if err != nil {
			t.Fatal(err)
		}
		pos := make(map[string]int)
		for i, name := range order {
			pos[name] = i
		}
		if pos["Album"] < pos["Artist"] || pos["Album"] < pos["Label"] {
			t.Errorf("expected Album last, got %v", order)
		}
	})

	t.Run("self references are ignored", func(t *testing.T) {
		employee := NewEntityMetadata("Employee", "", []*FieldMetadata{
			{Name: "Manager", FieldType: "Employee"},
			{Name: "ManagerId", FieldType: TypeInt64, ForeignKey: "Manager", IsForeignKey: true},
		}, nil)
		g := NewRelationshipGraph([]*EntityMetadata{employee})
		if cycles := g.DetectCycles(); len(cycles) != 0 {
			t.Errorf("expected no cycles, got %v", cycles)
		}
		if _, err := g.TopologicalSort(); err != nil {
			t.Errorf("expected sort to succeed, got %v", err)
		}
	})

	t.Run("cycles", func(t *testing.T) {
		person := NewEntityMetadata("Person", "", []*FieldMetadata{
			{Name: "Home", FieldType: "House"},
			{Name: "HomeId", FieldType: TypeInt64, ForeignKey: "Home", IsForeignKey: true},
		}, nil)
		house := NewEntityMetadata("House", "", []*FieldMetadata{
			{Name: "Owner", FieldType: "Person"},
			{Name: "OwnerId", FieldType: TypeInt64, ForeignKey: "Owner", IsForeignKey: true},
		}, nil)
		g := NewRelationshipGraph([]*EntityMetadata{person, house})

		if cycles := g.DetectCycles(); len(cycles) != 1 {
			t.Errorf("expected one cycle, got %v", cycles)
		}
		_, err := g.TopologicalSort()
		if err == nil || !strings.Contains(err.Error(), "Person -> House -> Person") {
			t.Errorf("expected cycle error, got %v", err)
		}
	})

	t.Run("mandatory references", func(t *testing.T) {
		g := NewRelationshipGraph(catalogue())
		refs := g.MandatoryReferences("Artist")
		if len(refs) != 1 {
			t.Fatalf("expected one reference, got %d", len(refs))
		}
		if refs[0].Field.Name != "Artist" || refs[0].ForeignKey.Name != "ArtistId" || refs[0].Target != "Artist" {
			t.Errorf("unexpected reference %+v", refs[0])
		}
		if refs := g.MandatoryReferences("Album"); len(refs) != 0 {
			t.Errorf("nothing references Album, got %v", refs)
		}
	})
}
