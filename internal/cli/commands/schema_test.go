package commands

import (
	"strings"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "testdata/music.yaml")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}

	for _, want := range []string{
		"Schema testdata/music.yaml",
		"ENTITY  TABLE   COLUMNS  REFERENCES  LISTS",
		"Album   Album   7        2           0",
		"✓ 3 entities valid",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestValidateCommand_SuggestsEntity(t *testing.T) {
	out, err := run(t, "validate", "testdata/broken.yaml")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "✗ SCHEMA INVALID: testdata/broken.yaml") {
		t.Errorf("expected problem header, got:\n%s", out)
	}
	if !strings.Contains(out, "Album.Artist: references unknown entity Artit") {
		t.Errorf("expected validation detail, got:\n%s", out)
	}
	if !strings.Contains(out, "Did you mean: Artist?") {
		t.Errorf("expected suggestion, got:\n%s", out)
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	out, err := run(t, "validate", "testdata/absent.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "SCHEMA UNREADABLE") {
		t.Errorf("expected unreadable problem, got:\n%s", out)
	}
}

func TestDescribeCommand(t *testing.T) {
	out, err := run(t, "describe", "testdata/music.yaml", "Album")
	if err != nil {
		t.Fatalf("describe failed: %v\n%s", err, out)
	}

	for _, want := range []string{
		"INSERT INTO Album (Version,Deleted,Title,Year,ArtistId,LabelId) VALUES (@Version,@Deleted,@Title,@Year,@ArtistId,@LabelId);",
		"UPDATE Album SET Deleted = @Deleted,Title = @Title,Year = @Year,ArtistId = @ArtistId,LabelId = @LabelId WHERE Id = 1 AND Version = 0",
		"DELETE Album WHERE Id = 1 AND Version = 0",
		"FROM Album t0",
		"foreign key of Artist",
		"reference, cascade save",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "INSERT INTO Artist") {
		t.Error("expected only the named entity")
	}
}

func TestDescribeCommand_BlockingReferences(t *testing.T) {
	out, err := run(t, "describe", "testdata/music.yaml", "Artist")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Album.ArtistId → Artist") {
		t.Errorf("expected blocking reference, got:\n%s", out)
	}
	if !strings.Contains(out, "list via Album.Artist, cascade save_delete") {
		t.Errorf("expected list notes, got:\n%s", out)
	}

	out, err = run(t, "describe", "testdata/music.yaml", "Label")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(none)") {
		t.Errorf("optional LabelId should not block deletion:\n%s", out)
	}
}

func TestDescribeCommand_Driver(t *testing.T) {
	out, err := run(t, "describe", "testdata/music.yaml", "Artist", "--driver", "pgx")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "INSERT INTO Artist (Version,Deleted,Name,Alias) VALUES ($1,$2,$3,$4);") {
		t.Errorf("expected positional parameters, got:\n%s", out)
	}
	if !strings.Contains(out, "DELETE FROM Artist WHERE Id = 1 AND Version = 0") {
		t.Errorf("expected DELETE FROM, got:\n%s", out)
	}
}

func TestDescribeCommand_UnknownEntity(t *testing.T) {
	out, err := run(t, "describe", "testdata/music.yaml", "Albun")
	if err == nil {
		t.Fatal("expected error for unknown entity")
	}
	if !strings.Contains(out, "✗ UNKNOWN ENTITY: Albun") || !strings.Contains(out, "Did you mean: Album?") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestOrderCommand(t *testing.T) {
	out, err := run(t, "order", "testdata/music.yaml")
	if err != nil {
		t.Fatal(err)
	}
	artist := strings.Index(out, ". Artist")
	album := strings.Index(out, ". Album")
	if artist < 0 || album < 0 || artist > album {
		t.Errorf("expected Artist before Album:\n%s", out)
	}

	out, err = run(t, "order", "testdata/cycle.yaml")
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(out, "CYCLIC REFERENCES") {
		t.Errorf("expected cycle problem, got:\n%s", out)
	}
}
