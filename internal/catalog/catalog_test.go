package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chekitimer/internal/engine"
	logx "chekitimer/pkg/logx"
)

const sampleCSV = "\ufeffグループ名,タレント名,メンバーカラー,ボタン名,ボタンカラー,チケット枚数,秒数,マージン秒数,対象タレント,配当枚数\n" +
	"G1,Alice,#4169e1,photo,#b0c4de,2,40,10,Alice,2\n" +
	"G1,Alice,#4169e1,sign,#ff6347,,abc,,,\n" +
	"G1,Bob,#ff69b4,photo,#b0c4de,1,30,5,Bob、Alice,\n" +
	",Nobody,#000,photo,#fff,1,30,5,,\n" +
	"G2,Carol,#ffd700,duo,#98fb98,3,60,0,,1\n"

func TestParseCSVAliasesAndDefaults(t *testing.T) {
	t.Parallel()
	ts, skipped, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 1 || len(ts) != 4 {
		t.Fatalf("templates=%d skipped=%d", len(ts), skipped)
	}

	photo := ts[0]
	if photo.Group != "G1" || photo.Entity != "Alice" || photo.Units != 2 || photo.Seconds != 40 || photo.MemberColor != "#4169e1" || photo.Color != "#b0c4de" {
		t.Fatalf("photo = %+v", photo)
	}

	sign := ts[1]
	if sign.Seconds != DefaultSeconds || sign.MarginSeconds != DefaultMarginSeconds || sign.Units != 0 || sign.Distribution != 0 {
		t.Fatalf("sign defaults = %+v", sign)
	}
	if len(sign.Targets) != 1 || sign.Targets[0] != "Alice" {
		t.Fatalf("sign targets = %v", sign.Targets)
	}

	bob := ts[2]
	if bob.Distribution != 1 || len(bob.Targets) != 2 || bob.Targets[1] != "Alice" {
		t.Fatalf("bob = %+v", bob)
	}

	carol := ts[3]
	if carol.MarginSeconds != 0 || carol.Distribution != 1 {
		t.Fatalf("carol = %+v", carol)
	}
}

func TestParseCSVEnglishHeaders(t *testing.T) {
	t.Parallel()
	in := "groupName,talentName,buttonName,ticketCount,seconds,margin\nG,E,x,1,15,3\n"
	ts, _, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 1 || ts[0].Seconds != 15 || ts[0].MarginSeconds != 3 {
		t.Fatalf("templates = %+v", ts)
	}
}

func TestParseCSVMissingColumns(t *testing.T) {
	t.Parallel()
	_, _, err := ParseCSV(strings.NewReader("group,seconds\nG,10\n"))
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("err = %v", err)
	}
	_, _, err = ParseCSV(strings.NewReader(""))
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("empty err = %v", err)
	}
}

func TestParseYAMLRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, _, err := ParseYAML("c.yaml", []byte("templates:\n  - {group: G, entity: E, name: x, bogus: 1}\n"))
	if err == nil {
		t.Fatal("expected strict decode error")
	}
}

func TestBuiltinCatalog(t *testing.T) {
	t.Parallel()
	c := Builtin()
	if c.Source() != "builtin" || c.Len() == 0 {
		t.Fatalf("builtin = %s/%d", c.Source(), c.Len())
	}
	groups := c.Groups()
	if len(groups) == 0 || len(c.Entities(groups[0])) == 0 {
		t.Fatalf("groups = %v", groups)
	}
}

func TestBuildKeepsOrderAndFirstMargin(t *testing.T) {
	t.Parallel()
	ts, _, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	c := New("test", ts)

	spec, err := c.Build("G1", "Alice", "sign", "photo", "photo")
	if err != nil {
		t.Fatal(err)
	}
	if spec.ItemNames() != "sign,photo,photo" {
		t.Fatalf("names = %q", spec.ItemNames())
	}
	if spec.TotalSeconds() != 60+40+40 || spec.TotalUnits() != 4 || spec.MarginSeconds() != 10 {
		t.Fatalf("spec totals = %d/%d/%d", spec.TotalSeconds(), spec.TotalUnits(), spec.MarginSeconds())
	}

	if _, err := c.Build("G1", "Alice"); !errors.Is(err, engine.ErrEmptySpec) {
		t.Fatalf("empty selection err = %v", err)
	}
	if _, err := c.Build("G1", "Zed", "photo"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("unknown entity err = %v", err)
	}
	if _, err := c.Build("G1", "Alice", "dance"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("unknown template err = %v", err)
	}
}

func TestLookupAndKeys(t *testing.T) {
	t.Parallel()
	ts, _, _ := ParseCSV(strings.NewReader(sampleCSV))
	c := New("test", ts)
	if got := c.Lookup("G1", "Alice"); len(got) != 2 {
		t.Fatalf("Lookup = %+v", got)
	}
	if got := c.Lookup("G9", "x"); got != nil {
		t.Fatalf("Lookup unknown = %+v", got)
	}
	keys := c.Keys()
	if len(keys) != 3 || keys[0] != "G1__Alice" {
		t.Fatalf("Keys = %v", keys)
	}
	if got := c.Groups(); len(got) != 2 || got[0] != "G1" {
		t.Fatalf("Groups = %v", got)
	}
}

func TestStoreFallsBackAndReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")

	s := NewStore(path, logx.Nop())
	if s.Current().Source() != "builtin" {
		t.Fatal("missing file should fall back to builtin")
	}

	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	var notified *Catalog
	s.OnChange(func(c *Catalog) { notified = c })
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if s.Current().Source() != path || notified != s.Current() {
		t.Fatalf("source = %s", s.Current().Source())
	}

	if err := os.WriteFile(path, []byte("nothing,useful\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if s.Current().Source() != path {
		t.Fatal("failed reload must keep the previous catalog")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := "templates:\n  - group: G\n    entity: E\n    name: x\n    seconds: 90\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Lookup("G", "E"); len(got) != 1 || got[0].Seconds != 90 || got[0].MarginSeconds != DefaultMarginSeconds {
		t.Fatalf("templates = %+v", got)
	}
}
