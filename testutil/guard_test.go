package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func TestStorageDriverImport(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"modernc.org/sqlite", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"github.com/aws/smithy-go/middleware", true},
		{"modernc.org/sqlitex", false},
		{"github.com/google/uuid", false},
		{"fishlog/pkg/domain", false},
	}
	for _, c := range cases {
		if got := StorageDriverImport(c.in); got != c.want {
			t.Fatalf("StorageDriverImport(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestUnderAndAnyOf(t *testing.T) {
	infra := Under("fishlog/internal/infra")
	if !infra("fishlog/internal/infra") || !infra("fishlog/internal/infra/blob/s3") || infra("fishlog/internal/infrastructure") {
		t.Fatalf("Under matched the wrong paths")
	}
	pred := AnyOf(infra, InternalImportForbidden, StorageDriverImport)
	if !pred("modernc.org/sqlite") || !pred("example.com/x/internal/y") || pred("fishlog/pkg/domain") {
		t.Fatalf("AnyOf combined predicates incorrectly")
	}
}

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "store.go", "package tmp\nimport (\n\t\"fmt\"\n\t_ \"modernc.org/sqlite\"\n)\nvar _ = fmt.Sprint\n")
	writeGo(t, dir, "store_test.go", "package tmp\nimport _ \"github.com/jackc/pgx/v5/stdlib\"\n")
	writeGo(t, dir, "README.md", "not go")

	viols, err := directImportViolations(dir, StorageDriverImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite (in store.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	AssertNoDirectImports(t, dir, InternalImportForbidden, "no internal imports in fixture")

	writeGo(t, dir, "broken.go", "package tmp\nimport (")
	if _, err := directImportViolations(dir, StorageDriverImport); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), StorageDriverImport); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	prev := goListDeps
	t.Cleanup(func() { goListDeps = prev })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nfishlog/pkg/domain\n\nmodernc.org/sqlite\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", StorageDriverImport)
	if err != nil || len(viols) != 1 || viols[0] != "modernc.org/sqlite" {
		t.Fatalf("unexpected result %v %v", viols, err)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("fmt\n"), nil }
	AssertNoTransitiveDependency(t, ".", StorageDriverImport, "clean fixture")

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations(".", StorageDriverImport); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure, got %v %q", err, out)
	}
}

func TestImporterViolations(t *testing.T) {
	s3 := &packages.Package{PkgPath: "fishlog/internal/infra/blob/s3"}
	pkgs := []*packages.Package{
		{PkgPath: "fishlog/internal/blob", Imports: map[string]*packages.Package{s3.PkgPath: s3}},
		{PkgPath: "fishlog/internal/infra/blob/fs", Imports: map[string]*packages.Package{s3.PkgPath: s3}},
		{PkgPath: "fishlog/internal/core", Imports: map[string]*packages.Package{s3.PkgPath: s3, "fmt": {PkgPath: "fmt"}}},
		{PkgPath: "fishlog/cmd/fishlog", Imports: map[string]*packages.Package{"fishlog/internal/blob": {}}},
	}
	viols := importerViolations(pkgs, Under("fishlog/internal/infra/blob"), Under("fishlog/internal/blob"))
	if len(viols) != 1 || viols[0] != "fishlog/internal/core: fishlog/internal/infra/blob/s3" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	var rec recordingFatal
	failIfViolations(&rec, "forbidden imports", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIfViolations(&rec, "forbidden imports", "keep drivers in infra", []string{"a", "b"})
	if !strings.Contains(rec.msg, "forbidden imports detected (keep drivers in infra)") || !strings.HasSuffix(rec.msg, "a\nb") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}
