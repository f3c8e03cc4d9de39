package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = format
	if len(args) > 0 {
		r.msg = strings.Join([]string{format, args[len(args)-1].(string)}, "|")
	}
}

func writeSource(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		in   string
		want bool
	}{
		{"internal", InternalImportForbidden, "cohortingest/internal/merge", true},
		{"internal bare", InternalImportForbidden, "cohortingest/internal", false},
		{"internal pkg", InternalImportForbidden, "cohortingest/pkg/domain", false},
		{"infra blob", InfraImportForbidden, "cohortingest/internal/infra/blob/s3", true},
		{"infra root", InfraImportForbidden, "cohortingest/internal/infra", true},
		{"infra facade", InfraImportForbidden, "cohortingest/internal/blob", false},
		{"aws", BackendImportForbidden, "github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"pgx", BackendImportForbidden, "github.com/jackc/pgx/v5/stdlib", true},
		{"sqlite", BackendImportForbidden, "modernc.org/sqlite", true},
		{"database/sql", BackendImportForbidden, "database/sql/driver", true},
		{"pgzip", BackendImportForbidden, "github.com/klauspost/pgzip", false},
		{"empty", BackendImportForbidden, "", false},
	}
	for _, tc := range cases {
		if got := tc.pred(tc.in); got != tc.want {
			t.Errorf("%s: predicate(%q)=%v want %v", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestAnyOf(t *testing.T) {
	pred := AnyOf(InfraImportForbidden, BackendImportForbidden)
	if !pred("modernc.org/sqlite") || !pred("cohortingest/internal/infra/persistence/memory") {
		t.Fatalf("expected combined predicate to match")
	}
	if pred("fmt") {
		t.Fatalf("fmt should not match")
	}
	if AnyOf()("anything") {
		t.Fatalf("empty AnyOf should match nothing")
	}
}

func TestAssertNoDirectImportsAllowed(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "x.go", "package tmp\nimport (\n\t\"fmt\"\n\talias \"context\"\n)\nfunc X(){fmt.Println(alias.Background())}")
	writeSource(t, dir, "readme.txt", "import \"modernc.org/sqlite\"")
	writeSource(t, dir, "x_test.go", "package tmp\nimport _ \"modernc.org/sqlite\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSource(t, filepath.Join(dir, "sub"), "sub.go", "package sub\nimport _ \"modernc.org/sqlite\"\n")
	AssertNoDirectImports(t, dir, BackendImportForbidden, "tests and subdirectories are ignored")
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "store.go", "package tmp\nimport (\n\t\"database/sql\"\n\t_ \"modernc.org/sqlite\"\n)\nvar _ *sql.DB\n")
	viols, err := directImportViolations(dir, BackendImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 2 || viols[0] != "database/sql (in store.go)" || viols[1] != "modernc.org/sqlite (in store.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	rec := &recordingFatal{}
	failIfViolations(rec, "forbidden direct imports detected", "backend", viols)
	if !strings.Contains(rec.msg, "modernc.org/sqlite") {
		t.Fatalf("expected violations in failure message, got %q", rec.msg)
	}
}

func TestDirectImportViolationsErrors(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), BackendImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	dir := t.TempDir()
	writeSource(t, dir, "bad.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, BackendImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\ncohortingest/pkg/domain\n\nmodernc.org/sqlite\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", BackendImportForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "modernc.org/sqlite" {
		t.Fatalf("unexpected result %v %v", viols, err)
	}
	AssertNoTransitiveDependency(t, "./...", InfraImportForbidden, "no infra in fake listing")

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations(".", BackendImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure, got %v %q", err, out)
	}
}

func TestFailIfViolationsQuietWhenClean(t *testing.T) {
	rec := &recordingFatal{}
	failIfViolations(rec, "msg", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("unexpected failure %q", rec.msg)
	}
}
