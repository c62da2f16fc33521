// Package testutil provides reusable helpers for enforcing package boundary
// rules from tests.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertNoDirectImports scans all non-test .go files in dir (typically "." from
// within the package) and fails if any import path satisfies forbidden. Build
// tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected", reason, viols)
}

// AssertNoTransitiveDependency loads pattern with its full dependency graph and
// fails if any reachable package path satisfies forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "forbidden transitive dependency detected", reason, viols)
}

// AssertImportedOnlyBy fails when a package matched by pattern, other than
// those under one of the allowed prefixes, imports a package under restricted.
// Test variants are included.
func AssertImportedOnlyBy(t testing.TB, pattern, restricted string, allowed ...string) {
	t.Helper()
	viols, err := restrictedImportViolations(pattern, restricted, allowed)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "restricted package imported", restricted+" is reserved for "+strings.Join(allowed, ", "), viols)
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// ThirdPartyImport matches import paths whose first element is a domain name.
func ThirdPartyImport(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}

// HasPathPrefix reports whether path equals prefix or lies beneath it.
func HasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

var loadPackages = func(mode packages.LoadMode, tests bool, pattern string) ([]*packages.Package, error) {
	return packages.Load(&packages.Config{Mode: mode, Tests: tests}, pattern)
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, error) {
	roots, err := loadPackages(packages.NeedName|packages.NeedImports|packages.NeedDeps, false, pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var viols []string
	var walk func(*packages.Package)
	walk = func(pkg *packages.Package) {
		if seen[pkg.PkgPath] {
			return
		}
		seen[pkg.PkgPath] = true
		if forbidden(pkg.PkgPath) {
			viols = append(viols, pkg.PkgPath)
		}
		for _, imp := range pkg.Imports {
			walk(imp)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	sort.Strings(viols)
	return viols, nil
}

func restrictedImportViolations(pattern, restricted string, allowed []string) ([]string, error) {
	pkgs, err := loadPackages(packages.NeedName|packages.NeedImports, true, pattern)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{})
	for _, pkg := range pkgs {
		if HasPathPrefix(pkg.PkgPath, restricted) || allowedPackage(pkg.PkgPath, allowed) {
			continue
		}
		for importPath := range pkg.Imports {
			if HasPathPrefix(importPath, restricted) {
				found[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}
	viols := make([]string, 0, len(found))
	for v := range found {
		viols = append(viols, v)
	}
	sort.Strings(viols)
	return viols, nil
}

func allowedPackage(path string, allowed []string) bool {
	for _, prefix := range allowed {
		if HasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, headline, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s (%s):\n%s", headline, reason, strings.Join(viols, "\n"))
	}
}
