// Package patcher rewrites occurrences of a failing locator inside test
// source files. It assumes single-writer discipline: the caller guarantees
// no concurrent session touches the same files, so no file locking happens
// here.
package patcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// sourceExtensions are the file types scanned under the search roots.
var sourceExtensions = map[string]bool{
	".js":  true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
	".mjs": true,
	".cjs": true,
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// callExpressionRegex recognizes candidate selectors that are expressions
// (e.g. getByRole('button', {name: 'Create'})) rather than plain selector
// strings. Expressions replace the whole quoted token, quotes included.
var callExpressionRegex = regexp.MustCompile(`^[A-Za-z_$][\w$.]*\(`)

// Result reports what one Apply call changed on disk.
type Result struct {
	FilesModified int
	Files         []string
}

// Applier performs literal locator replacement across the search roots.
// Before the first write to any file it retains the original content in
// memory, so a failed session can be rolled back and audited.
type Applier struct {
	log     *zap.Logger
	backups map[string][]byte
}

// NewApplier creates a patch applier with an empty backup set. One applier
// instance belongs to one healing session.
func NewApplier(logger *zap.Logger) *Applier {
	return &Applier{
		log:     logger.Named("patcher"),
		backups: make(map[string][]byte),
	}
}

// Apply replaces every literal occurrence of oldLocator under the search
// roots with the candidate's selector expression, covering single, double
// and backtick quoting variants. Only files with at least one replacement
// are written back. Re-applying the same replacement is a no-op because the
// old string is no longer present.
func (a *Applier) Apply(oldLocator string, candidate schemas.AlternativeCandidate, searchRoots []string) (*Result, error) {
	if oldLocator == "" {
		return nil, fmt.Errorf("old locator must not be empty")
	}

	res := &Result{}
	for _, root := range searchRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// A missing root is not fatal; the caller may configure
				// roots that only exist in some projects.
				if os.IsNotExist(err) {
					return filepath.SkipAll
				}
				return err
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !sourceExtensions[filepath.Ext(path)] {
				return nil
			}
			modified, err := a.patchFile(path, oldLocator, candidate)
			if err != nil {
				return err
			}
			if modified {
				res.FilesModified++
				res.Files = append(res.Files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan search root '%s': %w", root, err)
		}
	}

	a.log.Info("Locator patch applied.",
		zap.String("old_locator", oldLocator),
		zap.String("new_selector", candidate.Selector),
		zap.Int("files_modified", res.FilesModified))
	return res, nil
}

// RewriteContent applies the same replacement to an in-memory script and
// reports whether anything changed. The healing session uses this for its
// exclusively owned script content.
func (a *Applier) RewriteContent(content, oldLocator string, candidate schemas.AlternativeCandidate) (string, bool) {
	rewritten := replaceLocator(content, oldLocator, candidate.Selector)
	return rewritten, rewritten != content
}

// patchFile rewrites one file on disk, retaining a backup of the original
// content before the first write.
func (a *Applier) patchFile(path, oldLocator string, candidate schemas.AlternativeCandidate) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat '%s': %w", path, err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read '%s': %w", path, err)
	}

	rewritten := replaceLocator(string(original), oldLocator, candidate.Selector)
	if rewritten == string(original) {
		return false, nil
	}

	if _, backed := a.backups[path]; !backed {
		a.backups[path] = original
	}

	if err := os.WriteFile(path, []byte(rewritten), info.Mode()); err != nil {
		return false, fmt.Errorf("failed to write patched file '%s': %w", path, err)
	}
	return true, nil
}

// replaceLocator substitutes oldLocator with the new selector across the
// three quoting variants plus bare occurrences. When the new selector is a
// call expression the quotes are consumed too, turning locator('old') into
// locator(getByRole(...)).
func replaceLocator(content, oldLocator, newSelector string) string {
	isExpression := callExpressionRegex.MatchString(newSelector)

	pairs := make([]string, 0, 8)
	for _, q := range []string{`'`, `"`, "\x60"} {
		quoted := q + oldLocator + q
		if isExpression {
			pairs = append(pairs, quoted, newSelector)
		} else {
			pairs = append(pairs, quoted, q+newSelector+q)
		}
	}
	// Bare occurrences last, so quoted forms win at the same position.
	pairs = append(pairs, oldLocator, newSelector)

	return strings.NewReplacer(pairs...).Replace(content)
}

// AppendToFile appends addition to the file at path, retaining a backup of
// the original content first. Used by deterministic fixers that add
// statements (e.g. a missing export) rather than replace locators.
func (a *Applier) AppendToFile(path, addition string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat '%s': %w", path, err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", path, err)
	}

	if _, backed := a.backups[path]; !backed {
		a.backups[path] = original
	}

	content := string(original)
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += addition
	if !strings.HasSuffix(addition, "\n") {
		content += "\n"
	}

	if err := os.WriteFile(path, []byte(content), info.Mode()); err != nil {
		return fmt.Errorf("failed to append to '%s': %w", path, err)
	}
	a.log.Info("Statement appended to file.", zap.String("path", path))
	return nil
}

// ReplaceLiteral substitutes old with new across quoting variants in an
// in-memory string, reporting whether anything changed.
func ReplaceLiteral(content, old, new string) (string, bool) {
	rewritten := replaceLocator(content, old, new)
	return rewritten, rewritten != content
}

// Backups returns a copy of the original content of every file modified in
// this session, keyed by path.
func (a *Applier) Backups() map[string][]byte {
	out := make(map[string][]byte, len(a.backups))
	for path, content := range a.backups {
		c := make([]byte, len(content))
		copy(c, content)
		out[path] = c
	}
	return out
}

// Restore writes every backed-up file back to its original content and
// reports how many files were restored.
func (a *Applier) Restore() (int, error) {
	restored := 0
	for path, content := range a.backups {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return restored, fmt.Errorf("failed to restore '%s': %w", path, err)
		}
		restored++
	}
	a.log.Info("Original file content restored.", zap.Int("files", restored))
	return restored, nil
}
