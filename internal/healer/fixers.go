package healer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/candidates"
	"github.com/xkilldash9x/suture-cli/internal/classifier"
	"github.com/xkilldash9x/suture-cli/internal/llmutil"
	"github.com/xkilldash9x/suture-cli/internal/patcher"
	"github.com/xkilldash9x/suture-cli/internal/selection"
)

// FixerDeps bundles the shared collaborators the fixer table needs.
type FixerDeps struct {
	Resolver    *candidates.Resolver
	Policy      *selection.Policy
	Applier     *patcher.Applier
	LLM         schemas.LLMClient // nil disables reasoning-assisted fixers
	SearchRoots []string
	Logger      *zap.Logger
}

// DefaultFixers builds the standard kind-to-fixer table. KindUnknown and
// KindInfrastructureError deliberately have no entry; the orchestrator
// fails fast on them.
func DefaultFixers(deps FixerDeps) map[schemas.FailureKind]Fixer {
	fixers := map[schemas.FailureKind]Fixer{
		schemas.KindLocatorError: &LocatorFixer{
			resolver:    deps.Resolver,
			policy:      deps.Policy,
			applier:     deps.Applier,
			searchRoots: deps.SearchRoots,
			log:         deps.Logger.Named("fixer.locator"),
		},
		schemas.KindExportError: &ExportFixer{
			applier:     deps.Applier,
			searchRoots: deps.SearchRoots,
			log:         deps.Logger.Named("fixer.export"),
		},
		schemas.KindImportError: &ImportFixer{
			searchRoots: deps.SearchRoots,
			log:         deps.Logger.Named("fixer.import"),
		},
	}
	if deps.LLM != nil {
		rewrite := &RewriteFixer{
			llm:     deps.LLM,
			timeout: rewriteTimeout,
			log:     deps.Logger.Named("fixer.rewrite"),
		}
		fixers[schemas.KindSyntaxError] = rewrite
		fixers[schemas.KindTypeError] = rewrite
	}
	return fixers
}

// LocatorFixer heals a broken selector: pull alternative candidates from
// the element store, let the selection policy pick one, then patch the
// script and any on-disk support files.
type LocatorFixer struct {
	resolver    *candidates.Resolver
	policy      *selection.Policy
	applier     *patcher.Applier
	searchRoots []string
	log         *zap.Logger
}

func (f *LocatorFixer) Fix(ctx context.Context, sess *Session, sig schemas.FailureSignal) (*FixOutcome, error) {
	if sig.ExtractedLocator == "" {
		f.log.Warn("Locator failure carried no extractable selector.",
			zap.String("raw_message", truncateForLog(sig.RawMessage)))
		return &FixOutcome{Changed: false}, nil
	}

	hints := candidates.Hints{Action: actionHint(sess.Script, sig.ExtractedLocator)}
	found, err := f.resolver.Resolve(ctx, sig.ExtractedLocator, sess.PageContext, hints)
	if err != nil {
		return nil, fmt.Errorf("candidate resolution failed: %w", err)
	}
	if len(found) == 0 {
		f.log.Info("No alternative candidates available; occurrence is not healable.",
			zap.String("locator", sig.ExtractedLocator),
			zap.String("page_context", sess.PageContext))
		return &FixOutcome{Changed: false, Candidates: found}, nil
	}

	chosen := f.policy.Select(ctx, sig, found, scriptSnippet(sess.Script, sig.ExtractedLocator))
	if chosen == nil {
		return &FixOutcome{Changed: false, Candidates: found}, nil
	}

	changed := false
	if rewritten, ok := f.applier.RewriteContent(sess.Script, sig.ExtractedLocator, *chosen); ok {
		sess.Script = rewritten
		changed = true
	}
	if len(f.searchRoots) > 0 {
		// The failing locator may live in a shared page-object file rather
		// than the script body itself.
		res, err := f.applier.Apply(sig.ExtractedLocator, *chosen, f.searchRoots)
		if err != nil {
			return nil, fmt.Errorf("applying locator patch on disk: %w", err)
		}
		if res.FilesModified > 0 {
			changed = true
		}
	}

	if changed {
		f.log.Info("Locator replaced.",
			zap.String("old", sig.ExtractedLocator),
			zap.String("new", chosen.Selector),
			zap.String("strategy", string(chosen.Strategy)))
	} else {
		f.log.Warn("Chosen candidate produced no textual change.",
			zap.String("locator", sig.ExtractedLocator))
	}
	return &FixOutcome{Changed: changed, Candidates: found, Chosen: chosen}, nil
}

// ExportFixer handles "module X does not export Y" failures
// deterministically: locate the declaring module and append the missing
// export statement. No reasoning service is involved.
type ExportFixer struct {
	applier     *patcher.Applier
	searchRoots []string
	log         *zap.Logger
}

func (f *ExportFixer) Fix(ctx context.Context, sess *Session, sig schemas.FailureSignal) (*FixOutcome, error) {
	name := classifier.ExtractExportName(sig.RawMessage)
	if name == "" {
		f.log.Warn("Export failure without an identifiable export name.",
			zap.String("raw_message", truncateForLog(sig.RawMessage)))
		return &FixOutcome{Changed: false}, nil
	}

	path := f.declaringFile(sig, name)
	if path == "" {
		f.log.Warn("Could not locate the module that should declare the export.",
			zap.String("export", name))
		return &FixOutcome{Changed: false}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module '%s': %w", path, err)
	}
	if !declares(string(content), name) {
		f.log.Warn("Module does not declare the missing identifier; appending an export would not help.",
			zap.String("export", name),
			zap.String("path", path))
		return &FixOutcome{Changed: false}, nil
	}
	if alreadyExports(string(content), name) {
		// Re-appending an identical export is a no-op by contract.
		return &FixOutcome{Changed: false}, nil
	}

	stmt := "export { " + name + " };"
	if strings.Contains(string(content), "module.exports") {
		stmt = "module.exports." + name + " = " + name + ";"
	}
	if err := f.applier.AppendToFile(path, stmt); err != nil {
		return nil, fmt.Errorf("appending export to '%s': %w", path, err)
	}
	f.log.Info("Missing export appended.",
		zap.String("export", name),
		zap.String("path", path))
	return &FixOutcome{Changed: true}, nil
}

// declaringFile picks the module file to amend, preferring the module
// specifier from the error message, then the file hint, then a search for
// a file declaring the identifier.
func (f *ExportFixer) declaringFile(sig schemas.FailureSignal, name string) string {
	if spec := classifier.ExtractModuleSpecifier(sig.RawMessage); spec != "" {
		if p := resolveModulePath(spec, f.searchRoots); p != "" {
			return p
		}
	}
	if sig.FileHint != "" {
		if p := resolveModulePath(sig.FileHint, f.searchRoots); p != "" {
			return p
		}
	}
	var match string
	walkSourceFiles(f.searchRoots, func(path string, content []byte) bool {
		if declares(string(content), name) {
			match = path
			return false
		}
		return true
	})
	return match
}

// ImportFixer repairs unresolved module specifiers by rewriting them to
// point at the one matching file under the search roots. Ambiguous or
// absent matches are left alone; guessing a path would trade one failure
// for a subtler one.
type ImportFixer struct {
	searchRoots []string
	log         *zap.Logger
}

func (f *ImportFixer) Fix(ctx context.Context, sess *Session, sig schemas.FailureSignal) (*FixOutcome, error) {
	spec := classifier.ExtractModuleSpecifier(sig.RawMessage)
	if spec == "" {
		f.log.Warn("Import failure without an identifiable module specifier.",
			zap.String("raw_message", truncateForLog(sig.RawMessage)))
		return &FixOutcome{Changed: false}, nil
	}
	if !strings.HasPrefix(spec, ".") && !strings.HasPrefix(spec, "/") {
		// A bare package specifier means a missing dependency install, not
		// a path we can rewrite.
		f.log.Info("Module specifier is a package name; not rewritable.",
			zap.String("specifier", spec))
		return &FixOutcome{Changed: false}, nil
	}

	base := strings.TrimSuffix(filepath.Base(spec), filepath.Ext(spec))
	var matches []string
	walkSourceFiles(f.searchRoots, func(path string, _ []byte) bool {
		if strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) == base {
			matches = append(matches, path)
		}
		return true
	})
	if len(matches) != 1 {
		f.log.Info("No unambiguous replacement module found.",
			zap.String("specifier", spec),
			zap.Int("matches", len(matches)))
		return &FixOutcome{Changed: false}, nil
	}

	replacement := "./" + filepath.ToSlash(relativeToRoot(matches[0], f.searchRoots))
	rewritten, ok := patcher.ReplaceLiteral(sess.Script, spec, replacement)
	if !ok {
		return &FixOutcome{Changed: false}, nil
	}
	sess.Script = rewritten
	f.log.Info("Module specifier rewritten.",
		zap.String("old", spec),
		zap.String("new", replacement))
	return &FixOutcome{Changed: true}, nil
}

const rewriteTimeout = 45 * time.Second

// RewriteFixer asks the reasoning service for a corrected version of the
// single offending line for syntax and type failures. Any service fault,
// malformed answer, or missing line hint yields an unchanged outcome.
type RewriteFixer struct {
	llm     schemas.LLMClient
	timeout time.Duration
	log     *zap.Logger
}

type rewriteResponse struct {
	FixedLine string `json:"fixed_line"`
	Reason    string `json:"reason"`
}

func (f *RewriteFixer) Fix(ctx context.Context, sess *Session, sig schemas.FailureSignal) (*FixOutcome, error) {
	lines := strings.Split(sess.Script, "\n")
	idx := sig.LineHint - 1
	if idx < 0 || idx >= len(lines) {
		f.log.Warn("Failure location does not map onto the script; cannot rewrite.",
			zap.Int("line_hint", sig.LineHint))
		return &FixOutcome{Changed: false}, nil
	}
	original := lines[idx]

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	raw, err := f.llm.Generate(reqCtx, schemas.GenerationRequest{
		Tier:         schemas.TierPowerful,
		SystemPrompt: rewriteSystemPrompt,
		UserPrompt:   buildRewritePrompt(sig, original),
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		f.log.Warn("Reasoning service unavailable for rewrite; leaving script unchanged.", zap.Error(err))
		return &FixOutcome{Changed: false}, nil
	}
	parsed, err := llmutil.ParseJSONResponse[rewriteResponse](raw)
	if err != nil {
		f.log.Warn("Malformed rewrite response; leaving script unchanged.", zap.Error(err))
		return &FixOutcome{Changed: false}, nil
	}
	fixed := llmutil.CleanCodeOutput(parsed.FixedLine)
	if fixed == "" || strings.Contains(fixed, "\n") || strings.TrimSpace(fixed) == strings.TrimSpace(original) {
		f.log.Warn("Rewrite response was unusable.",
			zap.String("fixed_line", truncateForLog(fixed)))
		return &FixOutcome{Changed: false}, nil
	}

	lines[idx] = fixed
	sess.Script = strings.Join(lines, "\n")
	f.log.Info("Offending line rewritten.",
		zap.Int("line", sig.LineHint),
		zap.String("reason", parsed.Reason))
	return &FixOutcome{Changed: true}, nil
}

const rewriteSystemPrompt = `You are a senior UI test automation engineer. You will be given a compiler or runtime error and the single source line it points at. Respond with a corrected version of that line. Do not restructure surrounding code; change only what the error requires.`

func buildRewritePrompt(sig schemas.FailureSignal, line string) string {
	var b strings.Builder
	b.WriteString("Error output:\n")
	b.WriteString(truncateForLog(sig.RawMessage))
	b.WriteString("\n\nOffending line:\n")
	b.WriteString(line)
	b.WriteString("\n\nRespond with a JSON object: {\"fixed_line\": \"<corrected line>\", \"reason\": \"<one sentence>\"}")
	return b.String()
}

// actionHint inspects the script for the method invoked on the failing
// locator, e.g. "click" from page.locator('#x').click().
func actionHint(script, locator string) string {
	pos := strings.Index(script, locator)
	if pos < 0 {
		return ""
	}
	rest := script[pos+len(locator):]
	// Skip the closing quote and call parenthesis of the locator itself.
	for i := 0; i < len(rest); i++ {
		if rest[i] != '.' {
			continue
		}
		end := i + 1
		for end < len(rest) && (isIdentByte(rest[end])) {
			end++
		}
		if end < len(rest) && rest[end] == '(' {
			return rest[i+1 : end]
		}
		return ""
	}
	return ""
}

// scriptSnippet returns the lines surrounding the first use of the failing
// locator, for the selection policy's prompt.
func scriptSnippet(script, locator string) string {
	lines := strings.Split(script, "\n")
	for i, line := range lines {
		if !strings.Contains(line, locator) {
			continue
		}
		start := i - 2
		if start < 0 {
			start = 0
		}
		end := i + 3
		if end > len(lines) {
			end = len(lines)
		}
		return strings.Join(lines[start:end], "\n")
	}
	return ""
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// declares reports whether content declares the identifier via const, let,
// var, function or class.
func declares(content, name string) bool {
	for _, kw := range []string{"const ", "let ", "var ", "function ", "class ", "async function "} {
		if strings.Contains(content, kw+name) {
			return true
		}
	}
	return false
}

func alreadyExports(content, name string) bool {
	for _, form := range []string{
		"export { " + name,
		"export {" + name,
		"export const " + name,
		"export function " + name,
		"export class " + name,
		"module.exports." + name,
	} {
		if strings.Contains(content, form) {
			return true
		}
	}
	return false
}

var moduleExtensions = []string{"", ".ts", ".js", ".tsx", ".jsx", ".mjs", ".cjs"}

// resolveModulePath maps a module specifier or file hint onto an existing
// file under the search roots, trying the usual extension set.
func resolveModulePath(spec string, roots []string) string {
	trimmed := strings.TrimPrefix(spec, "./")
	for _, root := range roots {
		for _, ext := range moduleExtensions {
			p := filepath.Join(root, trimmed+ext)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	if info, err := os.Stat(spec); err == nil && !info.IsDir() {
		return spec
	}
	return ""
}

func relativeToRoot(path string, roots []string) string {
	for _, root := range roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

// walkSourceFiles visits every source file under the roots, stopping when
// the visitor returns false. Missing roots are skipped silently.
func walkSourceFiles(roots []string, visit func(path string, content []byte) bool) {
	exts := map[string]bool{
		".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	}
	for _, root := range roots {
		stop := false
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				name := d.Name()
				if name == "node_modules" || name == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if !exts[filepath.Ext(path)] {
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			if !visit(path, content) {
				stop = true
				return filepath.SkipAll
			}
			return nil
		})
		if stop {
			break
		}
	}
}
