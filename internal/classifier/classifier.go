// Package classifier maps raw test runner output to a typed failure signal.
// Classification is a pure function of the output text and exit code: no
// I/O, no side effects, deterministic for identical input. That property is
// what lets the healing loop be driven by canned output sequences in tests.
package classifier

import (
	"regexp"
	"strconv"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// rule maps an output pattern to a failure kind. Rules are evaluated in
// order and the first match wins, so more specific patterns must precede
// broader ones (a locator timeout message also mentions "Error").
type rule struct {
	kind    schemas.FailureKind
	pattern *regexp.Regexp
}

// Regex definitions use \x60 for backticks because Go raw strings cannot
// contain them.
var rules = []rule{
	// Harness faults first: these messages can also contain "TimeoutError"
	// or "Error" wording that would otherwise match a healable kind.
	{schemas.KindInfrastructureError, regexp.MustCompile(`browserType\.launch|Failed to launch|Executable doesn't exist|browser has been closed|ECONNREFUSED|ECONNRESET|EADDRINUSE|net::ERR_`)},

	// Locator failures, the primary healable kind.
	{schemas.KindLocatorError, regexp.MustCompile(`TimeoutError:.*(?:locator|selector|getBy|waiting for)|waiting for (?:locator|selector|getBy)|element\(s\) not found|strict mode violation|failed to find element matching selector|No node found for selector`)},

	// Module resolution failures.
	{schemas.KindImportError, regexp.MustCompile(`Cannot find module|ERR_MODULE_NOT_FOUND|Cannot resolve module`)},

	// Missing or broken exports.
	{schemas.KindExportError, regexp.MustCompile(`is not a constructor|does not provide an export named|has no exported member|is not exported from`)},

	{schemas.KindSyntaxError, regexp.MustCompile(`SyntaxError`)},
	{schemas.KindTypeError, regexp.MustCompile(`TypeError`)},
}

var (
	// locatorRegex pulls the quoted selector text following a locator-access
	// call, covering both call syntax (locator('x')) and prose from timeout
	// messages (locator 'x' not found).
	locatorRegex = regexp.MustCompile(`(?:locator|selector|waitForSelector|getByRole|getByTestId|getByText|getByLabel|getByPlaceholder|querySelector(?:All)?|\$\$?)\s*\(?\s*['"\x60]([^'"\x60]+)['"\x60]`)

	// exportNameRegex pulls the identifier from export failure messages.
	exportNameRegex = regexp.MustCompile(`(?:export named ['"\x60]?(\w+)|(\w+) is not a constructor|member ['"\x60]?(\w+))`)

	// moduleRegex pulls the module specifier from import failure messages.
	moduleRegex = regexp.MustCompile(`(?:Cannot find module|Cannot resolve module|requested module)\s+['"\x60]?([^'"\x60\s]+)`)

	// locationRegex finds a "file.ts:42" style source hint.
	locationRegex = regexp.MustCompile(`([A-Za-z0-9_\-./]+\.[cm]?[jt]sx?):(\d+)`)
)

// Classify maps one runner invocation's combined output and exit code to a
// FailureSignal. A clean exit with no recognized failure pattern is success;
// a nonzero exit with no recognized pattern is unknown.
func Classify(rawOutput string, exitCode int) schemas.FailureSignal {
	sig := schemas.FailureSignal{
		Kind:       schemas.KindUnknown,
		RawMessage: rawOutput,
	}

	matched := false
	for _, r := range rules {
		if r.pattern.MatchString(rawOutput) {
			sig.Kind = r.kind
			matched = true
			break
		}
	}

	if !matched {
		if exitCode == 0 {
			sig.Kind = schemas.KindSuccess
			return sig
		}
		return sig
	}

	if sig.Kind == schemas.KindLocatorError {
		if m := locatorRegex.FindStringSubmatch(rawOutput); len(m) > 1 {
			sig.ExtractedLocator = m[1]
		}
	}

	if m := locationRegex.FindStringSubmatch(rawOutput); len(m) == 3 {
		sig.FileHint = m[1]
		sig.LineHint, _ = strconv.Atoi(m[2])
	}

	return sig
}

// ExtractModuleSpecifier pulls the unresolvable module path out of an
// import_error message. Empty when the message carries none.
func ExtractModuleSpecifier(rawOutput string) string {
	if m := moduleRegex.FindStringSubmatch(rawOutput); len(m) > 1 {
		return m[1]
	}
	return ""
}

// ExtractExportName pulls the missing identifier out of an export_error
// message. Empty when the message carries none.
func ExtractExportName(rawOutput string) string {
	m := exportNameRegex.FindStringSubmatch(rawOutput)
	if len(m) == 0 {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
