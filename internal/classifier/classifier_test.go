// internal/classifier/classifier_test.go
package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// Sample runner outputs for testing

const (
	outputLocatorTimeout = `Running 1 test using 1 worker

  1) example.spec.ts:12:5 > login flow

    TimeoutError: locator.click: Timeout 30000ms exceeded.
    Call log:
      - waiting for locator('#submit-btn')

    at tests/example.spec.ts:14:38
`

	outputStrictMode = `Error: strict mode violation: getByText('Save') resolved to 3 elements`

	outputWaitForSelector = `TimeoutError: page.waitForSelector: Timeout 10000ms exceeded.
waiting for selector "button.legacy-submit" to be visible`

	outputImportMissing = `Error: Cannot find module './pages/login-page'
Require stack:
- /work/tests/example.spec.ts
`

	outputExportMissing = `SyntaxError: The requested module './helpers.js' does not provide an export named 'login'`

	outputNotAConstructor = `TypeError: LoginPage is not a constructor
    at tests/example.spec.ts:8:20
`

	outputSyntax = `/work/tests/example.spec.ts:22
  await page.click('#x'
                       ^
SyntaxError: missing ) after argument list
`

	outputType = `TypeError: Cannot read properties of undefined (reading 'click')
    at tests/example.spec.ts:31:18
`

	outputBrowserLaunch = `browserType.launch: Executable doesn't exist at /ms-playwright/chromium-1091/chrome-linux/chrome`

	outputConnRefused = `Error: connect ECONNREFUSED 127.0.0.1:3000`

	outputPassing = `Running 3 tests using 1 worker
  3 passed (4.2s)
`
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name            string
		rawOutput       string
		exitCode        int
		expectedKind    schemas.FailureKind
		expectedLocator string
		expectedFile    string
		expectedLine    int
	}{
		{
			name:            "Locator timeout with call log",
			rawOutput:       outputLocatorTimeout,
			exitCode:        1,
			expectedKind:    schemas.KindLocatorError,
			expectedLocator: "#submit-btn",
			expectedFile:    "example.spec.ts",
			expectedLine:    12,
		},
		{
			name:            "Strict mode violation",
			rawOutput:       outputStrictMode,
			exitCode:        1,
			expectedKind:    schemas.KindLocatorError,
			expectedLocator: "Save",
		},
		{
			name:            "waitForSelector timeout",
			rawOutput:       outputWaitForSelector,
			exitCode:        1,
			expectedKind:    schemas.KindLocatorError,
			expectedLocator: "button.legacy-submit",
		},
		{
			name:         "Missing module",
			rawOutput:    outputImportMissing,
			exitCode:     1,
			expectedKind: schemas.KindImportError,
		},
		{
			// The message mentions SyntaxError, but the export rules run
			// first because they are the more specific diagnosis.
			name:         "Missing named export",
			rawOutput:    outputExportMissing,
			exitCode:     1,
			expectedKind: schemas.KindExportError,
		},
		{
			// "is not a constructor" is a TypeError at runtime but an
			// export problem in substance.
			name:         "Default export used as constructor",
			rawOutput:    outputNotAConstructor,
			exitCode:     1,
			expectedKind: schemas.KindExportError,
			expectedFile: "tests/example.spec.ts",
			expectedLine: 8,
		},
		{
			name:         "Plain syntax error",
			rawOutput:    outputSyntax,
			exitCode:     1,
			expectedKind: schemas.KindSyntaxError,
			expectedFile: "/work/tests/example.spec.ts",
			expectedLine: 22,
		},
		{
			name:         "Plain type error",
			rawOutput:    outputType,
			exitCode:     1,
			expectedKind: schemas.KindTypeError,
			expectedFile: "tests/example.spec.ts",
			expectedLine: 31,
		},
		{
			// Mentions "Executable doesn't exist" and must not fall through
			// to a healable kind.
			name:         "Browser binary missing",
			rawOutput:    outputBrowserLaunch,
			exitCode:     1,
			expectedKind: schemas.KindInfrastructureError,
		},
		{
			name:         "Connection refused",
			rawOutput:    outputConnRefused,
			exitCode:     1,
			expectedKind: schemas.KindInfrastructureError,
		},
		{
			name:         "Clean pass",
			rawOutput:    outputPassing,
			exitCode:     0,
			expectedKind: schemas.KindSuccess,
		},
		{
			name:         "Unrecognized failure",
			rawOutput:    "something exploded in an unprecedented way",
			exitCode:     1,
			expectedKind: schemas.KindUnknown,
		},
		{
			name:         "Empty output with zero exit",
			rawOutput:    "",
			exitCode:     0,
			expectedKind: schemas.KindSuccess,
		},
		{
			name:         "Empty output with nonzero exit",
			rawOutput:    "",
			exitCode:     1,
			expectedKind: schemas.KindUnknown,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sig := Classify(tc.rawOutput, tc.exitCode)

			assert.Equal(t, tc.expectedKind, sig.Kind)
			assert.Equal(t, tc.rawOutput, sig.RawMessage, "raw output must be preserved verbatim")
			assert.Equal(t, tc.expectedLocator, sig.ExtractedLocator)
			if tc.expectedFile != "" {
				assert.Equal(t, tc.expectedFile, sig.FileHint)
				assert.Equal(t, tc.expectedLine, sig.LineHint)
			}
		})
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	t.Parallel()
	first := Classify(outputLocatorTimeout, 1)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(outputLocatorTimeout, 1))
	}
}

func TestClassify_InfrastructureWinsOverLocatorWording(t *testing.T) {
	t.Parallel()
	// A crashed browser often surfaces as a timeout on whatever locator the
	// test was waiting on. The harness diagnosis must win.
	out := `TimeoutError: locator.click: Timeout 30000ms exceeded.
Target page, context or browser has been closed`
	sig := Classify(out, 1)
	assert.Equal(t, schemas.KindInfrastructureError, sig.Kind)
}

func TestExtractModuleSpecifier(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"CommonJS require", outputImportMissing, "./pages/login-page"},
		{"ESM export message carries the module", outputExportMissing, "./helpers.js"},
		{"Bare package", `Error: Cannot find module 'playwright-extra'`, "playwright-extra"},
		{"No module mentioned", "TypeError: boom", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, ExtractModuleSpecifier(tc.input))
		})
	}
}

func TestExtractExportName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Named export", outputExportMissing, "login"},
		{"Constructor form", outputNotAConstructor, "LoginPage"},
		{"TypeScript member form", `error TS2305: Module '"./helpers"' has no exported member 'login'.`, "login"},
		{"No export mentioned", "SyntaxError: oops", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, ExtractExportName(tc.input))
		})
	}
}
