package runner

import (
	"regexp"
	"strings"
)

const canonicalImport = "import { test, expect } from '@playwright/test';\n"

var playwrightImports = regexp.MustCompile(`(?m)^(import\s+\{[^}]+\}\s+from\s+'@playwright/test';?\s*)+`)

// CleanScript trims code and collapses the first run of @playwright/test
// imports into a single canonical import line. Recorded scripts and editor
// snippets frequently stack duplicate imports, which the test tool rejects.
func CleanScript(code string) string {
	cleaned := strings.TrimSpace(code)
	loc := playwrightImports.FindStringIndex(cleaned)
	if loc == nil {
		return cleaned
	}
	return cleaned[:loc[0]] + canonicalImport + cleaned[loc[1]:]
}
