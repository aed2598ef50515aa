package process

import (
	"errors"
	"os/exec"
	"strings"
)

// Spec describes one subprocess launch: a command string plus extra arguments
// appended by the caller (artifact path, target URL, test file).
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // program or shell line, e.g. "npx playwright codegen"
	Args    []string `json:"args"`     // appended after Command, quoted when a shell is used
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // optional full environment; nil inherits the parent's
}

// Validate checks that the spec can be turned into a command.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("process " + s.Name + " requires command")
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(joinShell(afterC, s.Args))
	}
	// npx and friends are usually installed as shell shims; metacharacters force a shell.
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(joinShell(cmdStr, s.Args))
	}
	parts := strings.Fields(cmdStr)
	args := append(parts[1:len(parts):len(parts)], s.Args...)
	// #nosec G204
	return exec.Command(parts[0], args...)
}

func joinShell(script string, args []string) string {
	if len(args) == 0 {
		return script
	}
	var b strings.Builder
	b.WriteString(script)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(a))
	}
	return b.String()
}

// shellQuote single-quotes a for POSIX shells unless it is made only of safe characters.
func shellQuote(a string) string {
	if a == "" {
		return "''"
	}
	safe := true
	for _, r := range a {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || strings.ContainsRune("-_./:=,@+%", r) {
			continue
		}
		safe = false
		break
	}
	if safe {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
