// Package shellenv builds the subshell spawned by the browser's "open a
// shell here" command, per spec.md §6's out-of-scope-but-named
// environment contract: NCDU_LEVEL, NCDU_SHELL, and SHELL.
//
// No pack repo spawns a sub-shell, so this is written directly from the
// spec's env-var contract using stdlib os/exec.
package shellenv

import (
	"os"
	"os/exec"
	"strconv"
)

// DefaultShell is used when neither NCDU_SHELL nor SHELL is set.
const DefaultShell = "/bin/sh"

// Command builds the exec.Cmd for a shell spawned with its working
// directory set to dir. NCDU_LEVEL is incremented from whatever value
// (if any) is already in the environment, so a nested shell-out reports
// its depth; NCDU_SHELL takes priority over SHELL, which takes priority
// over DefaultShell.
func Command(dir string) *exec.Cmd {
	shell := os.Getenv("NCDU_SHELL")
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "NCDU_LEVEL="+strconv.Itoa(level()+1))
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return cmd
}

// level parses the current NCDU_LEVEL from the environment, defaulting
// to 0 for an unset or malformed value.
func level() int {
	v, err := strconv.Atoi(os.Getenv("NCDU_LEVEL"))
	if err != nil {
		return 0
	}
	return v
}
