package history

import (
	"bytes"
	"os/exec"
	"strings"
)

// ResolveGitMetadata returns the workspace's short commit hash and branch
// name, or empty strings outside a git checkout. Detached heads report the
// literal "HEAD" branch; that is stored as-is.
func ResolveGitMetadata(workspaceRoot string) (string, string) {
	commitHash := runGit(workspaceRoot, "rev-parse", "--short=12", "HEAD")
	if commitHash == "" {
		return "", ""
	}
	branch := runGit(workspaceRoot, "rev-parse", "--abbrev-ref", "HEAD")
	return commitHash, branch
}

func runGit(workspaceRoot string, args ...string) string {
	cmd := exec.Command("git", append([]string{"-C", workspaceRoot}, args...)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(stdout.String())
}
