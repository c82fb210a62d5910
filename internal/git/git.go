// Package git fetches deployment sources with the git command line client.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// maxErrorOutput bounds how much of git's output is carried in an error.
const maxErrorOutput = 2048

// Clone performs a shallow clone of repoURL into dest, which must already exist.
func Clone(ctx context.Context, repoURL, dest string) error {
	if repoURL == "" {
		return errors.New("repository URL cannot be empty")
	}
	if dest == "" {
		return errors.New("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--single-branch", "--", repoURL, ".")
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("git clone %s: %w", Redact(repoURL), ctx.Err())
		}
		return fmt.Errorf("git clone %s: %w: %s", Redact(repoURL), err, summarize(output.String(), repoURL))
	}
	return nil
}

// Redact strips credentials from a repository URL before it is logged. Over http(s) a bare
// user name is treated as an access token.
func Redact(repoURL string) string {
	parsed, err := url.Parse(repoURL)
	if err != nil || parsed.User == nil {
		return repoURL
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
	} else if parsed.Scheme == "http" || parsed.Scheme == "https" {
		parsed.User = url.User("xxxxx")
	}
	return parsed.String()
}

func summarize(output, repoURL string) string {
	output = strings.TrimSpace(strings.ReplaceAll(output, repoURL, Redact(repoURL)))
	if len(output) > maxErrorOutput {
		output = output[len(output)-maxErrorOutput:]
	}
	return output
}
