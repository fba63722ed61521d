package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initClone creates a bare remote with one commit on main and returns a
// local clone of it.
func initClone(t *testing.T) (repo, remote string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}

	remote = t.TempDir()
	run(t, remote, "git", "init", "--bare")

	workDir := t.TempDir()
	run(t, workDir, "git", "clone", remote, "repo")
	repo = filepath.Join(workDir, "repo")

	run(t, repo, "git", "config", "user.email", "router@example.com")
	run(t, repo, "git", "config", "user.name", "Router")
	run(t, repo, "git", "branch", "-m", "main")
	if err := os.WriteFile(filepath.Join(repo, ".gitkeep"), nil, 0o644); err != nil {
		t.Fatalf("write .gitkeep: %v", err)
	}
	run(t, repo, "git", "add", ".")
	run(t, repo, "git", "commit", "-m", "init")
	run(t, repo, "git", "push", "origin", "main")
	return repo, remote
}

func commitCount(t *testing.T, repo string) int {
	t.Helper()
	cmd := exec.Command("git", "rev-list", "--count", "HEAD")
	cmd.Dir = repo
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("rev-list: %v", err)
	}
	var n int
	for _, c := range strings.TrimSpace(string(out)) {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestGitDestination(t *testing.T) {
	repo, _ := initClone(t)
	dest := NewGitDestination(repo, "history.jsonl", "main")
	ctx := context.Background()

	first := []byte(`{"version":"1","type":"header","event_count":0}` + "\n")
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repo, "history.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(first) {
		t.Fatalf("content = %q", got)
	}
	if n := commitCount(t, repo); n != 2 {
		t.Fatalf("commits after first write = %d, want 2", n)
	}

	// Unchanged data must not produce a commit.
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("repeat write: %v", err)
	}
	if n := commitCount(t, repo); n != 2 {
		t.Fatalf("commits after repeat write = %d, want 2", n)
	}

	second := []byte(`{"version":"1","type":"header","event_count":1}` + "\n")
	if err := dest.Write(ctx, second); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if n := commitCount(t, repo); n != 3 {
		t.Fatalf("commits after second write = %d, want 3", n)
	}
	cmd := exec.Command("git", "log", "-1", "--format=%s")
	cmd.Dir = repo
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git log: %v", err)
	}
	if msg := strings.TrimSpace(string(out)); msg != "sync: gatekeeper history (1 events)" {
		t.Errorf("commit message = %q", msg)
	}
}

func TestGitDestination_MissingBranch(t *testing.T) {
	repo, _ := initClone(t)
	dest := NewGitDestination(repo, "history.jsonl", "nightly")
	if err := dest.Write(context.Background(), []byte("{}\n")); err == nil || !strings.Contains(err.Error(), "checkout") {
		t.Fatalf("Write on missing branch: err = %v", err)
	}
}

func TestGitDestination_SubDirectory(t *testing.T) {
	repo, _ := initClone(t)
	dest := NewGitDestination(repo, "router/history.jsonl", "main")

	data := []byte(`{"type":"header"}` + "\n")
	if err := dest.Write(context.Background(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repo, "router", "history.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("content = %q", got)
	}
	if name := dest.Name(); name != "git:"+repo {
		t.Fatalf("Name() = %q", name)
	}
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("%s %v failed: %v", name, args, err)
	}
}
