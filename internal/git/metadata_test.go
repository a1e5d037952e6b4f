package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func commitFiles(t *testing.T, repoDir string, wt *git.Worktree, files map[string]string, msg string) string {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(repoDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
	}

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return hash.String()
}

func setupRepo(t *testing.T, remoteURL string) string {
	t.Helper()

	repoDir := t.TempDir()
	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}

	if remoteURL != "" {
		if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remoteURL}}); err != nil {
			t.Fatalf("CreateRemote: %v", err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	commitFiles(t, repoDir, wt, map[string]string{"main.go": "package main\n"}, "initial commit")

	return repoDir
}

func TestCollectSnapshotMetadata(t *testing.T) {
	repoDir := setupRepo(t, "git@github.com:acme/api.git")

	md, err := CollectSnapshotMetadata(repoDir)
	if err != nil {
		t.Fatalf("CollectSnapshotMetadata returned error: %v", err)
	}

	if md.TreeHash == "" {
		t.Fatalf("tree hash not collected")
	}
	if md.CommitHash == nil || *md.CommitHash == "" {
		t.Fatalf("commit hash not collected")
	}
	if md.TreeHash == *md.CommitHash {
		t.Fatalf("tree hash must be the tree object, not the commit")
	}
	if md.ProjectID != "github.com/acme/api" {
		t.Fatalf("project id: %q", md.ProjectID)
	}
}

func TestCollectSnapshotMetadataFromSubfolder(t *testing.T) {
	repoDir := setupRepo(t, "https://github.com/acme/api.git")

	sub := filepath.Join(repoDir, "internal", "auth")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	md, err := CollectSnapshotMetadata(sub)
	if err != nil {
		t.Fatalf("CollectSnapshotMetadata returned error: %v", err)
	}
	if md.RepoRootFolder != filepath.Clean(repoDir) {
		t.Fatalf("repo root: %q, expected %q", md.RepoRootFolder, repoDir)
	}
	if md.ProjectID != "github.com/acme/api" {
		t.Fatalf("project id: %q", md.ProjectID)
	}
}

func TestTreeHashStableAcrossEquivalentCommits(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	commitFiles(t, repoDir, wt, map[string]string{"a.txt": "one\n"}, "first")
	first, err := CollectSnapshotMetadata(repoDir)
	if err != nil {
		t.Fatalf("CollectSnapshotMetadata returned error: %v", err)
	}

	// A commit that changes nothing about the tree content.
	if _, err := wt.Commit("empty", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now().Add(time.Minute),
		},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	second, err := CollectSnapshotMetadata(repoDir)
	if err != nil {
		t.Fatalf("CollectSnapshotMetadata returned error: %v", err)
	}
	if first.TreeHash != second.TreeHash {
		t.Fatalf("tree hash must be content-addressed: %q vs %q", first.TreeHash, second.TreeHash)
	}
	if *first.CommitHash == *second.CommitHash {
		t.Fatalf("distinct commits expected")
	}
}

func TestCollectSnapshotMetadataOutsideRepository(t *testing.T) {
	if _, err := CollectSnapshotMetadata(t.TempDir()); err == nil {
		t.Fatalf("expected error outside a repository")
	}
}
