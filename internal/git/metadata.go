// Package git collects snapshot identity from a local checkout: the content
// hash of the analyzed tree, the commit it came from, and a canonical
// project id derived from the origin remote.
package git

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gitsight/go-vcsurl"
	"github.com/go-git/go-git/v5"
)

// SnapshotMetadata describes the source snapshot a report was produced from.
// TreeHash is the git tree object hash of HEAD, which is a content hash of
// the full source tree.
type SnapshotMetadata struct {
	ProjectID  string
	TreeHash   string
	CommitHash *string
	BranchName *string

	RepositoryFullName *string
	RepoRootFolder     string
}

// CollectSnapshotMetadata resolves the repository containing sourceFolder
// and extracts its snapshot identity.
func CollectSnapshotMetadata(sourceFolder string) (*SnapshotMetadata, error) {
	if sourceFolder == "" {
		return nil, fmt.Errorf("source folder is not set")
	}

	if absSource, err := filepath.Abs(sourceFolder); err == nil {
		sourceFolder = absSource
	}

	repoRootFolder, err := findRepositoryPath(sourceFolder)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(repoRootFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	md := &SnapshotMetadata{
		RepoRootFolder: filepath.Clean(repoRootFolder),
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		branchName := head.Name().Short()
		md.BranchName = &branchName
	}
	commitHash := head.Hash().String()
	md.CommitHash = &commitHash

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	md.TreeHash = commit.TreeHash.String()

	if remote, err := repo.Remote("origin"); err == nil {
		if cfg := remote.Config(); cfg != nil && len(cfg.URLs) > 0 {
			remoteURL := strings.TrimSuffix(cfg.URLs[0], ".git")
			md.RepositoryFullName = &remoteURL
			md.ProjectID = projectIDFromRemote(remoteURL)
		}
	}
	if md.ProjectID == "" {
		md.ProjectID = filepath.Base(md.RepoRootFolder)
	}

	return md, nil
}

// projectIDFromRemote canonicalizes an origin URL to host/owner/repo so the
// same project maps to the same id regardless of clone transport.
func projectIDFromRemote(remoteURL string) string {
	info, err := vcsurl.Parse(remoteURL)
	if err != nil || info == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s", info.Host, info.FullName)
}

// findRepositoryPath walks upward from the source folder until it finds a
// git repository.
func findRepositoryPath(sourceFolder string) (string, error) {
	for {
		if _, err := git.PlainOpen(sourceFolder); err == nil {
			return sourceFolder, nil
		}

		parent := filepath.Dir(sourceFolder)
		if parent == sourceFolder {
			break
		}
		sourceFolder = parent
	}
	return "", fmt.Errorf("source folder is not inside a git repository")
}
