package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

// DefaultMaxFileSize is the largest file delivered (1 MB)
const DefaultMaxFileSize = 1 << 20

// ErrNotGitRepository is returned when commit information is needed but
// root is not a git checkout
var ErrNotGitRepository = errors.New("not a git repository")

// skipDirs are never descended into
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// Supporter reports whether a path has a parser
type Supporter interface {
	Supports(path string) bool
}

// Commit identifies the revision files are delivered at
type Commit struct {
	SHA       string
	Timestamp time.Time
}

// Options controls a scan
type Options struct {
	// AllowedFolders restricts delivery to files at the repository root
	// and under these top-level folders. Empty allows everything.
	AllowedFolders []string
	// MaxFileSize skips larger files (default: DefaultMaxFileSize)
	MaxFileSize int64
	// Paths restricts the scan to these slash-separated relative paths
	Paths []string
	// Commit stamps every file; when nil HeadCommit is used
	Commit *Commit
}

// Scan walks the checkout at root and returns one FileChange per
// supported file, stamped with the commit. Hidden directories,
// dependency folders and empty or oversized files are skipped. Paths are
// slash-separated and relative to root, sorted.
func Scan(ctx context.Context, root string, supported Supporter, opts Options) ([]types.FileChange, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	commit := opts.Commit
	if commit == nil {
		head, err := HeadCommit(ctx, absRoot)
		if err != nil {
			return nil, err
		}
		commit = &head
	}

	var only map[string]bool
	if opts.Paths != nil {
		only = make(map[string]bool, len(opts.Paths))
		for _, p := range opts.Paths {
			only[filepath.ToSlash(filepath.Clean(p))] = true
		}
	}

	var files []types.FileChange
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, _ := filepath.Rel(absRoot, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if only != nil && !only[rel] {
			return nil
		}
		if !supported.Supports(rel) || !inAllowedFolder(rel, opts.AllowedFolders) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() == 0 || info.Size() > opts.MaxFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		files = append(files, types.FileChange{
			Path:            rel,
			Content:         content,
			CommitSHA:       commit.SHA,
			CommitTimestamp: commit.Timestamp,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// inAllowedFolder reports whether rel is a root file or lives under one
// of the allowed top-level folders
func inAllowedFolder(rel string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	top, _, nested := strings.Cut(rel, "/")
	if !nested {
		return true
	}
	for _, a := range allowed {
		if strings.Trim(a, "/") == top {
			return true
		}
	}
	return false
}

// HeadCommit returns the SHA and committer time of HEAD
func HeadCommit(ctx context.Context, root string) (Commit, error) {
	out, err := runGit(ctx, root, "log", "-1", "--format=%H %cI")
	if err != nil {
		return Commit{}, err
	}
	sha, stamp, ok := strings.Cut(strings.TrimSpace(string(out)), " ")
	if !ok {
		return Commit{}, fmt.Errorf("unexpected git log output %q", out)
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to parse commit time: %w", err)
	}
	return Commit{SHA: sha, Timestamp: ts.UTC()}, nil
}

// ChangedSince lists the files changed between since and HEAD, including
// deletions, as slash-separated relative paths
func ChangedSince(ctx context.Context, root, since string) ([]string, error) {
	out, err := runGit(ctx, root, "diff", "--name-only", since, "HEAD")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not a git repository") {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotGitRepository)
		}
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}
