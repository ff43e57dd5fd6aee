package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var asJSON, listFiles bool
	cmd := &cobra.Command{
		Use:   "status [repo-id]",
		Short: "Show repository indexing progress",
		Long: "Show indexing progress of one repository, or list every repository when no id is given.\n" +
			"With --files, list the indexed files of the repository.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := openApp(cfg, flags, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if listFiles {
					return errors.New("--files requires a repo-id")
				}
				repos, err := a.store.ListRepositories(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, repos)
				}
				if len(repos) == 0 {
					fmt.Fprintln(out, "No repositories indexed.")
				}
				for _, repo := range repos {
					fmt.Fprintf(out, "%-30s %-12s %5.1f%%  updated %s\n",
						repo.RepoID, repo.Status, repo.Progress(), humanize.Time(repo.LastUpdated))
				}
				return nil
			}

			repo, err := a.store.GetRepository(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("repository %q is not indexed", args[0])
			}
			if err != nil {
				return err
			}
			if listFiles {
				recs, err := a.store.ListFileIndexes(ctx, repo.RepoID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, recs)
				}
				printFiles(out, recs)
				return nil
			}

			indexed, err := a.store.CountFileIndexes(ctx, repo.RepoID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, repo)
			}
			printRepository(out, repo, indexed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&listFiles, "files", false, "list indexed files (requires a repo-id)")
	return cmd
}

func printRepository(w io.Writer, repo *types.RepositoryRecord, indexed int) {
	fmt.Fprintf(w, "Repository: %s\n", repo.RepoID)
	if repo.Name != "" {
		fmt.Fprintf(w, "Name:       %s\n", repo.Name)
	}
	if repo.URL != "" {
		fmt.Fprintf(w, "URL:        %s\n", repo.URL)
	}
	fmt.Fprintf(w, "Status:     %s\n", repo.Status)
	fmt.Fprintf(w, "Progress:   %s/%s files (%.1f%%), %s records\n",
		humanize.Comma(int64(repo.ProcessedFiles)), humanize.Comma(int64(repo.TotalFiles)),
		repo.Progress(), humanize.Comma(int64(indexed)))
	if repo.LastProcessedCommit != "" {
		fmt.Fprintf(w, "Commit:     %s (%s)\n", repo.LastProcessedCommit, repo.LastProcessedCommitTimestamp.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Updated:    %s\n", humanize.Time(repo.LastUpdated))
	if repo.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", repo.LastError)
	}
}

func printFiles(w io.Writer, recs []*types.FileIndexRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No files indexed.")
		return
	}
	for _, rec := range recs {
		line := fmt.Sprintf("%-50s %-10s %3d exports %3d imports  %s",
			rec.FilePath, rec.Language, types.CountEntries(rec.Exports), len(rec.Imports), shortSHA(rec.LastCommitSHA))
		if n := len(rec.ParseErrors); n > 0 {
			line += fmt.Sprintf("  %d parse errors", n)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s files\n", humanize.Comma(int64(len(recs))))
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
