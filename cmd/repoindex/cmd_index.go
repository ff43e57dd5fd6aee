package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/jobs"
	"github.com/dshills/repoindex/internal/source"
	"github.com/dshills/repoindex/pkg/types"
)

type indexOptions struct {
	repoID       string
	name         string
	url          string
	since        string
	commitSHA    string
	commitTime   string
	paths        []string
	forceReindex bool
	jsonOutput   bool
}

func newIndexCmd(flags *globalFlags) *cobra.Command {
	opts := &indexOptions{}
	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a git checkout",
		Long: "Scan a git checkout and index the exports and imports of every supported file.\n" +
			"Small requests run directly; large ones run as a batch job and the command waits for it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if opts.repoID == "" {
				opts.repoID = filepath.Base(root)
			}
			if opts.name == "" {
				opts.name = filepath.Base(root)
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			srcOpts := cfg.SourceOptions()
			if len(opts.paths) > 0 {
				srcOpts.Paths = opts.paths
			}
			if opts.commitSHA != "" {
				ts := time.Now().UTC()
				if opts.commitTime != "" {
					if ts, err = time.Parse(time.RFC3339, opts.commitTime); err != nil {
						return fmt.Errorf("invalid --commit-time: %w", err)
					}
				}
				srcOpts.Commit = &source.Commit{SHA: opts.commitSHA, Timestamp: ts.UTC()}
			}

			a, err := openApp(cfg, flags, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			if opts.since != "" {
				changed, err := source.ChangedSince(ctx, root, opts.since)
				if err != nil {
					return err
				}
				srcOpts.Paths = append([]string{}, changed...)
			}

			files, err := source.Scan(ctx, root, a.parser, srcOpts)
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", root, err)
			}

			resp, err := a.indexer.Index(ctx, types.IndexRequest{
				RepoID:       opts.repoID,
				Name:         opts.name,
				URL:          opts.url,
				Files:        files,
				ForceReindex: opts.forceReindex,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Mode == types.ModeJob {
				fmt.Fprintf(cmd.ErrOrStderr(), "submitted job %s for %d files, waiting...\n", resp.JobID, len(files))
				a.jobs.Wait()
				status, err := a.jobs.Status(resp.JobID)
				if err != nil {
					return err
				}
				if err := printJob(out, status, opts.jsonOutput); err != nil {
					return err
				}
				if !opts.jsonOutput {
					repo, err := a.store.GetRepository(ctx, opts.repoID)
					if err != nil {
						return err
					}
					indexed, err := a.store.CountFileIndexes(ctx, opts.repoID)
					if err != nil {
						return err
					}
					printRepository(out, repo, indexed)
				}
				if status.State == jobs.StateFailed {
					return fmt.Errorf("job %s failed: %s", status.ID, status.Error)
				}
				return nil
			}
			return printReport(out, resp.Report, opts.jsonOutput)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.repoID, "repo-id", "", "repository id (default: directory name)")
	f.StringVar(&opts.name, "name", "", "repository name (default: directory name)")
	f.StringVar(&opts.url, "url", "", "repository URL")
	f.StringVar(&opts.since, "since", "", "only index files changed since this commit")
	f.StringVar(&opts.commitSHA, "commit", "", "stamp files with this commit instead of HEAD")
	f.StringVar(&opts.commitTime, "commit-time", "", "commit time for --commit (RFC 3339, default now)")
	f.StringSliceVar(&opts.paths, "path", nil, "restrict indexing to these relative paths")
	f.BoolVar(&opts.forceReindex, "force", false, "reparse files even when unchanged")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, report *types.BatchReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(w, "Indexed %s: %d succeeded, %d skipped, %d failed in %s\n",
		report.RepoID, report.Succeeded, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
	for _, f := range report.Files {
		switch {
		case f.Outcome == types.OutcomeFailed:
			fmt.Fprintf(w, "  FAIL %s: %s\n", f.Path, f.Error)
		case len(f.ParseErrors) > 0:
			fmt.Fprintf(w, "  WARN %s: %d parse errors\n", f.Path, len(f.ParseErrors))
		}
	}
	return nil
}

func printJob(w io.Writer, status jobs.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "Job %s %s: %d files, %d succeeded, %d skipped, %d failed\n",
		status.ID, status.State, status.Files, status.Succeeded, status.Skipped, status.Failed)
	return nil
}
