package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/storage"
)

// newDeleteCmd removes index data. A job process of another invocation may
// still be writing; deletion does not stop it.
func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <repo-id> [file-path...]",
		Short: "Remove a repository or individual file indexes",
		Long: "Remove a repository with all of its file indexes and locks, or only the listed files.\n" +
			"A later index run indexes removed files again.",
		Args: cobra.MinimumNArgs(1),
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
			repoID := args[0]

			if len(args) == 1 {
				err := a.store.DeleteRepository(ctx, repoID)
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("repository %q is not indexed", repoID)
				}
				if err != nil {
					return err
				}
				a.logger.Info("deleted repository", slog.String("repo_id", repoID))
				fmt.Fprintf(out, "Deleted repository %s\n", repoID)
				return nil
			}

			var errs []error
			for _, path := range args[1:] {
				path = filepath.ToSlash(filepath.Clean(path))
				err := a.store.DeleteFileIndex(ctx, repoID, path)
				if errors.Is(err, storage.ErrNotFound) {
					errs = append(errs, fmt.Errorf("%s: not indexed", path))
					continue
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(out, "Deleted %s\n", path)
			}
			return errors.Join(errs...)
		},
	}
}
