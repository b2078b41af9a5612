package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-video/pkg/simplevideo"
	"github.com/tendant/simple-video/pkg/simplevideo/auth"
	"github.com/tendant/simple-video/pkg/simplevideo/config"
	repopg "github.com/tendant/simple-video/pkg/simplevideo/repo/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	envFile string
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "admin",
		Short: "Simple Video admin CLI",
		Long: `Inspect and repair the video catalog.

Configuration is read from the environment (DATABASE_URL, STORAGE_URL,
COMPUTE_URL, ...) and from a .env file in the current directory.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output as JSON")

	root.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newRemoveCmd(opts),
		newDownloadCmd(opts),
		newReplayCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// withService builds the configured service for the duration of fn
func withService(ctx context.Context, opts *rootOptions, fn func(svc simplevideo.Service) error) error {
	cfg, err := config.Load(config.WithDotEnv(opts.envFile))
	if err != nil {
		return err
	}
	comps, cleanup, err := cfg.Build(ctx, cfg.NewLogger())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(comps.Service)
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ready and active videos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(svc simplevideo.Service) error {
				videos, err := svc.ListVideos(cmd.Context())
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), videos)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKEY\tSTATUS\tDURATION\tUPLOADED")
				for _, v := range videos {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Key, v.Status, formatDuration(v.Duration), v.UploadDate.Format(time.RFC3339))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d\n", len(videos))
				return nil
			})
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one video record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(svc simplevideo.Service) error {
				video, err := svc.GetVideo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), video)
			})
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a video object and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(svc simplevideo.Service) error {
				if err := svc.RemoveVideo(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Copy a video object to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(svc simplevideo.Service) error {
				return downloadVideo(cmd.Context(), svc, args[0], output, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default stdout)")
	return cmd
}

// downloadVideo writes the object of video id to output, or to stdout when output is empty
func downloadVideo(ctx context.Context, svc simplevideo.Service, id, output string, stdout io.Writer) error {
	asset, rc, err := svc.OpenVideo(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	if output == "" {
		_, err = io.Copy(stdout, rc)
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(stdout, "Wrote %s (%d bytes) to %s\n", asset.Key, n, output)
	return nil
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var removed bool
	cmd := &cobra.Command{
		Use:   "replay <bucket> <key>",
		Short: "Re-run the pipeline for one object as if its notification arrived again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventName := "ObjectCreated:Put"
			if removed {
				eventName = "ObjectRemoved:Delete"
			}
			record := simplevideo.StorageRecord{EventName: eventName, Bucket: args[0], Key: args[1]}
			return withService(cmd.Context(), opts, func(svc simplevideo.Service) error {
				outcome, ok := svc.ProcessRecord(cmd.Context(), record)
				if !ok {
					return fmt.Errorf("%s is not an ingested video key", args[1])
				}
				if err := writeJSON(cmd.OutOrStdout(), outcome); err != nil {
					return err
				}
				if outcome.Failed() {
					return fmt.Errorf("replay failed: %s", outcome.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&removed, "removed", false, "replay a removal instead of a creation")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.WithDotEnv(opts.envFile))
			if err != nil {
				return err
			}
			db, err := repopg.OpenDB(cfg.DatabaseURL, cfg.DBSchema)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repopg.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign an API token with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.WithDotEnv(opts.envFile))
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			verifier, err := auth.NewHMACVerifier(cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := verifier.Sign(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDuration(d *float64) string {
	if d == nil {
		return "-"
	}
	return strconv.FormatFloat(*d, 'f', 1, 64) + "s"
}
