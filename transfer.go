package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebridge/internal/bridge"
)

// partialSuffix marks a download that has not finished yet.
const partialSuffix = ".partial"

// followDebounce coalesces the burst of events an editor save produces.
const followDebounce = 500 * time.Millisecond

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote> [local]",
		Short: "Download a file",
		Long: `Download a remote file. The local path defaults to the file's name in
the current directory; "-" writes to stdout.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local|uri|-> [folder]",
		Short: "Upload a new file",
		Long: `Upload a new file into a remote folder (the drive root by default).
The source may be a local path, a URI such as s3://bucket/key or sftp://host/path,
or "-" for stdin (requires --name).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runPut,
	}

	cmd.Flags().String("name", "", "remote file name (default: source name)")
	cmd.Flags().String("mime", "", "content type (default: detected)")
	cmd.Flags().BoolP("parents", "p", false, "create the folder if it does not exist")

	return cmd
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <remote> <local>",
		Short: "Replace a file's content",
		Long: `Replace the content of an existing remote file with a local file. With
--follow, keep running and upload again every time the local file changes.`,
		Args: cobra.ExactArgs(2),
		RunE: runUpdate,
	}

	cmd.Flags().Bool("follow", false, "watch the local file and upload on every change")

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		id, err := resolve(ctx, d, args[0])
		if err != nil {
			return err
		}

		md, err := d.GetMetadata(id).Await(ctx)
		if err != nil {
			return fmt.Errorf("stat %q: %w", args[0], err)
		}

		if md.IsFolder {
			return fmt.Errorf("%q is a folder", args[0])
		}

		bar := newProgressBar(cc, md.Title)
		rc, err := d.Open(id, bar.Observe).Await(ctx)
		bar.Done()

		if err != nil {
			return fmt.Errorf("downloading %q: %w", args[0], err)
		}
		defer rc.Close()

		local := ""
		if len(args) > 1 {
			local = args[1]
		}

		if local == "-" {
			_, err := io.Copy(cc.Stdout, rc)
			return err
		}

		target, err := localTarget(local, md.Title)
		if err != nil {
			return err
		}

		n, err := writeAtomic(target, rc)
		if err != nil {
			return err
		}

		cc.Logger.Debug("downloaded", slog.String("path", target), slog.Int64("bytes", n))
		cc.Statusf("Downloaded %s (%s)\n", target, formatSize(n))

		return nil
	})
}

// localTarget picks the download path: the remote name in the current
// directory, inside local when it is a directory, or local itself.
func localTarget(local, title string) (string, error) {
	if local == "" {
		return title, nil
	}

	fi, err := os.Stat(local)

	switch {
	case err == nil && fi.IsDir():
		return filepath.Join(local, title), nil
	case err == nil || errors.Is(err, os.ErrNotExist):
		return local, nil
	default:
		return "", err
	}
}

// writeAtomic copies r into a .partial sibling of path and renames it into
// place, so an interrupted download never leaves a truncated file behind.
func writeAtomic(path string, r io.Reader) (int64, error) {
	partial := path + partialSuffix

	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", partial, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(partial)
		return n, fmt.Errorf("writing %s: %w", path, err)
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return n, fmt.Errorf("renaming %s: %w", partial, err)
	}

	return n, nil
}

// sourceFor maps a put argument to a bridge source.
func sourceFor(arg, name string, stdin io.Reader) (bridge.Source, error) {
	switch {
	case arg == "-":
		if name == "" {
			return nil, errors.New("uploading from stdin requires --name")
		}

		return bridge.FromReader(name, stdin), nil
	case strings.Contains(arg, "://"):
		return bridge.FromURI(arg), nil
	default:
		return bridge.FromFile(arg), nil
	}
}

func runPut(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	mimeType, _ := cmd.Flags().GetString("mime")
	parents, _ := cmd.Flags().GetBool("parents")

	src, err := sourceFor(args[0], name, cmd.InOrStdin())
	if err != nil {
		return err
	}

	folderArg := "/"
	if len(args) > 1 {
		folderArg = args[1]
	}

	var opts []bridge.CreateOption
	if name != "" {
		opts = append(opts, bridge.WithTitle(name))
	}

	if mimeType != "" {
		opts = append(opts, bridge.WithMimeType(mimeType))
	}

	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		folder, err := resolve(ctx, d, folderArg)
		if err != nil && parents && isNotFound(err) && !strings.HasPrefix(folderArg, idPrefix) {
			folder, _, err = mkdirAll(ctx, d, folderArg)
		}

		if err != nil {
			return err
		}

		id, err := d.CreateFile(folder, src, opts...).Await(ctx)
		if err != nil {
			return fmt.Errorf("uploading %q: %w", args[0], err)
		}

		if cc.Flags.JSON {
			return printJSON(cc.Stdout, map[string]string{"id": id.String()})
		}

		cc.Statusf("Uploaded %s\n", args[0])
		fmt.Fprintln(cc.Stdout, id)

		return nil
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	local := args[1]

	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		id, err := resolve(ctx, d, args[0])
		if err != nil {
			return err
		}

		upload := func() error {
			if _, err := d.UpdateFileContent(id, bridge.FromFile(local)).Await(ctx); err != nil {
				return fmt.Errorf("updating %q: %w", args[0], err)
			}

			cc.Statusf("Updated %s from %s\n", args[0], local)

			return nil
		}

		if err := upload(); err != nil {
			return err
		}

		if !follow {
			return nil
		}

		return followFile(ctx, cc.Logger, local, func() {
			if err := upload(); err != nil && ctx.Err() == nil {
				cc.Logger.Warn("update failed", slog.String("error", err.Error()))
				cc.Statusf("Update failed: %v\n", err)
			}
		})
	})
}

// followFile calls onChange, debounced, whenever path is written or
// replaced, until ctx is canceled. The parent directory is watched so
// editors that save by rename are seen too.
func followFile(ctx context.Context, logger *slog.Logger, path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	logger.Info("following local file", slog.String("path", abs))

	timer := time.NewTimer(followDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			logger.Debug("local change", slog.String("op", ev.Op.String()))
			timer.Reset(followDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			onChange()
		}
	}
}
