package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/failure"
	"github.com/tonimelisma/drivebridge/internal/remote"
)

// idPrefix marks a raw resource ID on the command line instead of a path.
const idPrefix = "id:"

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().Bool("folders", false, "list folders only")
	cmd.Flags().Bool("files", false, "list files only")
	cmd.MarkFlagsMutuallyExclusive("folders", "files")

	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find [text]",
		Short: "Search by name",
		Long: `Search the drive for items whose name contains text. With --in the
search is limited to the direct children of one folder.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFind,
	}

	cmd.Flags().String("in", "", "only search the children of this folder")
	cmd.Flags().String("name", "", "exact name to match")
	cmd.Flags().String("mime", "", "exact MIME type to match")
	cmd.Flags().Bool("folders", false, "folders only")
	cmd.Flags().Bool("files", false, "files only")
	cmd.Flags().Bool("trashed", false, "include trashed items")
	cmd.MarkFlagsMutuallyExclusive("folders", "files")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder, and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Permanently delete files or folders",
		Long: `Permanently delete files or folders, skipping the recycle bin.
Folder deletion is recursive. Use "trash" for a recoverable delete.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("force", "f", false, "confirm permanent deletion")

	return cmd
}

func newTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash <path>...",
		Short: "Move files or folders to the recycle bin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAck(cmd, args, "Trashed", (*bridge.Drive).Trash)
		},
	}
}

func newUntrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untrash <id:ITEM_ID>...",
		Short: "Restore items from the recycle bin",
		Long: `Restore items from the recycle bin to their original folder.
Trashed items have no path, so they are named by ID (id:ITEM_ID).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAck(cmd, args, "Restored", (*bridge.Drive).Untrash)
		},
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <folder>",
		Short: "Move an item into another folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

// remoteRef converts a command-line argument to a FetchResource reference:
// "id:XYZ" is a raw ID, anything else a path from the drive root.
func remoteRef(arg string) string {
	if id, ok := strings.CutPrefix(arg, idPrefix); ok {
		return id
	}

	return "/" + strings.Trim(arg, "/")
}

// resolve looks up the resource named by arg.
func resolve(ctx context.Context, d *bridge.Drive, arg string) (remote.ResourceID, error) {
	id, err := d.FetchResource(remoteRef(arg)).Await(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", arg, err)
	}

	return id, nil
}

// withDrive connects and runs fn with the connected app.
func withDrive(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	a, _, err := connectedApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, cc, a.drive)
}

func runLs(cmd *cobra.Command, args []string) error {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}

	foldersOnly, _ := cmd.Flags().GetBool("folders")
	filesOnly, _ := cmd.Flags().GetBool("files")

	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		folder, err := resolve(ctx, d, path)
		if err != nil {
			return err
		}

		cc.Logger.Debug("ls", "path", path, "id", folder.String())

		q := remote.Query{FoldersOnly: foldersOnly, FilesOnly: filesOnly}

		items, err := d.QueryChildren(folder, q).Await(ctx)
		if err != nil {
			return fmt.Errorf("listing %q: %w", path, err)
		}

		return printItems(cc, items)
	})
}

func runStat(cmd *cobra.Command, args []string) error {
	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		id, err := resolve(ctx, d, args[0])
		if err != nil {
			return err
		}

		md, err := d.GetMetadata(id).Await(ctx)
		if err != nil {
			return fmt.Errorf("stat %q: %w", args[0], err)
		}

		if cc.Flags.JSON {
			return printJSON(cc.Stdout, toItemJSON(md))
		}

		kind := "file"
		if md.IsFolder {
			kind = "folder"
		}

		w := cc.Stdout
		fmt.Fprintf(w, "Name:     %s\n", md.Title)
		fmt.Fprintf(w, "ID:       %s\n", md.ID)
		fmt.Fprintf(w, "Type:     %s\n", kind)
		fmt.Fprintf(w, "Size:     %s (%d bytes)\n", formatSize(md.Size), md.Size)

		if md.MimeType != "" {
			fmt.Fprintf(w, "MIME:     %s\n", md.MimeType)
		}

		fmt.Fprintf(w, "Created:  %s\n", md.CreatedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(w, "Modified: %s\n", md.ModifiedAt.Local().Format(time.RFC3339))

		for _, p := range md.ParentIDs {
			fmt.Fprintf(w, "Parent:   %s\n", p)
		}

		if md.IsTrashed {
			fmt.Fprintf(w, "Trashed:  yes\n")
		}

		return nil
	})
}

func runFind(cmd *cobra.Command, args []string) error {
	q := remote.Query{}
	if len(args) > 0 {
		q.TitleContains = args[0]
	}

	q.Title, _ = cmd.Flags().GetString("name")
	q.MimeType, _ = cmd.Flags().GetString("mime")
	q.FoldersOnly, _ = cmd.Flags().GetBool("folders")
	q.FilesOnly, _ = cmd.Flags().GetBool("files")
	q.IncludeTrashed, _ = cmd.Flags().GetBool("trashed")
	in, _ := cmd.Flags().GetString("in")

	if q.TitleContains == "" && q.Title == "" && in == "" {
		return errors.New("find needs search text, --name or --in")
	}

	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		call := d.Query(q)

		if in != "" {
			folder, err := resolve(ctx, d, in)
			if err != nil {
				return err
			}

			call = d.QueryChildren(folder, q)
		}

		items, err := call.Await(ctx)
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}

		return printItems(cc, items)
	})
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		id, created, err := mkdirAll(ctx, d, args[0])
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cc.Stdout, map[string]any{"id": id.String(), "created": created})
		}

		if created == 0 {
			cc.Statusf("Folder %s already exists\n", args[0])
		} else {
			cc.Statusf("Created %s\n", args[0])
		}

		fmt.Fprintln(cc.Stdout, id)

		return nil
	})
}

// mkdirAll walks path from the root, creating each missing segment. It
// returns the ID of the last folder and how many folders were created.
func mkdirAll(ctx context.Context, d *bridge.Drive, path string) (remote.ResourceID, int, error) {
	parent, err := d.RootFolder().Await(ctx)
	if err != nil {
		return "", 0, err
	}

	created := 0

	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}

		existing, err := d.QueryChildren(parent, remote.Query{Title: segment}).Await(ctx)
		if err != nil {
			return "", created, fmt.Errorf("listing %q: %w", segment, err)
		}

		if len(existing) > 0 {
			if !existing[0].IsFolder {
				return "", created, fmt.Errorf("%q exists and is not a folder", segment)
			}

			parent = existing[0].ID

			continue
		}

		parent, err = d.CreateFolder(parent, segment).Await(ctx)
		if err != nil {
			return "", created, fmt.Errorf("creating %q: %w", segment, err)
		}

		created++
	}

	return parent, created, nil
}

func runRm(cmd *cobra.Command, args []string) error {
	if force, _ := cmd.Flags().GetBool("force"); !force {
		return errors.New("rm deletes permanently; pass --force, or use trash")
	}

	return runAck(cmd, args, "Deleted", (*bridge.Drive).Delete)
}

// runAck resolves every argument and applies op concurrently, bounded by
// the configured worker count. Every argument is attempted; the errors are
// joined.
func runAck(
	cmd *cobra.Command, args []string, verb string,
	op func(*bridge.Drive, remote.ResourceID) *bridge.Call[bool],
) error {
	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		var g errgroup.Group
		g.SetLimit(cc.Cfg.Transfers.Workers)

		errs := make([]error, len(args))

		for i, arg := range args {
			g.Go(func() error {
				id, err := resolve(ctx, d, arg)
				if err == nil {
					_, err = op(d, id).Await(ctx)
				}

				if err != nil {
					errs[i] = fmt.Errorf("%s: %w", arg, err)
					return nil
				}

				cc.Statusf("%s %s\n", verb, arg)

				return nil
			})
		}

		_ = g.Wait()

		return errors.Join(errs...)
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withDrive(cmd, func(ctx context.Context, cc *CLIContext, d *bridge.Drive) error {
		id, err := resolve(ctx, d, args[0])
		if err != nil {
			return err
		}

		dest, err := resolve(ctx, d, args[1])
		if err != nil {
			return err
		}

		if _, err := d.SetParents(id, []remote.ResourceID{dest}).Await(ctx); err != nil {
			return fmt.Errorf("moving %q: %w", args[0], err)
		}

		cc.Statusf("Moved %s to %s\n", args[0], args[1])

		return nil
	})
}

// itemJSON is the JSON schema for one item in ls, find and stat output.
type itemJSON struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Size       int64    `json:"size"`
	IsFolder   bool     `json:"is_folder"`
	IsTrashed  bool     `json:"is_trashed,omitempty"`
	MimeType   string   `json:"mime_type,omitempty"`
	Parents    []string `json:"parents,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty"`
	ModifiedAt string   `json:"modified_at,omitempty"`
}

func toItemJSON(md *remote.Metadata) itemJSON {
	out := itemJSON{
		ID:        md.ID.String(),
		Name:      md.Title,
		Size:      md.Size,
		IsFolder:  md.IsFolder,
		IsTrashed: md.IsTrashed,
		MimeType:  md.MimeType,
	}

	for _, p := range md.ParentIDs {
		out.Parents = append(out.Parents, p.String())
	}

	if !md.CreatedAt.IsZero() {
		out.CreatedAt = md.CreatedAt.UTC().Format(time.RFC3339)
	}

	if !md.ModifiedAt.IsZero() {
		out.ModifiedAt = md.ModifiedAt.UTC().Format(time.RFC3339)
	}

	return out
}

// printItems prints a listing: folders first, then by name.
func printItems(cc *CLIContext, items []remote.Metadata) error {
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}

		return items[i].Title < items[j].Title
	})

	if cc.Flags.JSON {
		out := make([]itemJSON, 0, len(items))
		for i := range items {
			out = append(out, toItemJSON(&items[i]))
		}

		return printJSON(cc.Stdout, out)
	}

	now := time.Now()
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Title
		if items[i].IsFolder {
			name += "/"
		}

		rows = append(rows, []string{
			name,
			formatSize(items[i].Size),
			formatTime(items[i].ModifiedAt, now),
			items[i].ID.String(),
		})
	}

	printTable(cc.Stdout, []string{"NAME", "SIZE", "MODIFIED", "ID"}, rows)

	return nil
}

// isNotFound reports whether err is a remote not-found failure.
func isNotFound(err error) bool {
	return failure.CodeOf(err) == remote.StatusNotFound
}
