package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/index"
	"github.com/tonimelisma/driveindex/internal/resolver"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search items by name",
		Long: `Search for items whose names contain every word of the keyword. The
scope is every drive when search_all_drives is set, the shared drive for
shared roots, and the user's own files otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path> [local-path]",
		Short: "Download a file",
		Long: `Download a file by path under the selected root. With --link, the
argument is a download link as produced by 'link mint' or a listing, and
the file is fetched after the link is verified.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}

	cmd.Flags().Bool("link", false, "treat the argument as a download link")

	return cmd
}

// openIndex builds and initializes the index for the resolved config.
func openIndex(ctx context.Context) (*index.Index, *slog.Logger, error) {
	logger := buildLogger()

	x, err := index.Build(ctx, resolvedCfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}

	return x, logger, nil
}

// escapedPath turns a human-readable path into the escaped form the index
// expects. dir forces a trailing slash.
func escapedPath(p string, dir bool) string {
	p = "/" + strings.Trim(p, "/")
	if dir && !strings.HasSuffix(p, "/") {
		p += "/"
	}

	return resolver.EscapePath(p)
}

// collectPages follows next-page tokens until the listing is exhausted.
func collectPages(list func(pageToken string, pageIndex int) (*index.Listing, error)) ([]index.Entry, error) {
	var (
		out   []index.Entry
		token string
	)

	for i := 0; ; i++ {
		l, err := list(token, i)
		if err != nil {
			return nil, err
		}

		out = append(out, l.Files...)

		if l.NextPageToken == "" {
			return out, nil
		}

		token = l.NextPageToken
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()

	x, logger, err := openIndex(ctx)
	if err != nil {
		return err
	}

	logger.Debug("ls", slog.Int("root", flagRoot), slog.String("path", remotePath))

	path := escapedPath(remotePath, true)

	entries, err := collectPages(func(tok string, i int) (*index.Listing, error) {
		return x.List(ctx, flagRoot, path, tok, i, "")
	})
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	return printEntries(cmd.OutOrStdout(), entries)
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	x, _, err := openIndex(ctx)
	if err != nil {
		return err
	}

	e, err := x.Stat(ctx, flagRoot, escapedPath(args[0], false), "")
	if err != nil {
		return fmt.Errorf("stat %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, e)
	}

	kind := "file"
	if e.IsFolder() {
		kind = "folder"
	}

	fmt.Fprintf(out, "Name:     %s\n", e.Name)
	fmt.Fprintf(out, "Type:     %s\n", kind)
	fmt.Fprintf(out, "MIME:     %s\n", e.MimeType)
	fmt.Fprintf(out, "Size:     %s\n", formatSize(e.Size))
	fmt.Fprintf(out, "Modified: %s\n", formatTime(e.ModifiedTime))
	fmt.Fprintf(out, "ID:       %s\n", e.ID)

	if e.Link != "" {
		fmt.Fprintf(out, "Link:     %s\n", e.Link)
	}

	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	keyword := strings.Join(args, " ")

	x, _, err := openIndex(ctx)
	if err != nil {
		return err
	}

	entries, err := collectPages(func(tok string, i int) (*index.Listing, error) {
		return x.Search(ctx, flagRoot, keyword, tok, i, "")
	})
	if err != nil {
		return fmt.Errorf("searching %q: %w", keyword, err)
	}

	return printEntries(cmd.OutOrStdout(), entries)
}

func printEntries(w io.Writer, entries []index.Entry) error {
	if flagJSON {
		if entries == nil {
			entries = []index.Entry{}
		}

		return printJSON(w, entries)
	}

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]

		name, size := e.Name, formatSize(e.Size)
		if e.IsFolder() {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(e.ModifiedTime)})
	}

	printTable(w, headers, rows)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	byLink, err := cmd.Flags().GetBool("link")
	if err != nil {
		return err
	}

	x, logger, err := openIndex(ctx)
	if err != nil {
		return err
	}

	var dl *index.Download

	if byLink {
		link, parseErr := parseLink(args[0])
		if parseErr != nil {
			return parseErr
		}

		dl, err = x.Open(ctx, link, "", "")
	} else {
		dl, err = x.OpenPath(ctx, flagRoot, escapedPath(args[0], false), "")
	}

	if err != nil {
		return fmt.Errorf("opening %q: %w", args[0], err)
	}
	defer dl.Response.Body.Close()

	localPath := dl.Name
	if len(args) > 1 {
		localPath = args[1]
	}

	n, err := writeAtomically(localPath, dl.Response.Body)
	if err != nil {
		return err
	}

	logger.Debug("download complete", slog.String("local_path", localPath), slog.Int64("bytes", n))
	statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

	return nil
}

// parseLink reads a download link from a full URL or a "/download.aspx?..."
// path.
func parseLink(raw string) (capability.Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return capability.Link{}, fmt.Errorf("parsing link: %w", err)
	}

	link := capability.LinkFromQuery(u.Query())
	if link.File == "" || link.Expiry == "" || link.MAC == "" {
		return capability.Link{}, fmt.Errorf("%q is not a download link", raw)
	}

	return link, nil
}

// writeAtomically streams r to a ".partial" file next to path and renames
// it into place once complete.
func writeAtomically(path string, r io.Reader) (int64, error) {
	partial := path + ".partial"

	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("creating %q: %w", partial, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(partial)
		return n, fmt.Errorf("writing %q: %w", partial, err)
	}

	if err := os.Rename(partial, path); err != nil {
		return n, fmt.Errorf("renaming download to %q: %w", path, err)
	}

	return n, nil
}
