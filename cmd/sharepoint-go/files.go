package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/sharepoint-go"
)

// defaultTransferParallel bounds concurrent uploads and downloads when a
// command is given several files at once.
const defaultTransferParallel = 4

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download files",
		Long: `Download files from the document library.

With one remote path, the optional second argument names the local
destination, like cp. With several remote paths, downloads run
concurrently and each file keeps its base name; use --dir to pick the
local target directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}

	cmd.Flags().StringP("dir", "d", "", "local directory for downloaded files")
	cmd.Flags().IntP("parallel", "p", defaultTransferParallel, "maximum concurrent transfers")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload files",
		Long: `Upload local files into the document library.

With one local path, the optional second argument names the remote
destination, like cp. With several local paths, uploads run concurrently
and each file keeps its base name; use --dir to pick the target folder.
Missing remote folders are created on demand.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}

	cmd.Flags().StringP("dir", "d", "", "remote folder for uploaded files")
	cmd.Flags().IntP("parallel", "p", defaultTransferParallel, "maximum concurrent transfers")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files (moves them to the site recycle bin)",
		Long: `Delete files in the document library. Files are moved to the site
recycle bin and can be restored from the SharePoint web interface.

Deleting a file that does not exist is not an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <path>",
		Short: "Check whether a file exists",
		Long: `Check whether a file exists in the document library.

Prints "true" or "false". The exit code is 0 either way; a non-zero
exit means the check itself failed.`,
		Args: cobra.ExactArgs(1),
		RunE: runExists,
	}
}

func newURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <path>",
		Short: "Print an organization sharing link for a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runURL,
	}
}

// cleanRemotePath strips leading/trailing slashes, returns "" for root.
func cleanRemotePath(p string) string {
	return strings.Trim(p, "/")
}

// joinRemote joins a remote folder and a file name with forward slashes
// regardless of the local OS path separator.
func joinRemote(dir, base string) string {
	return path.Join(cleanRemotePath(dir), base)
}

// lsJSONOutput is the JSON output schema for the ls command.
type lsJSONOutput struct {
	Folders []string `json:"folders"`
	Files   []string `json:"files"`
}

func runLs(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	logger.Debug("ls", "path", name)

	dirs, files, err := s.ListDir(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("listing %q: %w", name, err)
	}

	if flagJSON {
		return printJSON(lsJSONOutput{Folders: dirs, Files: files})
	}

	for _, d := range dirs {
		fmt.Println(d + "/")
	}

	for _, f := range files {
		fmt.Println(f)
	}

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}

	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}

	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	// Two bare arguments mean "remote local", like cp.
	if dir == "" && len(args) == 2 {
		return getFile(cmd.Context(), s, logger, args[0], args[1])
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %q: %w", dir, err)
		}
	}

	if len(args) == 1 {
		local := filepath.Join(dir, path.Base(cleanRemotePath(args[0])))
		return getFile(cmd.Context(), s, logger, args[0], local)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(parallel, 1))

	for _, remote := range args {
		g.Go(func() error {
			local := filepath.Join(dir, path.Base(cleanRemotePath(remote)))
			return getFile(ctx, s, logger, remote, local)
		})
	}

	return g.Wait()
}

// getFile downloads one remote file through a .partial staging file and an
// atomic rename, so an interrupted download never leaves a truncated file
// under the final name.
func getFile(ctx context.Context, s *sharepoint.Storage, logger *slog.Logger, remote, localPath string) error {
	r, err := s.Open(ctx, remote, "r")
	if err != nil {
		return fmt.Errorf("opening %q: %w", remote, err)
	}
	defer r.Close()

	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("creating partial file for download: %w", err)
	}

	_, copyErr := io.Copy(f, r)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		os.Remove(partialPath)
		return fmt.Errorf("downloading %q: %w", remote, copyErr)
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, localPath); err != nil {
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	logger.Debug("download complete", "local_path", localPath, "bytes", r.Size())
	statusf("Downloaded %s (%s)\n", localPath, formatSize(r.Size()))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}

	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}

	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	// Two bare arguments mean "local remote", like cp.
	if dir == "" && len(args) == 2 {
		return putFile(cmd.Context(), s, logger, args[0], cleanRemotePath(args[1]))
	}

	if len(args) == 1 {
		return putFile(cmd.Context(), s, logger, args[0], joinRemote(dir, filepath.Base(args[0])))
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(parallel, 1))

	for _, local := range args {
		g.Go(func() error {
			return putFile(ctx, s, logger, local, joinRemote(dir, filepath.Base(local)))
		})
	}

	return g.Wait()
}

// putFile uploads one local file to the given remote path.
func putFile(ctx context.Context, s *sharepoint.Storage, logger *slog.Logger, localPath, remote string) error {
	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	logger.Debug("put", "local_path", localPath, "remote_path", remote, "size", fi.Size())

	w, err := s.Open(ctx, remote, "w")
	if err != nil {
		return fmt.Errorf("opening %q for upload: %w", remote, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("reading %q: %w", localPath, err)
	}

	// An empty source never triggers a Write, but Close must still create
	// the remote file rather than skip the upload.
	if fi.Size() == 0 {
		if _, err := w.Write(nil); err != nil {
			w.Close()
			return fmt.Errorf("buffering %q: %w", localPath, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("uploading %q: %w", remote, err)
	}

	statusf("Uploaded %s (%s)\n", remote, formatSize(fi.Size()))

	return nil
}

// rmJSONOutput is the JSON output schema for the rm command.
type rmJSONOutput struct {
	Deleted []string `json:"deleted"`
}

func runRm(cmd *cobra.Command, args []string) error {
	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	deleted := make([]string, 0, len(args))

	for _, name := range args {
		if err := s.Delete(cmd.Context(), name); err != nil {
			return fmt.Errorf("deleting %q: %w", name, err)
		}

		logger.Debug("delete complete", "path", name)
		deleted = append(deleted, name)
	}

	if flagJSON {
		return printJSON(rmJSONOutput{Deleted: deleted})
	}

	for _, name := range deleted {
		statusf("Deleted %s\n", name)
	}

	return nil
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	CreatedAt  string `json:"created_at"`
	ETag       string `json:"etag"`
	UniqueID   string `json:"unique_id"`
}

func runStat(cmd *cobra.Command, args []string) error {
	name := args[0]

	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	logger.Debug("stat", "path", name)

	info, err := s.Stat(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("stating %q: %w", name, err)
	}

	if flagJSON {
		return printJSON(statJSONOutput{
			Name:       info.Name,
			Path:       info.ServerRelativePath,
			Size:       info.Size,
			ModifiedAt: info.Modified.UTC().Format("2006-01-02T15:04:05Z"),
			CreatedAt:  info.Created.UTC().Format("2006-01-02T15:04:05Z"),
			ETag:       info.ETag,
			UniqueID:   info.UniqueID,
		})
	}

	fmt.Printf("Name:     %s\n", info.Name)
	fmt.Printf("Path:     %s\n", info.ServerRelativePath)
	fmt.Printf("Size:     %s (%d bytes)\n", formatSize(info.Size), info.Size)
	fmt.Printf("Modified: %s\n", info.Modified.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("Created:  %s\n", info.Created.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("ETag:     %s\n", info.ETag)
	fmt.Printf("ID:       %s\n", info.UniqueID)

	return nil
}

// existsJSONOutput is the JSON output schema for the exists command.
type existsJSONOutput struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

func runExists(cmd *cobra.Command, args []string) error {
	name := args[0]

	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	ok, err := s.Exists(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("checking %q: %w", name, err)
	}

	logger.Debug("exists", "path", name, "exists", ok)

	if flagJSON {
		return printJSON(existsJSONOutput{Path: name, Exists: ok})
	}

	fmt.Println(ok)

	return nil
}

// urlJSONOutput is the JSON output schema for the url command.
type urlJSONOutput struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func runURL(cmd *cobra.Command, args []string) error {
	name := args[0]

	s, logger, err := newStorage()
	if err != nil {
		return err
	}

	link, err := s.URL(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("creating link for %q: %w", name, err)
	}

	logger.Debug("url", "path", name)

	if flagJSON {
		return printJSON(urlJSONOutput{Path: name, URL: link})
	}

	fmt.Println(link)

	return nil
}
