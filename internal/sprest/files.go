package sprest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

// quoteParam formats a string literal for an OData query alias: wrapped
// in single quotes with embedded quotes doubled, then percent-encoded.
func quoteParam(s string) string {
	quoted := "'" + strings.ReplaceAll(s, "'", "''") + "'"

	return strings.ReplaceAll(url.QueryEscape(quoted), "+", "%20")
}

// fileEndpoint addresses a file by server-relative path, with an optional
// method or property suffix such as "/$value".
func fileEndpoint(serverRel, suffix string) string {
	return "/_api/web/GetFileByServerRelativePath(decodedUrl=@p)" + suffix + "?@p=" + quoteParam(serverRel)
}

// folderEndpoint addresses a folder by server-relative path.
func folderEndpoint(serverRel, suffix string) string {
	return "/_api/web/GetFolderByServerRelativePath(decodedUrl=@d)" + suffix + "?@d=" + quoteParam(serverRel)
}

// Stat retrieves the metadata of one file.
func (c *Client) Stat(ctx context.Context, path string) (*FileInfo, error) {
	resp, err := c.Do(ctx, http.MethodGet, fileEndpoint(path, ""), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("sharepoint: decoding file metadata: %w", err)
	}

	if !fr.exists() {
		return nil, fmt.Errorf("%w: %s", sperr.ErrNotFound, path)
	}

	return fr.toFileInfo(), nil
}

// Exists reports whether a file is present. A missing file is a normal
// outcome, not an error.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Stat(ctx, path)
	if errors.Is(err, sperr.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// OpenRead streams the file's content. The returned ReadCloser is the
// live response body and the caller owns closing it. The returned size is
// the declared content length, -1 when the service does not state one.
func (c *Client) OpenRead(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	c.logger.Info("downloading file", slog.String("path", path))

	resp, err := c.Do(ctx, http.MethodGet, fileEndpoint(path, "/$value"), nil)
	if err != nil {
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

// Upload writes the complete content as a single request, overwriting any
// existing file with the same name. content should implement io.Seeker so
// the request can be replayed on retry.
func (c *Client) Upload(ctx context.Context, dir, name string, content io.Reader, size int64) (*FileInfo, error) {
	c.logger.Info("uploading file",
		slog.String("dir", dir),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	path := folderEndpoint(dir, "/Files/Add(url=@n,overwrite=true)") + "&@n=" + quoteParam(name)

	resp, err := c.DoRaw(ctx, http.MethodPost, path, content, "application/octet-stream", size)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("sharepoint: decoding upload response: %w", err)
	}

	return fr.toFileInfo(), nil
}

// Delete moves the file to the site recycle bin. Deleting a missing file
// is not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	c.logger.Info("recycling file", slog.String("path", path))

	resp, err := c.Do(ctx, http.MethodPost, fileEndpoint(path, "/recycle()"), nil)
	if err != nil {
		if errors.Is(err, sperr.ErrNotFound) {
			c.logger.Debug("file already absent", slog.String("path", path))

			return nil
		}

		return err
	}

	// Drain and close to reuse the connection.
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining recycle response body: %w", copyErr)
	}

	return nil
}

// ListDir returns the names of the immediate subfolders and files of a
// folder, in the order the service returns them. One request serves both
// collections.
func (c *Client) ListDir(ctx context.Context, dir string) (dirs, files []string, err error) {
	c.logger.Info("listing folder", slog.String("path", dir))

	resp, err := c.Do(ctx, http.MethodGet, folderEndpoint(dir, "")+"&$expand=Folders,Files", nil)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var fr folderResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, nil, fmt.Errorf("sharepoint: decoding folder listing: %w", err)
	}

	if !fr.exists() {
		return nil, nil, fmt.Errorf("%w: %s", sperr.ErrNotFound, dir)
	}

	for _, f := range fr.Folders {
		dirs = append(dirs, f.Name)
	}

	for _, f := range fr.Files {
		files = append(files, f.Name)
	}

	c.logger.Debug("listed folder",
		slog.String("path", dir),
		slog.Int("folders", len(dirs)),
		slog.Int("files", len(files)),
	)

	return dirs, files, nil
}

// EnsureFolder creates dir and any missing ancestors beneath base. base
// itself must already exist; levels that already exist are left alone.
func (c *Client) EnsureFolder(ctx context.Context, base, dir string) error {
	if dir == base {
		return nil
	}

	rel := strings.TrimPrefix(dir, base+"/")
	if rel == dir {
		return fmt.Errorf("%w: folder %q is outside %q", sperr.ErrInvalidPath, dir, base)
	}

	level := base
	for _, seg := range strings.Split(rel, "/") {
		level += "/" + seg

		exists, err := c.folderExists(ctx, level)
		if err != nil {
			return err
		}

		if exists {
			continue
		}

		if err := c.createFolder(ctx, level); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}

	return nil
}

// folderExists reports whether a folder is present.
func (c *Client) folderExists(ctx context.Context, dir string) (bool, error) {
	resp, err := c.Do(ctx, http.MethodGet, folderEndpoint(dir, ""), nil)
	if err != nil {
		if errors.Is(err, sperr.ErrNotFound) {
			return false, nil
		}

		return false, err
	}
	defer resp.Body.Close()

	var fr folderResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return false, fmt.Errorf("sharepoint: decoding folder metadata: %w", err)
	}

	return fr.exists(), nil
}

// createFolder creates a single folder level. Racing creators surface as
// ErrConflict, which EnsureFolder tolerates.
func (c *Client) createFolder(ctx context.Context, dir string) error {
	c.logger.Info("creating folder", slog.String("path", dir))

	bodyBytes, err := json.Marshal(map[string]string{"ServerRelativeUrl": dir})
	if err != nil {
		return fmt.Errorf("sharepoint: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/_api/web/folders", bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining create folder response body: %w", copyErr)
	}

	return nil
}

// CheckIn finalizes an uploaded file as a major version. Libraries
// without check-out requirements reject this with 400 (ErrBadRequest);
// callers decide whether that matters.
func (c *Client) CheckIn(ctx context.Context, path, comment string) error {
	p := fileEndpoint(path, "/CheckIn(comment=@c,checkintype=1)") + "&@c=" + quoteParam(comment)

	resp, err := c.Do(ctx, http.MethodPost, p, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining check-in response body: %w", copyErr)
	}

	return nil
}

// shareLinkRequest is the body of a CreateOrganizationSharingLink call.
type shareLinkRequest struct {
	URL        string `json:"url"`
	IsEditLink bool   `json:"isEditLink"`
}

// ShareLink creates an organization-scoped view link for the file at the
// given absolute URL.
func (c *Client) ShareLink(ctx context.Context, fileURL string) (string, error) {
	c.logger.Info("creating sharing link", slog.String("url", fileURL))

	bodyBytes, err := json.Marshal(shareLinkRequest{URL: fileURL, IsEditLink: false})
	if err != nil {
		return "", fmt.Errorf("sharepoint: marshaling sharing link request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/_api/SP.Web.CreateOrganizationSharingLink", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var slr shareLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&slr); err != nil {
		return "", fmt.Errorf("sharepoint: decoding sharing link response: %w", err)
	}

	return slr.Value, nil
}

// FileURL returns the absolute URL of a server-relative path on this
// client's host.
func (c *Client) FileURL(serverRel string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + serverRel
	}

	return u.Scheme + "://" + u.Host + serverRel
}
