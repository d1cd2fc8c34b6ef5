package sharepoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/tonimelisma/sharepoint-go/internal/auth"
	"github.com/tonimelisma/sharepoint-go/internal/sperr"
	"github.com/tonimelisma/sharepoint-go/internal/sppath"
	"github.com/tonimelisma/sharepoint-go/internal/sprest"
	"github.com/tonimelisma/sharepoint-go/internal/spool"
)

// Storage provides file semantics over one site's document library. All
// methods are safe for concurrent use; token refresh is shared across
// goroutines.
type Storage struct {
	client   *sprest.Client
	resolver *sppath.Resolver
	logger   *slog.Logger

	memLimit int64
	tempDir  string
	fs       afero.Fs
}

type storageOptions struct {
	httpClient *http.Client
	logger     *slog.Logger
	tempDir    string
	fs         afero.Fs

	// Test hooks. Production derives both URLs from the tenant name.
	siteURL   string
	authority string
}

// StorageOption configures optional Storage behavior.
type StorageOption func(*storageOptions)

// WithHTTPClient supplies the HTTP client used for all requests,
// including token requests. Nil falls back to a client built from the
// network section of the configuration.
func WithHTTPClient(c *http.Client) StorageOption {
	return func(o *storageOptions) {
		o.httpClient = c
	}
}

// WithLogger routes internal logging to the given logger. Nil falls
// back to slog.Default().
func WithLogger(l *slog.Logger) StorageOption {
	return func(o *storageOptions) {
		o.logger = l
	}
}

// WithTempDir places transfer spill files under dir instead of the
// default temp directory.
func WithTempDir(dir string) StorageOption {
	return func(o *storageOptions) {
		o.tempDir = dir
	}
}

// withSiteURL points API requests at an arbitrary base URL, for tests.
func withSiteURL(u string) StorageOption {
	return func(o *storageOptions) {
		o.siteURL = u
	}
}

// withAuthority points token requests at an arbitrary identity
// authority, for tests.
func withAuthority(u string) StorageOption {
	return func(o *storageOptions) {
		o.authority = u
	}
}

// withOverlayFs places spill files on the given filesystem, for tests.
func withOverlayFs(fs afero.Fs) StorageOption {
	return func(o *storageOptions) {
		o.fs = fs
	}
}

// New validates cfg and constructs a Storage for the configured site.
// Configuration problems are reported here, wrapping ErrConfig; no
// request is made until the first operation.
func New(cfg *Config, opts ...StorageOption) (*Storage, error) {
	var o storageOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	flow, err := auth.PickFlow(cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.Username, cfg.Auth.Password)
	if err != nil {
		return nil, err
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient, err = buildHTTPClient(&cfg.Network)
		if err != nil {
			return nil, err
		}
	}

	token, err := auth.New(auth.Options{
		Flow:         flow,
		Tenant:       cfg.Site.Tenant,
		TenantID:     cfg.Site.TenantID,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		AuthorityURL: o.authority,
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}

	resolver := sppath.New(cfg.Site.SiteName, cfg.Site.RootDir)

	siteURL := o.siteURL
	if siteURL == "" {
		siteURL = "https://" + cfg.Site.Tenant + ".sharepoint.com" + resolver.SitePath()
	}

	memLimit, err := ParseSize(cfg.Storage.BlobMaxMemorySize)
	if err != nil {
		return nil, fmt.Errorf("%w: storage.blob_max_memory_size: %v", sperr.ErrConfig, err)
	}

	var clientOpts []sprest.Option
	if cfg.Network.UserAgent != "" {
		clientOpts = append(clientOpts, sprest.WithUserAgent(cfg.Network.UserAgent))
	}

	if cfg.Network.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, sprest.WithRateLimit(cfg.Network.RequestsPerSecond))
	}

	logger.Debug("storage configured",
		slog.String("site", resolver.SitePath()),
		slog.String("root", resolver.Root()),
		slog.String("flow", flow.String()),
	)

	return &Storage{
		client:   sprest.NewClient(siteURL, httpClient, token, logger, clientOpts...),
		resolver: resolver,
		logger:   logger,
		memLimit: memLimit,
		tempDir:  o.tempDir,
		fs:       o.fs,
	}, nil
}

// buildHTTPClient constructs a transport from the network settings. The
// data timeout bounds the wait for response headers; bodies stream
// without a deadline so large transfers are not cut off.
func buildHTTPClient(n *NetworkConfig) (*http.Client, error) {
	connect, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: network.connect_timeout: %v", sperr.ErrConfig, err)
	}

	data, err := time.ParseDuration(n.DataTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: network.data_timeout: %v", sperr.ErrConfig, err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: data,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     !n.ForceHTTP11,
	}

	return &http.Client{Transport: transport}, nil
}

// FileInfo describes one stored file.
type FileInfo struct {
	Name               string
	ServerRelativePath string
	Size               int64
	Created            time.Time
	Modified           time.Time
	ETag               string
	UniqueID           string
}

func fileInfoFrom(fi *sprest.FileInfo) *FileInfo {
	return &FileInfo{
		Name:               fi.Name,
		ServerRelativePath: fi.ServerRelativePath,
		Size:               fi.Size,
		Created:            fi.Created,
		Modified:           fi.Modified,
		ETag:               fi.ETag,
		UniqueID:           fi.UniqueID,
	}
}

// Exists reports whether name refers to an existing file. A missing
// file is a normal outcome, not an error.
func (s *Storage) Exists(ctx context.Context, name string) (bool, error) {
	p, err := s.resolver.Resolve(name)
	if err != nil {
		return false, err
	}

	return s.client.Exists(ctx, p)
}

// Stat returns the metadata of name.
func (s *Storage) Stat(ctx context.Context, name string) (*FileInfo, error) {
	p, err := s.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}

	fi, err := s.client.Stat(ctx, p)
	if err != nil {
		return nil, err
	}

	return fileInfoFrom(fi), nil
}

// Size returns the content length of name in bytes.
func (s *Storage) Size(ctx context.Context, name string) (int64, error) {
	fi, err := s.Stat(ctx, name)
	if err != nil {
		return 0, err
	}

	return fi.Size, nil
}

// Delete removes name, moving it to the site recycle bin. Deleting a
// missing file is not an error, so Delete is safe to repeat.
func (s *Storage) Delete(ctx context.Context, name string) error {
	p, err := s.resolver.Resolve(name)
	if err != nil {
		return err
	}

	return s.client.Delete(ctx, p)
}

// URL returns an organization-scoped sharing link for name. The link
// grants read access to anyone signed in to the tenant.
func (s *Storage) URL(ctx context.Context, name string) (string, error) {
	p, err := s.resolver.Resolve(name)
	if err != nil {
		return "", err
	}

	return s.client.ShareLink(ctx, s.client.FileURL(p))
}

// ListDir returns the folder names and file names directly under name,
// in the order the service lists them. The empty name lists the library
// root.
func (s *Storage) ListDir(ctx context.Context, name string) (dirs, files []string, err error) {
	p, err := s.resolver.Resolve(name)
	if err != nil {
		return nil, nil, err
	}

	return s.client.ListDir(ctx, p)
}

// Open opens name for reading (mode "r") or writing (mode "w"). The "b"
// suffix is accepted and ignored; all content is binary.
//
// Reading downloads the whole content up front, buffered in memory up to
// the configured threshold and on disk past it, so the returned File is
// seekable and a missing file fails here with ErrNotFound.
//
// Writing buffers locally the same way and uploads on Close. ctx governs
// the whole handle lifetime, including the upload on Close.
func (s *Storage) Open(ctx context.Context, name, mode string) (*File, error) {
	p, err := s.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}

	switch mode {
	case "r", "rb":
		return s.openRead(ctx, name, p)
	case "w", "wb":
		return s.openWrite(ctx, name, p), nil
	default:
		return nil, fmt.Errorf("sharepoint: unsupported open mode %q", mode)
	}
}

func (s *Storage) openRead(ctx context.Context, name, path string) (*File, error) {
	body, size, err := s.client.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	buf := spool.New(s.memLimit, s.fs, s.tempDir)

	if _, err := io.Copy(buf, body); err != nil {
		buf.Close()

		return nil, fmt.Errorf("%w: downloading %s: %v", sperr.ErrTransient, path, err)
	}

	if size >= 0 && buf.Len() != size {
		buf.Close()

		return nil, fmt.Errorf("%w: downloading %s: got %d bytes, expected %d",
			sperr.ErrTransient, path, buf.Len(), size)
	}

	reader, err := buf.Reader()
	if err != nil {
		buf.Close()

		return nil, err
	}

	s.logger.Debug("opened for reading",
		slog.String("path", path),
		slog.Int64("size", buf.Len()),
		slog.Bool("in_memory", buf.InMemory()),
	)

	return &File{
		storage: s,
		ctx:     ctx,
		name:    name,
		path:    path,
		mode:    modeRead,
		buf:     buf,
		reader:  reader,
		state:   stateOpen,
	}, nil
}

func (s *Storage) openWrite(ctx context.Context, name, path string) *File {
	return &File{
		storage: s,
		ctx:     ctx,
		name:    name,
		path:    path,
		mode:    modeWrite,
		buf:     spool.New(s.memLimit, s.fs, s.tempDir),
		state:   stateOpen,
	}
}
