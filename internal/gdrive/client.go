package gdrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ErrInvalidArgument is returned for calls that would build a malformed query.
var ErrInvalidArgument = errors.New("gdrive: invalid argument")

// Options configures a Client.
type Options struct {
	// Endpoint overrides the Drive API base path, e.g. for tests.
	Endpoint  string
	UserAgent string
}

// Client issues authenticated Drive v3 calls. All operations include shared
// drive items.
type Client struct {
	svc    *drive.Service
	tr     *transport
	logger *slog.Logger
}

// NewClient creates a Drive client. Requests go through httpClient's
// transport with a bearer token from token attached and failures retried.
func NewClient(
	ctx context.Context, httpClient *http.Client, token TokenSource, opts Options, logger *slog.Logger,
) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	tr := &transport{
		base:      base,
		token:     token,
		logger:    logger,
		sleepFunc: timeSleep,
	}

	hc := &http.Client{
		Transport:     tr,
		Timeout:       httpClient.Timeout,
		CheckRedirect: httpClient.CheckRedirect,
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(hc)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating service: %w", err)
	}

	svc.UserAgent = opts.UserAgent

	return &Client{svc: svc, tr: tr, logger: logger}, nil
}

// GetMetadata fetches a single file by id. A missing file returns (nil, nil).
// The literal id "root" resolves to the account's My Drive root.
func (c *Client) GetMetadata(ctx context.Context, id string) (*File, error) {
	f, err := c.svc.Files.Get(id).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			c.logger.Debug("file not found", slog.String("op", "get"))
			return nil, nil //nolint:nilnil // absent is not an error
		}

		return nil, wrapError("get metadata", err)
	}

	return toFile(f), nil
}

// ListChildren returns one page of parentID's visible children, folders first.
// A pageSize of zero uses the API default.
func (c *Client) ListChildren(ctx context.Context, parentID, pageToken string, pageSize int) (*Page, error) {
	if parentID == "" {
		return nil, fmt.Errorf("%w: empty parent id", ErrInvalidArgument)
	}

	call := c.svc.Files.List().
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Q(listQuery(parentID)).
		OrderBy(listOrder).
		Fields(listFields).
		Context(ctx)

	if pageSize > 0 {
		call = call.PageSize(int64(pageSize))
	}

	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		if isNotFound(err) {
			return &Page{}, nil
		}

		return nil, wrapError("list children", err)
	}

	return toPage(list), nil
}

// FindChild looks up a direct child of parentID by exact name. folderOnly
// restricts the match to folders; otherwise shortcuts never match. Returns
// (nil, nil) when there is no such child. With duplicate names the first
// match in listing order wins.
func (c *Client) FindChild(ctx context.Context, parentID, name string, folderOnly bool) (*File, error) {
	if parentID == "" || name == "" {
		return nil, fmt.Errorf("%w: empty parent id or name", ErrInvalidArgument)
	}

	list, err := c.svc.Files.List().
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Q(findQuery(parentID, name, folderOnly)).
		OrderBy(listOrder).
		Fields(listFields).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil //nolint:nilnil // absent is not an error
		}

		return nil, wrapError("find child", err)
	}

	if len(list.Files) == 0 {
		return nil, nil //nolint:nilnil // absent is not an error
	}

	return toFile(list.Files[0]), nil
}

// Search returns files whose names contain every term, within scope.
func (c *Client) Search(ctx context.Context, terms []string, scope Scope, pageToken string, pageSize int) (*Page, error) {
	if len(terms) == 0 {
		return &Page{}, nil
	}

	call := c.svc.Files.List().
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Q(searchQuery(terms)).
		OrderBy(listOrder).
		Fields(listFields).
		Context(ctx)

	switch scope.Corpora {
	case CorporaDrive:
		if scope.DriveID == "" {
			return nil, fmt.Errorf("%w: drive corpora without drive id", ErrInvalidArgument)
		}

		call = call.Corpora(CorporaDrive).DriveId(scope.DriveID)
	case CorporaAllDrives:
		call = call.Corpora(CorporaAllDrives)
	default:
		call = call.Corpora(CorporaUser)
	}

	if pageSize > 0 {
		call = call.PageSize(int64(pageSize))
	}

	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		if isNotFound(err) {
			return &Page{}, nil
		}

		return nil, wrapError("search", err)
	}

	return toPage(list), nil
}

// Download opens the content of file id. rangeHeader, when non-empty, is sent
// as the Range header. The caller must close the response body.
func (c *Client) Download(ctx context.Context, id, rangeHeader string) (*http.Response, error) {
	call := c.svc.Files.Get(id).
		SupportsAllDrives(true).
		Context(ctx)

	if rangeHeader != "" {
		call.Header().Set("Range", rangeHeader)
	}

	resp, err := call.Download()
	if err != nil {
		return nil, wrapError("download", err)
	}

	return resp, nil
}
