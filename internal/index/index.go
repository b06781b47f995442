// Package index is the exposed core of driveindex. It binds one resolver to
// each configured root, wraps every outbound id with the link cipher, and
// mints download links for file records. Raw Drive ids never leave this
// package: callers receive encrypted ids and links, and hand encrypted ids
// back.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/driveindex/internal/auth"
	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/gdrive"
	"github.com/tonimelisma/driveindex/internal/resolver"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrDriveInit   = errors.New("drive initialization failed")
	ErrUnknownRoot = errors.New("index: unknown root")
	ErrNotFound    = errors.New("index: not found")
	ErrInvalidID   = errors.New("index: invalid id")
	ErrInvalidLink = errors.New("index: invalid or expired link")
)

// FallbackPath is the route that serves items whose path cannot be
// reconstructed.
const FallbackPath = "/fallback"

// Store is what the index needs from a Drive client.
type Store interface {
	resolver.Store
	Download(ctx context.Context, id, rangeHeader string) (*http.Response, error)
}

// Drive pairs a configured root with the store that can read it.
type Drive struct {
	Root  resolver.Root
	Store Store
}

// Options tunes an Index.
type Options struct {
	Resolver resolver.Options
	BindIP   bool // bind every link to the requester IP when known
}

// Entry is a file record as it crosses the external boundary. ID and
// DriveID are encrypted; Link is set only for files.
type Entry struct {
	ID            string    `json:"id"`
	DriveID       string    `json:"driveId,omitempty"`
	Name          string    `json:"name"`
	MimeType      string    `json:"mimeType"`
	Size          int64     `json:"size,omitempty"`
	CreatedTime   time.Time `json:"createdTime,omitzero"`
	ModifiedTime  time.Time `json:"modifiedTime,omitzero"`
	FileExtension string    `json:"fileExtension,omitempty"`
	Link          string    `json:"link,omitempty"`
}

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool {
	return e.MimeType == gdrive.MimeFolder
}

// Listing is one page of entries.
type Listing struct {
	Files         []Entry
	NextPageToken string
	PageIndex     int
}

// RootInfo describes a configured root for display.
type RootInfo struct {
	Index int
	Name  string
	Type  resolver.RootType
}

type boundDrive struct {
	res   *resolver.Resolver
	store Store
}

// Index serves listings, lookups, and downloads across all configured
// roots. Build it with New, then call Init once before use.
type Index struct {
	drives []boundDrive
	links  *capability.LinkCodec
	opts   Options
	logger *slog.Logger

	roots resolver.RootIndex // set by Init
}

// New creates an Index over drives. Root positions follow the slice order.
func New(drives []Drive, links *capability.LinkCodec, opts Options, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}

	x := &Index{
		drives: make([]boundDrive, len(drives)),
		links:  links,
		opts:   opts,
		logger: logger,
	}

	for i, d := range drives {
		x.drives[i] = boundDrive{
			res:   resolver.New(i, d.Root, d.Store, opts.Resolver, logger),
			store: d.Store,
		}
	}

	return x
}

// Init looks up each credential's personal root once, classifies every
// root, and builds the root index used by reverse walks. A configured
// "root" alias is indexed under its real id too, since parent ids never
// use the alias.
func (x *Index) Init(ctx context.Context) error {
	personal := make([]string, len(x.drives))

	g, gctx := errgroup.WithContext(ctx)

	for i := range x.drives {
		g.Go(func() error {
			d := x.drives[i]

			f, err := d.store.GetMetadata(gctx, resolver.PersonalRootAlias)
			if err != nil {
				return fmt.Errorf("%w: root %d: %w", ErrDriveInit, i, err)
			}

			if f != nil {
				personal[i] = f.ID
			}

			typ := d.res.Classify(personal[i])

			x.logger.Debug("root initialized",
				slog.Int("root", i),
				slog.String("name", d.res.Root().Name),
				slog.String("type", typ.String()),
			)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	roots := make(resolver.RootIndex, 2*len(x.drives))

	for i, d := range x.drives {
		id := d.res.Root().ID
		if _, ok := roots[id]; !ok {
			roots[id] = i
		}

		if id == resolver.PersonalRootAlias && personal[i] != "" {
			if _, ok := roots[personal[i]]; !ok {
				roots[personal[i]] = i
			}
		}
	}

	x.roots = roots

	return nil
}

// Roots describes the configured roots in order.
func (x *Index) Roots() []RootInfo {
	out := make([]RootInfo, len(x.drives))
	for i, d := range x.drives {
		out[i] = RootInfo{Index: i, Name: d.res.Root().Name, Type: d.res.Type()}
	}

	return out
}

// Links returns the codec used to mint and verify links.
func (x *Index) Links() *capability.LinkCodec { return x.links }

func (x *Index) drive(n int) (boundDrive, error) {
	if n < 0 || n >= len(x.drives) {
		return boundDrive{}, fmt.Errorf("%w: %d", ErrUnknownRoot, n)
	}

	return x.drives[n], nil
}

// List returns page pageIndex of the folder at the escaped path under
// root n.
func (x *Index) List(ctx context.Context, n int, path, pageToken string, pageIndex int, clientIP string) (*Listing, error) {
	d, err := x.drive(n)
	if err != nil {
		return nil, err
	}

	l, err := d.res.ListDirectory(ctx, path, pageToken, pageIndex)
	if err != nil {
		return nil, classify(err)
	}

	if l == nil {
		return nil, ErrNotFound
	}

	return x.listing(d, l, clientIP)
}

// Stat returns the file or folder at the escaped path under root n.
func (x *Index) Stat(ctx context.Context, n int, path, clientIP string) (*Entry, error) {
	d, err := x.drive(n)
	if err != nil {
		return nil, err
	}

	f, err := d.res.ResolveSingleFile(ctx, path)
	if err != nil {
		return nil, classify(err)
	}

	if f == nil {
		return nil, ErrNotFound
	}

	return x.entry(d, f, clientIP)
}

// ResolvePath returns the encrypted id of the folder at path under root n.
func (x *Index) ResolvePath(ctx context.Context, n int, path string) (string, error) {
	d, err := x.drive(n)
	if err != nil {
		return "", err
	}

	id, err := d.res.ResolvePathToID(ctx, path)
	if err != nil {
		return "", classify(err)
	}

	if id == "" {
		return "", ErrNotFound
	}

	return x.links.EncryptID(id)
}

// IDToPath maps an encrypted id to its "/{n}:{path}" route by walking up
// through root n's store.
func (x *Index) IDToPath(ctx context.Context, n int, encID string) (string, error) {
	id, ok := x.links.DecryptID(encID)
	if !ok {
		return "", ErrInvalidID
	}

	return x.idToPath(ctx, n, id)
}

func (x *Index) idToPath(ctx context.Context, n int, id string) (string, error) {
	d, err := x.drive(n)
	if err != nil {
		return "", err
	}

	loc, err := d.res.ResolveIDToPath(ctx, id, x.roots)
	if err != nil {
		return "", classify(err)
	}

	if loc == nil {
		return "", ErrNotFound
	}

	return "/" + strconv.Itoa(loc.RootIndex) + ":" + loc.Path, nil
}

// FindPath maps a raw id to its "/{n}:{path}" route. When the walk does not
// reach a configured root, or fails, it returns the fallback route carrying
// the encrypted id instead.
func (x *Index) FindPath(ctx context.Context, n int, id string) (string, error) {
	if _, err := x.drive(n); err != nil {
		return "", err
	}

	route, err := x.idToPath(ctx, n, id)
	if err == nil {
		return route, nil
	}

	if !errors.Is(err, ErrNotFound) {
		x.logger.Warn("reverse path walk failed, using fallback route", slog.String("error", err.Error()))
	}

	enc, encErr := x.links.EncryptID(id)
	if encErr != nil {
		return "", encErr
	}

	return FallbackPath + "?" + url.Values{"id": {enc}}.Encode(), nil
}

// ListByID lists the folder with the given encrypted id through root n.
func (x *Index) ListByID(ctx context.Context, n int, encID, pageToken string, pageIndex int, clientIP string) (*Listing, error) {
	d, err := x.drive(n)
	if err != nil {
		return nil, err
	}

	id, ok := x.links.DecryptID(encID)
	if !ok {
		return nil, ErrInvalidID
	}

	l, err := d.res.ListByID(ctx, id, pageToken, pageIndex)
	if err != nil {
		return nil, classify(err)
	}

	return x.listing(d, l, clientIP)
}

// Item returns the single item with the given encrypted id through root n.
func (x *Index) Item(ctx context.Context, n int, encID, clientIP string) (*Entry, error) {
	d, err := x.drive(n)
	if err != nil {
		return nil, err
	}

	id, ok := x.links.DecryptID(encID)
	if !ok {
		return nil, ErrInvalidID
	}

	f, err := d.res.Item(ctx, id)
	if err != nil {
		return nil, classify(err)
	}

	if f == nil {
		return nil, ErrNotFound
	}

	return x.entry(d, f, clientIP)
}

// Search finds items whose names contain every word of keyword, in root n's
// search scope.
func (x *Index) Search(ctx context.Context, n int, keyword, pageToken string, pageIndex int, clientIP string) (*Listing, error) {
	d, err := x.drive(n)
	if err != nil {
		return nil, err
	}

	l, err := d.res.Search(ctx, keyword, pageToken, pageIndex)
	if err != nil {
		return nil, classify(err)
	}

	return x.listing(d, l, clientIP)
}

func (x *Index) listing(d boundDrive, l *resolver.Listing, clientIP string) (*Listing, error) {
	out := &Listing{
		Files:         make([]Entry, 0, len(l.Files)),
		NextPageToken: l.NextPageToken,
		PageIndex:     l.PageIndex,
	}

	for _, f := range l.Files {
		e, err := x.entry(d, f, clientIP)
		if err != nil {
			return nil, err
		}

		out.Files = append(out.Files, *e)
	}

	return out, nil
}

func (x *Index) entry(d boundDrive, f *gdrive.File, clientIP string) (*Entry, error) {
	encID, err := x.links.EncryptID(f.ID)
	if err != nil {
		return nil, fmt.Errorf("wrapping id: %w", err)
	}

	e := &Entry{
		ID:            encID,
		Name:          f.Name,
		MimeType:      f.MimeType,
		Size:          f.Size,
		CreatedTime:   f.CreatedAt,
		ModifiedTime:  f.ModifiedAt,
		FileExtension: f.FileExtension,
	}

	if f.DriveID != "" {
		if e.DriveID, err = x.links.EncryptID(f.DriveID); err != nil {
			return nil, fmt.Errorf("wrapping drive id: %w", err)
		}
	}

	if !f.IsFolder() {
		link, err := x.links.Mint(f.ID, x.bindIP(d, clientIP))
		if err != nil {
			return nil, fmt.Errorf("minting link: %w", err)
		}

		e.Link = link.URL()
	}

	return e, nil
}

// bindIP returns the address a new link is bound to, or "" for an
// unbound link.
func (x *Index) bindIP(d boundDrive, clientIP string) string {
	if clientIP == "" {
		return ""
	}

	if x.opts.BindIP || x.links.RequireIP() || d.res.Root().ProtectLink {
		return clientIP
	}

	return ""
}

// classify tags token failures as drive initialization failures, which
// the boundary reports without retrying.
func classify(err error) error {
	if errors.Is(err, auth.ErrTokenExchange) {
		return fmt.Errorf("%w: %w", ErrDriveInit, err)
	}

	return err
}
