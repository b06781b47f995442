// Package resolver maps slash paths under a configured Drive root to file
// ids and back. Lookups are lazy and memoized one path segment at a time;
// caches live for the lifetime of the Resolver and are never persisted.
//
// Paths are URL-escaped: each segment is percent-decoded and NFC-normalized
// before lookup, and ResolveIDToPath escapes the names it returns, so its
// output can be fed back into ResolvePathToID.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/tonimelisma/driveindex/internal/gdrive"
	"github.com/tonimelisma/driveindex/internal/metrics"
)

// PersonalRootAlias is the id Drive accepts for the account's My Drive root.
const PersonalRootAlias = "root"

// maxWalkDepth bounds the reverse walk in case of parent cycles.
const maxWalkDepth = 256

// Store is the subset of the Drive client the resolver needs.
type Store interface {
	GetMetadata(ctx context.Context, id string) (*gdrive.File, error)
	ListChildren(ctx context.Context, parentID, pageToken string, pageSize int) (*gdrive.Page, error)
	FindChild(ctx context.Context, parentID, name string, folderOnly bool) (*gdrive.File, error)
	Search(ctx context.Context, terms []string, scope gdrive.Scope, pageToken string, pageSize int) (*gdrive.Page, error)
}

// Root is a configured top-level folder or shared drive.
type Root struct {
	ID          string
	Name        string
	ProtectLink bool // never expose folder links; bind file links to the client IP
}

// RootType tells a personal My Drive root from a shared drive root.
type RootType int

// Root types.
const (
	UserDrive RootType = iota
	SharedDrive
)

func (t RootType) String() string {
	if t == SharedDrive {
		return "shared"
	}

	return "user"
}

// RootIndex maps root ids to their position in the configuration.
type RootIndex map[string]int

// Options tunes a Resolver.
type Options struct {
	PageSize        int  // listing page size; zero uses the API default
	SearchPageSize  int  // search page size; zero uses the API default
	SearchAllDrives bool // search every drive the credential can see
	CacheSize       int  // bound for each cache; zero means unbounded
}

// Listing is one page of a directory listing or search.
type Listing struct {
	Files         []*gdrive.File
	NextPageToken string
	PageIndex     int
}

// Location is where an id lives: an escaped path under the root at RootIndex.
// Folder paths end with a slash.
type Location struct {
	Path      string
	RootIndex int
}

type cachedPage struct {
	token   string // page token that produced this page
	listing *Listing
}

// Resolver resolves paths for a single root. It is safe for concurrent use.
type Resolver struct {
	index  int
	root   Root
	store  Store
	opts   Options
	logger *slog.Logger

	rootType RootType

	paths cache[string]       // dirKey -> folder id
	files cache[*gdrive.File] // file path -> record
	pages cache[cachedPage]   // dirKey + page index -> listing
}

// New creates a Resolver for the root at position index.
func New(index int, root Root, store Store, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		index:  index,
		root:   root,
		store:  store,
		opts:   opts,
		logger: logger.With(slog.Int("root", index)),
		paths:  newCache[string](opts.CacheSize),
		files:  newCache[*gdrive.File](opts.CacheSize),
		pages:  newCache[cachedPage](opts.CacheSize),
	}

	r.paths.Add("/", root.ID)

	return r
}

// Index returns the root's configuration position.
func (r *Resolver) Index() int { return r.index }

// Root returns the bound root.
func (r *Resolver) Root() Root { return r.root }

// Type returns the root type set by Classify. UserDrive until classified.
func (r *Resolver) Type() RootType { return r.rootType }

// Classify decides whether the root is the account's personal root, given
// the real id behind the "root" alias, and records it. Not safe to call
// concurrently with lookups; call it once after construction.
func (r *Resolver) Classify(personalRootID string) RootType {
	if r.root.ID == PersonalRootAlias || (personalRootID != "" && r.root.ID == personalRootID) {
		r.rootType = UserDrive
	} else {
		r.rootType = SharedDrive
	}

	return r.rootType
}

// ResolvePathToID returns the id of the folder at path, or "" when any
// segment does not exist. Segments are resolved in order, each with one
// folder lookup under the previous one; resolved prefixes are memoized.
func (r *Resolver) ResolvePathToID(ctx context.Context, path string) (string, error) {
	segs, ok := splitPath(path)
	if !ok {
		return "", nil
	}

	return r.resolveSegments(ctx, segs)
}

func (r *Resolver) resolveSegments(ctx context.Context, segs []string) (string, error) {
	current := r.root.ID

	for i, name := range segs {
		key := dirKey(segs[:i+1])

		if id, ok := r.paths.Get(key); ok {
			metrics.RecordPathCache(true)

			current = id

			continue
		}

		metrics.RecordPathCache(false)

		f, err := r.store.FindChild(ctx, current, name, true)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", key, err)
		}

		if f == nil {
			r.logger.Debug("path segment not found", slog.String("path", key))
			return "", nil
		}

		r.paths.Add(key, f.ID)
		current = f.ID
	}

	return current, nil
}

// ResolveSingleFile returns the record of the file or folder at path, or nil
// when it does not exist. The last segment is matched by exact name among
// the children of the parent folder; shortcuts never match. Found records
// are cached by path.
func (r *Resolver) ResolveSingleFile(ctx context.Context, path string) (*gdrive.File, error) {
	segs, ok := splitPath(path)
	if !ok || len(segs) == 0 || strings.HasSuffix(path, "/") {
		return nil, nil //nolint:nilnil // not a file path
	}

	key := "/" + strings.Join(segs, "/")

	if f, ok := r.files.Get(key); ok {
		metrics.RecordPathCache(true)
		return f, nil
	}

	parent, err := r.resolveSegments(ctx, segs[:len(segs)-1])
	if err != nil || parent == "" {
		return nil, err
	}

	metrics.RecordPathCache(false)

	f, err := r.store.FindChild(ctx, parent, segs[len(segs)-1], false)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", key, err)
	}

	if f != nil {
		r.files.Add(key, f)
	}

	return f, nil
}

// ListDirectory returns page pageIndex of the folder at path. pageToken is
// the token from the previous page. Pages are cached per path and index, so
// paging back and forth does not re-query. Returns nil when the folder does
// not exist.
func (r *Resolver) ListDirectory(ctx context.Context, path, pageToken string, pageIndex int) (*Listing, error) {
	segs, ok := splitPath(path)
	if !ok {
		return nil, nil //nolint:nilnil // unknown path
	}

	pageKey := dirKey(segs) + "\x00" + strconv.Itoa(pageIndex)

	if cp, ok := r.pages.Get(pageKey); ok && cp.token == pageToken {
		return cp.listing, nil
	}

	id, err := r.resolveSegments(ctx, segs)
	if err != nil || id == "" {
		return nil, err
	}

	listing, err := r.ListByID(ctx, id, pageToken, pageIndex)
	if err != nil {
		return nil, err
	}

	r.pages.Add(pageKey, cachedPage{token: pageToken, listing: listing})

	return listing, nil
}

// ListByID returns one page of the children of folder id, uncached.
func (r *Resolver) ListByID(ctx context.Context, id, pageToken string, pageIndex int) (*Listing, error) {
	page, err := r.store.ListChildren(ctx, id, pageToken, r.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("listing folder: %w", err)
	}

	return &Listing{Files: page.Files, NextPageToken: page.NextPageToken, PageIndex: pageIndex}, nil
}

// Search finds files whose names contain every word of keyword. The scope is
// every drive when SearchAllDrives is set, this shared drive for shared
// roots, and the user's files otherwise. An empty keyword after
// sanitizing yields an empty listing without a remote call.
func (r *Resolver) Search(ctx context.Context, keyword, pageToken string, pageIndex int) (*Listing, error) {
	terms := gdrive.SearchTerms(keyword)
	if len(terms) == 0 {
		return &Listing{Files: []*gdrive.File{}, PageIndex: pageIndex}, nil
	}

	page, err := r.store.Search(ctx, terms, r.searchScope(), pageToken, r.opts.SearchPageSize)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	return &Listing{Files: page.Files, NextPageToken: page.NextPageToken, PageIndex: pageIndex}, nil
}

func (r *Resolver) searchScope() gdrive.Scope {
	switch {
	case r.opts.SearchAllDrives:
		return gdrive.Scope{Corpora: gdrive.CorporaAllDrives}
	case r.rootType == SharedDrive:
		return gdrive.Scope{Corpora: gdrive.CorporaDrive, DriveID: r.root.ID}
	default:
		return gdrive.Scope{Corpora: gdrive.CorporaUser}
	}
}

// Item fetches the record for id, or nil when it does not exist.
func (r *Resolver) Item(ctx context.Context, id string) (*gdrive.File, error) {
	f, err := r.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching item: %w", err)
	}

	return f, nil
}

// ResolveIDToPath walks upward from id until a parent is one of roots and
// returns the escaped path below that root. Only the first parent of each
// item is followed, so an item with several parents resolves through
// ParentIDs[0] even when another parent would reach a root. Returns nil when
// the walk runs out of parents without meeting a root.
func (r *Resolver) ResolveIDToPath(ctx context.Context, id string, roots RootIndex) (*Location, error) {
	if idx, ok := roots[id]; ok {
		return &Location{Path: "/", RootIndex: idx}, nil
	}

	item, err := r.Item(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}

	names := []string{item.Name}
	current := item

	for range maxWalkDepth {
		if len(current.ParentIDs) == 0 {
			return nil, nil //nolint:nilnil // not under a known root
		}

		parentID := current.ParentIDs[0]

		if idx, ok := roots[parentID]; ok {
			slices.Reverse(names)

			path := joinEscaped(names)
			if item.IsFolder() {
				path += "/"
			}

			return &Location{Path: path, RootIndex: idx}, nil
		}

		parent, err := r.Item(ctx, parentID)
		if err != nil || parent == nil {
			return nil, err
		}

		names = append(names, parent.Name)
		current = parent
	}

	r.logger.Warn("reverse path walk exceeded depth limit", slog.Int("depth", maxWalkDepth))

	return nil, nil //nolint:nilnil // treated as not under a known root
}
