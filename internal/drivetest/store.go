// Package drivetest provides an in-memory Drive used by tests of the
// resolver, index and server packages. It counts calls per operation so
// tests can assert on cache behavior.
package drivetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/driveindex/internal/gdrive"
)

// Operation names accepted by Count.
const (
	OpGet      = "get"
	OpList     = "list"
	OpFind     = "find"
	OpSearch   = "search"
	OpDownload = "download"
)

// Store is a fake Drive. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	rootID   string
	files    map[string]*gdrive.File
	content  map[string][]byte
	trashed  map[string]bool
	calls    map[string]int
	finds    []Find
	searches []gdrive.Scope
	failures map[string]error
	clock    time.Time
}

// Find records one FindChild call.
type Find struct {
	ParentID   string
	Name       string
	FolderOnly bool
}

// New returns a Store whose My Drive root has the given id. The literal id
// "root" is an alias for it.
func New(rootID string) *Store {
	s := &Store{
		rootID:   rootID,
		files:    make(map[string]*gdrive.File),
		content:  make(map[string][]byte),
		trashed:  make(map[string]bool),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	s.files[rootID] = &gdrive.File{ID: rootID, Name: "My Drive", MimeType: gdrive.MimeFolder}

	return s
}

// AddFolder adds a folder under parent ("" for none).
func (s *Store) AddFolder(id, name, parent string) *gdrive.File {
	return s.add(&gdrive.File{ID: id, Name: name, MimeType: gdrive.MimeFolder}, parent, nil)
}

// AddFile adds a file with content under parent.
func (s *Store) AddFile(id, name, parent string, content []byte) *gdrive.File {
	f := &gdrive.File{ID: id, Name: name, MimeType: "application/octet-stream", Size: int64(len(content))}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		f.FileExtension = name[i+1:]
	}

	return s.add(f, parent, content)
}

// AddShortcut adds a shortcut, which listings and lookups must skip.
func (s *Store) AddShortcut(id, name, parent string) *gdrive.File {
	return s.add(&gdrive.File{ID: id, Name: name, MimeType: gdrive.MimeShortcut}, parent, nil)
}

// AddParent gives an existing item an additional parent.
func (s *Store) AddParent(id, parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.files[id]
	f.ParentIDs = append(f.ParentIDs, s.canonical(parent))
}

// SetDriveID marks an item as living in a shared drive.
func (s *Store) SetDriveID(id, driveID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[id].DriveID = driveID
}

// Trash soft-deletes an item.
func (s *Store) Trash(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trashed[id] = true
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, op)
		return
	}

	s.failures[op] = err
}

// Count returns how many times op was called.
func (s *Store) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// Finds returns the FindChild calls in order.
func (s *Store) Finds() []Find {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.finds)
}

// Searches returns the scopes of Search calls in order.
func (s *Store) Searches() []gdrive.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.searches)
}

// ResetCounts clears call counters and recorded calls.
func (s *Store) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = make(map[string]int)
	s.finds = nil
	s.searches = nil
}

func (s *Store) add(f *gdrive.File, parent string, content []byte) *gdrive.File {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = s.clock.Add(time.Minute)
	f.CreatedAt = s.clock
	f.ModifiedAt = s.clock

	if parent != "" {
		f.ParentIDs = []string{s.canonical(parent)}
		if p, ok := s.files[f.ParentIDs[0]]; ok {
			f.DriveID = p.DriveID
		}
	}

	s.files[f.ID] = f
	if content != nil {
		s.content[f.ID] = content
	}

	return f
}

func (s *Store) canonical(id string) string {
	if id == "root" {
		return s.rootID
	}

	return id
}

// begin counts a call and returns the injected failure for op, if any.
// Callers hold s.mu.
func (s *Store) begin(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func copyFile(f *gdrive.File) *gdrive.File {
	c := *f
	c.ParentIDs = slices.Clone(f.ParentIDs)

	return &c
}

func (s *Store) visible(f *gdrive.File) bool {
	return !s.trashed[f.ID] && f.MimeType != gdrive.MimeShortcut && f.Name != gdrive.PasswordMarker
}

// children returns live children of parent in listing order.
func (s *Store) children(parent string) []*gdrive.File {
	parent = s.canonical(parent)

	var out []*gdrive.File

	for _, f := range s.files {
		if !s.trashed[f.ID] && slices.Contains(f.ParentIDs, parent) {
			out = append(out, f)
		}
	}

	sortListing(out)

	return out
}

func sortListing(files []*gdrive.File) {
	slices.SortFunc(files, func(a, b *gdrive.File) int {
		if a.IsFolder() != b.IsFolder() {
			if a.IsFolder() {
				return -1
			}

			return 1
		}

		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return b.ModifiedAt.Compare(a.ModifiedAt)
	})
}

// GetMetadata implements resolver.Store.
func (s *Store) GetMetadata(_ context.Context, id string) (*gdrive.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpGet); err != nil {
		return nil, err
	}

	f, ok := s.files[s.canonical(id)]
	if !ok || s.trashed[f.ID] {
		return nil, nil //nolint:nilnil // absent is not an error
	}

	return copyFile(f), nil
}

// ListChildren implements resolver.Store. Page tokens are decimal offsets.
func (s *Store) ListChildren(_ context.Context, parentID, pageToken string, pageSize int) (*gdrive.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpList); err != nil {
		return nil, err
	}

	var visible []*gdrive.File

	for _, f := range s.children(parentID) {
		if s.visible(f) {
			visible = append(visible, copyFile(f))
		}
	}

	return paginate(visible, pageToken, pageSize)
}

// FindChild implements resolver.Store.
func (s *Store) FindChild(_ context.Context, parentID, name string, folderOnly bool) (*gdrive.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finds = append(s.finds, Find{ParentID: parentID, Name: name, FolderOnly: folderOnly})

	if err := s.begin(OpFind); err != nil {
		return nil, err
	}

	for _, f := range s.children(parentID) {
		if f.Name != name {
			continue
		}

		if folderOnly && !f.IsFolder() {
			continue
		}

		if f.MimeType == gdrive.MimeShortcut {
			continue
		}

		return copyFile(f), nil
	}

	return nil, nil //nolint:nilnil // absent is not an error
}

// Search implements resolver.Store with case-insensitive substring matching.
func (s *Store) Search(
	_ context.Context, terms []string, scope gdrive.Scope, pageToken string, pageSize int,
) (*gdrive.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.searches = append(s.searches, scope)

	if err := s.begin(OpSearch); err != nil {
		return nil, err
	}

	var hits []*gdrive.File

	for _, f := range s.files {
		if f.ID == s.rootID || !s.visible(f) {
			continue
		}

		if scope.Corpora == gdrive.CorporaDrive && f.DriveID != scope.DriveID {
			continue
		}

		if scope.Corpora == gdrive.CorporaUser && f.DriveID != "" {
			continue
		}

		if matchesAll(f.Name, terms) {
			hits = append(hits, copyFile(f))
		}
	}

	sortListing(hits)

	return paginate(hits, pageToken, pageSize)
}

func matchesAll(name string, terms []string) bool {
	name = strings.ToLower(name)
	for _, t := range terms {
		if !strings.Contains(name, strings.ToLower(t)) {
			return false
		}
	}

	return true
}

func paginate(files []*gdrive.File, pageToken string, pageSize int) (*gdrive.Page, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(files) {
			return nil, fmt.Errorf("drivetest: bad page token %q", pageToken)
		}

		offset = n
	}

	if pageSize <= 0 {
		pageSize = 100
	}

	end := min(offset+pageSize, len(files))
	page := &gdrive.Page{Files: files[offset:end]}

	if end < len(files) {
		page.NextPageToken = strconv.Itoa(end)
	}

	if page.Files == nil {
		page.Files = []*gdrive.File{}
	}

	return page, nil
}

// Download implements the download side of the index store. It honors a
// single "bytes=a-b" or "bytes=a-" range.
func (s *Store) Download(_ context.Context, id, rangeHeader string) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpDownload); err != nil {
		return nil, err
	}

	data, ok := s.content[s.canonical(id)]
	if !ok || s.trashed[id] {
		return nil, &gdrive.Error{Op: "download", StatusCode: http.StatusNotFound}
	}

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
	}

	if start, end, ok := parseRange(rangeHeader, len(data)); ok {
		resp.StatusCode = http.StatusPartialContent
		resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		data = data[start : end+1]
	}

	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Header.Set("Content-Length", strconv.Itoa(len(data)))
	resp.ContentLength = int64(len(data))
	resp.Body = io.NopCloser(bytes.NewReader(data))

	return resp, nil
}

func parseRange(h string, size int) (int, int, bool) {
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok || size == 0 {
		return 0, 0, false
	}

	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}

	start, err := strconv.Atoi(from)
	if err != nil || start >= size {
		return 0, 0, false
	}

	end := size - 1
	if to != "" {
		if end, err = strconv.Atoi(to); err != nil || end < start {
			return 0, 0, false
		}

		end = min(end, size-1)
	}

	return start, end, true
}
