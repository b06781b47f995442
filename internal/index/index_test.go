package index

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/driveindex/internal/auth"
	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/drivetest"
	"github.com/tonimelisma/driveindex/internal/gdrive"
	"github.com/tonimelisma/driveindex/internal/resolver"
	"github.com/tonimelisma/driveindex/internal/seal"
)

func newTestLinks(t *testing.T) *capability.LinkCodec {
	t.Helper()

	c, err := seal.NewCipher([]byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)

	return capability.NewLinkCodec(c, seal.NewMAC([]byte("mac-key")), time.Hour, false)
}

type fixture struct {
	x      *Index
	links  *capability.LinkCodec
	mine   *drivetest.Store
	shared *drivetest.Store
}

// newFixture builds two roots: 0 is My Drive via the "root" alias, 1 is a
// shared drive reached through a second credential.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	mine := drivetest.New("real-root")
	mine.AddFolder("docs", "Docs", "root")
	mine.AddFolder("sub", "Sub Dir", "docs")
	mine.AddFile("f1", "a.txt", "docs", []byte("hello world"))
	mine.AddFile("f2", "deep.bin", "sub", []byte("0123456789"))
	mine.AddFolder("orphan-parent", "Elsewhere", "")
	mine.AddFile("orphan", "lost.txt", "orphan-parent", []byte("x"))

	shared := drivetest.New("robot-root")
	shared.AddFolder("0AShared", "Team", "")
	shared.SetDriveID("0AShared", "0AShared")
	shared.AddFolder("proj", "Proj", "0AShared")
	shared.AddFile("plan", "plan.md", "proj", []byte("# plan"))

	links := newTestLinks(t)
	x := New([]Drive{
		{Root: resolver.Root{ID: "root", Name: "My Drive"}, Store: mine},
		{Root: resolver.Root{ID: "0AShared", Name: "Team", ProtectLink: true}, Store: shared},
	}, links, opts, nil)

	require.NoError(t, x.Init(context.Background()))

	mine.ResetCounts()
	shared.ResetCounts()

	return &fixture{x: x, links: links, mine: mine, shared: shared}
}

func (f *fixture) enc(t *testing.T, id string) string {
	t.Helper()

	s, err := f.links.EncryptID(id)
	require.NoError(t, err)

	return s
}

func (f *fixture) dec(t *testing.T, s string) string {
	t.Helper()

	id, ok := f.links.DecryptID(s)
	require.True(t, ok, "decrypting %q", s)

	return id
}

func linkFromURL(t *testing.T, raw string) capability.Link {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, capability.DownloadPath, u.Path)

	return capability.LinkFromQuery(u.Query())
}

func TestInit_ClassifiesRoots(t *testing.T) {
	f := newFixture(t, Options{})

	roots := f.x.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, RootInfo{Index: 0, Name: "My Drive", Type: resolver.UserDrive}, roots[0])
	assert.Equal(t, RootInfo{Index: 1, Name: "Team", Type: resolver.SharedDrive}, roots[1])
	assert.Equal(t, 0, f.x.roots["real-root"])
	assert.Equal(t, 1, f.x.roots["0AShared"])
}

func TestInit_TokenFailureIsDriveInit(t *testing.T) {
	store := drivetest.New("r")
	store.Fail(drivetest.OpGet, &auth.ExchangeError{Kind: auth.KindRefreshToken, StatusCode: http.StatusBadRequest})

	x := New([]Drive{{Root: resolver.Root{ID: "root"}, Store: store}}, newTestLinks(t), Options{}, nil)

	err := x.Init(context.Background())
	require.ErrorIs(t, err, ErrDriveInit)
	require.ErrorIs(t, err, auth.ErrTokenExchange)
}

func TestList_EndToEnd(t *testing.T) {
	f := newFixture(t, Options{})

	l, err := f.x.List(context.Background(), 0, "/Docs/", "", 0, "")
	require.NoError(t, err)

	assert.Equal(t, 1, f.mine.Count(drivetest.OpFind))
	assert.Equal(t, 1, f.mine.Count(drivetest.OpList))
	assert.Equal(t, []drivetest.Find{{ParentID: "root", Name: "Docs", FolderOnly: true}}, f.mine.Finds())

	require.Len(t, l.Files, 2)

	folder, file := l.Files[0], l.Files[1]
	assert.Equal(t, "Sub Dir", folder.Name)
	assert.True(t, folder.IsFolder())
	assert.Empty(t, folder.Link)

	assert.Equal(t, "a.txt", file.Name)
	assert.Equal(t, int64(11), file.Size)
	assert.Equal(t, "txt", file.FileExtension)

	for _, e := range l.Files {
		assert.NotEmpty(t, e.ID)
		assert.NotContains(t, []string{"sub", "f1"}, e.ID)
	}

	assert.Equal(t, "sub", f.dec(t, folder.ID))
	assert.Equal(t, "f1", f.dec(t, file.ID))

	claims, ok := f.links.Verify(linkFromURL(t, file.Link), "")
	require.True(t, ok)
	assert.Equal(t, "f1", claims.FileID)

	_, err = f.x.List(context.Background(), 0, "/Docs/", "", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.mine.Count(drivetest.OpFind))
	assert.Equal(t, 1, f.mine.Count(drivetest.OpList))
}

func TestList_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.x.List(ctx, 0, "/Nope/", "", 0, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.x.List(ctx, 7, "/", "", 0, "")
	require.ErrorIs(t, err, ErrUnknownRoot)

	_, err = f.x.List(ctx, -1, "/", "", 0, "")
	require.ErrorIs(t, err, ErrUnknownRoot)

	remote := &gdrive.Error{Op: "list", StatusCode: http.StatusInternalServerError}
	f.mine.Fail(drivetest.OpList, remote)

	_, err = f.x.List(ctx, 0, "/", "", 0, "")
	require.ErrorIs(t, err, gdrive.ErrRemoteStore)
	assert.NotErrorIs(t, err, ErrDriveInit)

	f.mine.Fail(drivetest.OpList, &auth.ExchangeError{Kind: auth.KindServiceAccount})

	_, err = f.x.List(ctx, 0, "/", "", 0, "")
	require.ErrorIs(t, err, ErrDriveInit)
}

func TestList_SharedDriveEntriesCarryDriveID(t *testing.T) {
	f := newFixture(t, Options{})

	l, err := f.x.List(context.Background(), 1, "/Proj/", "", 0, "")
	require.NoError(t, err)
	require.Len(t, l.Files, 1)

	assert.Equal(t, "0AShared", f.dec(t, l.Files[0].DriveID))
}

func TestStat(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	e, err := f.x.Stat(ctx, 0, "/Docs/Sub%20Dir/deep.bin", "")
	require.NoError(t, err)
	assert.Equal(t, "deep.bin", e.Name)
	assert.Equal(t, "f2", f.dec(t, e.ID))
	assert.NotEmpty(t, e.Link)

	_, err = f.x.Stat(ctx, 0, "/Docs/missing.txt", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLinkBinding(t *testing.T) {
	ctx := context.Background()

	t.Run("unbound by default", func(t *testing.T) {
		f := newFixture(t, Options{})

		e, err := f.x.Stat(ctx, 0, "/Docs/a.txt", "192.0.2.1")
		require.NoError(t, err)
		assert.NotContains(t, e.Link, "ip=")
	})

	t.Run("bound when enabled", func(t *testing.T) {
		f := newFixture(t, Options{BindIP: true})

		e, err := f.x.Stat(ctx, 0, "/Docs/a.txt", "192.0.2.1")
		require.NoError(t, err)
		assert.Contains(t, e.Link, "ip=")

		e, err = f.x.Stat(ctx, 0, "/Docs/a.txt", "")
		require.NoError(t, err)
		assert.NotContains(t, e.Link, "ip=", "unknown client")
	})

	t.Run("protected root always binds", func(t *testing.T) {
		f := newFixture(t, Options{})

		e, err := f.x.Stat(ctx, 1, "/Proj/plan.md", "192.0.2.1")
		require.NoError(t, err)
		require.Contains(t, e.Link, "ip=")

		_, err = f.x.Open(ctx, linkFromURL(t, e.Link), "192.0.2.99", "")
		require.ErrorIs(t, err, ErrInvalidLink)

		d, err := f.x.Open(ctx, linkFromURL(t, e.Link), "192.0.2.1", "")
		require.NoError(t, err)
		d.Response.Body.Close()
	})
}

func TestResolvePath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	enc, err := f.x.ResolvePath(ctx, 0, "/Docs/Sub%20Dir/")
	require.NoError(t, err)
	assert.Equal(t, "sub", f.dec(t, enc))

	_, err = f.x.ResolvePath(ctx, 0, "/Docs/None/")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIDToPath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tests := []struct {
		root int
		id   string
		want string
	}{
		{0, "f1", "/0:/Docs/a.txt"},
		{0, "f2", "/0:/Docs/Sub%20Dir/deep.bin"},
		{0, "sub", "/0:/Docs/Sub%20Dir/"},
		{0, "real-root", "/0:/"},
		{1, "plan", "/1:/Proj/plan.md"},
	}

	for _, tt := range tests {
		got, err := f.x.IDToPath(ctx, tt.root, f.enc(t, tt.id))
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}

	_, err := f.x.IDToPath(ctx, 0, f.enc(t, "orphan"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.x.IDToPath(ctx, 0, "garbage")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestIDToPath_RoundTripsThroughList(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	route, err := f.x.IDToPath(ctx, 0, f.enc(t, "sub"))
	require.NoError(t, err)

	path, ok := strings.CutPrefix(route, "/0:")
	require.True(t, ok)

	l, err := f.x.List(ctx, 0, path, "", 0, "")
	require.NoError(t, err)
	require.Len(t, l.Files, 1)
	assert.Equal(t, "deep.bin", l.Files[0].Name)
}

func TestFindPath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	got, err := f.x.FindPath(ctx, 0, "f1")
	require.NoError(t, err)
	assert.Equal(t, "/0:/Docs/a.txt", got)

	got, err = f.x.FindPath(ctx, 0, "orphan")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, FallbackPath, u.Path)
	assert.Equal(t, "orphan", f.dec(t, u.Query().Get("id")))

	f.mine.Fail(drivetest.OpGet, errors.New("boom"))

	got, err = f.x.FindPath(ctx, 0, "f1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, FallbackPath+"?id="))

	_, err = f.x.FindPath(ctx, 3, "f1")
	require.ErrorIs(t, err, ErrUnknownRoot)
}

func TestListByIDAndItem(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	l, err := f.x.ListByID(ctx, 0, f.enc(t, "docs"), "", 0, "")
	require.NoError(t, err)
	require.Len(t, l.Files, 2)
	assert.Zero(t, f.mine.Count(drivetest.OpFind))

	e, err := f.x.Item(ctx, 0, f.enc(t, "f1"), "")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Name)
	assert.NotEmpty(t, e.Link)

	e, err = f.x.Item(ctx, 0, f.enc(t, "docs"), "")
	require.NoError(t, err)
	assert.Empty(t, e.Link)

	_, err = f.x.Item(ctx, 0, f.enc(t, "nope"), "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.x.Item(ctx, 0, "%%%", "")
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = f.x.ListByID(ctx, 0, "%%%", "", 0, "")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	l, err := f.x.Search(ctx, 0, "a.t", "", 0, "")
	require.NoError(t, err)
	require.Len(t, l.Files, 1)
	assert.Equal(t, "f1", f.dec(t, l.Files[0].ID))
	assert.Equal(t, []gdrive.Scope{{Corpora: gdrive.CorporaUser}}, f.mine.Searches())

	l, err = f.x.Search(ctx, 1, "plan", "", 0, "")
	require.NoError(t, err)
	require.Len(t, l.Files, 1)
	assert.Equal(t, []gdrive.Scope{{Corpora: gdrive.CorporaDrive, DriveID: "0AShared"}}, f.shared.Searches())

	l, err = f.x.Search(ctx, 0, `"'`, "", 0, "")
	require.NoError(t, err)
	assert.Empty(t, l.Files)
	assert.Equal(t, 1, f.mine.Count(drivetest.OpSearch))
}

func TestOpen(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	e, err := f.x.Stat(ctx, 0, "/Docs/a.txt", "")
	require.NoError(t, err)

	link := linkFromURL(t, e.Link)

	d, err := f.x.Open(ctx, link, "", "")
	require.NoError(t, err)

	body, err := io.ReadAll(d.Response.Body)
	require.NoError(t, err)
	require.NoError(t, d.Response.Body.Close())

	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, "a.txt", d.Name)
	assert.Equal(t, int64(11), d.Size)

	d, err = f.x.Open(ctx, link, "", "bytes=6-")
	require.NoError(t, err)

	body, err = io.ReadAll(d.Response.Body)
	require.NoError(t, err)
	require.NoError(t, d.Response.Body.Close())

	assert.Equal(t, http.StatusPartialContent, d.Response.StatusCode)
	assert.Equal(t, "world", string(body))

	tampered := link
	tampered.MAC = strings.Repeat("0", 64)

	_, err = f.x.Open(ctx, tampered, "", "")
	require.ErrorIs(t, err, ErrInvalidLink)
}

func TestOpen_FallsThroughRoots(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	e, err := f.x.Stat(ctx, 1, "/Proj/plan.md", "")
	require.NoError(t, err)

	d, err := f.x.Open(ctx, linkFromURL(t, e.Link), "", "")
	require.NoError(t, err)
	d.Response.Body.Close()

	assert.Equal(t, 1, f.mine.Count(drivetest.OpGet))
	assert.Equal(t, 1, f.shared.Count(drivetest.OpDownload))
}

func TestOpen_Missing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	link, err := f.links.Mint("gone", "")
	require.NoError(t, err)

	_, err = f.x.Open(ctx, link, "", "")
	require.ErrorIs(t, err, ErrNotFound)

	f.mine.Fail(drivetest.OpGet, errors.New("boom"))

	_, err = f.x.Open(ctx, link, "", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpenPath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	d, err := f.x.OpenPath(ctx, 0, "/Docs/a.txt", "bytes=0-4")
	require.NoError(t, err)

	body, err := io.ReadAll(d.Response.Body)
	require.NoError(t, err)
	d.Response.Body.Close()
	assert.Equal(t, "hello", string(body))

	_, err = f.x.OpenPath(ctx, 0, "/Docs/Sub%20Dir", "")
	require.ErrorIs(t, err, ErrNotFound, "folders are not downloadable")

	_, err = f.x.OpenPath(ctx, 0, "/Docs/none.txt", "")
	require.ErrorIs(t, err, ErrNotFound)
}
