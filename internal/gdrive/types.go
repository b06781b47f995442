package gdrive

import (
	"time"

	"google.golang.org/api/drive/v3"
)

// Google Drive MIME types with special meaning.
const (
	MimeFolder   = "application/vnd.google-apps.folder"
	MimeShortcut = "application/vnd.google-apps.shortcut"
)

// PasswordMarker is a reserved file name used by directory-level password
// protection. It never appears in listings or search results.
const PasswordMarker = ".password"

// fileFields is the field mask requested for single files and list pages.
const (
	fileFields = "id,name,mimeType,size,createdTime,modifiedTime,parents,driveId,fileExtension"
	listFields = "nextPageToken,files(" + fileFields + ")"
)

// listOrder is folder-first, then name, then most recently modified.
const listOrder = "folder,name,modifiedTime desc"

// File is a Drive file or folder. Fields are normalized from the API
// response; callers never see raw SDK types.
type File struct {
	ID            string
	Name          string
	MimeType      string
	Size          int64 // zero for folders and Google Docs
	CreatedAt     time.Time
	ModifiedAt    time.Time
	ParentIDs     []string
	DriveID       string // shared drive id, empty in My Drive
	FileExtension string
}

// IsFolder reports whether f is a folder.
func (f *File) IsFolder() bool {
	return f.MimeType == MimeFolder
}

// Page is one page of a listing or search.
type Page struct {
	Files         []*File
	NextPageToken string // empty on the last page
}

// Corpora values for Search.
const (
	CorporaUser      = "user"
	CorporaDrive     = "drive"
	CorporaAllDrives = "allDrives"
)

// Scope restricts a search. DriveID is required when Corpora is CorporaDrive.
type Scope struct {
	Corpora string
	DriveID string
}

func toFile(f *drive.File) *File {
	if f == nil {
		return nil
	}

	return &File{
		ID:            f.Id,
		Name:          f.Name,
		MimeType:      f.MimeType,
		Size:          f.Size,
		CreatedAt:     parseTime(f.CreatedTime),
		ModifiedAt:    parseTime(f.ModifiedTime),
		ParentIDs:     f.Parents,
		DriveID:       f.DriveId,
		FileExtension: f.FileExtension,
	}
}

func toPage(list *drive.FileList) *Page {
	page := &Page{
		Files:         make([]*File, 0, len(list.Files)),
		NextPageToken: list.NextPageToken,
	}

	for _, f := range list.Files {
		page.Files = append(page.Files, toFile(f))
	}

	return page
}

// parseTime parses an RFC 3339 timestamp, returning the zero time for
// empty or malformed input.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}
