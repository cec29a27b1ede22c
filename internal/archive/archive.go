// Package archive validates uploaded prototype bundles and extracts the
// files that get published.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"prototype-versions-backend/internal/apperr"
)

const EntryPointName = "index.html"

var (
	ErrNotZip          = apperr.Validation("upload must be a zip archive")
	ErrMissingEntry    = apperr.Validation("archive is missing an index.html entry point")
	ErrAmbiguousEntry  = apperr.Validation("archive has more than one nested index.html; put a single index.html at the root")
	ErrUnsafePath      = apperr.Validation("archive contains an unsafe file path")
	ErrUnreadableEntry = apperr.Validation("archive contains an entry that could not be read")
)

type Limits struct {
	MaxArchiveBytes   int64
	MaxExtractedBytes int64
}

type File struct {
	// Path is slash separated and relative to the archive root.
	Path        string
	Data        []byte
	ContentType string
}

// Archive is a zip that passed validation.
type Archive struct {
	reader *zip.Reader
	files  []*zip.File
	limits Limits

	// EntryPoint is the path of the index.html that is served.
	EntryPoint string
	// BaseDir is the directory of EntryPoint with a trailing slash, or ""
	// when the entry point sits at the root.
	BaseDir string
}

// IsZip sniffs data. Zip based formats such as jar count as zip.
func IsZip(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

// Open checks the archive structure without reading member contents.
func Open(data []byte, limits Limits) (*Archive, error) {
	if limits.MaxArchiveBytes > 0 && int64(len(data)) > limits.MaxArchiveBytes {
		return nil, apperr.Validation(fmt.Sprintf("archive exceeds the %s upload limit", formatBytes(limits.MaxArchiveBytes)))
	}
	if !IsZip(data) {
		return nil, ErrNotZip
	}
	// ErrInsecurePath still yields a usable reader; safePath rejects the
	// offending members below.
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, ErrNotZip
	}

	var files []*zip.File
	var total uint64
	for _, f := range reader.File {
		name := normalize(f.Name)
		if !safePath(name) {
			return nil, ErrUnsafePath
		}
		if skip(name, f) {
			continue
		}
		total += f.UncompressedSize64
		if limits.MaxExtractedBytes > 0 && total > uint64(limits.MaxExtractedBytes) {
			return nil, extractedLimitError(limits.MaxExtractedBytes)
		}
		files = append(files, f)
	}

	entry, err := findEntryPoint(files)
	if err != nil {
		return nil, err
	}
	a := &Archive{reader: reader, files: files, limits: limits, EntryPoint: entry}
	if dir := path.Dir(entry); dir != "." {
		a.BaseDir = dir + "/"
	}
	return a, nil
}

// Extract reads every publishable member. Declared sizes are not trusted:
// reads are capped at the extracted byte limit. Reads stop with ctx's error
// once ctx is done, also in the middle of a member.
func (a *Archive) Extract(ctx context.Context) ([]File, error) {
	remaining := a.limits.MaxExtractedBytes
	if remaining <= 0 {
		remaining = math.MaxInt64 - 1
	}
	out := make([]File, 0, len(a.files))
	for _, f := range a.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readMember(ctx, f, remaining)
		if err != nil {
			return nil, err
		}
		remaining -= int64(len(data))
		name := normalize(f.Name)
		out = append(out, File{Path: name, Data: data, ContentType: ContentType(name)})
	}
	return out, nil
}

// FileCount is the number of members Extract will return.
func (a *Archive) FileCount() int { return len(a.files) }

func readMember(ctx context.Context, f *zip.File, remaining int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, ErrUnreadableEntry
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(ctxReader{ctx: ctx, r: rc}, remaining+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrUnreadableEntry
	}
	if int64(len(data)) > remaining {
		return nil, apperr.Validation("archive expands beyond the allowed size")
	}
	return data, nil
}

// ctxReader fails reads once ctx is done so a single large member cannot
// outlive the caller's deadline.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func findEntryPoint(files []*zip.File) (string, error) {
	var nested []string
	for _, f := range files {
		name := normalize(f.Name)
		if name == EntryPointName {
			return name, nil
		}
		parts := strings.Split(name, "/")
		if len(parts) == 2 && parts[1] == EntryPointName {
			nested = append(nested, name)
		}
	}
	switch len(nested) {
	case 0:
		return "", ErrMissingEntry
	case 1:
		return nested[0], nil
	default:
		return "", ErrAmbiguousEntry
	}
}

func normalize(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

func safePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsRune(name, 0) {
		return false
	}
	// windows drive letters
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

var ignoredNames = map[string]bool{
	"thumbs.db":   true,
	"desktop.ini": true,
}

// skip drops directories and OS metadata from the bundle.
func skip(name string, f *zip.File) bool {
	if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
		return true
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "__MACOSX" || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return ignoredNames[strings.ToLower(parts[len(parts)-1])]
}

func extractedLimitError(limit int64) error {
	return apperr.Validation(fmt.Sprintf("archive expands beyond the %s limit", formatBytes(limit)))
}

func formatBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
