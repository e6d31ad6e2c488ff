package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var _ domain.ImageRepository = (*FileImageRepository)(nil)

const (
	// Files being written and files being deleted are hidden behind a leading
	// dot so they never parse as ids.
	tempPrefix      = ".upload-"
	tombstonePrefix = ".deleted-"

	maxIDAttempts = 3
)

var (
	idPattern  = regexp.MustCompile(`^([0-9]{1,19})-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,8})?$`)
	extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
)

// FileImageRepository implements domain.ImageRepository on a single flat
// directory. The file name is the id; size and creation time are derived from
// the id and a stat of the file, so there is no metadata to drift.
type FileImageRepository struct {
	dir     string
	maxSize int64
	now     func() time.Time
	newID   func(now time.Time, ext string) string
}

// NewImageRepository creates the repository rooted at dir, creating the
// directory if needed. maxSize caps a single stored image; zero means no cap.
func NewImageRepository(dir string, maxSize int64) (*FileImageRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("image directory cannot be empty")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image directory: %w", err)
	}

	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	r := &FileImageRepository{
		dir:     absDir,
		maxSize: maxSize,
		now:     time.Now,
		newID:   newID,
	}
	r.sweep()

	return r, nil
}

// Dir returns the absolute storage root.
func (r *FileImageRepository) Dir() string {
	return r.dir
}

// Store writes content to a hidden temp file, then publishes it under a new id
// with a hard link. Linking fails rather than replacing an existing file, so a
// published id is never overwritten.
func (r *FileImageRepository) Store(ctx context.Context, content io.Reader, ext string) (*domain.ImageRecord, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: image content cannot be nil", domain.ErrInvalidParameter)
	}

	ext, err := normalizeExt(ext)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(r.dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file: %v", domain.ErrStorage, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := r.write(ctx, tmp, content)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: failed to close temp file: %v", domain.ErrStorage, closeErr)
	}
	if err != nil {
		return nil, err
	}

	for range maxIDAttempts {
		id := r.newID(r.now(), ext)
		err := os.Link(tmpPath, r.path(id))
		if err == nil {
			storedAt, _ := parseID(id)
			return &domain.ImageRecord{ID: id, StoredAt: storedAt, SizeBytes: size}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: failed to publish image file: %v", domain.ErrStorage, err)
		}
		log.Warn().Str("id", id).Msg("Generated image id already exists, retrying")
	}

	return nil, fmt.Errorf("%w: could not allocate a unique image id", domain.ErrStorage)
}

// syncWriter is the part of *os.File that write needs.
type syncWriter interface {
	io.Writer
	Sync() error
}

// contentReader remembers read failures so they can be told apart from write
// failures on the destination.
type contentReader struct {
	r   io.Reader
	err error
}

func (c *contentReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

func (r *FileImageRepository) write(ctx context.Context, f syncWriter, content io.Reader) (int64, error) {
	reader := &contentReader{r: content}
	var src io.Reader = reader
	if r.maxSize > 0 {
		src = io.LimitReader(reader, r.maxSize+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		if reader.err != nil {
			return 0, fmt.Errorf("%w: failed to read image content: %v", domain.ErrInvalidParameter, reader.err)
		}
		return 0, fmt.Errorf("%w: failed to write image file: %v", domain.ErrStorage, err)
	}
	if r.maxSize > 0 && n > r.maxSize {
		return 0, fmt.Errorf("%w: image exceeds maximum size of %d bytes", domain.ErrInvalidParameter, r.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: failed to sync image file: %v", domain.ErrStorage, err)
	}

	return n, nil
}

// List enumerates a snapshot of the directory. Entries removed between the
// directory read and their stat are dropped.
func (r *FileImageRepository) List(ctx context.Context) ([]domain.ImageRecord, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image directory: %v", domain.ErrStorage, err)
	}

	records := make([]domain.ImageRecord, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		storedAt, ok := parseID(entry.Name())
		if !ok {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to stat %s: %v", domain.ErrStorage, entry.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		records = append(records, domain.ImageRecord{
			ID:        entry.Name(),
			StoredAt:  storedAt,
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].StoredAt.Equal(records[j].StoredAt) {
			return records[i].StoredAt.Before(records[j].StoredAt)
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

// Get returns the metadata for id.
func (r *FileImageRepository) Get(ctx context.Context, id string) (*domain.ImageRecord, error) {
	storedAt, ok := parseID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	info, err := os.Stat(r.path(id))
	if err != nil {
		return nil, r.statError(id, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	return &domain.ImageRecord{ID: id, StoredAt: storedAt, SizeBytes: info.Size()}, nil
}

// Open returns the stored bytes for id. An open reader keeps seeing the full
// content even if the image is deleted while it is being read.
func (r *FileImageRepository) Open(ctx context.Context, id string) (io.ReadCloser, *domain.ImageRecord, error) {
	storedAt, ok := parseID(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	f, err := os.Open(r.path(id))
	if err != nil {
		return nil, nil, r.statError(id, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: failed to stat %s: %v", domain.ErrStorage, id, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	return f, &domain.ImageRecord{ID: id, StoredAt: storedAt, SizeBytes: info.Size()}, nil
}

// Delete renames the file to a hidden tombstone and then unlinks it, so no
// reader or listing ever observes a half-removed image. Any failure of the
// rename is reported as ErrNotFound.
func (r *FileImageRepository) Delete(ctx context.Context, id string) error {
	if _, ok := parseID(id); !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	tombstone := filepath.Join(r.dir, tombstonePrefix+uuid.NewString())
	if err := os.Rename(r.path(id), tombstone); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("id", id).Msg("Failed to detach image for deletion")
		}
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	if err := os.Remove(tombstone); err != nil {
		log.Warn().Err(err).Str("id", id).Str("tombstone", tombstone).Msg("Failed to remove deleted image file")
	}

	return nil
}

func (r *FileImageRepository) path(id string) string {
	return filepath.Join(r.dir, id)
}

func (r *FileImageRepository) statError(id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return fmt.Errorf("%w: failed to access %s: %v", domain.ErrStorage, id, err)
}

// sweep removes temp files and tombstones left behind by a previous process.
func (r *FileImageRepository) sweep() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", r.dir).Msg("Failed to scan image directory for leftovers")
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, tempPrefix) && !strings.HasPrefix(name, tombstonePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", name).Msg("Failed to remove leftover file")
			continue
		}
		log.Debug().Str("file", name).Msg("Removed leftover file")
	}
}

// newID combines the creation time with a random UUID; the time alone
// collides when two uploads land in the same millisecond.
func newID(now time.Time, ext string) string {
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), uuid.NewString(), ext)
}

// parseID validates id and extracts its creation time.
func parseID(id string) (time.Time, bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// normalizeExt lower-cases ext and ensures a leading dot. An empty extension
// is allowed and yields an id without one.
func normalizeExt(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return "", nil
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !extPattern.MatchString(ext) {
		return "", fmt.Errorf("%w: unsupported file extension %q", domain.ErrInvalidParameter, ext)
	}
	return ext, nil
}
