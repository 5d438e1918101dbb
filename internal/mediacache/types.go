package mediacache

import (
	"context"
	"errors"
	"mime"
	"strings"
	"time"
)

var (
	// ErrEmptyContent is returned when a download produced no bytes.
	// Zero-length files are never cached.
	ErrEmptyContent = errors.New("empty content")

	// ErrNotRetained is returned when freshly stored media was evicted by the
	// eviction pass that followed its own insertion.
	ErrNotRetained = errors.New("media evicted on insert")
)

// FileType is a coarse classification of cached media. It is informational only.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeImage
	FileTypeVideo
	FileTypeAudio
)

func (t FileType) String() string {
	switch t {
	case FileTypeImage:
		return "image"
	case FileTypeVideo:
		return "video"
	case FileTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ParseFileType parses the names returned by FileType.String.
func ParseFileType(s string) FileType {
	switch s {
	case "image":
		return FileTypeImage
	case "video":
		return FileTypeVideo
	case "audio":
		return FileTypeAudio
	default:
		return FileTypeUnknown
	}
}

// FileTypeFromContentType classifies a MIME content type.
func FileTypeFromContentType(contentType string) FileType {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	major, _, _ := strings.Cut(mediaType, "/")
	return ParseFileType(major)
}

// Entry describes one cached media file.
type Entry struct {
	MediaKey       string
	RemoteLocator  string
	FilePath       string
	SizeBytes      int64
	LastAccessedAt time.Time
	AccessCount    int64
	IsVisible      bool
	Priority       float64
	FileType       FileType
}

func (e *Entry) clone() *Entry {
	c := *e
	return &c
}

// Stats is a read-only snapshot of the cache.
type Stats struct {
	Count              int     `json:"count"`
	TotalSize          int64   `json:"total_size"`
	VisibleCount       int     `json:"visible_count"`
	AvgAccessCount     float64 `json:"avg_access_count"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Record is the persisted form of an Entry.
type Record struct {
	Key            string
	Locator        string
	Size           int64
	FileType       FileType
	AccessCount    int64
	LastAccessedAt time.Time
}

func (e *Entry) record() Record {
	return Record{
		Key:            e.MediaKey,
		Locator:        e.RemoteLocator,
		Size:           e.SizeBytes,
		FileType:       e.FileType,
		AccessCount:    e.AccessCount,
		LastAccessedAt: e.LastAccessedAt,
	}
}

// Index persists entry metadata so that locators and access statistics
// survive restarts.
type Index interface {
	Load(ctx context.Context) (map[string]Record, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, keys ...string) error
	DeleteAll(ctx context.Context) error
	SaveStats(ctx context.Context, recs []Record) error
}

// Metrics receives cache events. A nil Metrics disables reporting.
type Metrics interface {
	RecordHit()
	RecordMiss()
	RecordEviction(visible bool, bytes int64)
	RecordSize(entries int, bytes int64)
	ObserveStore(bytes int64, duration time.Duration)
}
