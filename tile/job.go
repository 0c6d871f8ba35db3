package tile

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status represents the lifecycle state of a render job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusCacheHit  Status = "cache_hit"
	StatusCacheMiss Status = "cache_miss"
	StatusRendering Status = "rendering"
	StatusRendered  Status = "rendered"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
)

// Job is a request to render one tile. It is not modified once enqueued.
type Job struct {
	ID          ulid.ULID
	Page        int
	Width       float64 // target pixel width
	Height      float64 // target pixel height
	Bounds      RectF
	Thumbnail   bool
	Order       int
	Zoom        float64
	BestQuality bool
	Annotations bool
}

// Key returns the identity of the tile this job produces
func (j Job) Key() Key {
	return Key{Page: j.Page, Bounds: j.Bounds, Thumbnail: j.Thumbnail}
}

// PixelSize rounds the target size to whole pixels
func (j Job) PixelSize() (int, int) {
	return int(j.Width + 0.5), int(j.Height + 0.5)
}

// Result is what the scheduler hands back for a processed job
type Result struct {
	Job    Job
	Tile   *Tile
	Status Status
	Err    error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewJobID returns a monotonic ULID for a job created at t
func NewJobID(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}
