package cache

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/drummonds/pdftiles/metrics"
	"github.com/drummonds/pdftiles/tile"
)

const (
	tileExt = ".png"
	// eviction trims the directory down to this share of the budget
	evictTargetRatio = 0.8
)

// DiskOptions configure a DiskCache
type DiskOptions struct {
	MaxBytes      int64
	QueueSize     int
	EvictInterval time.Duration
}

type diskWrite struct {
	key  string
	img  *image.NRGBA
	done chan struct{} // set for flush markers only
}

// DiskCache persists rendered tiles as PNG files in one flat directory.
type DiskCache struct {
	fs       afero.Fs
	dir      string
	maxBytes int64

	writes    chan diskWrite
	closeOnce sync.Once
	closed    chan struct{}
	writerWG  sync.WaitGroup

	evictMu      sync.Mutex
	evictLimiter *rate.Limiter

	cronMu  sync.Mutex
	sweeper *cron.Cron
}

// NewDiskCache opens (creating if needed) the cache directory on fs and starts its writer.
func NewDiskCache(fs afero.Fs, dir string, opts DiskOptions) (*DiskCache, error) {
	if err := cacheDirectoryChecks(fs, dir); err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	limit := rate.Inf
	if opts.EvictInterval > 0 {
		limit = rate.Every(opts.EvictInterval)
	}
	d := &DiskCache{
		fs:           fs,
		dir:          dir,
		maxBytes:     opts.MaxBytes,
		writes:       make(chan diskWrite, opts.QueueSize),
		closed:       make(chan struct{}),
		evictLimiter: rate.NewLimiter(limit, 1),
	}
	d.writerWG.Add(1)
	go d.writer()
	Logger.Info("Disk tile cache ready", "path", dir, "budget", humanize.IBytes(uint64(opts.MaxBytes)))
	return d, nil
}

// Key derives the file name for a tile. The document prefix lets ClearDocument find a
// document's tiles in the flat directory.
func Key(documentHash string, page int, bounds tile.RectF, zoom float64) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	raw := strings.Join([]string{documentHash, strconv.Itoa(page), f(bounds.Left), f(bounds.Top), f(bounds.Right), f(bounds.Bottom), f(zoom)}, "_")
	return documentPrefix(documentHash) + fmt.Sprintf("%x", md5.Sum([]byte(raw)))
}

func documentPrefix(documentHash string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(documentHash)))[:12] + "-"
}

func (d *DiskCache) filePath(key string) string {
	return filepath.Join(d.dir, key+tileExt)
}

// Load returns the cached bitmap for key. Undecodable files are deleted and reported as a miss.
func (d *DiskCache) Load(key string) (*image.NRGBA, bool) {
	p := d.filePath(key)
	data, err := afero.ReadFile(d.fs, p)
	if err != nil {
		if !os.IsNotExist(err) {
			metrics.DiskCacheErrors.Inc()
			Logger.Warn("Failed reading cached tile", "path", p, "error", err)
		}
		metrics.DiskCacheLookups.WithLabelValues(metrics.ResultMiss).Inc()
		return nil, false
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		metrics.DiskCacheErrors.Inc()
		Logger.Warn("Corrupt cached tile, removing", "path", p, "error", err)
		if err := d.fs.Remove(p); err != nil {
			Logger.Debug("Failed removing corrupt tile", "path", p, "error", err)
		}
		metrics.DiskCacheLookups.WithLabelValues(metrics.ResultMiss).Inc()
		return nil, false
	}
	d.touch(p)
	metrics.DiskCacheLookups.WithLabelValues(metrics.ResultHit).Inc()
	return imaging.Clone(img), true
}

func (d *DiskCache) touch(p string) {
	now := time.Now()
	if err := d.fs.Chtimes(p, now, now); err != nil {
		Logger.Debug("Failed updating tile access time", "path", p, "error", err)
	}
}

// SaveAsync stores a copy of img under key on the writer goroutine. When the write queue is
// full the tile is dropped.
func (d *DiskCache) SaveAsync(key string, img *image.NRGBA) {
	select {
	case <-d.closed:
		return
	default:
	}
	w := diskWrite{key: key, img: imaging.Clone(img)}
	select {
	case d.writes <- w:
	default:
		metrics.DiskCacheErrors.Inc()
		Logger.Debug("Disk cache write queue full, dropping tile", "key", key)
	}
}

// Flush blocks until every write queued before the call has finished.
func (d *DiskCache) Flush() {
	done := make(chan struct{})
	select {
	case d.writes <- diskWrite{done: done}:
	case <-d.closed:
		return
	}
	select {
	case <-done:
	case <-d.closed:
	}
}

func (d *DiskCache) writer() {
	defer d.writerWG.Done()
	for {
		select {
		case w := <-d.writes:
			d.handle(w)
		case <-d.closed:
			// drain what was already accepted
			for {
				select {
				case w := <-d.writes:
					d.handle(w)
				default:
					return
				}
			}
		}
	}
}

func (d *DiskCache) handle(w diskWrite) {
	if w.done != nil {
		close(w.done)
		return
	}
	if err := d.save(w.key, w.img); err != nil {
		metrics.DiskCacheErrors.Inc()
		Logger.Warn("Failed writing cached tile", "key", w.key, "error", err)
		return
	}
	if d.evictLimiter.Allow() {
		if _, err := d.EvictIfOverBudget(); err != nil {
			Logger.Warn("Disk cache eviction failed", "error", err)
		}
	}
}

func (d *DiskCache) save(key string, img *image.NRGBA) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode tile: %w", err)
	}
	p := d.filePath(key)
	tmp := p + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := d.fs.Rename(tmp, p); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("failed to move tile into place: %w", err)
	}
	d.touch(p)
	return nil
}

type tileFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (d *DiskCache) listTiles() ([]tileFile, int64, error) {
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cache directory: %w", err)
	}
	var total int64
	files := make([]tileFile, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), tileExt) {
			continue
		}
		files = append(files, tileFile{path: filepath.Join(d.dir, info.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	return files, total, nil
}

// Size returns the bytes currently used by cached tiles
func (d *DiskCache) Size() (int64, error) {
	_, total, err := d.listTiles()
	return total, err
}

// EvictIfOverBudget deletes the least recently used tiles when the directory exceeds its
// budget, until it is back to 80% of it. It returns the number of bytes freed.
func (d *DiskCache) EvictIfOverBudget() (int64, error) {
	d.evictMu.Lock()
	defer d.evictMu.Unlock()

	files, total, err := d.listTiles()
	if err != nil {
		return 0, err
	}
	metrics.DiskCacheBytes.Set(float64(total))
	if total <= d.maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	target := int64(float64(d.maxBytes) * evictTargetRatio)
	var freed int64
	for _, f := range files {
		if total-freed <= target {
			break
		}
		if err := d.fs.Remove(f.path); err != nil {
			metrics.DiskCacheErrors.Inc()
			Logger.Warn("Failed evicting cached tile", "path", f.path, "error", err)
			continue
		}
		freed += f.size
	}
	metrics.DiskCacheEvictedBytes.Add(float64(freed))
	metrics.DiskCacheBytes.Set(float64(total - freed))
	Logger.Info("Disk cache evicted", "freed", humanize.IBytes(uint64(freed)), "remaining", humanize.IBytes(uint64(total-freed)))
	return freed, nil
}

// ClearDocument removes every cached tile of one document
func (d *DiskCache) ClearDocument(documentHash string) error {
	return d.removeMatching(documentPrefix(documentHash))
}

// ClearAll removes every cached tile
func (d *DiskCache) ClearAll() error {
	return d.removeMatching("")
}

func (d *DiskCache) removeMatching(prefix string) error {
	d.evictMu.Lock()
	defer d.evictMu.Unlock()
	files, _, err := d.listTiles()
	if err != nil {
		return err
	}
	var firstErr error
	for _, f := range files {
		if !strings.HasPrefix(filepath.Base(f.path), prefix) {
			continue
		}
		if err := d.fs.Remove(f.path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove %s: %w", f.path, err)
		}
	}
	return firstErr
}

// Close stops the sweeper and waits for queued writes to finish.
func (d *DiskCache) Close() error {
	d.closeOnce.Do(func() {
		d.StopSweeper()
		close(d.closed)
		d.writerWG.Wait()
	})
	return nil
}
