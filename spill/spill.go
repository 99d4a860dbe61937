package spill

import (
	"os"

	"github.com/beefdb/beefdb/mmap"
)

// DefaultInitialCap is the default capacity (number of pages) per segment.
const DefaultInitialCap = 1024

// DefaultMaxSegments is the maximum number of segments (limits total capacity).
const DefaultMaxSegments = 256

// segment represents a single mmap'd region of the spill buffer.
type segment struct {
	file   *os.File
	mmap   *mmap.Map
	path   string
	bitmap *Bitmap
	cap    uint32
}

// Buffer is a memory-mapped file used to hold a writer's dirty pages.
// Multiple segments allow growth without invalidating existing slices.
type Buffer struct {
	basePath   string
	pageSize   uint32
	segmentCap uint32 // Capacity per segment
	segments   []*segment
	curSegment int // Current segment for allocations
	totalAlloc uint32
}

// Slot identifies an allocated run in the spill buffer.
type Slot struct {
	SegmentIdx uint16 // Which segment
	SlotIdx    uint32 // First page index within segment
	Pages      uint32 // Run length in pages
}

// New creates a spill buffer at the given path. The pageSize
// determines the slot size; initialCap is the capacity in pages per
// segment.
func New(path string, pageSize, initialCap uint32) (*Buffer, error) {
	if initialCap == 0 {
		initialCap = DefaultInitialCap
	}

	b := &Buffer{
		basePath:   path,
		pageSize:   pageSize,
		segmentCap: initialCap,
		segments:   make([]*segment, 0, 4),
	}

	if err := b.addSegment(b.segmentCap); err != nil {
		return nil, err
	}
	return b, nil
}

// addSegment creates a new segment with at least capPages capacity.
func (b *Buffer) addSegment(capPages uint32) error {
	if len(b.segments) >= DefaultMaxSegments {
		return ErrBufferFull
	}
	if capPages < b.segmentCap {
		capPages = b.segmentCap
	}

	segIdx := len(b.segments)
	segPath := b.basePath
	if segIdx > 0 {
		segPath = b.basePath + "." + itoa(segIdx)
	}

	file, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	fileSize := int64(capPages) * int64(b.pageSize)
	if err := file.Truncate(fileSize); err != nil {
		file.Close()
		os.Remove(segPath)
		return err
	}

	m, err := mmap.New(int(file.Fd()), 0, int(fileSize), true)
	if err != nil {
		file.Close()
		os.Remove(segPath)
		return err
	}

	b.segments = append(b.segments, &segment{
		file:   file,
		mmap:   m,
		path:   segPath,
		bitmap: NewBitmap(capPages),
		cap:    capPages,
	})
	return nil
}

// itoa converts int to string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Allocate reserves npages contiguous pages and returns their data
// slice and slot. New segments are added when the existing ones are
// full; a run larger than the segment capacity gets a segment of its
// own.
func (b *Buffer) Allocate(npages uint32) ([]byte, Slot, error) {
	if npages == 0 {
		npages = 1
	}

	for si := b.curSegment; si < len(b.segments); si++ {
		seg := b.segments[si]
		if first, ok := seg.bitmap.AllocateRun(npages); ok {
			b.totalAlloc += npages
			return b.slice(si, first, npages), Slot{SegmentIdx: uint16(si), SlotIdx: first, Pages: npages}, nil
		}
	}

	if err := b.addSegment(npages); err != nil {
		return nil, Slot{}, err
	}
	si := len(b.segments) - 1
	first, ok := b.segments[si].bitmap.AllocateRun(npages)
	if !ok {
		return nil, Slot{}, ErrBufferFull
	}
	b.totalAlloc += npages
	return b.slice(si, first, npages), Slot{SegmentIdx: uint16(si), SlotIdx: first, Pages: npages}, nil
}

func (b *Buffer) slice(si int, first, npages uint32) []byte {
	offset := int64(first) * int64(b.pageSize)
	end := offset + int64(npages)*int64(b.pageSize)
	return b.segments[si].mmap.Data()[offset:end:end]
}

// Release returns a run to the pool.
func (b *Buffer) Release(s Slot) {
	if int(s.SegmentIdx) >= len(b.segments) {
		return
	}
	b.segments[s.SegmentIdx].bitmap.FreeRun(s.SlotIdx, s.Pages)
	b.totalAlloc -= s.Pages
	if int(s.SegmentIdx) < b.curSegment {
		b.curSegment = int(s.SegmentIdx)
	}
}

// Clear releases every run without closing the buffer. Called when a
// transaction commits or aborts.
func (b *Buffer) Clear() {
	for _, seg := range b.segments {
		seg.bitmap.Clear()
	}
	b.curSegment = 0
	b.totalAlloc = 0
}

// AllocatedPages returns the number of pages currently allocated.
func (b *Buffer) AllocatedPages() uint32 {
	return b.totalAlloc
}

// PageSize returns the page size of this buffer.
func (b *Buffer) PageSize() uint32 {
	return b.pageSize
}

// Close closes the spill buffer. If deleteFile is true, the backing
// files are removed.
func (b *Buffer) Close(deleteFile bool) error {
	var firstErr error
	for _, seg := range b.segments {
		if seg.mmap != nil {
			if err := seg.mmap.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if seg.file != nil {
			if err := seg.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if deleteFile && seg.path != "" {
			if err := os.Remove(seg.path); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	b.segments = nil
	return firstErr
}

// Error types
var ErrBufferFull = &spillError{"buffer full (max segments reached)"}

type spillError struct {
	msg string
}

func (e *spillError) Error() string {
	return "spill: " + e.msg
}
