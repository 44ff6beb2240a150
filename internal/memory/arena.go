package memory

import (
	"fmt"
	"sync"
)

// Arena is a memory arena allocator.
// Allocates a large chunk of memory upfront and hands out slices.
// Reduces GC pressure by avoiding many small allocations.
type Arena struct {
	buffer   []byte
	offset   int
	capacity int
	mu       sync.Mutex
}

// NewArena creates a new memory arena with specified capacity in bytes.
func NewArena(capacity int) *Arena {
	return &Arena{
		buffer:   make([]byte, capacity),
		offset:   0,
		capacity: capacity,
	}
}

// Alloc allocates a byte slice of specified size from the arena.
// Returns nil if arena is full.
func (a *Arena) Alloc(size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Align to 8-byte boundary for better performance.
	alignedSize := (size + 7) &^ 7

	if a.offset+alignedSize > a.capacity {
		return nil // arena is full
	}

	slice := a.buffer[a.offset : a.offset+size]
	a.offset += alignedSize
	return slice
}

// Reset resets the arena for reuse.
// Does not free memory, just resets the offset.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offset = 0
}

// Used returns the number of bytes currently allocated.
func (a *Arena) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// Available returns the number of bytes still available.
func (a *Arena) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity - a.offset
}

// Capacity returns the total capacity of the arena.
func (a *Arena) Capacity() int {
	return a.capacity
}

// DoseSampleArena is a specialized arena for dose sample allocations,
// used while a control point's kernel convolution is in flight.
type DoseSampleArena struct {
	arena      *Arena
	sampleSize int
}

// NewDoseSampleArena creates a new dose sample arena.
// Capacity is the number of dose samples it can hold.
func NewDoseSampleArena(capacity int) *DoseSampleArena {
	sampleSize := 32 // VoxelIndex(4) + DoseGy(8) + Weight(4) + Metadata(8), padded to 32
	return &DoseSampleArena{
		arena:      NewArena(capacity * sampleSize),
		sampleSize: sampleSize,
	}
}

// AllocSamples allocates space for n dose samples.
// Returns a slice of bytes that can be cast to dose samples.
func (da *DoseSampleArena) AllocSamples(n int) []byte {
	return da.arena.Alloc(n * da.sampleSize)
}

// Reset resets the dose sample arena.
func (da *DoseSampleArena) Reset() {
	da.arena.Reset()
}

// UsedSamples returns the number of samples currently allocated.
func (da *DoseSampleArena) UsedSamples() int {
	return da.arena.Used() / da.sampleSize
}

// AvailableSamples returns the number of samples that can still be allocated.
func (da *DoseSampleArena) AvailableSamples() int {
	return da.arena.Available() / da.sampleSize
}

// VoxelIndexArena is a specialized arena for aperture voxel-index entry
// allocations: one entry per voxel found inside a control point's jaw
// window and leaf-pair opening.
type VoxelIndexArena struct {
	arena     *Arena
	entrySize int
}

// NewVoxelIndexArena creates a new voxel index arena.
func NewVoxelIndexArena(capacity int) *VoxelIndexArena {
	entrySize := 32 // flat index + u/w plane coordinates + leaf pair
	return &VoxelIndexArena{
		arena:     NewArena(capacity * entrySize),
		entrySize: entrySize,
	}
}

// AllocEntries allocates space for n voxel index entries.
func (va *VoxelIndexArena) AllocEntries(n int) []byte {
	return va.arena.Alloc(n * va.entrySize)
}

// Reset resets the voxel index arena.
func (va *VoxelIndexArena) Reset() {
	va.arena.Reset()
}

// PooledArena combines arena allocation with pooling.
// Multiple arenas are pooled for concurrent use.
type PooledArena struct {
	pool        sync.Pool
	arenaSize   int
	allocations uint64
	reuses      uint64
	mu          sync.Mutex
}

// NewPooledArena creates a new pooled arena system.
func NewPooledArena(arenaSize int) *PooledArena {
	pa := &PooledArena{
		arenaSize: arenaSize,
	}
	pa.pool = sync.Pool{
		New: func() interface{} {
			pa.mu.Lock()
			pa.allocations++
			pa.mu.Unlock()
			return NewArena(arenaSize)
		},
	}
	return pa
}

// GetArena retrieves an arena from the pool.
func (pa *PooledArena) GetArena() *Arena {
	arena := pa.pool.Get().(*Arena)
	arena.Reset()
	pa.mu.Lock()
	pa.reuses++
	pa.mu.Unlock()
	return arena
}

// PutArena returns an arena to the pool.
func (pa *PooledArena) PutArena(arena *Arena) {
	if arena.Capacity() != pa.arenaSize {
		return // don't pool arenas with wrong size
	}
	pa.pool.Put(arena)
}

// Stats returns pooled arena statistics.
func (pa *PooledArena) Stats() (allocations, reuses uint64) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return pa.allocations, pa.reuses
}

// CTStreamBuffer is a specialized buffer for streaming a CT volume in
// fixed-size slabs during import, using arena allocation to avoid GC
// pressure from many per-slice allocations.
type CTStreamBuffer struct {
	arena       *Arena
	chunkSize   int
	activeChunk []byte
}

// NewCTStreamBuffer creates a new stream buffer.
func NewCTStreamBuffer(totalSize, chunkSize int) *CTStreamBuffer {
	return &CTStreamBuffer{
		arena:     NewArena(totalSize),
		chunkSize: chunkSize,
	}
}

// GetChunk returns the next chunk of data.
func (sb *CTStreamBuffer) GetChunk() ([]byte, error) {
	chunk := sb.arena.Alloc(sb.chunkSize)
	if chunk == nil {
		return nil, fmt.Errorf("stream buffer full")
	}
	sb.activeChunk = chunk
	return chunk, nil
}

// Reset resets the stream buffer.
func (sb *CTStreamBuffer) Reset() {
	sb.arena.Reset()
	sb.activeChunk = nil
}

// Used returns bytes used.
func (sb *CTStreamBuffer) Used() int {
	return sb.arena.Used()
}

// Available returns bytes available.
func (sb *CTStreamBuffer) Available() int {
	return sb.arena.Available()
}

// DoseMemoryManager combines all memory management strategies used
// across beam accumulation, ray tracing, and CT import.
type DoseMemoryManager struct {
	doseSamplePool *MonitoredDoseSampleBufferPool
	voxelIndexPool *VoxelIndexPool
	bufferPool     *BufferPool
	coordPool      *GridCoordPool
	streamArena    *PooledArena
	sampleArena    *PooledArena
}

// NewDoseMemoryManager creates a new memory manager with sensible
// defaults for a mid-size dose grid.
func NewDoseMemoryManager() *DoseMemoryManager {
	return &DoseMemoryManager{
		doseSamplePool: NewMonitoredDoseSampleBufferPool(100000), // samples per beam-accumulation batch
		voxelIndexPool: NewVoxelIndexPool(4096),                  // aperture voxel indices per control point
		bufferPool:     NewBufferPool(1024 * 1024),               // 1MB cache-serialization buffers
		coordPool:      NewGridCoordPool(50000),                  // voxel-center coordinate scratch
		streamArena:    NewPooledArena(64 * 1024 * 1024),          // 64MB CT-import stream arenas
		sampleArena:    NewPooledArena(100000 * 32),               // dose-sample arenas
	}
}

// GetDoseSampleBuffer gets a dose sample buffer from the pool.
func (mm *DoseMemoryManager) GetDoseSampleBuffer() *DoseSampleBuffer {
	return mm.doseSamplePool.Get()
}

// PutDoseSampleBuffer returns a dose sample buffer to the pool.
func (mm *DoseMemoryManager) PutDoseSampleBuffer(buf *DoseSampleBuffer) {
	mm.doseSamplePool.Put(buf)
}

// GetVoxelIndexList gets a voxel index list from the pool.
func (mm *DoseMemoryManager) GetVoxelIndexList() *VoxelIndexList {
	return mm.voxelIndexPool.Get()
}

// PutVoxelIndexList returns a voxel index list to the pool.
func (mm *DoseMemoryManager) PutVoxelIndexList(vl *VoxelIndexList) {
	mm.voxelIndexPool.Put(vl)
}

// GetBuffer gets a buffer from the pool.
func (mm *DoseMemoryManager) GetBuffer() []byte {
	return mm.bufferPool.Get()
}

// PutBuffer returns a buffer to the pool.
func (mm *DoseMemoryManager) PutBuffer(buf []byte) {
	mm.bufferPool.Put(buf)
}

// GetCoordinates gets a coordinate slice from the pool.
func (mm *DoseMemoryManager) GetCoordinates() [][3]float64 {
	return mm.coordPool.Get()
}

// PutCoordinates returns a coordinate slice to the pool.
func (mm *DoseMemoryManager) PutCoordinates(coords [][3]float64) {
	mm.coordPool.Put(coords)
}

// GetStreamArena gets a CT stream arena from the pool.
func (mm *DoseMemoryManager) GetStreamArena() *Arena {
	return mm.streamArena.GetArena()
}

// PutStreamArena returns a CT stream arena to the pool.
func (mm *DoseMemoryManager) PutStreamArena(arena *Arena) {
	mm.streamArena.PutArena(arena)
}

// GetSampleArena gets a dose-sample arena from the pool.
func (mm *DoseMemoryManager) GetSampleArena() *Arena {
	return mm.sampleArena.GetArena()
}

// PutSampleArena returns a dose-sample arena to the pool.
func (mm *DoseMemoryManager) PutSampleArena(arena *Arena) {
	mm.sampleArena.PutArena(arena)
}

// Stats returns comprehensive memory statistics.
func (mm *DoseMemoryManager) Stats() map[string]interface{} {
	poolStats := mm.doseSamplePool.Stats()
	streamAlloc, streamReuse := mm.streamArena.Stats()
	sampleAlloc, sampleReuse := mm.sampleArena.Stats()

	return map[string]interface{}{
		"dose_sample_pool": map[string]uint64{
			"gets":   poolStats.Gets,
			"puts":   poolStats.Puts,
			"reuses": poolStats.Reuses,
		},
		"stream_arena": map[string]uint64{
			"allocations": streamAlloc,
			"reuses":      streamReuse,
		},
		"sample_arena": map[string]uint64{
			"allocations": sampleAlloc,
			"reuses":      sampleReuse,
		},
	}
}

// Global memory manager instance.
var globalMemoryManager *DoseMemoryManager
var once sync.Once

// GetGlobalMemoryManager returns the global memory manager singleton.
func GetGlobalMemoryManager() *DoseMemoryManager {
	once.Do(func() {
		globalMemoryManager = NewDoseMemoryManager()
	})
	return globalMemoryManager
}
