package memory

import (
	"sync"
	"testing"
)

func TestDoseSampleBufferPool(t *testing.T) {
	pool := NewDoseSampleBufferPool(1000)

	buf := pool.Get()
	if buf == nil {
		t.Fatal("Get() returned nil")
	}
	if buf.Capacity != 1000 {
		t.Errorf("Expected capacity 1000, got %d", buf.Capacity)
	}
	if buf.Length != 0 {
		t.Errorf("Expected length 0, got %d", buf.Length)
	}

	buf.Length = 100
	pool.Put(buf)

	buf2 := pool.Get()
	if buf2.Length != 0 {
		t.Errorf("Expected reset length 0, got %d", buf2.Length)
	}
	if buf2.Capacity != 1000 {
		t.Errorf("Expected reused capacity 1000, got %d", buf2.Capacity)
	}
}

func TestVoxelIndexPool(t *testing.T) {
	pool := NewVoxelIndexPool(100)

	vl := pool.Get()
	if vl == nil {
		t.Fatal("Get() returned nil")
	}
	if vl.Capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", vl.Capacity)
	}

	vl.Indices = append(vl.Indices, 1, 2, 3)
	vl.Count = 3

	pool.Put(vl)

	vl2 := pool.Get()
	if len(vl2.Indices) != 0 {
		t.Errorf("Expected reset indices length 0, got %d", len(vl2.Indices))
	}
	if vl2.Count != 0 {
		t.Errorf("Expected reset count 0, got %d", vl2.Count)
	}
}

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool(1024)

	buf := pool.Get()
	if buf == nil {
		t.Fatal("Get() returned nil")
	}
	if len(buf) != 1024 {
		t.Errorf("Expected buffer size 1024, got %d", len(buf))
	}

	buf[0] = 42

	pool.Put(buf)

	buf2 := pool.Get()
	if len(buf2) != 1024 {
		t.Errorf("Expected reused buffer size 1024, got %d", len(buf2))
	}
}

func TestGridCoordPool(t *testing.T) {
	pool := NewGridCoordPool(256)

	coords := pool.Get()
	if len(coords) != 256 {
		t.Errorf("Expected coordinate slice length 256, got %d", len(coords))
	}
	coords[0] = [3]float64{1, 2, 3}
	pool.Put(coords)

	coords2 := pool.Get()
	if len(coords2) != 256 {
		t.Errorf("Expected reused coordinate slice length 256, got %d", len(coords2))
	}
}

func TestMonitoredDoseSampleBufferPool(t *testing.T) {
	pool := NewMonitoredDoseSampleBufferPool(1000)

	initialStats := pool.Stats()
	if initialStats.Gets != 0 || initialStats.Puts != 0 {
		t.Error("Expected zero stats initially")
	}

	buf := pool.Get()
	pool.Put(buf)

	stats := pool.Stats()
	if stats.Gets != 1 {
		t.Errorf("Expected 1 get, got %d", stats.Gets)
	}
	if stats.Puts != 1 {
		t.Errorf("Expected 1 put, got %d", stats.Puts)
	}
	if stats.Reuses != 1 {
		t.Errorf("Expected 1 reuse, got %d", stats.Reuses)
	}

	pool.ResetStats()
	stats = pool.Stats()
	if stats.Gets != 0 || stats.Puts != 0 || stats.Reuses != 0 {
		t.Error("Stats not reset properly")
	}
}

func TestConcurrentPoolAccess(t *testing.T) {
	pool := NewDoseSampleBufferPool(1000)
	const goroutines = 100
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf := pool.Get()
				buf.Length = j
				pool.Put(buf)
			}
		}()
	}

	wg.Wait()
}

func BenchmarkDoseSampleBufferPoolGet(b *testing.B) {
	pool := NewDoseSampleBufferPool(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		pool.Put(buf)
	}
}

func BenchmarkDoseSampleBufferPoolWithoutPool(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := &DoseSampleBuffer{
			Data:     make([]DoseSample, 1000),
			Capacity: 1000,
			Length:   0,
		}
		_ = buf
	}
}

func BenchmarkDoseMemoryManager(b *testing.B) {
	mm := NewDoseMemoryManager()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := mm.GetDoseSampleBuffer()
		vl := mm.GetVoxelIndexList()
		raw := mm.GetBuffer()

		mm.PutDoseSampleBuffer(buf)
		mm.PutVoxelIndexList(vl)
		mm.PutBuffer(raw)
	}
}
