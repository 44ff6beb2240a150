package kernelcache

import (
	"context"
	"testing"
	"time"

	"github.com/QuangMacHUST/QuangStationV2/internal/kernel"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, "k", []byte("v"), time.Nanosecond)
	time.Sleep(time.Millisecond)

	_, ok, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected expired entry to be absent")
	}
}

func TestMemoryStoreMissReturnsFalse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, ok, err := store.Get(ctx, "missing")
	if err != nil || ok {
		t.Errorf("expected ok=false err=nil for a miss, got ok=%v err=%v", ok, err)
	}
}

func TestKernelCacheGeneratesOnMissAndReusesOnHit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	kc := NewKernelCache(store, time.Minute)

	key := kernel.Key{Modality: types.ModalityPhoton, EnergyMeV: 6, Size: kernel.DefaultSize}

	first, err := kc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get (miss): %v", err)
	}
	second, err := kc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get (hit): %v", err)
	}

	if len(first.Data) != len(second.Data) {
		t.Fatalf("kernel sizes differ: %d vs %d", len(first.Data), len(second.Data))
	}
	for i := range first.Data {
		if first.Data[i] != second.Data[i] {
			t.Fatalf("cached kernel data differs at index %d: %v vs %v", i, first.Data[i], second.Data[i])
		}
	}
}

func TestDepthFieldCacheComputesOnceAndReusesCachedValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dc := NewDepthFieldCache(store, time.Minute)

	calls := 0
	shape := types.GridShape{NX: 2, NY: 2, NZ: 2, SpacingX: 1, SpacingY: 1, SpacingZ: 1,
		DirX: types.Vector3D{X: 1}, DirY: types.Vector3D{Y: 1}, DirZ: types.Vector3D{Z: 1}}
	compute := func() *types.Grid3D {
		calls++
		g := types.NewGrid3D(shape)
		for i := range g.Data {
			g.Data[i] = 42.0
		}
		return g
	}

	first, err := dc.GetOrCompute(ctx, "dir:0:0:-1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute (miss): %v", err)
	}
	second, err := dc.GetOrCompute(ctx, "dir:0:0:-1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute (hit): %v", err)
	}

	if calls != 1 {
		t.Errorf("expected compute to run once, ran %d times", calls)
	}
	if len(first.Data) != len(second.Data) || second.Data[0] != 42.0 {
		t.Errorf("expected cached value to match computed value, got %v", second.Data)
	}
}
