package service

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCoinRegistryClaimIsExclusive(t *testing.T) {
	r := NewCoinRegistry()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register("btcusdc") {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	if !r.IsActive("BTCUSDC") {
		t.Fatal("BTCUSDC should be active")
	}

	r.Unregister("BTCUSDC")
	if r.IsActive("BTCUSDC") {
		t.Fatal("BTCUSDC should be released")
	}
	if !r.Register("BTCUSDC") {
		t.Fatal("re-register after release failed")
	}
}

func TestCoinRegistrySnapshot(t *testing.T) {
	r := NewCoinRegistry()
	r.Register("ETHUSDC")
	r.Register("ADAUSDC")
	r.Unregister("NOPEUSDC")

	got := r.Snapshot()
	if len(got) != 2 || got[0] != "ADAUSDC" || got[1] != "ETHUSDC" {
		t.Fatalf("snapshot = %v", got)
	}
}
