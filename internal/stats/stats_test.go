package stats

import (
	"sync"
	"testing"
)

func TestCounters(t *testing.T) {
	s := New()

	s.Inc(TypeLedger, DetailProcessed)
	s.IncDir(TypeTCP, DetailMaxPerIP, DirOut)
	s.Add(TypeMessage, DetailPublish, DirIn, 5)

	if got := s.Count(TypeLedger, DetailProcessed, DirIn); got != 1 {
		t.Errorf("Count(ledger, processed) = %d, want 1", got)
	}
	if got := s.Count(TypeTCP, DetailMaxPerIP, DirOut); got != 1 {
		t.Errorf("Count(tcp, max_per_ip, out) = %d, want 1", got)
	}
	if got := s.Count(TypeMessage, DetailPublish, DirIn); got != 5 {
		t.Errorf("Count(message, publish) = %d, want 5", got)
	}
	if got := s.Count(TypeMessage, DetailPublish, DirOut); got != 0 {
		t.Errorf("Count(message, publish, out) = %d, want 0", got)
	}
}

func TestNilStatsAreSafe(t *testing.T) {
	var s *Stats
	s.Inc(TypeLedger, DetailProcessed)
	if got := s.Count(TypeLedger, DetailProcessed, DirIn); got != 0 {
		t.Errorf("nil Count() = %d, want 0", got)
	}
}

func TestSampleSkipsZeroes(t *testing.T) {
	s := New()
	s.Add(TypeBlock, DetailSend, DirIn, 3)
	s.Add(TypeBlock, DetailReceive, DirIn, 0)

	entries := s.Sample()
	if len(entries) != 1 {
		t.Fatalf("Sample() = %d entries, want 1", len(entries))
	}
	if entries[0].Value != 3 || entries[0].Detail != DetailSend {
		t.Errorf("Sample()[0] = %+v", entries[0])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.Inc(TypeMessage, DetailKeepalive)
			}
		}()
	}
	wg.Wait()

	if got := s.Count(TypeMessage, DetailKeepalive, DirIn); got != 8000 {
		t.Errorf("Count() = %d, want 8000", got)
	}
}
