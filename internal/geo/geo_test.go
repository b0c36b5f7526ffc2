package geo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFactsKnown(t *testing.T) {
	if (Facts{}).Known() {
		t.Error("zero Facts should not be known")
	}
	if !(Facts{Country: "DE"}).Known() {
		t.Error("Facts with country should be known")
	}
	if !(Facts{Organization: "Example ISP"}).Known() {
		t.Error("Facts with org only should be known")
	}
}

func TestMatchesProxyIndicator(t *testing.T) {
	keywords := []string{"vpn", "proxy", "hosting", "AS13335"}

	tests := []struct {
		name  string
		facts Facts
		want  bool
	}{
		{"vpn in org", Facts{Organization: "SuperVPN Ltd"}, true},
		{"hosting in org", Facts{Organization: "Acme Hosting GmbH"}, true},
		{"case insensitive", Facts{Organization: "ACME PROXY SERVICES"}, true},
		{"asn exact match", Facts{ASN: "as13335"}, true},
		{"consumer isp", Facts{Organization: "Deutsche Telekom AG"}, false},
		{"unknown org", Facts{Country: "DE"}, false},
		{"fully unknown", Facts{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.facts.MatchesProxyIndicator(keywords); got != tt.want {
				t.Errorf("MatchesProxyIndicator(%+v) = %v, want %v", tt.facts, got, tt.want)
			}
		})
	}
}

// countingResolver records how many times each IP was resolved.
type countingResolver struct {
	mu    sync.Mutex
	calls map[string]int
	facts map[string]Facts
	err   error
	delay time.Duration
}

func (r *countingResolver) Resolve(ctx context.Context, ip string) (Facts, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[ip]++
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return Facts{}, ctx.Err()
		}
	}
	if r.err != nil {
		return Facts{}, r.err
	}
	if f, ok := r.facts[ip]; ok {
		return f, nil
	}
	return Facts{}, ErrUnresolved
}

func (r *countingResolver) count(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[ip]
}

func TestCacheResolvesOncePerIP(t *testing.T) {
	inner := &countingResolver{facts: map[string]Facts{
		"203.0.113.7": {Country: "PL", Organization: "Orange Polska"},
	}}
	cache := NewCache(inner, time.Second, nil)

	for i := 0; i < 5; i++ {
		facts, err := cache.Resolve(context.Background(), "203.0.113.7")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if facts.Country != "PL" {
			t.Errorf("Country = %q, want PL", facts.Country)
		}
	}

	if got := inner.count("203.0.113.7"); got != 1 {
		t.Errorf("inner resolver called %d times, want 1", got)
	}
}

func TestCacheCachesUnresolved(t *testing.T) {
	inner := &countingResolver{}
	cache := NewCache(inner, time.Second, nil)

	for i := 0; i < 3; i++ {
		facts, err := cache.Resolve(context.Background(), "198.51.100.1")
		if !errors.Is(err, ErrUnresolved) {
			t.Fatalf("expected ErrUnresolved, got %v", err)
		}
		if facts.Known() {
			t.Errorf("unresolved lookup returned facts: %+v", facts)
		}
	}

	if got := inner.count("198.51.100.1"); got != 1 {
		t.Errorf("inner resolver called %d times for unresolved IP, want 1", got)
	}
}

func TestCacheEmptyIP(t *testing.T) {
	inner := &countingResolver{}
	cache := NewCache(inner, time.Second, nil)

	if _, err := cache.Resolve(context.Background(), "  "); !errors.Is(err, ErrUnresolved) {
		t.Errorf("expected ErrUnresolved for blank IP, got %v", err)
	}
	if got := inner.count("  "); got != 0 {
		t.Error("blank IP should not reach the resolver")
	}
}

func TestCacheComputeOnceUnderConcurrency(t *testing.T) {
	inner := &countingResolver{
		facts: map[string]Facts{"203.0.113.9": {Country: "RO"}},
		delay: 10 * time.Millisecond,
	}
	cache := NewCache(inner, time.Second, nil)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			facts, err := cache.Resolve(context.Background(), "203.0.113.9")
			if err != nil || facts.Country != "RO" {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d concurrent resolves failed", failures.Load())
	}
	if got := inner.count("203.0.113.9"); got != 1 {
		t.Errorf("inner resolver called %d times under concurrency, want 1", got)
	}
}

func TestCacheDegradesOnTimeout(t *testing.T) {
	inner := &countingResolver{
		facts: map[string]Facts{"203.0.113.2": {Country: "HU"}},
		delay: 200 * time.Millisecond,
	}
	cache := NewCache(inner, 10*time.Millisecond, nil)

	facts, err := cache.Resolve(context.Background(), "203.0.113.2")
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved on timeout, got %v", err)
	}
	if facts.Known() {
		t.Errorf("timed-out lookup returned facts: %+v", facts)
	}

	// The degraded result is cached; the slow resolver is not retried.
	_, _ = cache.Resolve(context.Background(), "203.0.113.2")
	if got := inner.count("203.0.113.2"); got != 1 {
		t.Errorf("inner resolver called %d times after timeout, want 1", got)
	}
}

func TestCacheLen(t *testing.T) {
	inner := &countingResolver{facts: map[string]Facts{
		"203.0.113.1": {Country: "AU"},
		"203.0.113.2": {Country: "DE"},
	}}
	cache := NewCache(inner, time.Second, nil)

	_, _ = cache.Resolve(context.Background(), "203.0.113.1")
	_, _ = cache.Resolve(context.Background(), "203.0.113.2")
	_, _ = cache.Resolve(context.Background(), "203.0.113.1")

	if got := cache.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}
