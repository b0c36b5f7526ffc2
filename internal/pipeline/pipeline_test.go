package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/fraudsight/internal/config"
	"github.com/mbd888/fraudsight/internal/geo"
	"github.com/mbd888/fraudsight/internal/risk"
)

func testConfig() *config.Config {
	return &config.Config{
		GeoLookupTimeout:      time.Second,
		VelocityWindow:        time.Hour,
		VelocityHigh:          5,
		VelocityCritical:      10,
		RapidSuccession:       5 * time.Minute,
		SuspiciousAmounts:     config.DefaultSuspiciousAmounts,
		AnomalyMethod:         "zscore",
		AnomalyThreshold:      3.0,
		WeightGeoMismatch:     3,
		WeightVelocity:        2,
		WeightSuspiciousAmt:   2,
		WeightRapidSuccession: 1,
		WeightStatOutlier:     1.5,
		WeightProxy:           2.5,
		ScoreCap:              10,
		MediumBoundary:        5,
		HighBoundary:          8,
		CriticalBoundary:      11,
		ProxyOrgKeywords:      config.DefaultProxyOrgKeywords,
		Workers:               4,
	}
}

// fakeResolver serves canned facts and counts lookups per IP.
type fakeResolver struct {
	mu    sync.Mutex
	facts map[string]geo.Facts
	calls map[string]int
}

func newFakeResolver(facts map[string]geo.Facts) *fakeResolver {
	return &fakeResolver{facts: facts, calls: make(map[string]int)}
}

func (r *fakeResolver) Resolve(ctx context.Context, ip string) (geo.Facts, error) {
	r.mu.Lock()
	r.calls[ip]++
	r.mu.Unlock()
	if f, ok := r.facts[ip]; ok {
		return f, nil
	}
	return geo.Facts{}, geo.ErrUnresolved
}

func (r *fakeResolver) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func newPipeline(t *testing.T, cfg *config.Config, resolver geo.Resolver, store risk.Store) *Pipeline {
	t.Helper()
	p, err := New(cfg, resolver, store, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func record(id, user, amount, ts, billing, ip string) map[string]string {
	return map[string]string{
		"id":              id,
		"user_email":      user,
		"amount":          amount,
		"created_at":      ts,
		"status":          "success",
		"billing_country": billing,
		"client_ip":       ip,
	}
}

func TestRunScenarioHighRisk(t *testing.T) {
	resolver := newFakeResolver(map[string]geo.Facts{
		"203.0.113.4": {Country: "PL", Organization: "Orange Polska"},
	})
	p := newPipeline(t, testConfig(), resolver, nil)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var records []map[string]string
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i*10) * time.Minute)
		records = append(records, record(
			fmt.Sprintf("tx_%d", i), "fraudster@example.com", "1000",
			ts.Format(time.RFC3339), "RO", "203.0.113.4"))
	}
	// 2 minutes after the sixth: 6 prior in window, suspicious amount.
	records = append(records, record(
		"tx_final", "fraudster@example.com", "5000",
		base.Add(52*time.Minute).Format(time.RFC3339), "RO", "203.0.113.4"))

	results, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := results[6].Assessment
	if final.TransactionID != "tx_final" {
		t.Fatalf("results out of input order: %q", final.TransactionID)
	}
	if final.CompositeScore != 8.0 {
		t.Errorf("composite = %v, want 8.0", final.CompositeScore)
	}
	if final.RiskLevel != risk.LevelHigh {
		t.Errorf("level = %v, want HIGH", final.RiskLevel)
	}
	wantKinds := []risk.FactorKind{
		risk.FactorGeographicMismatch,
		risk.FactorHighVelocity,
		risk.FactorSuspiciousAmount,
		risk.FactorRapidSuccession,
	}
	if len(final.Factors) != len(wantKinds) {
		t.Fatalf("factors = %+v, want 4", final.Factors)
	}
	for i, k := range wantKinds {
		if final.Factors[i].Kind != k {
			t.Errorf("factors[%d] = %v, want %v", i, final.Factors[i].Kind, k)
		}
	}
	if final.Velocity.Count != 6 {
		t.Errorf("velocity count = %d, want 6", final.Velocity.Count)
	}
	if final.GeoFacts.Country != "PL" {
		t.Errorf("geo country = %q, want PL", final.GeoFacts.Country)
	}
}

// A user's eleventh transaction inside the window is one past the critical
// threshold: both velocity factors must fire on it. The count compared is the
// window total including the transaction being scored, not just its priors.
func TestRunEleventhTransactionTriggersCriticalVelocity(t *testing.T) {
	p := newPipeline(t, testConfig(), newFakeResolver(nil), nil)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var records []map[string]string
	for i := 0; i < 11; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		records = append(records, record(
			fmt.Sprintf("tx_%02d", i), "burst@example.com", "1000",
			ts.Format(time.RFC3339), "", ""))
	}

	results, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Fifth transaction: exactly velocity_high in the window, neither fires.
	for _, f := range results[4].Assessment.Factors {
		if f.Kind == risk.FactorHighVelocity || f.Kind == risk.FactorCriticalVelocity {
			t.Errorf("tx_04 (five in window) triggered %v", f.Kind)
		}
	}

	// Sixth transaction: one past high.
	sixth := kindSet(results[5].Assessment.Factors)
	if !sixth[risk.FactorHighVelocity] {
		t.Errorf("tx_05 (six in window) factors = %+v, want HIGH_VELOCITY", results[5].Assessment.Factors)
	}
	if sixth[risk.FactorCriticalVelocity] {
		t.Errorf("tx_05 (six in window) triggered critical velocity early")
	}

	// Eleventh transaction: one past critical, both fire.
	last := results[10].Assessment
	if last.Velocity.Count != 10 {
		t.Errorf("prior count = %d, want 10", last.Velocity.Count)
	}
	got := kindSet(last.Factors)
	if !got[risk.FactorHighVelocity] || !got[risk.FactorCriticalVelocity] {
		t.Fatalf("tx_10 factors = %+v, want both velocity factors", last.Factors)
	}
	// high 2 + critical 2 + rapid succession 1
	if last.CompositeScore != 5.0 {
		t.Errorf("composite = %v, want 5.0", last.CompositeScore)
	}
}

func kindSet(factors []risk.Factor) map[risk.FactorKind]bool {
	set := make(map[risk.FactorKind]bool, len(factors))
	for _, f := range factors {
		set[f.Kind] = true
	}
	return set
}

func TestRunAllUnknownScoresZero(t *testing.T) {
	p := newPipeline(t, testConfig(), newFakeResolver(nil), nil)

	results, err := p.Run(context.Background(), []map[string]string{
		{"id": "tx_1", "note": "no usable fields"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	a := results[0].Assessment
	if a.CompositeScore != 0 || a.RiskLevel != risk.LevelLow || len(a.Factors) != 0 {
		t.Errorf("assessment = %+v, want zero score LOW with no factors", a)
	}
}

func TestRunPreservesInputOrder(t *testing.T) {
	p := newPipeline(t, testConfig(), newFakeResolver(nil), nil)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var records []map[string]string
	for i := 0; i < 40; i++ {
		user := fmt.Sprintf("user%d@example.com", i%7)
		ts := base.Add(time.Duration((40-i)*3) * time.Minute)
		records = append(records, record(
			fmt.Sprintf("tx_%02d", i), user, "1200", ts.Format(time.RFC3339), "DE", ""))
	}

	results, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range results {
		want := fmt.Sprintf("tx_%02d", i)
		if r.Transaction.ID != want {
			t.Fatalf("results[%d] = %q, want %q", i, r.Transaction.ID, want)
		}
		if r.Assessment == nil {
			t.Fatalf("results[%d] missing assessment", i)
		}
	}
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var records []map[string]string
	for i := 0; i < 60; i++ {
		user := fmt.Sprintf("user%d@example.com", i%5)
		ts := base.Add(time.Duration(i) * time.Minute)
		amount := "1000"
		if i%9 == 0 {
			amount = "2000"
		}
		records = append(records, record(
			fmt.Sprintf("tx_%02d", i), user, amount, ts.Format(time.RFC3339), "RO",
			fmt.Sprintf("203.0.113.%d", i%3)))
	}
	facts := map[string]geo.Facts{
		"203.0.113.0": {Country: "PL"},
		"203.0.113.1": {Country: "RO"},
		"203.0.113.2": {Country: "DE", Organization: "Hetzner Online"},
	}

	score := func(workers int) []Result {
		cfg := testConfig()
		cfg.Workers = workers
		p := newPipeline(t, cfg, newFakeResolver(facts), nil)
		results, err := p.Run(context.Background(), records)
		if err != nil {
			t.Fatalf("Run(workers=%d): %v", workers, err)
		}
		return results
	}

	one := score(1)
	eight := score(8)
	for i := range one {
		a, b := one[i].Assessment, eight[i].Assessment
		if a.CompositeScore != b.CompositeScore || a.RiskLevel != b.RiskLevel || len(a.Factors) != len(b.Factors) {
			t.Errorf("results[%d] differ across worker counts: %v/%v vs %v/%v",
				i, a.CompositeScore, a.RiskLevel, b.CompositeScore, b.RiskLevel)
		}
	}
}

func TestRunResolvesEachIPOnce(t *testing.T) {
	resolver := newFakeResolver(map[string]geo.Facts{
		"203.0.113.1": {Country: "PL"},
	})
	cache := geo.NewCache(resolver, time.Second, slog.Default())
	p := newPipeline(t, testConfig(), cache, nil)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var records []map[string]string
	for i := 0; i < 30; i++ {
		ip := "203.0.113.1"
		if i%2 == 0 {
			ip = "203.0.113.2" // unresolvable, still cached
		}
		records = append(records, record(
			fmt.Sprintf("tx_%d", i), fmt.Sprintf("u%d@example.com", i%4), "900",
			base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), "PL", ip))
	}

	if _, err := p.Run(context.Background(), records); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := resolver.totalCalls(); got != 2 {
		t.Errorf("resolver called %d times, want once per distinct IP", got)
	}
}

func TestRunUnknownUserSkipsVelocity(t *testing.T) {
	p := newPipeline(t, testConfig(), newFakeResolver(nil), nil)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var records []map[string]string
	for i := 0; i < 10; i++ {
		records = append(records, map[string]string{
			"id":         fmt.Sprintf("tx_%d", i),
			"amount":     "1000",
			"created_at": base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			"status":     "success",
		})
	}

	results, err := p.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range results {
		for _, f := range r.Assessment.Factors {
			if f.Kind == risk.FactorHighVelocity || f.Kind == risk.FactorRapidSuccession {
				t.Errorf("results[%d]: velocity factor %v without a user key", i, f.Kind)
			}
		}
	}
}

func TestRunRecordsToStore(t *testing.T) {
	store := risk.NewMemoryStore()
	p := newPipeline(t, testConfig(), newFakeResolver(nil), store)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []map[string]string{
		record("tx_1", "buyer@example.com", "1000", base.Format(time.RFC3339), "DE", ""),
		record("tx_2", "buyer@example.com", "1100", base.Add(time.Hour).Format(time.RFC3339), "DE", ""),
	}
	if _, err := p.Run(context.Background(), records); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := store.ListByUser(context.Background(), "buyer@example.com", 10, nil)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored %d assessments, want 2", len(got))
	}
}

func TestRunRejectsInvalidAnomalyMethod(t *testing.T) {
	cfg := testConfig()
	cfg.AnomalyMethod = "kmeans"
	if _, err := New(cfg, newFakeResolver(nil), nil, slog.Default()); err == nil {
		t.Error("want error for unknown anomaly method")
	}
}
