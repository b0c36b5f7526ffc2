// Package pipeline runs a batch of raw transaction records through
// extraction, enrichment, and scoring.
//
// Per-user velocity requires chronological order, so the batch is sorted by
// (user key, timestamp) and split into per-user partitions. Partitions are
// scored in parallel; inside one partition scoring is sequential. The only
// shared mutable state between workers is the geo cache, which memoizes each
// distinct IP once. Results come back in input order and are identical
// across runs regardless of worker count.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/fraudsight/internal/anomaly"
	"github.com/mbd888/fraudsight/internal/config"
	"github.com/mbd888/fraudsight/internal/extract"
	"github.com/mbd888/fraudsight/internal/geo"
	"github.com/mbd888/fraudsight/internal/idgen"
	"github.com/mbd888/fraudsight/internal/risk"
	"github.com/mbd888/fraudsight/internal/velocity"
)

// Result pairs one input record's extracted transaction with its assessment.
type Result struct {
	Transaction *extract.Transaction `json:"transaction"`
	Audit       *extract.Audit       `json:"audit,omitempty"`
	Assessment  *risk.Assessment     `json:"assessment"`
}

// Pipeline is a reusable batch scorer. Safe for concurrent Run calls; each
// run gets its own velocity state.
type Pipeline struct {
	extractor  *extract.Extractor
	resolver   geo.Resolver
	scorer     *risk.Scorer
	classifier *risk.Classifier
	method     anomaly.Method
	window     time.Duration
	workers    int
	store      risk.Store
	logger     *slog.Logger
}

// New assembles a pipeline from configuration. resolver is typically a
// *geo.Cache; store may be nil to skip the audit trail.
func New(cfg *config.Config, resolver geo.Resolver, store risk.Store, logger *slog.Logger) (*Pipeline, error) {
	method, err := anomaly.ParseMethod(cfg.AnomalyMethod)
	if err != nil {
		return nil, err
	}
	classifier, err := risk.NewClassifier(cfg.MediumBoundary, cfg.HighBoundary, cfg.CriticalBoundary)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	scorer := risk.NewScorer(cfg.SuspiciousAmounts).
		WithWeights(risk.Weights{
			GeoMismatch:  cfg.WeightGeoMismatch,
			HighVelocity: cfg.WeightVelocity,
			Suspicious:   cfg.WeightSuspiciousAmt,
			Rapid:        cfg.WeightRapidSuccession,
			Outlier:      cfg.WeightStatOutlier,
			Proxy:        cfg.WeightProxy,
		}).
		WithScoreCap(cfg.ScoreCap).
		WithVelocityThresholds(cfg.VelocityHigh, cfg.VelocityCritical).
		WithRapidSuccession(cfg.RapidSuccession).
		WithAnomalyThreshold(cfg.AnomalyThreshold).
		WithProxyKeywords(cfg.ProxyOrgKeywords)

	return &Pipeline{
		extractor:  extract.New(),
		resolver:   resolver,
		scorer:     scorer,
		classifier: classifier,
		method:     method,
		window:     cfg.VelocityWindow,
		workers:    cfg.WorkerCount(),
		store:      store,
		logger:     logger,
	}, nil
}

// Run scores every record and returns results in input order.
func (p *Pipeline) Run(ctx context.Context, records []map[string]string) ([]Result, error) {
	start := time.Now()

	results := make([]Result, len(records))
	for i, raw := range records {
		tx, audit := p.extractor.Extract(raw)
		if tx.ID == "" {
			tx.ID = fmt.Sprintf("row_%d", i)
		}
		results[i].Transaction = tx
		results[i].Audit = audit
	}

	anomalyScores, hasAnomaly := p.anomalyScores(results)
	partitions := partition(results)

	work := make(chan []int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range work {
				if err := p.scorePartition(ctx, results, part, anomalyScores, hasAnomaly); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, part := range partitions {
		work <- part
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	batchDuration.Observe(time.Since(start).Seconds())
	batchSize.Observe(float64(len(records)))
	for i := range results {
		a := results[i].Assessment
		transactionsScored.WithLabelValues(string(a.RiskLevel)).Inc()
		for _, f := range a.Factors {
			factorsTriggered.WithLabelValues(string(f.Kind)).Inc()
		}
	}

	p.logger.Info("batch scored",
		"transactions", len(records),
		"partitions", len(partitions),
		"workers", p.workers,
		"duration", time.Since(start))

	return results, nil
}

// scorePartition walks one user's transactions in chronological order.
func (p *Pipeline) scorePartition(ctx context.Context, results []Result, part []int, anomalyScores []float64, hasAnomaly []bool) error {
	tracker := velocity.New(p.window)

	for _, i := range part {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := results[i].Transaction

		facts := geo.Facts{}
		if tx.PayerIP != "" {
			resolved, err := p.resolver.Resolve(ctx, tx.PayerIP)
			if err != nil && !errors.Is(err, geo.ErrUnresolved) {
				p.logger.Warn("geo resolution degraded", "transaction", tx.ID, "error", err)
			}
			facts = resolved
		}

		var snap velocity.Snapshot
		if tx.UserKey != "" && !tx.Timestamp.IsZero() {
			var err error
			snap, err = tracker.Observe(tx.UserKey, tx.Timestamp, tx.Amount)
			if err != nil {
				// Cannot happen after sorting; report rather than mis-score.
				return fmt.Errorf("pipeline: %w", err)
			}
		}

		score, factors := p.scorer.Score(tx, facts, snap, anomalyScores[i], hasAnomaly[i])
		a := &risk.Assessment{
			ID:             idgen.WithPrefix("as_"),
			TransactionID:  tx.ID,
			UserKey:        tx.UserKey,
			CompositeScore: score,
			RiskLevel:      p.classifier.Classify(score),
			Factors:        factors,
			GeoFacts:       facts,
			Velocity:       snap,
			EvaluatedAt:    time.Now().UTC(),
		}
		results[i].Assessment = a

		if p.store != nil {
			if err := p.store.Record(ctx, a); err != nil {
				p.logger.Warn("assessment audit record failed", "transaction", tx.ID, "error", err)
			}
		}
	}
	return nil
}

// anomalyScores computes batch-wide outlier scores. Amount and processing
// time are scored separately; each transaction keeps whichever signal is
// stronger in magnitude.
func (p *Pipeline) anomalyScores(results []Result) ([]float64, []bool) {
	n := len(results)
	amounts := make([]float64, n)
	amountPresent := make([]bool, n)
	processing := make([]float64, n)
	processingPresent := make([]bool, n)

	for i := range results {
		tx := results[i].Transaction
		if tx.HasAmount {
			amounts[i] = float64(tx.Amount)
			amountPresent[i] = true
		}
		if tx.HasProcessing {
			processing[i] = tx.ProcessingMS
			processingPresent[i] = true
		}
	}

	amountScores := anomaly.Score(p.method, amounts, amountPresent)
	processingScores := anomaly.Score(p.method, processing, processingPresent)

	scores := make([]float64, n)
	has := make([]bool, n)
	for i := 0; i < n; i++ {
		switch {
		case amountPresent[i] && processingPresent[i]:
			scores[i] = amountScores[i]
			if abs(processingScores[i]) > abs(amountScores[i]) {
				scores[i] = processingScores[i]
			}
			has[i] = true
		case amountPresent[i]:
			scores[i] = amountScores[i]
			has[i] = true
		case processingPresent[i]:
			scores[i] = processingScores[i]
			has[i] = true
		}
	}
	return scores, has
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// partition groups record indices by user key, each group sorted by
// (timestamp, input index). Records without a user key become single-element
// partitions: no velocity state applies to them.
func partition(results []Result) [][]int {
	byUser := make(map[string][]int)
	var order []string
	var loners [][]int

	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := results[idx[a]].Transaction, results[idx[b]].Transaction
		if ta.UserKey != tb.UserKey {
			return ta.UserKey < tb.UserKey
		}
		if !ta.Timestamp.Equal(tb.Timestamp) {
			return ta.Timestamp.Before(tb.Timestamp)
		}
		return idx[a] < idx[b]
	})

	for _, i := range idx {
		key := results[i].Transaction.UserKey
		if key == "" {
			loners = append(loners, []int{i})
			continue
		}
		if _, ok := byUser[key]; !ok {
			order = append(order, key)
		}
		byUser[key] = append(byUser[key], i)
	}

	parts := make([][]int, 0, len(order)+len(loners))
	for _, key := range order {
		parts = append(parts, byUser[key])
	}
	parts = append(parts, loners...)
	return parts
}
