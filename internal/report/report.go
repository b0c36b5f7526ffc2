// Package report summarizes a scored batch for operators: level and factor
// breakdowns, the riskiest users and transactions, and aggregate score
// statistics.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mbd888/fraudsight/internal/pipeline"
	"github.com/mbd888/fraudsight/internal/risk"
)

const topLimit = 10

// Summary is the aggregate view of one batch.
type Summary struct {
	Transactions int                     `json:"transactions"`
	ByLevel      map[risk.Level]int      `json:"byLevel"`
	ByFactor     map[risk.FactorKind]int `json:"byFactor"`
	MeanScore    float64                 `json:"meanScore"`
	MaxScore     float64                 `json:"maxScore"`
	Users        []UserSummary           `json:"users,omitempty"`
	Top          []TransactionSummary    `json:"top,omitempty"`
	GeneratedAt  time.Time               `json:"generatedAt"`
}

// UserSummary aggregates one user's assessments.
type UserSummary struct {
	UserKey      string  `json:"userKey"`
	Transactions int     `json:"transactions"`
	MaxScore     float64 `json:"maxScore"`
	HighOrWorse  int     `json:"highOrWorse"`
}

// TransactionSummary is one line of the riskiest-transactions list.
type TransactionSummary struct {
	TransactionID string     `json:"transactionId"`
	UserKey       string     `json:"userKey,omitempty"`
	Score         float64    `json:"score"`
	Level         risk.Level `json:"level"`
	Factors       int        `json:"factors"`
}

// Build aggregates the results of one pipeline run. Output is deterministic:
// ties in the ranked lists break on transaction ID and user key.
func Build(results []pipeline.Result) *Summary {
	s := &Summary{
		Transactions: len(results),
		ByLevel:      make(map[risk.Level]int),
		ByFactor:     make(map[risk.FactorKind]int),
		GeneratedAt:  time.Now().UTC(),
	}

	byUser := make(map[string]*UserSummary)
	sum := 0.0
	for _, r := range results {
		a := r.Assessment
		s.ByLevel[a.RiskLevel]++
		for _, f := range a.Factors {
			s.ByFactor[f.Kind]++
		}
		sum += a.CompositeScore
		if a.CompositeScore > s.MaxScore {
			s.MaxScore = a.CompositeScore
		}

		if a.UserKey != "" {
			u := byUser[a.UserKey]
			if u == nil {
				u = &UserSummary{UserKey: a.UserKey}
				byUser[a.UserKey] = u
			}
			u.Transactions++
			if a.CompositeScore > u.MaxScore {
				u.MaxScore = a.CompositeScore
			}
			if a.RiskLevel == risk.LevelHigh || a.RiskLevel == risk.LevelCritical {
				u.HighOrWorse++
			}
		}
	}
	if len(results) > 0 {
		s.MeanScore = sum / float64(len(results))
	}

	for _, u := range byUser {
		s.Users = append(s.Users, *u)
	}
	sort.Slice(s.Users, func(i, j int) bool {
		a, b := s.Users[i], s.Users[j]
		if a.MaxScore != b.MaxScore {
			return a.MaxScore > b.MaxScore
		}
		return a.UserKey < b.UserKey
	})
	if len(s.Users) > topLimit {
		s.Users = s.Users[:topLimit]
	}

	top := make([]TransactionSummary, 0, len(results))
	for _, r := range results {
		a := r.Assessment
		top = append(top, TransactionSummary{
			TransactionID: a.TransactionID,
			UserKey:       a.UserKey,
			Score:         a.CompositeScore,
			Level:         a.RiskLevel,
			Factors:       len(a.Factors),
		})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Score != top[j].Score {
			return top[i].Score > top[j].Score
		}
		return top[i].TransactionID < top[j].TransactionID
	})
	if len(top) > topLimit {
		top = top[:topLimit]
	}
	s.Top = top

	return s
}

// WriteText renders the summary for terminal output.
func (s *Summary) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Scored %d transactions (mean %.2f, max %.2f)\n", s.Transactions, s.MeanScore, s.MaxScore)

	fmt.Fprintln(w, "\nBy risk level:")
	for _, level := range []risk.Level{risk.LevelLow, risk.LevelMedium, risk.LevelHigh, risk.LevelCritical} {
		if n := s.ByLevel[level]; n > 0 {
			fmt.Fprintf(w, "  %-9s %d\n", level, n)
		}
	}

	if len(s.ByFactor) > 0 {
		fmt.Fprintln(w, "\nTriggered factors:")
		kinds := make([]risk.FactorKind, 0, len(s.ByFactor))
		for k := range s.ByFactor {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-22s %d\n", k, s.ByFactor[k])
		}
	}

	if len(s.Users) > 0 && s.Users[0].MaxScore > 0 {
		fmt.Fprintln(w, "\nRiskiest users:")
		for _, u := range s.Users {
			if u.MaxScore == 0 {
				break
			}
			fmt.Fprintf(w, "  %-40s max %.1f over %d txs (%d high+)\n",
				u.UserKey, u.MaxScore, u.Transactions, u.HighOrWorse)
		}
	}

	if len(s.Top) > 0 && s.Top[0].Score > 0 {
		fmt.Fprintln(w, "\nRiskiest transactions:")
		for _, tx := range s.Top {
			if tx.Score == 0 {
				break
			}
			fmt.Fprintf(w, "  %-24s %.1f %-8s %d factors\n", tx.TransactionID, tx.Score, tx.Level, tx.Factors)
		}
	}
}
