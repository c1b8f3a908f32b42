package usecase

import (
	"context"
	"fmt"
	"iter"
	"math"
	"sort"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

const defaultRecentLimit = 5

type StatsUseCase struct {
	store       ports.OutcomeStore
	recentLimit int
}

func NewStatsUseCase(store ports.OutcomeStore, recentLimit int) *StatsUseCase {
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	return &StatsUseCase{store: store, recentLimit: recentLimit}
}

func (uc *StatsUseCase) GetStats(ctx context.Context) (domain.Stats, error) {
	stats, err := Summarize(uc.store.All(ctx), uc.recentLimit)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("summarize records: %w", err)
	}
	return stats, nil
}

// Summarize reduces records into dashboard statistics. Category and priority
// counts only include records that have a classification.
func Summarize(records iter.Seq2[domain.ProcessingRecord, error], recentLimit int) (domain.Stats, error) {
	stats := newStats()
	var recent []domain.RecentActivity
	classified := 0

	for rec, err := range records {
		if err != nil {
			return domain.Stats{}, err
		}
		stats.Total++
		stats.ByOutcome[rec.Status]++

		activity := domain.RecentActivity{
			EmailID:    rec.EmailID,
			Subject:    rec.Subject,
			Sender:     rec.Sender,
			Status:     rec.Status,
			ReceivedAt: rec.ReceivedAt,
		}
		if rec.Classification != nil {
			classified++
			stats.ByCategory[rec.Classification.Category]++
			stats.ByPriority[rec.Classification.Priority]++
			if rec.Classification.Degraded {
				stats.Degraded++
			}
			activity.Category = rec.Classification.Category
			activity.Priority = rec.Classification.Priority
		}

		if recentLimit > 0 {
			recent = append(recent, activity)
			if len(recent) > recentLimit {
				recent = recent[1:]
			}
		}
	}

	stats.CategoryBreakdown = categoryBreakdown(stats.ByCategory, classified)
	for i := len(recent) - 1; i >= 0; i-- {
		stats.Recent = append(stats.Recent, recent[i])
	}
	return stats, nil
}

func newStats() domain.Stats {
	stats := domain.Stats{
		ByCategory: make(map[domain.Category]int),
		ByPriority: make(map[domain.Priority]int),
		ByOutcome:  make(map[domain.RecordStatus]int),
		Recent:     []domain.RecentActivity{},
	}
	for _, c := range domain.Categories() {
		stats.ByCategory[c] = 0
	}
	for _, p := range domain.Priorities() {
		stats.ByPriority[p] = 0
	}
	for _, s := range domain.RecordStatuses {
		stats.ByOutcome[s] = 0
	}
	return stats
}

// categoryBreakdown lists every category by descending count with its share
// of classified records, rounded to one decimal.
func categoryBreakdown(counts map[domain.Category]int, classified int) []domain.CategoryShare {
	out := make([]domain.CategoryShare, 0, len(counts))
	for _, c := range domain.Categories() {
		share := domain.CategoryShare{
			Category: c,
			Emoji:    c.Emoji(),
			Count:    counts[c],
		}
		if classified > 0 {
			share.Percentage = math.Round(float64(counts[c])/float64(classified)*1000) / 10
		}
		out = append(out, share)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}
