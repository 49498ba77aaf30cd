// Package stats aggregates repository commit activity into per-author,
// per-ISO-week buckets.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/glimdev/glim/internal/gitlab"
)

// Bucket accumulates commit activity for one (author, ISO week) pair.
// Buckets are derived per query and never persisted.
type Bucket struct {
	Author    string `json:"author"`
	Week      string `json:"week"`
	Commits   int    `json:"commits"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// WeekLabel formats t's ISO-8601 year and week as "2024-W01". Week
// boundaries follow the ISO definition, not calendar months.
func WeekLabel(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Reporter fetches commits and produces aggregate buckets.
type Reporter struct {
	client *gitlab.Client
}

// NewReporter creates a reporter over the given client.
func NewReporter(client *gitlab.Client) *Reporter {
	return &Reporter{client: client}
}

// CommitStats fetches all commits for the given projects over the trailing
// number of weeks and aggregates them with Aggregate.
func (r *Reporter) CommitStats(ctx context.Context, projectIDs []int64, weeks int) ([]Bucket, error) {
	until := time.Now().UTC()
	since := until.Add(-time.Duration(weeks) * 7 * 24 * time.Hour)

	var all []gitlab.CommitRecord
	for _, id := range projectIDs {
		commits, err := r.client.FetchCommits(ctx, id, &since, &until)
		if err != nil {
			return nil, fmt.Errorf("fetch commits for project %d: %w", id, err)
		}
		all = append(all, commits...)
	}
	return Aggregate(all), nil
}

// Aggregate buckets commits by (author, ISO week). A commit without any
// parsable timestamp is skipped entirely; a commit without a stats object
// still counts but contributes zero line changes. Output is sorted by week
// then author for stable presentation (callers may not rely on the order).
func Aggregate(commits []gitlab.CommitRecord) []Bucket {
	type key struct{ author, week string }
	buckets := make(map[key]*Bucket)

	for _, c := range commits {
		ts := gitlab.ParseTime(c.CommittedDate)
		if ts == nil {
			ts = gitlab.ParseTime(c.CreatedAt)
		}
		if ts == nil {
			continue
		}

		k := key{author: c.AuthorName, week: WeekLabel(*ts)}
		b, ok := buckets[k]
		if !ok {
			b = &Bucket{Author: k.author, Week: k.week}
			buckets[k] = b
		}
		b.Commits++
		if c.Stats != nil {
			b.Additions += c.Stats.Additions
			b.Deletions += c.Stats.Deletions
		}
	}

	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Week != out[j].Week {
			return out[i].Week < out[j].Week
		}
		return out[i].Author < out[j].Author
	})
	return out
}
