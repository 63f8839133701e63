// Package docket ranks the items awaiting human attention.
//
// Ordering is by item type only. The priority field drives the display dot
// and the urgent count, never the rank.
package docket

import (
	"fmt"
	"slices"

	"agencyops/internal/domain"
)

var typeOrder = map[domain.DocketType]int{
	domain.DocketOperational: 0,
	domain.DocketReview:      1,
	domain.DocketDiscovery:   2,
	domain.DocketCreative:    3,
	domain.DocketCalendar:    4,
}

// TypeRank returns the sort position of t. Unknown types sort after calendar.
func TypeRank(t domain.DocketType) int {
	if r, ok := typeOrder[t]; ok {
		return r
	}
	return len(typeOrder)
}

// Rank returns a stably sorted copy of items. Items sharing a type keep their
// original relative order.
func Rank(items []domain.DocketItem) []domain.DocketItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b domain.DocketItem) int {
		return TypeRank(a.Type) - TypeRank(b.Type)
	})
	return out
}

// TopRecommendation returns the head of Rank(items).
func TopRecommendation(items []domain.DocketItem) (domain.DocketItem, error) {
	if len(items) == 0 {
		return domain.DocketItem{}, domain.ErrNoDocketItems
	}
	return Rank(items)[0], nil
}

func CountByType(items []domain.DocketItem, t domain.DocketType) int {
	n := 0
	for _, it := range items {
		if it.Type == t {
			n++
		}
	}
	return n
}

func CountByPriority(items []domain.DocketItem, p domain.DocketPriority) int {
	n := 0
	for _, it := range items {
		if it.Priority == p {
			n++
		}
	}
	return n
}

// UrgentCount is the "N need attention soon" figure.
func UrgentCount(items []domain.DocketItem) int {
	return CountByPriority(items, domain.PriorityUrgent)
}

// Active drops archived items, preserving order.
func Active(items []domain.DocketItem) []domain.DocketItem {
	out := make([]domain.DocketItem, 0, len(items))
	for _, it := range items {
		if it.ArchivedAt == nil {
			out = append(out, it)
		}
	}
	return out
}

// Summary holds the aggregates shown above the docket list.
type Summary struct {
	Total  int                       `json:"total"`
	Urgent int                       `json:"urgent"`
	ByType map[domain.DocketType]int `json:"by_type"`
	Top    *domain.DocketItem        `json:"top,omitempty"`
	Brief  string                    `json:"brief"`
}

// ProjectNamer resolves a project id to a display name.
type ProjectNamer func(projectID string) (string, bool)

// Brief formats the morning synopsis from the top recommendation, the number
// of operational items and the urgent count.
func Brief(items []domain.DocketItem, name ProjectNamer) (string, error) {
	top, err := TopRecommendation(items)
	if err != nil {
		return "", err
	}
	project := top.ProjectID
	if name != nil {
		if n, ok := name(top.ProjectID); ok {
			project = n
		}
	}
	ops := CountByType(items, domain.DocketOperational)
	msg := fmt.Sprintf("Start with %q for %s.", top.Title, project)
	switch ops {
	case 0:
	case 1:
		msg += " 1 operational item is waiting."
	default:
		msg += fmt.Sprintf(" %d operational items are waiting.", ops)
	}
	if urgent := UrgentCount(items); urgent > 0 {
		msg += fmt.Sprintf(" %d need attention soon.", urgent)
	}
	return msg, nil
}

// Summarize builds a Summary. An empty docket yields a zero summary with a
// placeholder brief rather than an error.
func Summarize(items []domain.DocketItem, name ProjectNamer) Summary {
	s := Summary{
		Total:  len(items),
		Urgent: UrgentCount(items),
		ByType: map[domain.DocketType]int{},
	}
	for _, it := range items {
		s.ByType[it.Type]++
	}
	top, err := TopRecommendation(items)
	if err != nil {
		s.Brief = "Nothing on the docket."
		return s
	}
	s.Top = &top
	s.Brief, _ = Brief(items, name)
	return s
}
