package history

import (
	"sort"
	"strings"
)

type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
	SortTitle  SortOrder = "title"
)

// Query narrows a record list the way the history screen does.
type Query struct {
	Text          string
	Tag           string
	FavoritesOnly bool
	Sort          SortOrder
}

// Filter returns the records matching q. The input slice is not modified.
func Filter(records []Record, q Query) []Record {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	tag := strings.ToLower(strings.TrimSpace(q.Tag))

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q.FavoritesOnly && !r.Favorite {
			continue
		}
		if tag != "" && !hasTag(r, tag) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Title), needle) &&
			!strings.Contains(strings.ToLower(r.Text), needle) {
			continue
		}
		out = append(out, r)
	}

	switch q.Sort {
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case SortTitle:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
		})
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return out
}

func hasTag(r Record, tag string) bool {
	for _, t := range r.Tags {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	return false
}
