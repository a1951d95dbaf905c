package schedule

import (
	"sort"

	"github.com/piewallah/pw-gateway/internal/model"
)

// Merge flattens lists in the order given and drops items whose id was
// already seen; the first occurrence wins. Items without an id are kept.
func Merge(lists ...[]model.ScheduleItem) []model.ScheduleItem {
	seen := make(map[string]struct{})
	out := make([]model.ScheduleItem, 0)
	for _, l := range lists {
		for _, it := range l {
			if it.ID != "" {
				if _, dup := seen[it.ID]; dup {
					continue
				}
				seen[it.ID] = struct{}{}
			}
			out = append(out, it)
		}
	}
	return out
}

// SortByStart orders items by start time, keeping input order for ties.
func SortByStart(items []model.ScheduleItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].StartTime.Before(items[j].StartTime)
	})
}

// ApplyImageFallback sets "image" on every item of a decoded upstream body
// that has none. body may be the {data: [...]} envelope or the bare array;
// other shapes are returned untouched.
func ApplyImageFallback(body any, fallback string) any {
	switch v := body.(type) {
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			fillImages(data, fallback)
		}
	case []any:
		fillImages(v, fallback)
	}
	return body
}

func fillImages(items []any, fallback string) {
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := m["image"].(string); !ok || s == "" {
			m["image"] = fallback
		}
	}
}
