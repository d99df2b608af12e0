package history

import "sort"

// DefaultIncrementalThreshold 为增量合并允许的单类变更数上限。
const DefaultIncrementalThreshold = 10

// DiffResult 描述缓存列表与最新列表之间的差异。
//
// 最新列表中的每个 id 恰好出现在 New 或 Existing 之一；Updated 是 Existing 的子集；
// Removed 只包含缓存中存在而最新列表中不存在的记录。
type DiffResult struct {
	New      []Entry
	Updated  []Entry
	Removed  []Entry
	Existing []Entry
	// Incremental 为 true 表示变更足够小，可以合并而不必整体替换。
	Incremental bool
}

// Changed 只比较 status、is_favorited、updated_at、result_path。
func Changed(a, b Entry) bool {
	return a.Status != b.Status ||
		a.IsFavorited != b.IsFavorited ||
		!a.UpdatedAt.Equal(b.UpdatedAt) ||
		a.ResultPath != b.ResultPath
}

// Diff 比较 cached 与 fresh。threshold 为负时使用 DefaultIncrementalThreshold。
// fresh 中重复的 id 只保留第一次出现。
func Diff(cached, fresh []Entry, threshold int) DiffResult {
	if threshold < 0 {
		threshold = DefaultIncrementalThreshold
	}
	fresh = dedupe(fresh)

	if len(cached) == 0 {
		return DiffResult{New: fresh}
	}

	lookup := make(map[string]Entry, len(cached))
	for _, entry := range cached {
		if _, ok := lookup[entry.Key()]; !ok {
			lookup[entry.Key()] = entry
		}
	}

	var result DiffResult
	seen := make(map[string]struct{}, len(fresh))
	for _, entry := range fresh {
		seen[entry.Key()] = struct{}{}
		old, ok := lookup[entry.Key()]
		if !ok {
			result.New = append(result.New, entry)
			continue
		}
		if Changed(old, entry) {
			result.Updated = append(result.Updated, entry)
		}
		result.Existing = append(result.Existing, entry)
	}
	for _, entry := range cached {
		if _, ok := seen[entry.Key()]; !ok {
			result.Removed = append(result.Removed, entry)
		}
	}

	result.Incremental = len(result.New) <= threshold &&
		len(result.Updated) <= threshold &&
		len(result.Removed) <= threshold
	return result
}

// Merge 返回 New 与 Existing 的并集，按创建时间倒序且不含重复 id。
// Existing 中已是最新版本的记录，因此 Updated 无需单独并入。
func Merge(diff DiffResult) []Entry {
	merged := make([]Entry, 0, len(diff.New)+len(diff.Existing))
	merged = append(merged, diff.New...)
	merged = append(merged, diff.Existing...)
	merged = dedupe(merged)
	sortNewestFirst(merged)
	return merged
}

func dedupe(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.Key()]; ok {
			continue
		}
		seen[entry.Key()] = struct{}{}
		out = append(out, entry)
	}
	return out
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.NewerThan(entries[j].CreatedAt)
	})
}
