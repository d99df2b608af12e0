package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/history"
	"ImageGen-Console/sdk/go/imagegen"
)

type historyResponse struct {
	Tasks     []history.Entry `json:"tasks"`
	Total     int             `json:"total"`
	HasMore   bool            `json:"has_more"`
	FromCache bool            `json:"from_cache"`
	Stale     bool            `json:"stale"`
	CachedAt  *time.Time      `json:"cached_at,omitempty"`
}

func fromLoad(result *history.LoadResult) historyResponse {
	resp := historyResponse{
		Tasks:     result.Data,
		Total:     result.TotalCount,
		HasMore:   result.HasMore,
		FromCache: result.FromCache,
		Stale:     result.Stale,
	}
	if result.Meta != nil {
		at := result.Meta.WrittenAt().UTC()
		resp.CachedAt = &at
	}
	if resp.Tasks == nil {
		resp.Tasks = []history.Entry{}
	}
	return resp
}

// parseQuery 读取分页与过滤参数，非法数值回退为默认值。
func (s *Server) parseQuery(r *http.Request) imagegen.HistoryQuery {
	values := r.URL.Query()
	query := imagegen.HistoryQuery{
		Limit:          s.pageSize,
		Order:          "desc",
		FavoriteFilter: strings.TrimSpace(values.Get("favorite_filter")),
		TimeFilter:     strings.TrimSpace(values.Get("time_filter")),
	}
	if raw := values.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if raw := values.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}
	return query
}

func queryFlag(r *http.Request, name string) (value, present bool) {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name)))
	if raw == "" {
		return false, false
	}
	return raw == "1" || raw == "true" || raw == "yes", true
}

// cacheable 只有未过滤的首页走缓存。
func (s *Server) cacheable(query imagegen.HistoryQuery) bool {
	return query.Offset == 0 && query.Limit == s.pageSize && !query.Filtered()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "后端未配置"))
		return
	}
	query := s.parseQuery(r)
	if s.manager == nil || !s.cacheable(query) {
		page, err := s.backend.ListHistory(r.Context(), query)
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "拉取历史记录失败"))
			return
		}
		tasks := page.Tasks
		if tasks == nil {
			tasks = []history.Entry{}
		}
		writeJSON(w, http.StatusOK, historyResponse{Tasks: tasks, Total: page.Total, HasMore: page.HasMore})
		return
	}

	var opts []history.LoadOption
	if force, _ := queryFlag(r, "force"); force {
		if !s.limiter.Allow() {
			writeError(w, xerrors.New(xerrors.CodeRateLimited, "刷新过于频繁，请稍后再试"))
			return
		}
		opts = append(opts, history.WithForceRefresh())
	}
	if useCache, present := queryFlag(r, "cache"); present && !useCache {
		opts = append(opts, history.WithoutCache())
	}

	result, err := s.manager.SmartLoad(r.Context(), history.RemoteFetch(s.backend, query), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromLoad(result))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil || s.backend == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "历史缓存未初始化"))
		return
	}
	if !s.limiter.Allow() {
		writeError(w, xerrors.New(xerrors.CodeRateLimited, "刷新过于频繁，请稍后再试"))
		return
	}
	query := imagegen.HistoryQuery{Limit: s.pageSize, Order: "desc"}
	result, err := s.manager.SmartLoad(r.Context(), history.RemoteFetch(s.backend, query), history.WithForceRefresh())
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("历史缓存已强制刷新", slog.Int("entries", len(result.Data)))
	writeJSON(w, http.StatusOK, fromLoad(result))
}

type syncResponse struct {
	New         int             `json:"new"`
	Updated     int             `json:"updated"`
	Removed     int             `json:"removed"`
	Incremental bool            `json:"incremental"`
	Tasks       []history.Entry `json:"tasks"`
	Total       int             `json:"total"`
	HasMore     bool            `json:"has_more"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil || s.backend == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "历史缓存未初始化"))
		return
	}
	query := imagegen.HistoryQuery{Limit: s.pageSize, Order: "desc"}
	result, err := s.manager.Sync(r.Context(), history.RemoteFetch(s.backend, query))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := syncResponse{
		New:         len(result.Diff.New),
		Updated:     len(result.Diff.Updated),
		Removed:     len(result.Diff.Removed),
		Incremental: result.Merged,
		Tasks:       result.Data,
	}
	if result.Meta != nil {
		resp.Total = result.Meta.TotalCount
		resp.HasMore = result.Meta.HasMore
	}
	if resp.Tasks == nil {
		resp.Tasks = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type cacheStatus struct {
	Namespace  string     `json:"namespace"`
	Freshness  string     `json:"freshness"`
	Entries    int        `json:"entries"`
	Version    string     `json:"version,omitempty"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
	CachedAt   *time.Time `json:"cached_at,omitempty"`
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "历史缓存未初始化"))
		return
	}
	snap, freshness := s.manager.Peek(r.Context())
	status := cacheStatus{Namespace: s.manager.Namespace(), Freshness: freshness.String()}
	if snap != nil {
		at := snap.Meta.WrittenAt().UTC()
		status.Entries = len(snap.Data)
		status.Version = snap.Meta.Version
		status.TotalCount = snap.Meta.TotalCount
		status.HasMore = snap.Meta.HasMore
		status.CachedAt = &at
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "历史缓存未初始化"))
		return
	}
	if err := s.manager.Invalidate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "后端未配置"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}

	var (
		status *imagegen.TaskStatus
		err    error
	)
	if r.URL.Query().Get("type") == "upscale" {
		status, err = s.backend.GetUpscale(r.Context(), id)
	} else {
		status, err = s.backend.GetTask(r.Context(), id)
	}
	if err != nil {
		if imagegen.IsNotFound(err) {
			writeError(w, xerrors.Wrap(xerrors.CodeNotFound, err, "任务不存在"))
			return
		}
		writeError(w, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询任务状态失败"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
