package webapp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gallonr/server-analyzer/store"
)

func (webapp *WebApp) listScans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		scans, err := webapp.Store.ListScans(r.Context(), limit)
		if err != nil {
			webapp.Log.Error("failed to list scans", "error", err)
			webapp.writeError(w, http.StatusInternalServerError, "failed to list scans")
			return
		}
		webapp.writeJSON(w, http.StatusOK, scans)
	}
}

func (webapp *WebApp) getScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scan, err := webapp.Store.GetScan(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			webapp.writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		if err != nil {
			webapp.writeError(w, http.StatusInternalServerError, "failed to load scan")
			return
		}
		webapp.writeJSON(w, http.StatusOK, scan)
	}
}

func (webapp *WebApp) listFiles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, page := parseFilter(r)
		files, err := webapp.Store.QueryFiles(r.Context(), chi.URLParam(r, "id"), filter, page)
		if err != nil {
			webapp.Log.Error("file query failed", "error", err)
			webapp.writeError(w, http.StatusInternalServerError, "file query failed")
			return
		}
		webapp.writeJSON(w, http.StatusOK, files)
	}
}

func (webapp *WebApp) aggregate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		by := store.GroupBy(r.URL.Query().Get("by"))
		if by == "" {
			by = store.GroupByExtension
		}
		filter, _ := parseFilter(r)
		rows, err := webapp.Store.AggregateFiles(r.Context(), chi.URLParam(r, "id"), by, filter)
		if errors.Is(err, store.ErrUnknownGroupBy) {
			webapp.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			webapp.Log.Error("aggregation failed", "error", err)
			webapp.writeError(w, http.StatusInternalServerError, "aggregation failed")
			return
		}
		webapp.writeJSON(w, http.StatusOK, rows)
	}
}

func (webapp *WebApp) listDirectories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, page := parseFilter(r)
		dirs, err := webapp.Store.ListDirectoryStats(r.Context(), chi.URLParam(r, "id"), page)
		if err != nil {
			webapp.writeError(w, http.StatusInternalServerError, "failed to list directory stats")
			return
		}
		webapp.writeJSON(w, http.StatusOK, dirs)
	}
}

func (webapp *WebApp) listDuplicates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := webapp.Store.ListDuplicateGroups(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			webapp.writeError(w, http.StatusInternalServerError, "failed to list duplicate groups")
			return
		}
		webapp.writeJSON(w, http.StatusOK, groups)
	}
}

func (webapp *WebApp) diffScans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		diff, err := webapp.Store.DiffScans(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "other"))
		if err != nil {
			webapp.writeError(w, http.StatusInternalServerError, "scan comparison failed")
			return
		}
		webapp.writeJSON(w, http.StatusOK, diff)
	}
}

func parseFilter(r *http.Request) (*store.Filter, store.Page) {
	q := r.URL.Query()
	var f store.Filter

	f.MinSize, _ = strconv.ParseInt(q.Get("min_size"), 10, 64)
	f.MaxSize, _ = strconv.ParseInt(q.Get("max_size"), 10, 64)
	f.ModTimeFrom, _ = strconv.ParseInt(q.Get("mtime_from"), 10, 64)
	f.ModTimeTo, _ = strconv.ParseInt(q.Get("mtime_to"), 10, 64)
	f.PathPrefix = q.Get("prefix")
	if exts := q.Get("ext"); exts != "" {
		f.Exts = strings.Split(exts, ",")
	}
	if owners := q.Get("owner"); owners != "" {
		f.Owners = strings.Split(owners, ",")
	}
	switch q.Get("type") {
	case "file":
		f.OnlyFiles = true
	case "dir":
		f.OnlyDirs = true
	}
	f.WithErrors = q.Get("errors") == "true"

	var page store.Page
	page.Offset, _ = strconv.Atoi(q.Get("offset"))
	page.Limit, _ = strconv.Atoi(q.Get("limit"))
	return &f, page
}
