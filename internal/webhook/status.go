package webhook

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tjfontaine/webxuker/internal/compose"
	"github.com/tjfontaine/webxuker/internal/storage"
)

const maxListLimit = 500

type deploymentsResponse struct {
	Deployments []*storage.Deployment `json:"deployments"`
}

type statusResponse struct {
	Repo       string              `json:"repo"`
	Stage      string              `json:"stage"`
	Project    string              `json:"project"`
	Containers []compose.Container `json:"containers"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, errors.New("deployment history is disabled"), nil)
		return
	}

	q := r.URL.Query()
	opts := storage.ListOptions{Repo: q.Get("repo"), Stage: q.Get("stage")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			h.respondError(w, r, http.StatusBadRequest, &ValidationError{Message: "limit must be between 1 and 500"}, nil)
			return
		}
		opts.Limit = limit
	}

	deployments, err := h.history.ListDeployments(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list deployments", slog.String("error", err.Error()))
		h.respondError(w, r, http.StatusInternalServerError, errors.New("failed to list deployments"), nil)
		return
	}
	if deployments == nil {
		deployments = []*storage.Deployment{}
	}
	writeJSON(w, http.StatusOK, deploymentsResponse{Deployments: deployments})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, errors.New("docker is not available"), nil)
		return
	}

	repo, stage, err := stageParams(r.URL.Query())
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, err, nil)
		return
	}
	_, stageCfg, err := h.cfg.Lookup(repo, stage)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, err, nil)
		return
	}

	project := compose.ProjectName(stageCfg.WorkDir)
	containers, err := h.inspector.ProjectContainers(r.Context(), project)
	if err != nil {
		h.logger.Error("failed to inspect containers",
			slog.String("repo", repo),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		h.respondError(w, r, http.StatusBadGateway, errors.New("failed to query docker"), nil)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Repo:       repo,
		Stage:      stage,
		Project:    project,
		Containers: containers,
	})
}
