// Jobs HTTP handlers.
//
// This file exposes the read-only REST view of training jobs:
//   - GET /teams/{team_id}/jobs              (list, paginated, ETag support)
//   - GET /teams/{team_id}/jobs/{user_key}   (single job)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/http/middleware"
	"github.com/tbourn/go-doppel-bot/internal/services"
	"github.com/tbourn/go-doppel-bot/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.TrainingJob `json:"jobs"`
	Pagination Pagination           `json:"pagination"`
}

// teamParam reads and tags the :team_id route parameter.
func teamParam(c *gin.Context) (string, bool) {
	team := strings.TrimSpace(c.Param("team_id"))
	if team == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "team_id required")
		return "", false
	}
	middleware.SetTeamID(c, team)
	return team, true
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List a team's training jobs (paginated)
// @Description Returns a page of the team's jobs, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Jobs
// @Produce     json
//
// @Param       team_id        path    string  true  "Slack team ID"               example(T0123ABCD)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"jobs:T0123ABCD:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListJobsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /teams/{team_id}/jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	team, okTeam := teamParam(c)
	if !okTeam {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if count, maxTS, err := h.jobs.Stats(ctx, team); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"jobs:%s:%d:%d"`, team, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	} else {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("job stats failed; serving without ETag")
	}

	items, total, err := h.jobs.ListPage(ctx, team, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.TrainingJob{}
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListJobsResponse{
		Jobs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetJob godoc
// @ID          getJob
// @Summary     Get one training job
// @Description Returns the job for a (team, user) pair. Rolled-back jobs no longer exist and yield 404.
// @Tags        Jobs
// @Produce     json
//
// @Param       team_id   path  string  true  "Slack team ID"  example(T0123ABCD)
// @Param       user_key  path  string  true  "User name"      example(bob)
//
// @Success     200  {object} domain.TrainingJob
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Job not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /teams/{team_id}/jobs/{user_key} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	team, okTeam := teamParam(c)
	if !okTeam {
		return
	}
	user := strings.TrimSpace(c.Param("user_key"))
	if user == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_key required")
		return
	}

	j, err := h.jobs.Get(c.Request.Context(), team, user)
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
	default:
		ok(c, http.StatusOK, j)
	}
}
