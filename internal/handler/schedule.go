package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/model"
	"github.com/piewallah/pw-gateway/internal/schedule"
)

// maxBatches bounds the fan-out of one aggregated request.
const maxBatches = 20

// ScheduleHandler merges today's schedule across several batches.
type ScheduleHandler struct {
	Upstream Caller
	Fallback string
	Limit    int
	Log      logrus.FieldLogger
}

// batchFetcher loads one batch's schedule with the caller's bearer.
type batchFetcher struct {
	up    Caller
	token string
}

func (f batchFetcher) FetchToday(ctx context.Context, batchID string) ([]map[string]any, error) {
	rc := model.RequestContext{
		TargetPath:   "/v1/batches/" + url.PathEscape(batchID) + "/todays-schedule",
		ExtraHeaders: http.Header{"Authorization": []string{"Bearer " + f.token}},
		Anonymous:    true,
	}
	rc.SetQuery("isNewStudyMaterialFlow", "true")
	res, err := f.up.Do(ctx, rc)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := res.Decode(&env); err != nil {
		return nil, &fetch.Error{Kind: fetch.KindNonJSON, Message: "unexpected schedule payload", Err: err}
	}
	return env.Data, nil
}

// Today serves GET /api/schedule/today?batchIds=a,b.
func (h *ScheduleHandler) Today(c echo.Context) error {
	token, ok := bearerToken(c)
	if !ok {
		return failJSON(c, http.StatusUnauthorized, "Authorization header missing or malformed")
	}
	ids := splitIDs(c.QueryParams()["batchIds"])
	if len(ids) == 0 {
		return failJSON(c, http.StatusBadRequest, "batchIds is required")
	}
	if len(ids) > maxBatches {
		return failJSON(c, http.StatusBadRequest, "too many batchIds")
	}

	agg := schedule.NewAggregator(batchFetcher{up: h.Upstream, token: token}, h.Fallback, h.Limit)
	res, err := agg.Today(c.Request().Context(), ids)
	if err != nil {
		if h.Log != nil {
			h.Log.WithError(err).Warn("schedule: every batch failed")
		}
		return upstreamFailure(c, res.Failed[0].Err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    res.Items,
		"failed":  res.Failed,
	})
}

// splitIDs accepts repeated and comma-separated values, dropping blanks and
// duplicates while keeping order.
func splitIDs(vals []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range vals {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
