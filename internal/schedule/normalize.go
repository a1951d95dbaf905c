// Package schedule shapes timetable data returned by the learning platform:
// status and type normalization, merging across batches and the default
// thumbnail.
package schedule

import (
	"strings"
	"time"

	"github.com/piewallah/pw-gateway/internal/model"
)

var completedMarkers = []string{"complete", "ended", "finished", "done", "past"}

// NormalizeStatus maps a free-text upstream tag onto a status. Matching is
// case-insensitive on substrings; anything unrecognized is upcoming.
func NormalizeStatus(tag string) model.ScheduleStatus {
	s := strings.ToLower(strings.TrimSpace(tag))
	switch {
	case s == "":
		return model.StatusUpcoming
	case strings.Contains(s, "cancel"):
		return model.StatusCanceled
	case strings.Contains(s, "live"):
		return model.StatusLive
	}
	for _, m := range completedMarkers {
		if strings.Contains(s, m) {
			return model.StatusCompleted
		}
	}
	return model.StatusUpcoming
}

// NormalizeType maps an upstream content tag onto a ScheduleType. Unknown
// tags are treated as lectures.
func NormalizeType(tag string) model.ScheduleType {
	s := strings.ToUpper(strings.TrimSpace(tag))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch {
	case strings.Contains(s, "BULK"):
		return model.TypeBulkSchedule
	case strings.Contains(s, "QUIZ"):
		return model.TypeDPPQuiz
	case strings.Contains(s, "DPP"):
		return model.TypeDPPPDF
	case strings.Contains(s, "NOTE"):
		return model.TypeNotes
	}
	return model.TypeLecture
}

// FromUpstream builds a ScheduleItem from one decoded upstream object.
// batchID is used when the object does not carry its own.
func FromUpstream(raw map[string]any, batchID string) model.ScheduleItem {
	it := model.ScheduleItem{
		ID:      firstString(raw, "_id", "id"),
		BatchID: firstString(raw, "batchId"),
		Topic:   firstString(raw, "topic", "name", "title"),
		Image:   firstString(raw, "image"),
	}
	if it.BatchID == "" {
		it.BatchID = batchID
	}
	it.StartTime = parseTime(firstString(raw, "startTime", "start_time"))
	it.EndTime = parseTime(firstString(raw, "endTime", "end_time"))
	it.Status = NormalizeStatus(firstString(raw, "tag", "status", "lectureStatus"))
	it.Type = NormalizeType(firstString(raw, "type", "scheduleType", "contentType"))
	if it.Image == "" {
		if vd, ok := raw["videoDetails"].(map[string]any); ok {
			it.Image = firstString(vd, "image")
		}
	}
	return it
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
