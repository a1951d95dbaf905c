package model

import "time"

// ScheduleStatus is the normalized lifecycle of a schedule item.
type ScheduleStatus string

const (
	StatusLive      ScheduleStatus = "live"
	StatusUpcoming  ScheduleStatus = "upcoming"
	StatusCompleted ScheduleStatus = "completed"
	StatusCanceled  ScheduleStatus = "canceled"
)

// ScheduleType tags what a schedule item delivers.
type ScheduleType string

const (
	TypeLecture      ScheduleType = "LECTURE"
	TypeNotes        ScheduleType = "NOTES"
	TypeDPPQuiz      ScheduleType = "DPP_QUIZ"
	TypeDPPPDF       ScheduleType = "DPP_PDF"
	TypeBulkSchedule ScheduleType = "BULK_SCHEDULE"
)

// ScheduleItem is one entry of a batch timetable after normalization.
type ScheduleItem struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batchId"`
	Topic     string         `json:"topic"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime,omitzero"`
	Status    ScheduleStatus `json:"status"`
	Type      ScheduleType   `json:"type"`
	Image     string         `json:"image,omitempty"`
}
