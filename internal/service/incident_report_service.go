package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/noah-isme/safecircle-api/internal/models"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/export"
)

type historyLister interface {
	History(ctx context.Context, subjectID string, limit int) ([]models.SOSEvent, error)
}

// IncidentReport is a rendered, downloadable document.
type IncidentReport struct {
	Filename    string
	ContentType string
	Content     []byte
}

// IncidentReportService renders a subject's SOS history as CSV or PDF.
type IncidentReportService struct {
	history historyLister
	now     func() time.Time
}

// NewIncidentReportService constructs the service.
func NewIncidentReportService(history historyLister) *IncidentReportService {
	return &IncidentReportService{history: history, now: time.Now}
}

var incidentColumns = []export.Column{
	{Key: "id", Title: "Event", Width: 3},
	{Key: "status", Title: "Status", Width: 1.2},
	{Key: "triggered_at", Title: "Triggered", Width: 2.2},
	{Key: "ended_at", Title: "Ended", Width: 2.2},
	{Key: "duration", Title: "Duration", Width: 1.2},
	{Key: "latitude", Title: "Latitude", Width: 1.3},
	{Key: "longitude", Title: "Longitude", Width: 1.3},
	{Key: "notified", Title: "Notified", Width: 1},
	{Key: "reason", Title: "Cancel reason", Width: 2.6},
}

// Export renders up to limit events, newest first.
func (s *IncidentReportService) Export(ctx context.Context, subjectID, format string, limit int) (*IncidentReport, error) {
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "format must be csv or pdf")
	}

	events, err := s.history.History(ctx, subjectID, limit)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	data := export.Dataset{
		Title:    "SOS incident report",
		Subtitle: fmt.Sprintf("Generated %s, %d events", now.Format(time.RFC3339), len(events)),
		Columns:  incidentColumns,
		Rows:     make([]map[string]string, 0, len(events)),
	}
	for _, ev := range events {
		data.Rows = append(data.Rows, incidentRow(ev))
	}

	content, err := renderer.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render incident report")
	}
	return &IncidentReport{
		Filename:    fmt.Sprintf("sos-history-%s.%s", now.Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Content:     content,
	}, nil
}

func incidentRow(ev models.SOSEvent) map[string]string {
	row := map[string]string{
		"id":           ev.ID,
		"status":       string(ev.Status),
		"triggered_at": ev.TriggeredAt.UTC().Format(time.RFC3339),
		"latitude":     strconv.FormatFloat(ev.Latitude, 'f', 6, 64),
		"longitude":    strconv.FormatFloat(ev.Longitude, 'f', 6, 64),
		"notified":     strconv.Itoa(len(ev.NotifiedRecipients)),
	}
	if ended := ev.EndedAt(); ended != nil {
		row["ended_at"] = ended.UTC().Format(time.RFC3339)
		row["duration"] = ended.Sub(ev.TriggeredAt).Round(time.Second).String()
	}
	if ev.CancelReason != nil {
		row["reason"] = *ev.CancelReason
	}
	return row
}
