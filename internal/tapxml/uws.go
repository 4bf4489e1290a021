package tapxml

import (
	"io"
	"strconv"
	"strings"
	"time"

	"tapkit/internal/domain"
)

type xmlJob struct {
	JobID        string           `xml:"jobId"`
	RunID        string           `xml:"runId"`
	OwnerID      string           `xml:"ownerId"`
	Phase        string           `xml:"phase"`
	Quote        string           `xml:"quote"`
	CreationTime string           `xml:"creationTime"`
	StartTime    string           `xml:"startTime"`
	EndTime      string           `xml:"endTime"`
	Destruction  string           `xml:"destruction"`
	Duration     string           `xml:"executionDuration"`
	Parameters   []xmlParameter   `xml:"parameters>parameter"`
	Results      []xmlResult      `xml:"results>result"`
	ErrorSummary *xmlErrorSummary `xml:"errorSummary"`
}

type xmlParameter struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

type xmlResult struct {
	ID   string `xml:"id,attr"`
	Href string `xml:"href,attr"`
}

type xmlErrorSummary struct {
	Message string `xml:"message"`
}

type xmlJobRef struct {
	ID           string `xml:"id,attr"`
	Phase        string `xml:"phase"`
	RunID        string `xml:"runId"`
	OwnerID      string `xml:"ownerId"`
	CreationTime string `xml:"creationTime"`
}

type xmlJobList struct {
	Refs []xmlJobRef `xml:"jobref"`
	Jobs []xmlJob    `xml:"job"`
}

// ParseJob decodes a UWS job description.
func ParseJob(r io.Reader) (*domain.JobDescription, error) {
	var doc xmlJob
	if err := decode(r, &doc); err != nil {
		return nil, domain.ErrProtocol("parse job description: %v", err)
	}
	if strings.TrimSpace(doc.JobID) == "" && strings.TrimSpace(doc.Phase) == "" {
		return nil, domain.ErrProtocol("parse job description: no jobId or phase")
	}
	return convertJob(doc), nil
}

// ParseJobList decodes a UWS job list. Both jobref summaries and embedded
// job descriptions are accepted.
func ParseJobList(r io.Reader) ([]*domain.JobDescription, error) {
	var doc xmlJobList
	if err := decode(r, &doc); err != nil {
		return nil, domain.ErrProtocol("parse job list: %v", err)
	}
	out := make([]*domain.JobDescription, 0, len(doc.Refs)+len(doc.Jobs))
	for _, ref := range doc.Refs {
		phase, _ := domain.ParsePhase(ref.Phase)
		out = append(out, &domain.JobDescription{
			JobID:        strings.TrimSpace(ref.ID),
			RunID:        strings.TrimSpace(ref.RunID),
			OwnerID:      strings.TrimSpace(ref.OwnerID),
			Phase:        phase,
			CreationTime: parseTime(ref.CreationTime),
		})
	}
	for _, j := range doc.Jobs {
		out = append(out, convertJob(j))
	}
	return out, nil
}

func convertJob(j xmlJob) *domain.JobDescription {
	phase, _ := domain.ParsePhase(j.Phase)
	d := &domain.JobDescription{
		JobID:        strings.TrimSpace(j.JobID),
		RunID:        strings.TrimSpace(j.RunID),
		OwnerID:      strings.TrimSpace(j.OwnerID),
		Phase:        phase,
		Quote:        strings.TrimSpace(j.Quote),
		CreationTime: parseTime(j.CreationTime),
		StartTime:    parseTime(j.StartTime),
		EndTime:      parseTime(j.EndTime),
		Destruction:  parseTime(j.Destruction),
	}
	d.Duration, _ = strconv.ParseInt(strings.TrimSpace(j.Duration), 10, 64)
	for _, p := range j.Parameters {
		d.Parameters = append(d.Parameters, domain.Parameter{ID: p.ID, Value: strings.TrimSpace(p.Value)})
	}
	for _, res := range j.Results {
		d.Results = append(d.Results, domain.ResultRef{ID: res.ID, Href: res.Href})
	}
	if j.ErrorSummary != nil {
		d.ErrorMessage = strings.TrimSpace(j.ErrorSummary.Message)
	}
	return d
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime returns nil for empty or unrecognized timestamps.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
