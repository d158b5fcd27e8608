package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
)

// PayloadShape tags a known filter payload layout
type PayloadShape int

const (
	ShapeUnknown PayloadShape = iota
	// {"dateRange":{"start","end"},"entityIds","companyId","additionalFilters"}
	ShapeCurrent
	// {"startDate","endDate","entityIds","companyId"}
	ShapeLegacyFlat
	// {"from","to","campaignIds"|"mailboxIds"|"domainIds","company_id"}
	ShapeLegacyEntity
)

func (s PayloadShape) String() string {
	switch s {
	case ShapeCurrent:
		return "current"
	case ShapeLegacyFlat:
		return "legacy_flat"
	case ShapeLegacyEntity:
		return "legacy_entity"
	default:
		return "unknown"
	}
}

type shapeProbe struct {
	DateRange json.RawMessage `json:"dateRange"`
	StartDate json.RawMessage `json:"startDate"`
	From      json.RawMessage `json:"from"`
}

type currentPayload struct {
	DateRange struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRange"`
	EntityIDs  []string          `json:"entityIds"`
	CompanyID  string            `json:"companyId"`
	Additional map[string]string `json:"additionalFilters"`
}

type legacyFlatPayload struct {
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	EntityIDs []string `json:"entityIds"`
	CompanyID string   `json:"companyId"`
}

type legacyEntityPayload struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	CampaignIDs []string `json:"campaignIds"`
	MailboxIDs  []string `json:"mailboxIds"`
	DomainIDs   []string `json:"domainIds"`
	CompanyID   string   `json:"company_id"`
}

// DetectShape inspects a payload once and tags its layout
func DetectShape(data []byte) (PayloadShape, error) {
	var probe shapeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return ShapeUnknown, apperrors.NewValidationError("INVALID_FILTERS", "filters must be a JSON object").WithCause(err)
	}

	switch {
	case len(probe.DateRange) > 0:
		return ShapeCurrent, nil
	case len(probe.StartDate) > 0:
		return ShapeLegacyFlat, nil
	case len(probe.From) > 0:
		return ShapeLegacyEntity, nil
	default:
		return ShapeUnknown, apperrors.NewValidationError("INVALID_FILTERS", "unrecognized filter payload")
	}
}

// DecodeFilters normalizes any known payload shape into validated Filters
func DecodeFilters(data []byte) (Filters, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Filters{}, apperrors.NewValidationError("INVALID_FILTERS", "empty filter payload")
	}

	shape, err := DetectShape(data)
	if err != nil {
		return Filters{}, err
	}

	var f Filters
	switch shape {
	case ShapeCurrent:
		f, err = adaptCurrent(data)
	case ShapeLegacyFlat:
		f, err = adaptLegacyFlat(data)
	case ShapeLegacyEntity:
		f, err = adaptLegacyEntity(data)
	}
	if err != nil {
		return Filters{}, err
	}

	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

func adaptCurrent(data []byte) (Filters, error) {
	var p currentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Filters{}, invalidPayload(ShapeCurrent, err)
	}
	dr, err := parseRange(p.DateRange.Start, p.DateRange.End)
	if err != nil {
		return Filters{}, err
	}
	return Filters{
		DateRange:  dr,
		EntityIDs:  p.EntityIDs,
		CompanyID:  p.CompanyID,
		Additional: p.Additional,
	}, nil
}

func adaptLegacyFlat(data []byte) (Filters, error) {
	var p legacyFlatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Filters{}, invalidPayload(ShapeLegacyFlat, err)
	}
	dr, err := parseRange(p.StartDate, p.EndDate)
	if err != nil {
		return Filters{}, err
	}
	return Filters{DateRange: dr, EntityIDs: p.EntityIDs, CompanyID: p.CompanyID}, nil
}

func adaptLegacyEntity(data []byte) (Filters, error) {
	var p legacyEntityPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Filters{}, invalidPayload(ShapeLegacyEntity, err)
	}
	dr, err := parseRange(p.From, p.To)
	if err != nil {
		return Filters{}, err
	}

	var ids []string
	ids = append(ids, p.CampaignIDs...)
	ids = append(ids, p.MailboxIDs...)
	ids = append(ids, p.DomainIDs...)

	return Filters{DateRange: dr, EntityIDs: ids, CompanyID: p.CompanyID}, nil
}

func invalidPayload(shape PayloadShape, err error) error {
	return apperrors.NewValidationError("INVALID_FILTERS",
		fmt.Sprintf("malformed %s filter payload", shape)).WithCause(err)
}

func parseRange(start, end string) (DateRange, error) {
	s, err := ParseTime(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseEndTime(end)
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{Start: s, End: e}, nil
}

// ParseEndTime is ParseTime for the end of a range: a plain date covers the whole day
func ParseEndTime(s string) (time.Time, error) {
	t, err := ParseTime(s)
	if err != nil || t.IsZero() {
		return t, err
	}
	if len(strings.TrimSpace(s)) == len(dateLayout) {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

const dateLayout = "2006-01-02"

// ParseTime accepts RFC3339 timestamps and plain dates
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.NewValidationError("INVALID_TIME_RANGE",
		fmt.Sprintf("unparseable timestamp %q", s))
}
