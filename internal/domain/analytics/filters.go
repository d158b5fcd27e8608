package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
)

const (
	// MaxRangeDays bounds the width of a query window
	MaxRangeDays = 365
	// DefaultRangeDays is used when a caller omits the window entirely
	DefaultRangeDays = 30
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DateRange is an inclusive query window
type DateRange struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtefield=Start"`
}

// Days returns the width of the range in whole days
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// DefaultRange returns the trailing window ending at now
func DefaultRange(now time.Time) DateRange {
	end := now.UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second)
	return DateRange{
		Start: end.AddDate(0, 0, -DefaultRangeDays).Add(time.Second),
		End:   end,
	}
}

// Filters narrows an analytics query
type Filters struct {
	DateRange  DateRange         `json:"dateRange"`
	EntityIDs  []string          `json:"entityIds,omitempty" validate:"omitempty,max=500,dive,required,max=128"`
	CompanyID  string            `json:"companyId,omitempty" validate:"omitempty,max=128"`
	Additional map[string]string `json:"additionalFilters,omitempty" validate:"omitempty,max=20"`
}

// Validate checks the filters at the boundary
func (f *Filters) Validate() error {
	if f == nil {
		return apperrors.NewValidationError("INVALID_FILTERS", "filters are required")
	}

	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return apperrors.NewValidationError("INVALID_FILTERS",
				"invalid filters: "+strings.Join(fields, ", ")).
				WithDetails(map[string]interface{}{"fields": fields})
		}
		return apperrors.NewValidationError("INVALID_FILTERS", err.Error())
	}

	if f.DateRange.Days() > MaxRangeDays {
		return apperrors.NewValidationError("INVALID_TIME_RANGE",
			fmt.Sprintf("time range cannot exceed %d days", MaxRangeDays))
	}

	return nil
}

// IsEmpty reports whether the filters constrain nothing beyond entity IDs
func (f *Filters) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.DateRange.Start.IsZero() && f.DateRange.End.IsZero() &&
		f.CompanyID == "" && len(f.Additional) == 0
}

// WithEntityIDs returns a copy narrowed to the given IDs
func (f Filters) WithEntityIDs(ids []string) Filters {
	f.EntityIDs = append([]string(nil), ids...)
	return f
}
