package period

import (
	"time"
)

// Plan is the sizing part of a subscription type.
type Plan struct {
	Granularity Granularity `json:"granularity" bson:"granularity"`
	Duration    int         `json:"duration" bson:"duration"`
	Rounding    bool        `json:"rounding" bson:"rounding"`
	VisitLimit  int         `json:"visit_limit" bson:"visit_limit"`
}

// Period is an inclusive [Start, End] window of calendar days.
type Period struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

func (p Plan) Validate() error {
	if _, err := ParseGranularity(string(p.Granularity)); err != nil {
		return err
	}
	if p.Duration <= 0 {
		return ErrInvalidDuration
	}
	if p.VisitLimit < 0 {
		return ErrInvalidVisitLimit
	}
	return nil
}

// Compute derives the validity window for a purchase made on purchase.
func (p Plan) Compute(purchase time.Time) (Period, error) {
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	start := StartDate(purchase, p.Granularity, p.Rounding)
	end, err := EndDate(start, p.Granularity, p.Duration, p.Rounding)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: start, End: end}, nil
}

// Days returns the number of calendar days covered.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}
