package models

// TripFilter represents filter parameters for querying trips
type TripFilter struct {
	Date     string `form:"date"`     // YYYY-MM-DD, exact trip date
	From     string `form:"from"`     // YYYY-MM-DD inclusive
	To       string `form:"to"`       // YYYY-MM-DD inclusive
	Mode     string `form:"mode"`     // walking, bicycle, motorcycle, car, bus, rail, unknown
	Category string `form:"category"` // commute-to, commute-from, other
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// Normalize clamps pagination to sane bounds
func (f *TripFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 100
	}
	if f.PageSize > 1000 {
		f.PageSize = 1000
	}
}

// StatsFilter represents filter parameters for statistics queries
type StatsFilter struct {
	From string `form:"from"` // YYYY-MM-DD inclusive
	To   string `form:"to"`   // YYYY-MM-DD inclusive
}
