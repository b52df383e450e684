package measure

import (
	"strings"
	"time"
)

// MeasureType identifies which utility register was photographed
type MeasureType string

const (
	Water MeasureType = "WATER"
	Gas   MeasureType = "GAS"
)

// ParseMeasureType accepts only the exact upper-case wire values
func ParseMeasureType(s string) (MeasureType, bool) {
	switch MeasureType(s) {
	case Water, Gas:
		return MeasureType(s), true
	}
	return "", false
}

// NormalizeMeasureType is the case-insensitive variant used for the
// list endpoint's query filter
func NormalizeMeasureType(s string) (MeasureType, bool) {
	return ParseMeasureType(strings.ToUpper(s))
}

// Measure represents one meter reading with metadata
type Measure struct {
	ID              string      `json:"measure_uuid"`
	CustomerCode    string      `json:"customer_code"`
	MeasureDatetime time.Time   `json:"measure_datetime"`
	MeasureType     MeasureType `json:"measure_type"`
	MeasureValue    int         `json:"measure_value"`
	ConfirmedValue  *int        `json:"confirmed_value,omitempty"`
	ImageURL        string      `json:"image_url"`
	Filename        string      `json:"filename"`
	ContentType     string      `json:"content_type"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasConfirmed reports whether a human confirmed this reading
func (m *Measure) HasConfirmed() bool {
	return m.ConfirmedValue != nil
}

// ListItem is the projection returned by the list endpoint. The raw
// confirmed value is deliberately absent.
type ListItem struct {
	MeasureUUID     string      `json:"measure_uuid"`
	MeasureDatetime time.Time   `json:"measure_datetime"`
	MeasureType     MeasureType `json:"measure_type"`
	HasConfirmed    bool        `json:"has_confirmed"`
	ImageURL        string      `json:"image_url"`
}

// Project converts a stored measure into its list projection
func (m *Measure) Project() ListItem {
	return ListItem{
		MeasureUUID:     m.ID,
		MeasureDatetime: m.MeasureDatetime,
		MeasureType:     m.MeasureType,
		HasConfirmed:    m.HasConfirmed(),
		ImageURL:        m.ImageURL,
	}
}
