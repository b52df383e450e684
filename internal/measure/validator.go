package measure

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"time"
)

// dataURLPattern matches the only accepted image encodings
var dataURLPattern = regexp.MustCompile(`^data:image/(jpeg|png);base64,(.+)$`)

// datetimeLayouts are tried in order when parsing measure_datetime.
// Zoneless timestamps are taken as UTC.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// UploadPayload is a validated, decoded upload submission
type UploadPayload struct {
	ImageData       []byte
	ImageFormat     string // "jpeg" or "png"
	CustomerCode    string
	MeasureDatetime time.Time
	MeasureType     MeasureType
}

// ValidateUpload checks a raw submission object and either returns the
// normalized payload or the first rejection encountered. It has no side
// effects; checks run in a fixed order and short-circuit.
func ValidateUpload(raw map[string]any) (*UploadPayload, *Error) {
	for _, field := range []string{"image", "customer_code", "measure_datetime", "measure_type"} {
		if v, ok := raw[field]; !ok || v == nil {
			return nil, invalidData(fmt.Sprintf("missing required field: %s", field))
		}
	}

	image, ok := raw["image"].(string)
	if !ok {
		return nil, invalidData("image must be a base64 data URL string")
	}
	match := dataURLPattern.FindStringSubmatch(image)
	if match == nil {
		return nil, invalidData("image must be a data:image/(jpeg|png);base64 data URL")
	}
	imageData, err := base64.StdEncoding.DecodeString(match[2])
	if err != nil {
		return nil, invalidData("image payload is not valid base64")
	}

	customerCode, ok := raw["customer_code"].(string)
	if !ok {
		return nil, invalidData("customer_code must be a string")
	}

	datetimeStr, ok := raw["measure_datetime"].(string)
	if !ok {
		return nil, invalidData("measure_datetime must be a string")
	}
	datetime, err := parseDatetime(datetimeStr)
	if err != nil {
		return nil, invalidData("measure_datetime must be a valid ISO-8601 date-time")
	}

	typeStr, ok := raw["measure_type"].(string)
	if !ok {
		return nil, invalidData("measure_type must be a string")
	}
	measureType, ok := ParseMeasureType(typeStr)
	if !ok {
		return nil, invalidData("measure_type must be WATER or GAS")
	}

	return &UploadPayload{
		ImageData:       imageData,
		ImageFormat:     match[1],
		CustomerCode:    customerCode,
		MeasureDatetime: datetime,
		MeasureType:     measureType,
	}, nil
}

// parseDatetime attempts each accepted ISO-8601 layout in order
func parseDatetime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parsing datetime %q: %w", s, lastErr)
}
