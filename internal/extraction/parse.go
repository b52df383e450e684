package extraction

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrNoReading is returned when the provider's response contains no digits
var ErrNoReading = errors.New("no numeric reading in response")

var digitRun = regexp.MustCompile(`[0-9]+`)

// ParseReading extracts the meter value from a provider's free-form text
// response. Models are prompted to answer with a bare integer but routinely
// wrap it in prose or markdown, so the first contiguous run of decimal
// digits wins.
func ParseReading(text string) (int, error) {
	run := digitRun.FindString(text)
	if run == "" {
		return 0, ErrNoReading
	}

	value, err := strconv.Atoi(run)
	if err != nil {
		return 0, fmt.Errorf("parsing reading %q: %w", run, err)
	}
	return value, nil
}
