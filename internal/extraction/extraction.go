package extraction

import "context"

// meterReadPrompt is the shared instruction used by all LLM providers for
// reading a utility meter register
const meterReadPrompt = `You are reading a photograph of a residential water or gas utility meter.

Find the mechanical or digital register that shows the consumption counter. Read every digit of the counter from left to right, including leading zeros. Ignore serial numbers, red-framed decimal dials, unit markings (m3, ft3) and any other text on the meter face.

Respond with ONLY the digits of the counter as a single integer. Do not include units, separators, explanations or any other text.`

// Extractor defines the interface for meter value extraction. Extract
// returns the provider's raw text response; callers parse the numeric
// reading out of it.
type Extractor interface {
	// Extract sends the image to the inference provider and returns its
	// unstructured text response. format is the image format suffix
	// ("jpeg" or "png").
	Extract(ctx context.Context, imageData []byte, format string) (string, error)
	// Close closes the extractor and releases resources
	Close() error
}
