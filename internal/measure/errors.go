package measure

import "fmt"

// Error codes returned in the error_code field of the wire envelope
const (
	CodeInvalidData           = "INVALID_DATA"
	CodeInvalidType           = "INVALID_TYPE"
	CodeMeasureNotFound       = "MEASURE_NOT_FOUND"
	CodeMeasuresNotFound      = "MEASURES_NOT_FOUND"
	CodeDoubleReport          = "DOUBLE_REPORT"
	CodeConfirmationDuplicate = "CONFIRMATION_DUPLICATE"
	CodeInternalError         = "INTERNAL_ERROR"
)

// Error is a failure that maps directly onto the HTTP error envelope
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func invalidData(description string) *Error {
	return &Error{Status: 400, Code: CodeInvalidData, Description: description}
}
