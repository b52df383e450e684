package measure

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// errorResponse is the wire envelope for every failure
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// writeJSON writes a JSON success response
func writeJSON(w http.ResponseWriter, status int, body any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps an error onto the wire envelope. Anything that is not a
// *Error is an undifferentiated internal fault.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		slog.Error("Internal error", "error", err)
		apiErr = &Error{
			Status:      http.StatusInternalServerError,
			Code:        CodeInternalError,
			Description: "internal server error",
		}
	}
	writeJSON(w, apiErr.Status, errorResponse{
		ErrorCode:        apiErr.Code,
		ErrorDescription: apiErr.Description,
	})
}

// handleUpload handles meter photo submission
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, invalidData("request body is not valid JSON"))
		return
	}

	payload, verr := ValidateUpload(raw)
	if verr != nil {
		writeError(w, verr)
		return
	}

	result, err := s.service.Upload(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleConfirm records the human-confirmed value for a measure. The body
// is decoded untyped so type violations surface as INVALID_DATA instead of
// a decode error.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		writeError(w, invalidData("request body is not valid JSON"))
		return
	}

	id, ok := raw["measure_uuid"].(string)
	if !ok || id == "" {
		writeError(w, invalidData("measure_uuid must be a non-empty string"))
		return
	}

	number, ok := raw["confirmed_value"].(json.Number)
	if !ok {
		writeError(w, invalidData("confirmed_value must be a number"))
		return
	}
	value, err := number.Int64()
	if err != nil {
		writeError(w, invalidData("confirmed_value must be an integer"))
		return
	}

	if err := s.service.Confirm(id, int(value)); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// listResponse is the success body of the list endpoint
type listResponse struct {
	CustomerCode string     `json:"customer_code"`
	Measures     []ListItem `json:"measures"`
}

// handleList returns a customer's reading history
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	customerCode := r.PathValue("customer_code")

	var measureType MeasureType
	if q := r.URL.Query().Get("measure_type"); q != "" {
		t, ok := NormalizeMeasureType(q)
		if !ok {
			writeError(w, &Error{
				Status:      http.StatusBadRequest,
				Code:        CodeInvalidType,
				Description: "measure_type must be WATER or GAS",
			})
			return
		}
		measureType = t
	}

	items, err := s.service.List(customerCode, measureType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		CustomerCode: customerCode,
		Measures:     items,
	})
}

// handleGetMeasureImage serves the stored photo for a measure
func (s *Server) handleGetMeasureImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, contentType, err := s.service.GetMeasureImage(id)
	if err != nil {
		writeError(w, &Error{
			Status:      http.StatusNotFound,
			Code:        CodeMeasureNotFound,
			Description: "no stored image for the given uuid",
		})
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
