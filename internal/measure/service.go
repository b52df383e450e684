package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zombor/meter-vision/internal/extraction"
)

// IDGenerator generates unique IDs for measures
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDv4 identifiers
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles measure operations
type Service struct {
	db          DB
	extractor   extraction.Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor extraction.Extractor, storage Storage) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor extraction.Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// UploadResult is the success response of the upload flow
type UploadResult struct {
	ImageURL     string `json:"image_url"`
	MeasureValue int    `json:"measure_value"`
	MeasureUUID  string `json:"measure_uuid"`
}

// monthWindow returns the half-open calendar-month window containing t,
// computed in t's own location
func monthWindow(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 1, 0)
}

// contentTypeFor maps an image format suffix to its MIME type
func contentTypeFor(format string) string {
	return "image/" + format
}

// Upload runs the ingestion flow for a validated submission: duplicate
// check, photo persistence, value extraction and record creation. The saved
// photo is removed again when any later step fails.
func (s *Service) Upload(ctx context.Context, payload *UploadPayload) (*UploadResult, error) {
	from, to := monthWindow(payload.MeasureDatetime)
	exists, err := s.db.ExistsInMonth(payload.CustomerCode, payload.MeasureType, from, to)
	if err != nil {
		return nil, fmt.Errorf("checking monthly duplicate: %w", err)
	}
	if exists {
		return nil, &Error{
			Status:      409,
			Code:        CodeDoubleReport,
			Description: "a reading of this type already exists for this month",
		}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s.%s", id, payload.ImageFormat), payload.ImageData)
	if err != nil {
		return nil, fmt.Errorf("saving photo: %w", err)
	}

	rawResponse, err := s.extractor.Extract(ctx, payload.ImageData, payload.ImageFormat)
	if err != nil {
		slog.Error("Failed to extract meter value",
			"customer_code", payload.CustomerCode,
			"measure_type", payload.MeasureType,
			"image_size", len(payload.ImageData),
			"error", err,
		)
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("extracting meter value: %w", err)
	}

	value, err := extraction.ParseReading(rawResponse)
	if err != nil {
		s.storage.Delete(savedPath)
		if errors.Is(err, extraction.ErrNoReading) {
			// the collaborator answered, but without a readable value;
			// the contract treats this as a client-visible 400
			return nil, &Error{
				Status:      400,
				Code:        CodeMeasureNotFound,
				Description: "no meter value could be read from the image",
			}
		}
		return nil, fmt.Errorf("parsing meter value: %w", err)
	}

	measure := &Measure{
		ID:              id,
		CustomerCode:    payload.CustomerCode,
		MeasureDatetime: payload.MeasureDatetime,
		MeasureType:     payload.MeasureType,
		MeasureValue:    value,
		ImageURL:        fmt.Sprintf("/measures/%s/image", id),
		Filename:        savedPath,
		ContentType:     contentTypeFor(payload.ImageFormat),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.db.SaveMeasure(measure); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving measure to database: %w", err)
	}

	return &UploadResult{
		ImageURL:     measure.ImageURL,
		MeasureValue: measure.MeasureValue,
		MeasureUUID:  measure.ID,
	}, nil
}

// Confirm records the human-confirmed value for a measure. The transition
// happens at most once; repeated confirmations are rejected even when they
// carry the same value.
func (s *Service) Confirm(id string, confirmedValue int) error {
	measure, err := s.db.GetMeasure(id)
	if errors.Is(err, ErrNotFound) {
		return &Error{
			Status:      404,
			Code:        CodeMeasureNotFound,
			Description: "measure with the given uuid was not found",
		}
	}
	if err != nil {
		return fmt.Errorf("getting measure: %w", err)
	}

	if measure.HasConfirmed() {
		return &Error{
			Status:      409,
			Code:        CodeConfirmationDuplicate,
			Description: "measure has already been confirmed",
		}
	}

	measure.ConfirmedValue = &confirmedValue
	measure.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveMeasure(measure); err != nil {
		return fmt.Errorf("saving confirmed measure: %w", err)
	}
	return nil
}

// List returns the projected reading history for a customer, oldest first.
// measureType narrows the result when non-empty. An empty history is an
// error by contract, not an empty success.
func (s *Service) List(customerCode string, measureType MeasureType) ([]ListItem, error) {
	measures, err := s.db.ListByCustomer(customerCode, measureType)
	if err != nil {
		return nil, fmt.Errorf("listing measures: %w", err)
	}
	if len(measures) == 0 {
		return nil, &Error{
			Status:      404,
			Code:        CodeMeasuresNotFound,
			Description: "no readings found for this customer",
		}
	}

	sort.Slice(measures, func(i, j int) bool {
		return measures[i].MeasureDatetime.Before(measures[j].MeasureDatetime)
	})

	items := make([]ListItem, 0, len(measures))
	for _, m := range measures {
		items = append(items, m.Project())
	}
	return items, nil
}

// GetMeasureImage returns the stored photo for a measure along with its
// content type
func (s *Service) GetMeasureImage(id string) ([]byte, string, error) {
	measure, err := s.db.GetMeasure(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting measure: %w", err)
	}

	data, err := s.storage.Get(measure.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting measure photo: %w", err)
	}

	return data, measure.ContentType, nil
}
