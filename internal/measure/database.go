package measure

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "measures"

// ErrNotFound is returned when a measure lookup misses
var ErrNotFound = errors.New("measure not found")

// DB defines the interface for database operations
type DB interface {
	// SaveMeasure writes a measure, overwriting any record with the same ID
	SaveMeasure(measure *Measure) error

	// GetMeasure retrieves a measure by ID; ErrNotFound when absent
	GetMeasure(id string) (*Measure, error)

	// ListByCustomer returns all measures for a customer, optionally
	// filtered by type (empty type means no filter)
	ListByCustomer(customerCode string, measureType MeasureType) ([]*Measure, error)

	// ExistsInMonth reports whether the customer already has a measure of
	// the given type with a datetime in [from, to). The check is advisory:
	// nothing stops a concurrent writer between this call and SaveMeasure.
	ExistsInMonth(customerCode string, measureType MeasureType, from, to time.Time) (bool, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveMeasure writes a measure record keyed by its ID
func (b *BoltDB) SaveMeasure(measure *Measure) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(measure)
		if err != nil {
			return fmt.Errorf("marshaling measure: %w", err)
		}
		return bucket.Put([]byte(measure.ID), data)
	})
}

// GetMeasure retrieves a measure by ID
func (b *BoltDB) GetMeasure(id string) (*Measure, error) {
	var measure *Measure
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &measure)
	})
	if err != nil {
		return nil, err
	}
	return measure, nil
}

// ListByCustomer returns all measures for a customer, optionally filtered by type
func (b *BoltDB) ListByCustomer(customerCode string, measureType MeasureType) ([]*Measure, error) {
	measures := make([]*Measure, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var measure Measure
			if err := json.Unmarshal(v, &measure); err != nil {
				return fmt.Errorf("unmarshaling measure: %w", err)
			}
			if measure.CustomerCode != customerCode {
				return nil
			}
			if measureType != "" && measure.MeasureType != measureType {
				return nil
			}
			measures = append(measures, &measure)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return measures, nil
}

// ExistsInMonth reports whether a customer/type measure falls within [from, to)
func (b *BoltDB) ExistsInMonth(customerCode string, measureType MeasureType, from, to time.Time) (bool, error) {
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var measure Measure
			if err := json.Unmarshal(v, &measure); err != nil {
				return fmt.Errorf("unmarshaling measure: %w", err)
			}
			if measure.CustomerCode != customerCode || measure.MeasureType != measureType {
				continue
			}
			if !measure.MeasureDatetime.Before(from) && measure.MeasureDatetime.Before(to) {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
