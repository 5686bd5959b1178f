package data

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// ErrValidation is matched by every error describing a malformed reading.
var ErrValidation = errors.New("invalid reading")

// ValidationError rejects a single reading. It never affects other readings.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DefaultMaxMagnitude bounds metric values. Larger magnitudes come from broken
// sensors and would overflow the rolling statistics.
const DefaultMaxMagnitude = 1e15

var (
	validate     = validator.New()
	maxMagnitude atomic.Uint64
)

func init() {
	maxMagnitude.Store(math.Float64bits(DefaultMaxMagnitude))
}

// SetMaxMagnitude changes the largest accepted |value|. Non-positive or
// non-finite limits restore the default.
func SetMaxMagnitude(limit float64) {
	if limit <= 0 || math.IsInf(limit, 0) || math.IsNaN(limit) {
		limit = DefaultMaxMagnitude
	}
	maxMagnitude.Store(math.Float64bits(limit))
}

// MaxMagnitude returns the largest accepted |value|.
func MaxMagnitude() float64 {
	return math.Float64frombits(maxMagnitude.Load())
}

// Validate checks the shape of a reading before it reaches the engine. Device
// ids are trimmed and metric names lowercased; r.Metrics is replaced, never
// modified in place.
func Validate(r *Reading) error {
	if r == nil {
		return &ValidationError{Reason: "reading is nil"}
	}
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fieldName(fe), Reason: reason(fe)}
		}
		return &ValidationError{Reason: err.Error()}
	}
	limit := MaxMagnitude()
	normalized := make(map[string]float64, len(r.Metrics))
	for name, v := range r.Metrics {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return &ValidationError{Field: "metrics", Reason: "contains a blank metric name"}
		}
		if _, dup := normalized[key]; dup {
			return &ValidationError{Field: "metrics." + key, Reason: "is reported more than once"}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "metrics." + key, Reason: "is not a finite number"}
		}
		if math.Abs(v) > limit {
			return &ValidationError{Field: "metrics." + key, Reason: fmt.Sprintf("exceeds magnitude %g", limit)}
		}
		normalized[key] = v
	}
	r.Metrics = normalized
	return nil
}

func fieldName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "DeviceID":
		return "deviceId"
	case "Metrics":
		return "metrics"
	}
	return strings.ToLower(fe.Field())
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must contain at least one metric"
	case "max":
		return fmt.Sprintf("exceeds %s characters", fe.Param())
	}
	return "failed " + fe.Tag() + " check"
}
