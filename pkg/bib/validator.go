package bib

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

const DefaultConfidenceThreshold = 0.5

var (
	ErrLowConfidence     = errors.New("confidence below threshold")
	ErrNoDigits          = errors.New("no digits in text")
	ErrNotARecognizedID  = errors.New("not a recognized runner id")
	errValidatorNoIDSet  = errors.New("validator requires an id set")
	errInvalidConfidence = errors.New("confidence threshold must be within [0,1]")
)

type Validator struct {
	ids       *IDSet
	threshold float64
}

type Option func(v *Validator)

func WithConfidenceThreshold(threshold float64) Option {
	return func(v *Validator) {
		v.threshold = threshold
	}
}

func NewValidator(ids *IDSet, opts ...Option) (*Validator, error) {
	if ids == nil {
		return nil, errValidatorNoIDSet
	}
	ret := &Validator{ids: ids, threshold: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(ret)
	}
	if math.IsNaN(ret.threshold) || ret.threshold < 0 || ret.threshold > 1 {
		return nil, errInvalidConfidence
	}
	return ret, nil
}

// Validate checks a recognized candidate. The returned error tells why a candidate
// was rejected, a rejection is a normal outcome and not a failure.
func (v *Validator) Validate(c model.Candidate) (model.RunnerID, error) {
	if math.IsNaN(c.Confidence) || c.Confidence < v.threshold {
		return "", ErrLowConfidence
	}
	digits := Normalize(c.Text)
	if digits == "" {
		return "", ErrNoDigits
	}
	id := model.RunnerID(digits)
	if !v.ids.Contains(id) {
		return "", ErrNotARecognizedID
	}
	return id, nil
}

func (v *Validator) IDs() *IDSet {
	return v.ids
}

// Normalize removes every character which is not a decimal digit
func Normalize(text string) string {
	return strings.Map(func(r rune) rune {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			return r
		}
		return -1
	}, text)
}
