package token

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "ppm/src/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report json names in errors so they match the wire format
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Normalize trims content and applies the default weight when none was given.
func (r CreateRequest) Normalize() CreateRequest {
	r.Content = strings.TrimSpace(r.Content)
	r.GranularityID = strings.TrimSpace(r.GranularityID)
	if r.Weight == 0 {
		r.Weight = DefaultWeight
	}
	return r
}

// Validate checks a normalized request.
func (r CreateRequest) Validate() error {
	return translate(validatorInstance().Struct(r))
}

// Normalize trims the granularity and applies the default weight.
func (r BatchCreateRequest) Normalize() BatchCreateRequest {
	r.GranularityID = strings.TrimSpace(r.GranularityID)
	if r.Weight == 0 {
		r.Weight = DefaultWeight
	}
	return r
}

// Validate checks a normalized request; contents must yield at least one token.
func (r BatchCreateRequest) Validate() error {
	if err := translate(validatorInstance().Struct(r)); err != nil {
		return err
	}
	if len(ParseContents(r.Contents)) == 0 {
		return apperrors.NewValidationError("contents", r.Contents, "no token content after trimming")
	}
	return nil
}

// Validate rejects changes that would leave a token invalid.
func (c FieldChanges) Validate() error {
	if c.IsEmpty() {
		return apperrors.NewValidationError("changes", nil, "no fields to update")
	}
	if c.Content != nil && strings.TrimSpace(*c.Content) == "" {
		return apperrors.NewValidationError("content", *c.Content, "content cannot be empty")
	}
	if c.Weight != nil {
		if err := ValidateWeight(*c.Weight); err != nil {
			return err
		}
	}
	if c.GranularityID != nil && strings.TrimSpace(*c.GranularityID) == "" {
		return apperrors.NewValidationError("granularity_id", *c.GranularityID, "granularity is required")
	}
	if c.Polarity != nil && !c.Polarity.IsValid() {
		return apperrors.NewValidationError("polarity", *c.Polarity, "must be positive or negative")
	}
	return nil
}

// ValidateWeight checks w against the [MinWeight, MaxWeight] domain.
func ValidateWeight(w float64) error {
	if err := validatorInstance().Var(w, "gte=0.1,lte=2.0"); err != nil {
		return apperrors.NewValidationError("weight", w,
			fmt.Sprintf("must be between %.1f and %.1f", MinWeight, MaxWeight))
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "oneof":
		msg = "must be one of: " + fe.Param()
	case "gte", "lte":
		if fe.Field() == "weight" {
			msg = fmt.Sprintf("must be between %.1f and %.1f", MinWeight, MaxWeight)
		} else {
			msg = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
	case "max":
		msg = "must be at most " + fe.Param() + " characters"
	default:
		msg = "failed " + fe.Tag() + " check"
	}
	return apperrors.NewValidationError(fe.Field(), fe.Value(), msg)
}

// ValidateStruct checks any struct carrying validate tags and reports the
// first failure as a *errors.ValidationError.
func ValidateStruct(v any) error {
	return translate(validatorInstance().Struct(v))
}
