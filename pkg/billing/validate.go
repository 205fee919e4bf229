package billing

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/declabill/declabill/pkg/engine"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	hundred = decimal.NewFromInt(100)
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		validate.RegisterStructValidation(couponStructLevel, Coupon{})
	})
	return validate
}

// couponStructLevel enforces the rules spanning several coupon fields.
func couponStructLevel(sl validator.StructLevel) {
	c := sl.Current().Interface().(Coupon)

	if c.Duration == DurationRepeating && c.DurationInMonths == nil {
		sl.ReportError(c.DurationInMonths, "DurationInMonths", "durationInMonths", "required_repeating", "")
	}
	if c.Duration != DurationRepeating && c.DurationInMonths != nil {
		sl.ReportError(c.DurationInMonths, "DurationInMonths", "durationInMonths", "excluded_unless_repeating", "")
	}
	switch {
	case c.PercentOff == nil && c.AmountOff == nil:
		sl.ReportError(c.PercentOff, "PercentOff", "percentOff", "required_without_amount", "")
	case c.PercentOff != nil && c.AmountOff != nil:
		sl.ReportError(c.PercentOff, "PercentOff", "percentOff", "excluded_with_amount", "")
	case c.PercentOff != nil && (!c.PercentOff.IsPositive() || c.PercentOff.GreaterThan(hundred)):
		sl.ReportError(c.PercentOff, "PercentOff", "percentOff", "percent", "")
	}
}

// Validate checks the struct tags and cross-field rules of an entity and
// returns an engine ValidationError listing every violation.
func Validate(kind string, entity any) error {
	err := validatorInstance().Struct(entity)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewValidationError(err.Error()).WithResource(kind)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
		}
	}
	return engine.NewValidationError(fmt.Sprintf("invalid %s: %s", kind, strings.Join(msgs, "; "))).
		WithResource(kind).
		WithDetail("violations", msgs)
}
