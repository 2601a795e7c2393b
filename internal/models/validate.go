package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// MonthLayout is the evaluation month format (YYYY-MM)
const MonthLayout = "2006-01"

// validate is the shared validator instance for model types.
// Custom rules are registered in init().
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("yearmonth", validateYearMonth)
}

func validateYearMonth(fl validator.FieldLevel) bool {
	_, err := time.Parse(MonthLayout, fl.Field().String())
	return err == nil
}
