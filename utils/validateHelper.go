package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs validator/v10 tag validation on an input struct and
// folds the result into the Validation error kind.
func ValidateStruct(input interface{}) error {
	if err := validate.Struct(input); err != nil {
		fieldErrors := ProcessValidationErrors(err)
		for field, msg := range fieldErrors {
			return ValidationErr("%s %s", field, msg)
		}
		return ValidationErr("invalid input")
	}
	return nil
}

func ProcessValidationErrors(err error) map[string]string {
	errorsMap := make(map[string]string)
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			switch fieldError.Tag() {
			case "required":
				errorsMap[fieldError.Field()] = "is required"
			case "gt":
				errorsMap[fieldError.Field()] = "must be greater than " + fieldError.Param()
			case "min":
				errorsMap[fieldError.Field()] = "must be at least " + fieldError.Param()
			case "max":
				errorsMap[fieldError.Field()] = "must be at most " + fieldError.Param()
			case "email":
				errorsMap[fieldError.Field()] = "must be a valid email"
			case "oneof":
				errorsMap[fieldError.Field()] = "must be one of " + fieldError.Param()
			default:
				errorsMap[fieldError.Field()] = "is invalid"
			}
		}
	}
	return errorsMap
}
