package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	RegisterCustomValidations()
}

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return nil
}

// IsValidUUID checks if a string is a valid UUID
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidSnowflake checks if a string is a non-zero decimal Discord id
func IsValidSnowflake(id string) bool {
	n, err := strconv.ParseUint(id, 10, 64)
	return err == nil && n != 0
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	validate.RegisterValidation("snowflake", func(fl validator.FieldLevel) bool {
		return IsValidSnowflake(fl.Field().String())
	})

	validate.RegisterValidation("lobby_id", func(fl validator.FieldLevel) bool {
		return IsValidUUID(fl.Field().String())
	})
}

// ValidationMessage turns validator errors into a message safe to return to callers
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "snowflake":
			parts = append(parts, fmt.Sprintf("%s must be a Discord id", fe.Field()))
		case "lobby_id":
			parts = append(parts, fmt.Sprintf("%s must be a lobby id", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
