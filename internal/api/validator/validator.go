package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playgroundvalidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"agencycrm/internal/models"
	"agencycrm/internal/permissions"
)

// ValidationErrors wraps the validator's ValidationErrors
type ValidationErrors []playgroundvalidator.FieldError

// CustomValidator wraps go-playground/validator
type CustomValidator struct {
	validator *playgroundvalidator.Validate
}

// NewValidator creates a new validator instance
func NewValidator() echo.Validator {
	v := playgroundvalidator.New()

	// Report fields by their json names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := permissions.RegisterValidations(v); err != nil {
		panic(err)
	}
	for tag, fn := range map[string]playgroundvalidator.Func{
		"column_name":   validateColumn,
		"resource_name": validateResource,
		"action_name":   validateAction,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}

	return &CustomValidator{validator: v}
}

func validateColumn(fl playgroundvalidator.FieldLevel) bool {
	return models.IsValidColumn(models.Column(fl.Field().String()))
}

func validateResource(fl playgroundvalidator.FieldLevel) bool {
	return models.IsValidResource(models.Resource(fl.Field().String()))
}

func validateAction(fl playgroundvalidator.FieldLevel) bool {
	return models.IsValidAction(models.Action(fl.Field().String()))
}

// Validate implements echo.Validator interface
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		var validationErrors playgroundvalidator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return ValidationErrors(validationErrors)
		}
		return err
	}
	return nil
}

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var fields []string
	for _, err := range ve {
		fields = append(fields, err.Field())
	}
	return fmt.Sprintf("validation failed on fields: %s", strings.Join(fields, ", "))
}

type RoleRequest struct {
	Name  string `json:"name" validate:"required,role_slug"`
	Label string `json:"label" validate:"required,max=64"`
	Emoji string `json:"emoji" validate:"max=16"`
}

type RoleUpdateRequest struct {
	Label string `json:"label" validate:"required,max=64"`
	Emoji string `json:"emoji" validate:"max=16"`
}

type ColumnPermissionRequest struct {
	Role    string `json:"role" validate:"required"`
	Column  string `json:"column" validate:"required,column_name"`
	CanEdit *bool  `json:"canEdit" validate:"required"`
}

type ActionPermissionRequest struct {
	Role       string `json:"role" validate:"required"`
	Resource   string `json:"resource" validate:"required,resource_name"`
	Action     string `json:"action" validate:"required,action_name"`
	CanPerform *bool  `json:"canPerform" validate:"required"`
}

type BulkUpdateRequest struct {
	IDs   []string               `json:"ids" validate:"required,min=1,dive,required"`
	Patch map[string]interface{} `json:"patch" validate:"required"`
}
