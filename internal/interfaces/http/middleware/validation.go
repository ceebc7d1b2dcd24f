package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/hms/backend/internal/interfaces/http/dto"
)

var billingTags = map[string]validator.Func{
	"currency": func(fl validator.FieldLevel) bool {
		_, err := valueobject.ParseCurrency(fl.Field().String())
		return err == nil
	},
	"payment_method": func(fl validator.FieldLevel) bool {
		return billing.PaymentMethod(fl.Field().String()).IsValid()
	},
	"payment_status": func(fl validator.FieldLevel) bool {
		return billing.PaymentStatus(fl.Field().String()).IsValid()
	},
}

// fixedMessages are the tags whose message does not depend on the parameter.
var fixedMessages = map[string]string{
	"required":       "This field is required",
	"currency":       "Must be a 3-letter currency code",
	"payment_method": "Must be one of: cash card insurance mobile_money bank_transfer check",
	"payment_status": "Must be one of: pending requires_action completed failed refunded cancelled",
}

// SetupValidator installs the billing tags on gin's binding validator.
func SetupValidator() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding validator is not go-playground/validator")
	}
	RegisterBillingValidations(v)
	return nil
}

// RegisterBillingValidations makes v report fields by their json name and
// adds the currency, payment_method and payment_status tags.
func RegisterBillingValidations(v *validator.Validate) {
	v.RegisterTagNameFunc(fieldName)
	for tag, fn := range billingTags {
		// Only fails on an empty tag or nil func.
		_ = v.RegisterValidation(tag, fn)
	}
}

func fieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		name, _, _ = strings.Cut(f.Tag.Get("form"), ",")
	}
	return name
}

// FormatValidationErrors lists one detail per failed field. Errors that are
// not validator.ValidationErrors give an empty list.
func FormatValidationErrors(err error, requestID string) dto.Response {
	var fieldErrs validator.ValidationErrors
	errors.As(err, &fieldErrs)

	details := make([]dto.ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleBindError writes the 400 for a failed ShouldBindJSON.
func HandleBindError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		c.JSON(http.StatusBadRequest, FormatValidationErrors(err, requestID))
		return
	}
	c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(dto.ErrCodeBadRequest, "Malformed request body", requestID))
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fixedMessages[fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "max":
		if fe.Kind() == reflect.String {
			return "Must be at most " + fe.Param() + " characters"
		}
		return "Must be at most " + fe.Param()
	case "gt":
		return "Must be greater than " + fe.Param()
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "datetime":
		return "Must be a date in " + fe.Param() + " format"
	}
	return "Invalid value"
}
