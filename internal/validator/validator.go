package validator

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/sentryscan/controller/internal/models"
)

// validate is the singleton validator instance
var validate *validator.Validate

var oidPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)+$`)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func init() {
	validate = validator.New()

	validate.RegisterValidation("oid", validateOID)
	validate.RegisterValidation("severity", validateSeverity)
	validate.RegisterValidation("threat", validateThreat)
	validate.RegisterValidation("cronexpr", validateCronExpr)
}

// ValidateStruct validates a struct and returns the raw validator error.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates a request struct and returns field->message.
// Returns nil when validation passes.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors := make(map[string]string)

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			field := strings.ToLower(e.Field())
			fieldErrors[field] = formatValidationError(e)
		}
	}

	return fieldErrors
}

// BindAndValidate binds JSON and validates in one step. Returns true on
// success; on failure it writes the error response and returns false.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request format",
			"details": err.Error(),
		})
		return false
	}

	if errs := ValidateRequest(req); errs != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation failed",
			"fields": errs,
		})
		return false
	}

	return true
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "ip":
		return "must be a valid IP address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oid":
		return "must be a dotted-decimal OID (e.g. 1.3.6.1.4.1.25623.1.0.10662)"
	case "severity":
		return "severity must be in [0.0, 10.0]"
	case "threat":
		return "threat must be one of Log, Low, Medium, High, Critical"
	case "cronexpr":
		return "must be a valid cron expression"
	default:
		return fmt.Sprintf("validation failed on %s", e.Tag())
	}
}

// Custom validators

// ValidateOIDFormat reports whether s is a well-formed dotted-decimal OID.
func ValidateOIDFormat(s string) bool {
	return oidPattern.MatchString(s)
}

func validateOID(fl validator.FieldLevel) bool {
	return ValidateOIDFormat(fl.Field().String())
}

func validateSeverity(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return v >= 0.0 && v <= 10.0
}

func validateThreat(fl validator.FieldLevel) bool {
	return models.ValidThreats[models.Threat(fl.Field().String())]
}

// ValidateCronExpr parses s with the standard five-field cron grammar
// purely for syntax validation — the Controller never executes it.
func ValidateCronExpr(s string) error {
	_, err := cronParser.Parse(s)
	return err
}

func validateCronExpr(fl validator.FieldLevel) bool {
	return ValidateCronExpr(fl.Field().String()) == nil
}
