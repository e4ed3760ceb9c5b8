package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"storefront-checkout/internal/common/enum"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	val     *validator.Validate
	setupMu sync.Mutex
)

// Indonesian mobile numbers: +62 / 62 / 0 prefix followed by 8xx.
var phonePattern = regexp.MustCompile(`^(\+62|62|0)8[1-9][0-9]{6,11}$`)

var validationMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"oneof":    "must be one of the allowed values: %s",
	"min":      "must be greater than or equal to %s",
	"max":      "must be less than or equal to %s",
	"gt":       "must be greater than %s",
	"gte":      "must be greater than or equal to %s",
	"lt":       "must be less than %s",
	"lte":      "must be less than or equal to %s",
	"enum":     "must be one of the allowed enum values: %s",
	"phone":    "must be a valid phone number",
	"url":      "must be a valid URL",
	"dive":     "is invalid",
}

// Setup builds the shared validator and registers the custom rules into
// gin's binding engine as well.
func Setup() error {
	setupMu.Lock()
	defer setupMu.Unlock()

	v := validator.New(validator.WithRequiredStructEnabled())

	if err := registerValidations(v); err != nil {
		return fmt.Errorf("failed to register custom validations: %w", err)
	}

	v.RegisterTagNameFunc(jsonTagName)

	if engine, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := registerValidations(engine); err != nil {
			return fmt.Errorf("failed to register custom validations in Gin engine: %w", err)
		}
		engine.RegisterTagNameFunc(jsonTagName)
	} else {
		return fmt.Errorf("failed to get validation engine")
	}

	val = v
	return nil
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func registerValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("enum", enum.ValidateEnum); err != nil {
		return fmt.Errorf("failed to register enum validation: %w", err)
	}
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		return fmt.Errorf("failed to register phone validation: %w", err)
	}
	return nil
}

func validatePhone(fl validator.FieldLevel) bool {
	phone := strings.NewReplacer(" ", "", "-", "").Replace(fl.Field().String())
	return phonePattern.MatchString(phone)
}

// Validate checks payload and flattens every violation into one message.
func Validate(payload any) error {
	if val == nil {
		if err := Setup(); err != nil {
			return err
		}
	}

	if err := val.Struct(payload); err != nil {
		return errors.New("Validation failed: " + parsingErrorValidate(err))
	}

	return nil
}

// Fields lists the json names of the fields that failed validation.
func Fields(err error) []string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field())
	}
	return fields
}

// Struct runs the validator and returns its raw error so callers can inspect
// the failing fields.
func Struct(payload any) error {
	if val == nil {
		if err := Setup(); err != nil {
			return err
		}
	}
	return val.Struct(payload)
}

func parsingErrorValidate(err error) string {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		var sb strings.Builder
		for _, e := range errs {
			tag := e.Tag()
			msg, ok := validationMessages[tag]
			if !ok {
				msg = "is invalid"
			}
			switch tag {
			case "enum":
				msg = fmt.Sprintf(msg, e.Type())
			default:
				if strings.Contains(msg, "%s") {
					msg = fmt.Sprintf(msg, e.Param())
				}
			}
			sb.WriteString(fmt.Sprintf("%s %s", e.Namespace(), msg))
			sb.WriteString(", ")
		}
		return strings.TrimSuffix(sb.String(), ", ")
	}
	return err.Error()
}
