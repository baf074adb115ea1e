package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// Channel names are flat lowercase identifiers; signal types are dotted
// ("score.computed"). Both appear in URLs, log fields and metric labels, so
// the config layer rejects anything that would need escaping downstream.
var (
	channelNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	signalTypePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("channel_name", func(fl validator.FieldLevel) bool {
		return channelNamePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("signal_type", func(fl validator.FieldLevel) bool {
		return signalTypePattern.MatchString(fl.Field().String())
	})
	return v
}

// ConfigError reports one invalid field with the value that failed.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field so a bad config file is
// reported in one pass instead of one restart per mistake.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - " + err.Error() + "\n")
	}
	return sb.String()
}

// ValidateWithDetails validates the full config tree and returns a
// ValidationErrors listing every offending field by its namespaced path.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	details := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ConfigError{
			Field:   fe.Namespace(),
			Message: describeFailure(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

func describeFailure(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "channel_name":
		return "must be a lowercase channel name (letters, digits, _ or -)"
	case "signal_type":
		return `must be a dotted signal type such as "score.computed"`
	default:
		return "failed validation: " + fe.Tag()
	}
}
