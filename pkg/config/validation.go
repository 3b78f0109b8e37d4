package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the struct validator with friendlier error messages.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate runs struct-tag validation and returns a readable error.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(verrs)
		}
		return err
	}
	return nil
}

// ValidateConfig checks struct tags plus the cross-field rules the
// tags cannot express.
func ValidateConfig(cfg *Config) error {
	if err := NewValidator().Validate(cfg); err != nil {
		return err
	}

	if _, ok := cfg.Tasks["_default"]; !ok {
		return fmt.Errorf("tasks table must define a \"_default\" entry")
	}

	if _, err := cfg.Containers.MemoryBytes(); err != nil {
		return fmt.Errorf("containers.memory_limit: %w", err)
	}
	if _, err := cfg.Containers.SwapBytes(); err != nil {
		return fmt.Errorf("containers.swap_limit: %w", err)
	}
	if _, err := cfg.Containers.TmpfsBytes(); err != nil {
		return fmt.Errorf("containers.tmpfs_size: %w", err)
	}

	if cfg.Routing.Variant == "traefik" && cfg.Routing.TraefikDomain == "" {
		return fmt.Errorf("routing.traefik_domain is required when routing.variant is \"traefik\"")
	}
	if cfg.Routing.Variant == "port" && cfg.Routing.Domain == "" {
		return fmt.Errorf("routing.domain is required when routing.variant is \"port\"")
	}

	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}
