package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Nodemap names are unique and do not collide with the default
	names := make(map[string]bool)
	if cfg.Idmap.Default != nil {
		names[cfg.Idmap.Default.Name] = true
	}
	for i, n := range cfg.Idmap.Nodemaps {
		if names[n.Name] {
			return fmt.Errorf("idmap.nodemaps[%d]: duplicate nodemap name %q", i, n.Name)
		}
		names[n.Name] = true

		if len(n.Ranges) == 0 {
			return fmt.Errorf("idmap.nodemaps[%d]: nodemap %q has no client ranges", i, n.Name)
		}
	}

	for i, s := range cfg.Store.Objects {
		f, err := fid.Parse(s)
		if err != nil {
			return fmt.Errorf("store.objects[%d]: %w", i, err)
		}
		if f.IsZero() {
			return fmt.Errorf("store.objects[%d]: zero FID is not a valid object", i)
		}
	}

	if need := 3*cfg.Xattr.MaxReplySize + xattr.LegacyMaxACLSize; cfg.Xattr.AllocLimit > 0 && cfg.Xattr.AllocLimit < need {
		return fmt.Errorf("xattr.alloc_limit: %d cannot hold a getxattr_all reply of max_reply_size %d (needs %d)",
			cfg.Xattr.AllocLimit, cfg.Xattr.MaxReplySize, need)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
