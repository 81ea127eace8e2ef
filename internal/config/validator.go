package config

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/avapipe/internal/util"
)

// ValidationErrors is a collection of configuration errors.
type ValidationErrors []*util.ConfigurationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates cfg and returns nil, a single
// *util.ConfigurationError, or ValidationErrors.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate runs every check against cfg.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	if cfg == nil {
		return util.NewConfigurationError("", "configuration is required")
	}
	if cfg.Pipelines == nil {
		v.addError("pipelines", "no pipelines found")
	}
	if cfg.APIEndpoints == nil {
		v.addError("apiEndpoints", "no apiEndpoints found")
	}
	// Structural checks are meaningless while a required key is absent.
	if len(v.errors) > 0 {
		return v.result()
	}

	v.validatePipelines(cfg)
	v.validateObservability(cfg)

	return v.result()
}

func (v *Validator) validatePipelines(cfg *Config) {
	boundBy := make(map[string]string)

	for name, pipeline := range cfg.Pipelines.All() {
		path := "pipelines." + name

		for _, endpointName := range pipeline.APIEndpoints {
			if _, ok := cfg.APIEndpoints.Get(endpointName); !ok {
				v.addError(path+".apiEndpoints",
					fmt.Sprintf("apiEndpoint %q is not defined", endpointName))
				continue
			}
			if other, dup := boundBy[endpointName]; dup {
				v.addError(path+".apiEndpoints",
					fmt.Sprintf("apiEndpoint %q is already bound to pipeline %q", endpointName, other))
				continue
			}
			boundBy[endpointName] = name
		}

		for _, group := range pipeline.Policies {
			for i, step := range group.Steps {
				stepPath := fmt.Sprintf("%s.policies.%s[%d]", path, group.Name, i)
				if step.Action.Name == "" {
					v.addError(stepPath+".action.name", "action name is required")
				}
				if step.Condition != nil && step.Condition.Name == "" {
					v.addError(stepPath+".condition.name", "condition name is required")
				}
			}
		}
	}
}

func (v *Validator) validateObservability(cfg *Config) {
	if cfg.Tracing != nil && (cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1) {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
	if cfg.Metrics != nil && cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
	if cfg.Redis != nil && cfg.Redis.Address == "" {
		v.addError("redis.address", "address is required")
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, util.NewConfigurationError(field, message))
}

func (v *Validator) result() error {
	switch len(v.errors) {
	case 0:
		return nil
	case 1:
		return v.errors[0]
	default:
		return v.errors
	}
}
