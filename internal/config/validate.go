package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/pkg/condition"
)

// FieldProblem is a single configuration violation.
type FieldProblem struct {
	Field   string
	Message string
}

// ConfigurationError reports an invalid configuration. It is fatal at startup.
type ConfigurationError struct {
	Problems []FieldProblem

	// Err is an optional underlying cause, e.g. an unknown sink kind.
	Err error
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	if len(parts) == 0 && e.Err != nil {
		return "invalid configuration: " + e.Err.Error()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Add records a violation.
func (e *ConfigurationError) Add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when no violation was recorded.
func (e *ConfigurationError) OrNil() error {
	if len(e.Problems) == 0 && e.Err == nil {
		return nil
	}
	return e
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report problems by their configuration key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the whole configuration and returns a *ConfigurationError
// listing every violation, or nil.
func (c *Config) Validate() error {
	cfgErr := &ConfigurationError{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			cfgErr.Add(strings.TrimPrefix(fe.Namespace(), "Config."), "%s", describeTag(fe))
		}
	}

	if _, ok := logging.LookupLevel(c.Logging.Level); !ok {
		cfgErr.Add("logging.level", "unknown level %q", c.Logging.Level)
	}

	c.validateBroker(cfgErr)
	validateTarget(cfgErr, "transformer", c.Transformer)
	validateTarget(cfgErr, "sink", c.Sink)
	validatePipelines(cfgErr, c.Pipelines)

	return cfgErr.OrNil()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s (got %v)", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("validation failed on '%s' tag", fe.Tag())
	}
}

func (c *Config) validateBroker(cfgErr *ConfigurationError) {
	switch c.Broker.Type {
	case BrokerNATS:
		if c.Broker.NATS.URL == "" {
			cfgErr.Add("broker.nats.url", "is required")
		}
		if c.Broker.NATS.Stream == "" {
			cfgErr.Add("broker.nats.stream", "is required")
		}
		if c.Broker.NATS.Consumer == "" {
			cfgErr.Add("broker.nats.consumer", "is required")
		}
	case BrokerKafka:
		if len(c.Broker.Kafka.Brokers) == 0 {
			cfgErr.Add("broker.kafka.brokers", "at least one broker address is required")
		}
		if c.Broker.Kafka.GroupID == "" {
			cfgErr.Add("broker.kafka.group_id", "is required")
		}
	}
}

func validateTarget(cfgErr *ConfigurationError, prefix string, t TargetConfig) {
	if t.IsCluster() {
		if t.Service.Name == "" {
			cfgErr.Add(prefix+".service.name", "is required in %s mode", t.Discovery.Mode)
		}
		if t.Service.Namespace == "" {
			cfgErr.Add(prefix+".service.namespace", "is required in %s mode", t.Discovery.Mode)
		}
		return
	}
	if t.Discovery.Mode != DiscoveryLocal {
		return
	}
	u, err := url.Parse(t.Local.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		cfgErr.Add(prefix+".local.url", "must be an absolute http(s) URL (got %q)", t.Local.URL)
	}
}

// ValidatePipelines checks only the pipeline list. It returns a
// *ConfigurationError or nil.
func ValidatePipelines(pipelines []Pipeline) error {
	cfgErr := &ConfigurationError{}
	validatePipelines(cfgErr, pipelines)
	return cfgErr.OrNil()
}

// validatePipelines enforces the load-time pipeline invariants. Disabled
// pipelines are never evaluated and only need a unique name when they have one.
func validatePipelines(cfgErr *ConfigurationError, pipelines []Pipeline) {
	seen := make(map[string]int, len(pipelines))

	for i, p := range pipelines {
		field := fmt.Sprintf("pipelines[%d]", i)
		if p.Name != "" {
			if first, dup := seen[p.Name]; dup {
				cfgErr.Add(field+".name", "duplicate pipeline name %q (also pipelines[%d])", p.Name, first)
			} else {
				seen[p.Name] = i
			}
		}

		if !p.Enabled {
			continue
		}
		if p.Name == "" {
			cfgErr.Add(field+".name", "is required for an enabled pipeline")
		}
		if p.Sink.Name == "" {
			cfgErr.Add(field+".sink.name", "is required for an enabled pipeline")
		}
		validateCondition(cfgErr, field+".condition", p.Condition)
	}
}

func validateCondition(cfgErr *ConfigurationError, field string, cond *condition.Condition) {
	if cond == nil {
		return
	}
	switch cond.Match {
	case "", condition.MatchAll, condition.MatchAny:
	default:
		cfgErr.Add(field+".match", "must be %q or %q (got %q)", condition.MatchAll, condition.MatchAny, cond.Match)
	}

	for j, rule := range cond.Rules {
		ruleField := fmt.Sprintf("%s.rules[%d]", field, j)
		if strings.TrimSpace(rule.Field) == "" {
			cfgErr.Add(ruleField+".field", "is required")
		}
		if !condition.IsKnownOperator(rule.Operator) {
			cfgErr.Add(ruleField+".operator", "unknown operator %q", rule.Operator)
		}
	}
}
