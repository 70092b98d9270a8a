// Package container wires the limiter's services into a samber/do injector.
package container

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Backend names.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// HTTP client limiting modes.
const (
	ClientLimitPolicy = "policy"
	ClientLimitFlat   = "flat"
)

// Options is populated by humacli from flags and SERVICE_* environment variables.
type Options struct {
	Port             int    `default:"8888"           help:"Port to listen on"                          short:"p" validate:"min=1,max=65535"`
	RedisAddr        string `default:"localhost:6379" help:"Redis server address"                       short:"r" validate:"required,hostname_port"`
	DatabaseURL      string `default:""               help:"Postgres connection URL"                              validate:"required_if=Backend postgres"`
	Backend          string `default:"redis"          help:"Window store: redis, postgres or memory"    short:"b" validate:"oneof=redis postgres memory"`
	Namespace        string `default:"limit"          help:"Prefix of every window key"                           validate:"required"`
	DefaultMax       int64  `default:"3600"           help:"Events allowed per window"                            validate:"min=1"`
	DefaultWindowMs  int64  `default:"3600000"        help:"Window length in milliseconds"                        validate:"min=1,max=9223372036854"`
	ClientLimit      string `default:"policy"         help:"HTTP client limiting: policy or flat"                 validate:"oneof=policy flat"`
	LogFormat        string `default:"console"        help:"Log format: json or console"                          validate:"oneof=json console"`
	InstanceIDLength int    `default:"12"             help:"Length of the instance ID on events"                  validate:"min=4,max=64"`
	ConsumerGroup    string `default:"window-limiter" help:"Redis stream consumer group"                          validate:"required"`
}

// DefaultOptions mirrors the flag defaults for binaries that do not parse flags.
func DefaultOptions() *Options {
	return &Options{
		Port:             8888,
		RedisAddr:        "localhost:6379",
		Backend:          BackendRedis,
		Namespace:        "limit",
		DefaultMax:       3600,
		DefaultWindowMs:  3600000,
		ClientLimit:      ClientLimitPolicy,
		LogFormat:        "console",
		InstanceIDLength: 12,
		ConsumerGroup:    "window-limiter",
	}
}

// DefaultWindow returns the configured window as a duration.
func (o *Options) DefaultWindow() time.Duration {
	return time.Duration(o.DefaultWindowMs) * time.Millisecond
}

// Validate checks the options against their struct tags.
func (o *Options) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(o); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatValidationError(e))
	}

	return errors.New("invalid options: " + strings.Join(messages, "; "))
}

func formatValidationError(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return field + " must be a valid host:port"
	default:
		return fmt.Sprintf("%s failed %s", field, e.Tag())
	}
}
