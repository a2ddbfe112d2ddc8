package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	pkgoauth "mcpauth/pkg/oauth"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateServerName checks that a server name is usable as a map key and CLI argument.
func ValidateServerName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ValidationError{Field: "name", Value: name, Message: "is required"}
	}
	if len(name) > 100 {
		return ValidationError{Field: "name", Value: name, Message: "must not exceed 100 characters"}
	}
	if strings.ContainsAny(name, " /\\") {
		return ValidationError{Field: "name", Value: name, Message: "cannot contain spaces or slashes"}
	}
	return nil
}

// ValidateServerURL checks that raw is an absolute http(s) URL. Plain http is
// only accepted for loopback hosts.
func ValidateServerURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ValidationError{Field: field, Value: raw, Message: "must be an absolute URL"}
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if pkgoauth.IsLoopbackHost(u.Hostname()) {
			return nil
		}
		return ValidationError{Field: field, Value: raw, Message: "must use https"}
	default:
		return ValidationError{Field: field, Value: raw, Message: "must use https"}
	}
}

// Validate checks the callback port and every server entry.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		errs.Add("callbackPort", "must be a valid TCP port", c.CallbackPort)
	}

	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ValidateServerName(name); err != nil {
			errs.Add("servers", err.Error(), name)
			continue
		}
		field := fmt.Sprintf("servers.%s.url", name)
		if err := ValidateServerURL(field, c.Servers[name].URL); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
