// Package validator runs struct tag rules and named domain rules and
// reports every failure at once as an *errorx.ValidationError.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,30}$`)

// Rule is a named check over state the struct tags cannot see, such as
// the contents of a store. A non-nil error aborts the run.
type Rule struct {
	Field   string
	Message string
	Check   func(ctx context.Context) (bool, error)
}

// Engine validates request structs
type Engine struct {
	validate *validator.Validate
}

// New creates an engine with the domain tags registered: "clientid" for
// client identifiers, "absurl" for absolute URIs and "grant" for known
// grant types.
func New() *Engine {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("clientid", func(fl validator.FieldLevel) bool {
		return clientIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("absurl", func(fl validator.FieldLevel) bool {
		return IsAbsoluteURI(fl.Field().String())
	})
	_ = v.RegisterValidation("grant", func(fl validator.FieldLevel) bool {
		return slices.Contains(types.KnownGrantTypes, fl.Field().String())
	})
	return &Engine{validate: v}
}

// IsAbsoluteURI reports whether s parses as a URI with scheme and host.
func IsAbsoluteURI(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// Validate runs the struct tags of target (when non-nil) and then every
// rule, collecting all failures.
func (e *Engine) Validate(ctx context.Context, target any, rules ...Rule) error {
	result := &errorx.ValidationError{}
	if target != nil {
		if err := e.validate.StructCtx(ctx, target); err != nil {
			var fieldErrs validator.ValidationErrors
			if !errors.As(err, &fieldErrs) {
				return err
			}
			for _, fe := range fieldErrs {
				result.Add(fieldPath(fe), message(fe))
			}
		}
	}
	for _, r := range rules {
		ok, err := r.Check(ctx)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.Field, err)
		}
		if !ok {
			result.Add(r.Field, r.Message)
		}
	}
	return result.OrNil()
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "clientid":
		return "must be 8 to 30 characters of letters, digits, '_' or '-'"
	case "absurl":
		return "must be an absolute URI"
	case "grant":
		return "is not a supported grant type"
	}
	return fmt.Sprintf("failed on %s", fe.Tag())
}
