// Package validation decodes request bodies and checks them against struct
// tags, reporting failures as apierror issues keyed by JSON field name.
//
// Create inputs use plain fields with "required". Update inputs use pointer
// fields with "omitnil": a field absent from the body (or sent as null) is
// nil and skipped, while a present field is validated in full. Optional
// formatted strings use "len=0|email" so that a blank value clears the field.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/crm-platform/crm/internal/apierror"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// DecodeJSON reads the request body into dst. An empty body decodes as {} so
// that missing required fields surface as validation issues rather than a
// parse error. A value of the wrong JSON type is reported as a 422 issue on
// that field; any other malformed body is a 400.
func DecodeJSON(c *gin.Context, dst any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return apierror.BadRequest("Invalid request: unreadable body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &apierror.ValidationError{Issues: []apierror.Issue{{
				Path:    strings.Split(typeErr.Field, "."),
				Code:    "invalid_type",
				Message: fmt.Sprintf("Expected %s, received %s", typeErr.Type.Kind(), typeErr.Value),
			}}}
		}
		return apierror.BadRequest("Invalid request: " + err.Error())
	}
	return nil
}

// Bind decodes the body into dst and validates it.
func Bind(c *gin.Context, dst any) error {
	if err := DecodeJSON(c, dst); err != nil {
		return err
	}
	return Struct(dst)
}

// Struct trims every string field of s (a pointer to a struct) and validates
// it. The result is nil or an *apierror.ValidationError.
func Struct(s any) error {
	TrimStrings(s)

	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}

	issues := make([]apierror.Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, toIssue(fe))
	}
	return &apierror.ValidationError{Issues: issues}
}

// Var validates a single value against tag, reporting issues under field.
func Var(field string, value any, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate %s: %w", field, err)
	}
	issue := toIssue(fieldErrs[0])
	issue.Path = []string{field}
	return &apierror.ValidationError{Issues: []apierror.Issue{issue}}
}

// TrimStrings trims surrounding whitespace from the string and *string
// fields of the struct s points to.
func TrimStrings(s any) {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Kind() == reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case f.Kind() == reflect.Pointer && !f.IsNil() && f.Elem().Kind() == reflect.String:
			f.Elem().SetString(strings.TrimSpace(f.Elem().String()))
		}
	}
}

func toIssue(fe validator.FieldError) apierror.Issue {
	path := strings.Split(fe.Namespace(), ".")
	if len(path) > 1 {
		path = path[1:]
	}
	code, message := describe(fe)
	return apierror.Issue{Path: path, Code: code, Message: message}
}

func describe(fe validator.FieldError) (string, string) {
	numeric := false
	switch fe.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		numeric = true
	}

	// "len=0|email" style alternatives report on their last branch.
	tag := fe.Tag()
	if i := strings.LastIndex(tag, "|"); i >= 0 {
		tag = tag[i+1:]
	}

	switch tag {
	case "required":
		return "invalid_type", "Required"
	case "email":
		return "invalid_string", "Invalid email"
	case "uuid", "uuid4":
		return "invalid_string", "Invalid uuid"
	case "url", "http_url":
		return "invalid_string", "Invalid url"
	case "slug":
		return "invalid_string", "Must contain only lowercase letters, numbers and dashes"
	case "len":
		return "invalid_string", fmt.Sprintf("String must contain exactly %s character(s)", fe.Param())
	case "oneof":
		options := strings.Fields(fe.Param())
		return "invalid_enum_value", fmt.Sprintf("Invalid enum value. Expected '%s'", strings.Join(options, "' | '"))
	case "min", "gte":
		if numeric {
			return "too_small", "Number must be greater than or equal to " + fe.Param()
		}
		return "too_small", fmt.Sprintf("String must contain at least %s character(s)", fe.Param())
	case "max", "lte":
		if numeric {
			return "too_big", "Number must be less than or equal to " + fe.Param()
		}
		return "too_big", fmt.Sprintf("String must contain at most %s character(s)", fe.Param())
	default:
		return "custom", "Invalid value"
	}
}

// Time accepts RFC 3339 timestamps and bare dates (2006-01-02) from date
// inputs. An empty string decodes to the zero Time, which clears the field
// on update.
type Time struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &json.UnmarshalTypeError{Value: string(data), Type: reflect.TypeOf("")}
	}
	if strings.TrimSpace(raw) == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", raw)
}

// Std converts an optional Time to the *time.Time the models use. Absent
// and empty both map to nil.
func (t *Time) Std() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
