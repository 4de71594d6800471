package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into req and checks its validate tags.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", nil)
		return false
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request failed validation", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) map[string]string {
	errs := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["error"] = "invalid request format"
		return errs
	}
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errs[field] = "this field is required"
		case "oneof":
			errs[field] = fmt.Sprintf("must be one of: %s", e.Param())
		case "max":
			errs[field] = fmt.Sprintf("must be at most %s characters", e.Param())
		default:
			errs[field] = "invalid value"
		}
	}
	return errs
}
