// Package respond writes the JSON envelopes shared by all API handlers.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JSON writes data wrapped in the response envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Data: data})
}

// Fail writes err wrapped in the response envelope.
func Fail(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(Response{Error: err})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// maxBodyBytes bounds request bodies decoded by Decode.
const maxBodyBytes = 1 << 20

var (
	validate = newValidator()
	slugRE   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// newValidator reports fields by their JSON names and knows the severity
// and slug tags.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return models.Severity(fl.Field().String()).Valid()
	})
	v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRE.MatchString(fl.Field().String())
	})
	return v
}

// Decode reads a JSON body into dst and validates its struct tags. The
// returned error is ready to be written with Fail.
func Decode(w http.ResponseWriter, r *http.Request, dst any) *Error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return Validation(Describe(err))
	}
	return nil
}

// Describe turns a validator error into a short message naming the first
// failing field.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fe.Field() + " failed " + fe.Tag() + "=" + fe.Param()
		}
		return fe.Field() + " failed " + fe.Tag()
	}
	return err.Error()
}
