package core

import (
	"errors"
	"strings"
	"testing"

	"dryday/internal/types"
)

type testLocation struct {
	City    string   `json:"city" validate:"city_name"`
	Lat     *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon     *float64 `json:"lon" validate:"omitempty,longitude"`
	Variant string   `json:"variant" validate:"omitempty,oneof=rule prophet xgboost"`
}

type testQuery struct {
	Q string `json:"q" validate:"required,min=2"`
}

func ptr(f float64) *float64 { return &f }

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(discardLogger())

	if err := v.ValidateStruct(testLocation{City: "London", Lat: ptr(51.5), Lon: ptr(-0.12)}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := v.ValidateStruct(testLocation{}); err != nil {
		t.Errorf("blank city must pass so coordinates can be used, got %v", err)
	}
}

func TestValidateStruct_Failures(t *testing.T) {
	v := NewValidator(discardLogger())

	tests := []struct {
		name      string
		input     any
		wantCode  types.ErrorCode
		wantField string
	}{
		{"latitude out of range", testLocation{Lat: ptr(91)}, types.ErrCodeValidationInvalidLat, "lat"},
		{"longitude out of range", testLocation{Lon: ptr(-181)}, types.ErrCodeValidationInvalidLon, "lon"},
		{"unknown variant", testLocation{Variant: "lstm"}, types.ErrCodeValidationInvalidField, "variant"},
		{"city too long", testLocation{City: strings.Repeat("x", 101)}, types.ErrCodeValidationInvalidField, "city"},
		{"city control chars", testLocation{City: "Lon\x00don"}, types.ErrCodeValidationInvalidField, "city"},
		{"missing query", testQuery{}, types.ErrCodeValidationMissingField, "q"},
		{"short query", testQuery{Q: "l"}, types.ErrCodeValidationInvalidQuery, "q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.input)

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T (%v)", err, err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", appErr.Code, tt.wantCode)
			}
			errs, ok := appErr.Details["validation_errors"].([]ValidationError)
			if !ok || len(errs) == 0 {
				t.Fatalf("expected validation_errors detail, got %v", appErr.Details)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.wantField)
			}
			if appErr.HTTPStatus() != 400 {
				t.Errorf("status = %d, want 400", appErr.HTTPStatus())
			}
		})
	}
}

func TestValidateStruct_NotAStruct(t *testing.T) {
	v := NewValidator(discardLogger())

	err := v.ValidateStruct("London")

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("expected internal error for non-struct input, got %v", err)
	}
}
