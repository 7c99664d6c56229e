package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Units int    `json:"units" validate:"gte=1"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Name:  "Green Fork",
		Email: "kitchen@greenfork.example",
		Units: 12,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Name:  "",
		Email: "invalid",
		Units: 0,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "kg"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"unit"`
	}

	if err := ValidateStruct(custom{Value: "kg"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

func TestNotBlankRejectsWhitespace(t *testing.T) {
	type message struct {
		Content string `json:"content" validate:"notblank"`
	}

	if err := ValidateStruct(message{Content: "  hello "}); err != nil {
		t.Fatalf("expected content to pass, got %v", err)
	}

	err := ValidateStruct(message{Content: " \t\n "})
	if err == nil {
		t.Fatal("expected blank content to fail")
	}
	vErrs, ok := err.(ValidationErrors)
	if !ok || len(vErrs) != 1 || vErrs[0].Tag != "notblank" || vErrs[0].Field != "content" {
		t.Fatalf("unexpected validation errors: %v", err)
	}
}
