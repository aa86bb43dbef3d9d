// Package validate decides whether a QR form is ready to generate.
//
// Only presence is checked: every required field must be non-empty after
// trimming. No email, phone or URL syntax rules are applied.
package validate

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/qrhub/internal/models"
)

var messages = map[string]string{
	models.FieldText:      "Text is required.",
	models.FieldUPIID:     "UPI ID is required.",
	models.FieldURL:       "URL is required.",
	models.FieldSSID:      "SSID is required.",
	models.FieldFirstName: "First name is required.",
	models.FieldPhone:     "Phone is required.",
}

var required = map[models.Kind][]string{
	models.KindText:  {models.FieldText},
	models.KindUPI:   {models.FieldUPIID},
	models.KindURL:   {models.FieldURL},
	models.KindWiFi:  {models.FieldSSID},
	models.KindVCard: {models.FieldFirstName, models.FieldPhone},
}

// Required returns the names of fields that must be filled for kind.
func Required(kind models.Kind) []string {
	return append([]string(nil), required[kind]...)
}

// Check validates f for kind. It returns nil, or validation.Errors keyed by
// field name.
func Check(kind models.Kind, f models.Fields) error {
	if !kind.Valid() {
		return validation.Errors{"kind": errors.New("unknown qr kind")}
	}
	errs := validation.Errors{}
	for _, name := range required[kind] {
		errs[name] = checkField(name, f.Get(name))
	}
	return errs.Filter()
}

// Ready reports whether f satisfies the minimum requirements for kind.
func Ready(kind models.Kind, f models.Fields) bool {
	return Check(kind, f) == nil
}

// FieldMessage returns the inline message for a single field, as shown when
// the user leaves it. It is empty when the field is fine or not required.
func FieldMessage(kind models.Kind, field string, f models.Fields) string {
	for _, name := range required[kind] {
		if name != field {
			continue
		}
		if err := checkField(name, f.Get(name)); err != nil {
			return err.Error()
		}
	}
	return ""
}

// Messages flattens err (as returned by Check) into a field → message map.
func Messages(err error) map[string]string {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return nil
	}
	out := make(map[string]string, len(errs))
	for k, v := range errs {
		out[k] = v.Error()
	}
	return out
}

func checkField(name, value string) error {
	return validation.Validate(strings.TrimSpace(value), validation.Required.Error(messages[name]))
}
