// Package content builds QR payload strings and short display labels from form fields.
package content

import (
	"strings"

	"github.com/starford/qrhub/internal/models"
)

// Payload returns the literal string to encode for kind. It never fails:
// missing fields read as empty strings.
func Payload(kind models.Kind, f models.Fields) string {
	switch kind {
	case models.KindUPI:
		var b strings.Builder
		b.WriteString("upi://pay?pa=")
		b.WriteString(f.Get(models.FieldUPIID))
		b.WriteString("&pn=Payment")
		if amount := f.Get(models.FieldAmount); amount != "" {
			b.WriteString("&am=")
			b.WriteString(amount)
		}
		b.WriteString("&cu=INR")
		return b.String()
	case models.KindURL:
		return normalizeURL(f.Get(models.FieldURL))
	case models.KindWiFi:
		return "WIFI:T:WPA;S:" + f.Get(models.FieldSSID) + ";P:" + f.Get(models.FieldPassword) + ";;"
	case models.KindVCard:
		return strings.Join([]string{
			"BEGIN:VCARD",
			"VERSION:3.0",
			"FN:" + FullName(f),
			"TEL:" + f.Get(models.FieldPhone),
			"EMAIL:" + f.Get(models.FieldEmail),
			"END:VCARD",
		}, "\n")
	default:
		return f.Get(models.FieldText)
	}
}

// Label returns the short caption used on screen and in history.
// It is lossy: the original fields cannot be rebuilt from it.
func Label(kind models.Kind, f models.Fields) string {
	switch kind {
	case models.KindUPI:
		id := f.Get(models.FieldUPIID)
		if amount := f.Get(models.FieldAmount); amount != "" {
			return id + " - ₹" + amount
		}
		return id
	case models.KindURL:
		return normalizeURL(f.Get(models.FieldURL))
	case models.KindWiFi:
		if f.Get(models.FieldPassword) != "" {
			return f.Get(models.FieldSSID) + " (Protected)"
		}
		return f.Get(models.FieldSSID) + " (Open)"
	case models.KindVCard:
		return FullName(f)
	default:
		return f.Get(models.FieldText)
	}
}

// FullName joins first, middle and surname with single spaces, skipping blanks.
func FullName(f models.Fields) string {
	parts := make([]string, 0, 3)
	for _, name := range []string{models.FieldFirstName, models.FieldMiddleName, models.FieldSurname} {
		if v := strings.TrimSpace(f.Get(name)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func normalizeURL(u string) string {
	if strings.HasPrefix(u, "http") {
		return u
	}
	return "https://" + u
}
