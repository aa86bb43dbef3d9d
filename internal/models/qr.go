// Package models defines the domain types for QR Tools Hub.
package models

import (
	"fmt"
	"strings"
)

// Kind is the QR use-case template selected by the user.
type Kind string

const (
	KindText  Kind = "text"
	KindUPI   Kind = "upi"
	KindURL   Kind = "url"
	KindWiFi  Kind = "wifi"
	KindVCard Kind = "vcard"
)

// Kinds returns every supported kind in display order.
func Kinds() []Kind {
	return []Kind{KindText, KindUPI, KindURL, KindWiFi, KindVCard}
}

// ParseKind converts s to a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown qr kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindUPI, KindURL, KindWiFi, KindVCard:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Form field names.
const (
	FieldText       = "text"
	FieldUPIID      = "upiId"
	FieldAmount     = "amount"
	FieldURL        = "url"
	FieldSSID       = "ssid"
	FieldPassword   = "password"
	FieldFirstName  = "firstName"
	FieldMiddleName = "middleName"
	FieldSurname    = "surname"
	FieldPhone      = "phone"
	FieldEmail      = "email"
)

var kindFields = map[Kind][]string{
	KindText:  {FieldText},
	KindUPI:   {FieldUPIID, FieldAmount},
	KindURL:   {FieldURL},
	KindWiFi:  {FieldSSID, FieldPassword},
	KindVCard: {FieldFirstName, FieldMiddleName, FieldSurname, FieldPhone, FieldEmail},
}

// FieldsFor returns the field names meaningful for k.
func FieldsFor(k Kind) []string {
	return append([]string(nil), kindFields[k]...)
}

// KnownField reports whether name is a field of any kind.
func KnownField(name string) bool {
	for _, names := range kindFields {
		for _, n := range names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// Fields holds raw form input keyed by field name. Missing keys read as "".
type Fields map[string]string

// Get returns the value of name, or "" when unset.
func (f Fields) Get(name string) string {
	if f == nil {
		return ""
	}
	return f[name]
}

// Clone returns an independent copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is a persisted summary of one past generation.
// Content holds the display label, not the encoded payload.
type Record struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	QRDataURL string `json:"qrDataUrl"`
}
