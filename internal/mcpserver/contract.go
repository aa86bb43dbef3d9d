package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/qrhub/internal/content"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/validate"
)

// KindsURI is the resource describing the kinds contract.
const KindsURI = "qrhub://kinds"

var sampleFields = map[models.Kind]models.Fields{
	models.KindText:  {models.FieldText: "Hello, world"},
	models.KindUPI:   {models.FieldUPIID: "merchant@bank", models.FieldAmount: "250"},
	models.KindURL:   {models.FieldURL: "example.com"},
	models.KindWiFi:  {models.FieldSSID: "HomeNet", models.FieldPassword: "s3cret"},
	models.KindVCard: {models.FieldFirstName: "Asha", models.FieldSurname: "Rao", models.FieldPhone: "+91 98450 00000", models.FieldEmail: "asha@example.com"},
}

// KindsContract renders the list of kinds, their fields and an example
// payload for each, as Markdown.
func KindsContract() string {
	var b strings.Builder
	b.WriteString("# QR kinds\n\n")
	b.WriteString("Pass `kind` and a flat `fields` object of strings to `generate_qr`.\n")
	b.WriteString("Only presence is validated; values are encoded verbatim.\n")

	for _, k := range models.Kinds() {
		required := make(map[string]bool)
		for _, name := range validate.Required(k) {
			required[name] = true
		}
		fmt.Fprintf(&b, "\n## %s\n\n", k)
		for _, name := range models.FieldsFor(k) {
			if required[name] {
				fmt.Fprintf(&b, "- `%s` (required)\n", name)
			} else {
				fmt.Fprintf(&b, "- `%s`\n", name)
			}
		}
		fmt.Fprintf(&b, "\nExample payload:\n\n```\n%s\n```\n", content.Payload(k, sampleFields[k]))
	}
	return b.String()
}
