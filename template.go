package outbound

import (
	"bytes"
	"html/template"

	"github.com/pkg/errors"
)

// RenderFunc renders one template body with parameters. Transports receive it
// so they can render subject and bodies without knowing the template engine.
type RenderFunc func(body string, params map[string]interface{}) (string, error)

// Render executes body as an html/template with params.
func Render(body string, params map[string]interface{}) (string, error) {
	tpl, err := template.New("").Parse(body)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template body")
	}

	out := &bytes.Buffer{}

	if err := tpl.Execute(out, params); err != nil {
		return "", errors.Wrap(err, "failed to execute template body")
	}

	return out.String(), nil
}

// RecipientParams merges payload parameters with the per-recipient fields so
// templates can reference {{.Name}} and {{.Address}}.
func RecipientParams(payload Payload, target *RecipientTarget) map[string]interface{} {
	params := make(map[string]interface{}, len(payload.Params)+2)

	for key, value := range payload.Params {
		params[key] = value
	}

	params["Name"] = target.Name
	params["Address"] = target.Address

	return params
}
