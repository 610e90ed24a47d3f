package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render("Hi {{.Name}}, the listing at {{.street}} is live", map[string]interface{}{
		"Name":   "Dana",
		"street": "12 Elm St",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, the listing at 12 Elm St is live", out)
}

func TestRenderEscapesHtml(t *testing.T) {
	out, err := Render("<p>{{.Name}}</p>", map[string]interface{}{"Name": "<script>alert(1)</script>"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestRenderBadTemplate(t *testing.T) {
	_, err := Render("Hi {{.Name", nil)
	assert.Error(t, err)
}

func TestRecipientParams(t *testing.T) {
	payload := Payload{Params: map[string]interface{}{"street": "12 Elm St"}}
	target := &RecipientTarget{Name: "Dana", Address: "dana@example.com"}

	params := RecipientParams(payload, target)

	assert.Equal(t, "12 Elm St", params["street"])
	assert.Equal(t, "Dana", params["Name"])
	assert.Equal(t, "dana@example.com", params["Address"])
}
