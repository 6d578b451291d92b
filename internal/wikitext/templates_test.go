package wikitext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTemplates_Basic(t *testing.T) {
	text := `'''Snoek''' is een vis.
{{Taxobox straalvinnige
| orde = [[Esociformes]]
| familie = [[Esocidae]] <!-- snoeken -->
| afbeelding = Esox lucius1.jpg
}}
Meer tekst.`

	templates := ExtractTemplates(text)
	require.Len(t, templates, 1)

	tpl := templates[0]
	assert.Equal(t, "Taxobox straalvinnige", tpl.Name)
	assert.Equal(t, " [[Esociformes]]\n", tpl.Params["orde"])
	assert.Equal(t, " [[Esocidae]] \n", tpl.Params["familie"])
	assert.Equal(t, " Esox lucius1.jpg\n", tpl.Params["afbeelding"])
}

func TestExtractTemplates_PipesInsideLinksAndTemplates(t *testing.T) {
	text := `{{Infobox|naam=[[Esox lucius|snoek]]|bron={{cite|url=http://x.org|titel=X}}|3}}`

	templates := ExtractTemplates(text)
	require.Len(t, templates, 2)

	outer := templates[0]
	assert.Equal(t, "Infobox", outer.Name)
	assert.Equal(t, "[[Esox lucius|snoek]]", outer.Params["naam"])
	assert.Equal(t, "{{cite|url=http://x.org|titel=X}}", outer.Params["bron"])
	assert.Equal(t, "3", outer.Params["1"])

	inner := templates[1]
	assert.Equal(t, "cite", inner.Name)
	assert.Equal(t, "http://x.org", inner.Params["url"])
}

func TestExtractTemplates_Positional(t *testing.T) {
	templates := ExtractTemplates(`{{Lang|nl|snoek}}`)
	require.Len(t, templates, 1)
	assert.Equal(t, map[string]string{"1": "nl", "2": "snoek"}, templates[0].Params)
}

func TestExtractTemplates_SkipsParserFunctionsAndParams(t *testing.T) {
	text := `{{#if:{{{1|}}}|{{Ja}}|nee}} {{{naam|{{Standaard}}}}}`

	templates := ExtractTemplates(text)
	var names []string
	for _, tpl := range templates {
		names = append(names, tpl.Name)
	}
	assert.Equal(t, []string{"Ja", "Standaard"}, names)
}

func TestExtractTemplates_Unbalanced(t *testing.T) {
	templates := ExtractTemplates(`{{Broken|a=1 {{Fine|b=2}}`)
	require.Len(t, templates, 1)
	assert.Equal(t, "Fine", templates[0].Name)
}

func TestExtractTemplates_CommentedOut(t *testing.T) {
	assert.Empty(t, ExtractTemplates(`<!-- {{Taxobox|orde=X}} -->`))
	assert.Empty(t, ExtractTemplates(`<nowiki>{{Taxobox|orde=X}}</nowiki>`))
}

func TestExtractTemplates_EmptyParams(t *testing.T) {
	templates := ExtractTemplates(`{{Taxobox|orde=|=waarde| }}`)
	require.Len(t, templates, 1)
	assert.Equal(t, "", templates[0].Params["orde"])
	assert.Equal(t, "waarde", templates[0].Params[""])
	assert.Equal(t, " ", templates[0].Params["1"])
}
