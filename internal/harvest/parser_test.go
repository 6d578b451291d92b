package harvest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/harvester/internal/model"
)

func newParserEnv() (*Env, *fakeWiki, *fakeWiki, *fakeRepo) {
	wiki := newFakeWiki("nlwiki")
	media := newFakeWiki("commonswiki")
	repo := newFakeRepo()
	return &Env{Wiki: wiki, Media: media, Repo: repo, Writer: &fakeWriter{}}, wiki, media, repo
}

func TestParseItem_LinkMarkup(t *testing.T) {
	env, wiki, _, repo := newParserEnv()
	wiki.addPage("Actinopterygii", 0)
	repo.items["Actinopterygii"] = "Q127282"

	for _, raw := range []string{
		"[[Actinopterygii]]",
		"[[Actinopterygii|Straalvinnigen]]",
		"''[[Actinopterygii]]'' (straalvinnigen)",
		"Actinopterygii",
		"actinopterygii",
		"[[Actinopterygii#Kenmerken|x]]",
	} {
		t.Run(raw, func(t *testing.T) {
			value, skip := NewParser(env).Parse(context.Background(), model.KindItem, raw, model.NewEntity("Q1"))
			require.Nil(t, skip)
			assert.Equal(t, model.ItemValue("Q127282"), value)
		})
	}
}

func TestParseItem_FollowsOneRedirect(t *testing.T) {
	env, wiki, _, repo := newParserEnv()
	wiki.addRedirect("Straalvinnigen", "Actinopterygii", 0)
	wiki.addPage("Actinopterygii", 0)
	repo.items["Actinopterygii"] = "Q127282"

	value, skip := NewParser(env).Parse(context.Background(), model.KindItem, "[[Straalvinnigen]]", model.NewEntity("Q1"))
	require.Nil(t, skip)
	assert.Equal(t, "Q127282", value.Item)
}

func TestParseItem_Skips(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason SkipReason
	}{
		{"missing page", "xyz-not-a-page", SkipTargetMissing},
		{"redirect to missing page", "[[Kapot]]", SkipTargetMissing},
		{"no item", "[[Zonder item]]", SkipNoLinkedItem},
		{"self link", "[[Baars]]", SkipSelfLink},
		{"self link through redirect", "[[Perca fluviatilis]]", SkipSelfLink},
		{"invalid title", "a {{b}} c", SkipInvalidTitle},
		{"empty link", "[[]]", SkipInvalidTitle},
	}

	env, wiki, _, repo := newParserEnv()
	wiki.addPage("Zonder item", 0).addPage("Baars", 0)
	wiki.addRedirect("Kapot", "Weg", 0)
	wiki.addRedirect("Perca fluviatilis", "Baars", 0)
	repo.items["Baars"] = "Q5"

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, skip := NewParser(env).Parse(context.Background(), model.KindItem, tt.raw, model.NewEntity("Q5"))
			require.NotNil(t, skip)
			assert.Equal(t, tt.reason, skip.Reason)
		})
	}
}

func TestParseItem_LookupFailure(t *testing.T) {
	env, wiki, _, _ := newParserEnv()
	wiki.fail = errTransport

	_, skip := NewParser(env).Parse(context.Background(), model.KindItem, "[[Baars]]", model.NewEntity("Q5"))
	require.NotNil(t, skip)
	assert.Equal(t, SkipLookupFailed, skip.Reason)
	assert.Contains(t, skip.Error(), "connection reset")
}

func TestParseText(t *testing.T) {
	env, _, _, _ := newParserEnv()
	p := NewParser(env)

	value, skip := p.Parse(context.Background(), model.KindString, "Linnaeus, 1758", model.NewEntity("Q1"))
	require.Nil(t, skip)
	assert.Equal(t, model.TextValue(model.KindString, "Linnaeus, 1758"), value)

	value, skip = p.Parse(context.Background(), model.KindExternalID, "[[not a link]]", model.NewEntity("Q1"))
	require.Nil(t, skip)
	assert.Equal(t, "[[not a link]]", value.Text)
}

func TestParseURL(t *testing.T) {
	env, _, _, _ := newParserEnv()
	p := NewParser(env)

	value, skip := p.Parse(context.Background(), model.KindURL, "[http://example.org/x label]", model.NewEntity("Q1"))
	require.Nil(t, skip)
	assert.Equal(t, model.TextValue(model.KindURL, "http://example.org/x"), value)

	for _, raw := range []string{"example.org", "www.example.org/x", "geen website"} {
		_, skip := p.Parse(context.Background(), model.KindURL, raw, model.NewEntity("Q1"))
		require.NotNil(t, skip, raw)
		assert.Equal(t, SkipNoURL, skip.Reason)
	}
}

func TestParseMedia(t *testing.T) {
	env, wiki, media, _ := newParserEnv()
	media.addPage("File:Perca fluviatilis.jpg", 6)
	media.addRedirect("File:Baars.jpg", "File:Perca fluviatilis.jpg", 6)
	wiki.addPage("File:Lokaal.jpg", 6)
	p := NewParser(env)
	ctx := context.Background()

	value, skip := p.Parse(ctx, model.KindCommonsMedia, "Perca fluviatilis.jpg", model.NewEntity("Q1"))
	require.Nil(t, skip)
	assert.Equal(t, model.TextValue(model.KindCommonsMedia, "Perca fluviatilis.jpg"), value)

	value, skip = p.Parse(ctx, model.KindCommonsMedia, "Image:Baars.jpg", model.NewEntity("Q1"))
	require.Nil(t, skip)
	assert.Equal(t, "Perca fluviatilis.jpg", value.Text)

	_, skip = p.Parse(ctx, model.KindCommonsMedia, "Lokaal.jpg", model.NewEntity("Q1"))
	require.NotNil(t, skip)
	assert.Equal(t, SkipFileMissing, skip.Reason)
	assert.Empty(t, wiki.lookups, "files resolve on the media repository only")

	_, skip = p.Parse(ctx, model.KindCommonsMedia, "Category:Perca", model.NewEntity("Q1"))
	require.NotNil(t, skip)
	assert.Equal(t, SkipInvalidTitle, skip.Reason)
}

func TestParseUnsupported(t *testing.T) {
	env, wiki, media, repo := newParserEnv()
	p := NewParser(env)

	for _, raw := range []string{"", "[[Baars]]", "http://example.org", "12 kg"} {
		_, skip := p.Parse(context.Background(), model.KindUnsupported, raw, model.NewEntity("Q1"))
		require.NotNil(t, skip)
		assert.Equal(t, SkipUnsupportedDatatype, skip.Reason)
	}
	assert.Empty(t, wiki.lookups)
	assert.Empty(t, media.lookups)
	assert.Zero(t, repo.itemLookups)
}
