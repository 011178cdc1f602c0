package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedSite(t *testing.T) {
	site, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "MaeJoo CNC", site.Brand)
	assert.Len(t, site.Features, 3)
	assert.Equal(t, "Laser Engraving", site.Features[2].Title)
	require.Len(t, site.Highlights, 3)
	assert.Equal(t, "0.01mm", site.Highlights[0].Value)
	assert.NotEmpty(t, site.Docs.Sections)
}

func TestParse_RequiresBrand(t *testing.T) {
	_, err := Parse([]byte("product: MultiSVG\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("brand: [unterminated"))
	assert.Error(t, err)
}
