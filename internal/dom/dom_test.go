package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixture = `<html><head><title> 2021 Toyota Camry </title><script>var price = "$1";</script></head>
<body><div class="addr" id="Dealer">Visit <b>123 Main St</b><br>Springfield, IL 62704</div>
<style>.x{}</style><p>Mileage:&nbsp;12,345</p></body></html>`

func TestStripRemovesLowSignalTags(t *testing.T) {
	t.Parallel()

	doc, err := Parse(fixture)
	require.NoError(t, err)
	stripped := Strip(doc)

	require.Zero(t, stripped.Find("script, style").Length())
	require.Equal(t, 1, doc.Find("script").Length(), "original must be untouched")
}

func TestOwnTextAndText(t *testing.T) {
	t.Parallel()

	doc, err := Parse(fixture)
	require.NoError(t, err)
	addr := doc.Find("div.addr")

	require.Equal(t, "Visit Springfield, IL 62704", OwnText(addr))
	require.Equal(t, "Visit 123 Main St Springfield, IL 62704", Text(addr))
	require.Equal(t, "addr dealer", Attrs(addr))
	require.Equal(t, "Mileage: 12,345", OwnText(doc.Find("p")))
}

func TestPageTextOmitsScripts(t *testing.T) {
	t.Parallel()

	doc, err := Parse(fixture)
	require.NoError(t, err)
	text := PageText(doc)

	require.Contains(t, text, "Springfield")
	require.False(t, strings.Contains(text, "var price"))
}
