package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealer-gatherer/internal/bots"
	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/dom"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

const searchPage = `<html><body>
<div class="results">
  <a href="/used-2021-toyota-camry-se-4T1G11AK2MU100001">2021 Toyota Camry SE</a>
  <a href="/used-2021-toyota-camry-se-4T1G11AK2MU100001#photos">Photos</a>
  <a href="/vehicle-details/2020-honda-accord-lx">2020 Honda Accord LX</a>
  <a href="https://dealer.example.com/inventory?vin=1HGCV1F13LA000002">Accord</a>
  <a href="https://other.example.com/used-2019-ford-f-150-xlt">Elsewhere</a>
  <a href="/finance/">Finance</a>
  <a href="javascript:void(0)">Compare</a>
</div>
<nav>
  <a href="/used-inventory/?page=2" rel="next">2</a>
  <a href="/used-inventory/?page=3">Next</a>
</nav>
</body></html>`

func TestRetrieveBaseURLs(t *testing.T) {
	t.Parallel()

	bot := New(bots.Deps{})
	urls, err := bot.RetrieveBaseURLs(context.Background(), crawler.DataSource{URL: "http://dealer.example.com/home"})
	require.NoError(t, err)
	require.Len(t, urls, len(DefaultPaths))
	require.Equal(t, "http://dealer.example.com/used-inventory/", urls[0])

	_, err = bot.RetrieveBaseURLs(context.Background(), crawler.DataSource{URL: "dealer"})
	require.Error(t, err)
}

func TestGatherProductURLs(t *testing.T) {
	t.Parallel()

	doc, err := dom.Parse(searchPage)
	require.NoError(t, err)
	page := &transport.Page{URL: "https://dealer.example.com/used-inventory/", Doc: doc}

	listings, next, err := New(bots.Deps{}).GatherProductURLs(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://dealer.example.com/used-2021-toyota-camry-se-4T1G11AK2MU100001",
		"https://dealer.example.com/vehicle-details/2020-honda-accord-lx",
		"https://dealer.example.com/inventory?vin=1HGCV1F13LA000002",
	}, listings)
	require.Equal(t, []string{
		"https://dealer.example.com/used-inventory/?page=2",
		"https://dealer.example.com/used-inventory/?page=3",
	}, next)

	_, _, err = New(bots.Deps{}).GatherProductURLs(context.Background(), &transport.Page{})
	require.Error(t, err)
}

func TestIsListing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{url: "https://d.example/used-2021-toyota-camry-se-abc", want: true},
		{url: "https://d.example/vdp/12345/", want: true},
		{url: "https://d.example/cars/4T1G11AK2MU100001", want: true},
		{url: "https://d.example/used-inventory/", want: false},
		{url: "https://d.example/service/schedule", want: false},
		{url: "https://d.example/used-inventory/?page=2", want: false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, IsListing(tt.url), tt.url)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	registry := bots.NewRegistry()
	require.NoError(t, Register(registry))
	require.True(t, registry.Has("Dealer-Inventory"))
	require.ErrorIs(t, Register(registry), bots.ErrDuplicateBot)

	bot, err := registry.New(Key, bots.Deps{})
	require.NoError(t, err)
	_, err = bot.BuildProduct(context.Background(), pipeline.Source{}, &transport.Page{})
	require.Error(t, err)
}
