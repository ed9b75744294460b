package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostBlocklist(t *testing.T) {
	t.Parallel()

	bl := newHostBlocklist([]string{"cars.com", "", "*.facebook.com", ".autotrader.com", "WWW.CarGurus.com"})
	tests := []struct {
		host    string
		blocked bool
	}{
		{host: "cars.com", blocked: true},
		{host: "WWW.Cars.com", blocked: true},
		{host: "dealer.cars.com", blocked: false},
		{host: "facebook.com", blocked: true},
		{host: "m.facebook.com", blocked: true},
		{host: "www.autotrader.com", blocked: true},
		{host: "a.b.autotrader.com", blocked: true},
		{host: "cargurus.com", blocked: true},
		{host: "notfacebook.com", blocked: false},
		{host: "springfieldtoyota.com", blocked: false},
		{host: "", blocked: false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.blocked, bl.Blocked(tt.host), tt.host)
	}

	require.Nil(t, newHostBlocklist([]string{" ", "*."}))
	var empty hostBlocklist
	require.False(t, empty.Blocked("anything"))
}

func TestHostBlocklistSubdomainEntryWins(t *testing.T) {
	t.Parallel()

	bl := newHostBlocklist([]string{"*.example.com", "example.com"})
	require.True(t, bl.Blocked("shop.example.com"))
}
