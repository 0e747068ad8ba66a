package drivers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHasher struct {
	cells []string
}

func (f fakeHasher) Cover(lat, lon float64, precision int) []string {
	return f.cells
}

func TestPublicIPConfigFormats(t *testing.T) {
	cfg := NewPublicIPConfig("peerns", "192.168.1")
	require.Equal(t, "peerns-192-168-1-1", cfg.RouterID(1))
	require.Equal(t, "peerns-192-168-1-abc123", cfg.DiscoveryID("abc123"))
	require.Equal(t, "peerns-192-168-1-p1", cfg.PeerSlotID())
}

func TestCustomConfigFormats(t *testing.T) {
	cfg := NewCustomConfig("peerns", "family-room")
	require.Equal(t, "peerns-ns-family-room-3", cfg.RouterID(3))
	require.Equal(t, "peerns-ns-family-room-p1", cfg.PeerSlotID())
}

func TestGeoConfigOneConfigPerCell(t *testing.T) {
	cfgs := NewGeoConfig("peerns", 37.0, -122.0, 7, fakeHasher{cells: []string{"9q8yyk8", "9q8yyk9"}})
	require.Len(t, cfgs, 2)
	require.Equal(t, "peerns-geo-9q8yyk8-1", cfgs[0].RouterID(1))
	require.Equal(t, "peerns-geo-9q8yyk9-1", cfgs[1].RouterID(1))
}

func TestGeoConfigTruncatesAtFive(t *testing.T) {
	cells := make([]string, 8)
	for i := range cells {
		cells[i] = fmt.Sprintf("cell%d", i)
	}
	cfgs := NewGeoConfig("peerns", 0, 0, 7, fakeHasher{cells: cells})
	require.Len(t, cfgs, 5)
}

func TestGroupAndRendezvousConfigFormats(t *testing.T) {
	g := NewGroupConfig("peerns", "0123456789abcdef")
	require.Equal(t, "peerns-group-0123456789abcdef-1", g.RouterID(1))

	r := NewRendezvousConfig("peerns", "sOmeSlug-_")
	require.Equal(t, "peerns-rvz-sOmeSlug-_-1", r.RouterID(1))
}

func TestNewGroupIDLength(t *testing.T) {
	require.Len(t, NewGroupID(), 16)
}

func TestNewDiscoveryUUIDLength(t *testing.T) {
	require.Len(t, NewDiscoveryUUID(), 32)
}
