// Package drivers builds namespace.Config values for each of the five
// namespace flavors in spec.md §4.4's table, so a caller never hand-rolls
// the id-format strings itself.
package drivers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/peermesh/peermesh/namespace"
)

// buildConfig implements the common `{prefix}-{segment}-{level|uuid|p1}`
// shape spec.md §6 uses for every flavor.
func buildConfig(label, prefix, segment string) namespace.Config {
	return namespace.Config{
		Label: label,
		RouterID: func(level int) string {
			return fmt.Sprintf("%s-%s-%d", prefix, segment, level)
		},
		DiscoveryID: func(selfUUID string) string {
			return fmt.Sprintf("%s-%s-%s", prefix, segment, selfUUID)
		},
		PeerSlotID: func() string {
			return fmt.Sprintf("%s-%s-p1", prefix, segment)
		},
	}
}

// NewPublicIPConfig builds the same-network auto-discovery namespace, keyed
// by the local network's IP prefix (e.g. "192-168-1" for a /24).
func NewPublicIPConfig(prefix, ipOctets string) namespace.Config {
	segment := strings.ReplaceAll(ipOctets, ".", "-")
	return buildConfig("public-ip:"+ipOctets, prefix, segment)
}

// NewCustomConfig builds a named-room namespace from a slug (spec.md's
// "custom-ns" entries).
func NewCustomConfig(prefix, slug string) namespace.Config {
	return buildConfig("custom:"+slug, prefix, "ns-"+slug)
}

// Geohasher computes the covering set of geohash cells for a location, per
// spec.md §9's Open Question ("geohash covering algorithm"): geohash math
// is an explicit Non-goal (spec.md §1), so this package never computes a
// hash itself — it's supplied by the embedder. The REDESIGN FLAGS section
// notes the source's covering radius (~150m at precision 7, center plus
// up to four cardinal neighbors); Geohasher implementations should match
// that behavior for interop (spec.md's Edge Cases / S6).
type Geohasher interface {
	// Cover returns 1 to 5 geohash strings (center first) covering lat/lon
	// at the given precision.
	Cover(lat, lon float64, precision int) []string
}

// NewGeoConfig builds the covering set of geo namespaces for a location,
// one namespace.Config per cell (spec.md §4.4's geo driver, §8 S6).
func NewGeoConfig(prefix string, lat, lon float64, precision int, hasher Geohasher) []namespace.Config {
	cells := hasher.Cover(lat, lon, precision)
	if len(cells) > 5 {
		cells = cells[:5]
	}
	cfgs := make([]namespace.Config, 0, len(cells))
	for _, cell := range cells {
		cfgs = append(cfgs, buildConfig("geo:"+cell, prefix, "geo-"+cell))
	}
	return cfgs
}

// NewGroupConfig builds the group chat routing namespace for gid (a
// 16-hex-char groupId, spec.md §6 "Identifiers").
func NewGroupConfig(prefix, gid string) namespace.Config {
	return buildConfig("group:"+gid, prefix, "group-"+gid)
}

// NewRendezvousConfig builds the per-pair reconnection namespace for a
// rendezvous slug derived by identity.RendezvousSlug (spec.md §4.6).
func NewRendezvousConfig(prefix, slug string) namespace.Config {
	return buildConfig("rvz:"+slug, prefix, "rvz-"+slug)
}

// NewGroupID derives a 16-hex-char groupId from a fresh UUID4, per
// spec.md §6's "groupId is 16 hex chars of a UUID".
func NewGroupID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewDiscoveryUUID derives the random 32-hex-char discovery-uuid token
// used as this process's `uuid` in every DiscoveryID closure, per spec.md
// §6's "Identifiers".
func NewDiscoveryUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
