package aff4zip

import (
	"fmt"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/objectcache"
	"github.com/aff4/aff4/resolver"
	"github.com/aff4/aff4/urn"
)

// RegisterTypes wires the constructors the object cache needs to lazily
// reconstruct segments and backing files purely from a URN (spec §4.C
// step 3). AFF4_ZIP_VOLUME is deliberately left unregistered: a Volume
// carries append-in-progress state (directoryOffset) that a
// stateless constructor can't recover, so volumes are always opened
// explicitly through OpenVolume rather than lazily through cache.Open
// (see DESIGN.md).
func RegisterTypes(r *resolver.Resolver, cache *objectcache.Cache) {
	ensureFileConstructor(r, cache)
	cache.Register(resolver.TypeSegment, func(u *urn.URN, mode string) (objectcache.Object, error) {
		if mode != "r" {
			return nil, fmt.Errorf("aff4zip: segment %s can only be reconstructed for read: %w", u.Value(), aff4error.ErrRuntime)
		}
		return newSegmentForRead(r, cache, u)
	})
}
