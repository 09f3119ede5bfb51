// Package aff4 is the process-wide entry point for the AFF4 core: a
// single shared resolver and object cache, plus Open/Create for ZIP64
// volumes (spec §6 "Environment/process state").
package aff4

import (
	"sync"

	"github.com/aff4/aff4/aff4zip"
	"github.com/aff4/aff4/objectcache"
	"github.com/aff4/aff4/resolver"
)

var (
	initOnce     sync.Once
	processR     *resolver.Resolver
	processCache *objectcache.Cache
)

func initProcess() {
	processR = resolver.New()
	processCache = objectcache.New(processR, objectcache.DefaultSoftLimit)
	aff4zip.RegisterTypes(processR, processCache)
}

// Resolver returns the single process-wide resolver, initialising it on
// first use.
func Resolver() *resolver.Resolver {
	initOnce.Do(initProcess)
	return processR
}

// Cache returns the single process-wide object cache, initialising it on
// first use.
func Cache() *objectcache.Cache {
	initOnce.Do(initProcess)
	return processCache
}

// Open opens an existing AFF4 volume backed by the OS file at path for
// reading. urnHint, if non-empty, selects which of several coexisting
// central directories to load: the one whose EOCD comment names exactly
// that URN (spec §8 scenario S4). It is the volume's identity when the
// loaded EOCD comment carries no AFF4 URN, and it also drives the
// idempotent-reload check of spec §4.E step 2.
func Open(path string, urnHint string) (*aff4zip.Volume, error) {
	return aff4zip.OpenVolume(Resolver(), Cache(), path, "r", urnHint)
}

// Create opens path for writing, appending to any existing AFF4 content
// found there (spec §4.F) or starting a fresh volume if the file is
// empty, missing, or not a recognisable ZIP. A non-empty urn that differs
// from the existing volume's starts a new volume after it instead. A
// fresh volume started with an empty urn gets a random identity.
func Create(path string, urn string) (*aff4zip.Volume, error) {
	return aff4zip.OpenVolume(Resolver(), Cache(), path, "w", urn)
}
