// Package blobref resolves stored file references to fetchable URLs.
//
// Submission inputs, artifacts and challenge assets are persisted under
// relative keys. In production the object store already hands out absolute
// URLs, while in local development the same keys live behind a media dev
// server, so the resolver has to know which environment it is running in.
package blobref

import (
	"net/url"
	"strings"
)

type Mode string

const (
	ModeLocal      Mode = "local"
	ModeProduction Mode = "production"
)

type Resolver struct {
	mode      Mode
	mediaBase string // e.g. http://localhost:8000/media
}

func NewResolver(mode Mode, mediaBase string) *Resolver {
	return &Resolver{
		mode:      mode,
		mediaBase: strings.TrimRight(mediaBase, "/"),
	}
}

// Resolve turns a stored file reference into an absolute fetchable URL.
// References that are already absolute are returned unchanged, as are
// references in production mode where the store hands out absolute URLs
// itself. Malformed input is returned as-is; there is nothing smarter to do
// with it here and the download path will report the real error.
func (r *Resolver) Resolve(ref string) string {
	if ref == "" {
		return ref
	}
	if isAbsolute(ref) {
		return ref
	}
	if r.mode == ModeProduction {
		return ref
	}
	return r.mediaBase + "/" + strings.TrimLeft(ref, "/")
}

func isAbsolute(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
