package image

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

var (
	ErrInvalidImageRef   = errors.New("invalid image reference")
	ErrBlankImageRef     = errors.Wrap(ErrInvalidImageRef, "blank image name")
	ErrMalformedImageRef = errors.Wrap(ErrInvalidImageRef, `expected image reference as <domain>/<path>[:<tag>][@<digest>]`)
)

// Name is an unversioned image, i.e., a repository in a registry.
// Artifacts always live in a registry we were told about, so unlike
// references found in the wild the domain is never implied.
//
// Examples (stringified):
//   * registry.example.com/shop/orders
//   * localhost:5000/orders
type Name struct {
	Domain, Image string
}

func (n Name) String() string {
	if n.Image == "" {
		return ""
	}
	if n.Domain == "" {
		return n.Image
	}
	return n.Domain + "/" + n.Image
}

// Registry returns the host (and port, if any) of the registry.
func (n Name) Registry() string {
	return n.Domain
}

// Repository returns the path of the repository within the registry.
func (n Name) Repository() string {
	return n.Image
}

// ToRef makes a reference to a tagged version of the repository.
func (n Name) ToRef(tag string) Ref {
	return Ref{Name: n, Tag: tag}
}

// Ref is a versioned image. The tag names the version; the digest, when
// present, pins the exact content that was pushed.
//
// Examples (stringified):
//   * registry.example.com/shop/orders:4f2a9c1e0b7d3a55
//   * localhost:5000/orders:4f2a9c1e0b7d3a55@sha256:9b2c...
type Ref struct {
	Name
	Tag    string
	Digest digest.Digest
}

func (r Ref) String() string {
	var tag, dgst string
	if r.Tag != "" {
		tag = ":" + r.Tag
	}
	if r.Digest != "" {
		dgst = "@" + r.Digest.String()
	}
	return r.Name.String() + tag + dgst
}

// Pinned returns the reference a runtime should use: by digest where
// known, otherwise by tag.
func (r Ref) Pinned() string {
	if r.Digest != "" {
		return r.Name.String() + "@" + r.Digest.String()
	}
	return r.String()
}

// WithDigest makes a copy of the Ref, pinned to the given digest.
func (r Ref) WithDigest(d digest.Digest) Ref {
	r.Digest = d
	return r
}

// ParseRef parses the string form of an image reference. A digest,
// if given, must be valid.
func ParseRef(s string) (Ref, error) {
	var ref Ref
	if s == "" {
		return ref, errors.Wrapf(ErrBlankImageRef, "parsing %q", s)
	}

	if at := strings.LastIndex(s, "@"); at != -1 {
		d, err := digest.Parse(s[at+1:])
		if err != nil {
			return ref, errors.Wrapf(ErrMalformedImageRef, "parsing digest in %q: %s", s, err)
		}
		ref.Digest = d
		s = s[:at]
	}

	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	}

	elements := strings.Split(s, "/")
	if len(elements) > 1 && domainRegexp.MatchString(elements[0]) {
		ref.Domain = elements[0]
		ref.Image = strings.Join(elements[1:], "/")
	} else {
		ref.Image = s
	}

	imageParts := strings.Split(ref.Image, ":")
	switch len(imageParts) {
	case 1:
	case 2:
		if imageParts[0] == "" || imageParts[1] == "" {
			return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
		}
		ref.Image = imageParts[0]
		ref.Tag = imageParts[1]
	default:
		return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	}
	if ref.Image == "" {
		return ref, errors.Wrapf(ErrMalformedImageRef, "parsing %q", s)
	}
	return ref, nil
}

var (
	domainComponent = `([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9])`
	domain          = fmt.Sprintf(`^(localhost|(%s([.]%s)+))(:[0-9]+)?$`, domainComponent, domainComponent)
	domainRegexp    = regexp.MustCompile(domain)
)

// Ref is serialized/deserialized as a string
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Ref is serialized/deserialized as a string
func (r *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*r, err = ParseRef(str)
	return err
}
