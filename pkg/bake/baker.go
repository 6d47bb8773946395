// Package bake embeds Open Badges credentials in PNG and SVG images and
// extracts them again.
package bake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/crypto"
)

// Format identifies an image container.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// compactJWS matches a JWS compact serialization.
var compactJWS = regexp.MustCompile(`^[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]+$`)

// IsCompactJWS reports whether s is a compact JWS string.
func IsCompactJWS(s string) bool {
	return compactJWS.MatchString(s)
}

// Baker embeds and extracts credential payloads for one image format.
type Baker interface {
	// Format returns the container format handled.
	Format() Format

	// ContentType returns the media type of baked output.
	ContentType() string

	// Bake embeds payload into image. overwrite replaces an existing credential.
	Bake(image []byte, payload string, overwrite bool) ([]byte, error)

	// Extract returns the embedded payload; found is false when none exists.
	Extract(image []byte) (payload string, found bool, err error)
}

// PNGBaker bakes PNG images.
type PNGBaker struct{}

// Format implements Baker.
func (PNGBaker) Format() Format { return FormatPNG }

// ContentType implements Baker.
func (PNGBaker) ContentType() string { return "image/png" }

// Bake implements Baker.
func (PNGBaker) Bake(image []byte, payload string, overwrite bool) ([]byte, error) {
	return BakePNG(image, payload, overwrite)
}

// Extract implements Baker.
func (PNGBaker) Extract(image []byte) (string, bool, error) {
	return ExtractPNG(image)
}

// SVGBaker bakes SVG documents.
type SVGBaker struct{}

// Format implements Baker.
func (SVGBaker) Format() Format { return FormatSVG }

// ContentType implements Baker.
func (SVGBaker) ContentType() string { return "image/svg+xml" }

// Bake implements Baker.
func (SVGBaker) Bake(image []byte, payload string, overwrite bool) ([]byte, error) {
	out, err := BakeSVG(string(image), payload, overwrite)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// Extract implements Baker.
func (SVGBaker) Extract(image []byte) (string, bool, error) {
	return ExtractSVG(string(image))
}

// ForFormat returns the Baker for a format name such as "png" or "svg".
func ForFormat(name string) (Baker, error) {
	switch Format(strings.ToLower(strings.TrimPrefix(name, "."))) {
	case FormatPNG:
		return PNGBaker{}, nil
	case FormatSVG:
		return SVGBaker{}, nil
	default:
		return nil, badge.NewError(badge.ErrCodeMalformedInput, fmt.Sprintf("unsupported image format %q", name))
	}
}

// Detect picks a Baker by sniffing the image content.
func Detect(image []byte) (Baker, error) {
	switch {
	case IsPNG(image):
		return PNGBaker{}, nil
	case IsSVG(image):
		return SVGBaker{}, nil
	default:
		return nil, badge.NewError(badge.ErrCodeMalformedInput, "image is neither PNG nor SVG")
	}
}

// Select returns the Baker for format, or sniffs image when format is empty.
func Select(format string, image []byte) (Baker, error) {
	if format != "" {
		return ForFormat(format)
	}
	return Detect(image)
}

// ValidatePayload accepts a JSON document or a compact JWS string.
func ValidatePayload(payload string) error {
	if payload == "" {
		return badge.NewError(badge.ErrCodeMalformedInput, "credential payload is empty")
	}
	if IsCompactJWS(payload) || json.Valid([]byte(payload)) {
		return nil
	}
	return badge.NewError(badge.ErrCodeMalformedInput, "credential payload must be JSON or a compact JWS")
}

// PreparePayload normalizes a credential supplied by a caller. JSON objects
// are canonicalized; a compact JWS, bare or as a JSON string, is used as is.
func PreparePayload(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", badge.NewError(badge.ErrCodeMalformedInput, "credential payload is empty")
	}

	if s := string(trimmed); IsCompactJWS(s) {
		return s, nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil && IsCompactJWS(s) {
			return s, nil
		}
	}

	if trimmed[0] != '{' {
		return "", badge.NewError(badge.ErrCodeMalformedInput, "credential payload must be a JSON object or a compact JWS")
	}
	canonical, err := crypto.CanonicalJSON(trimmed)
	if err != nil {
		return "", badge.WrapError(badge.ErrCodeMalformedInput, "credential payload is not valid JSON", err)
	}
	return string(canonical), nil
}
