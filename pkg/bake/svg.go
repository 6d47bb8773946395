package bake

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
)

// SVG element and attribute literals used for baking.
const (
	SVGNamespace = "https://purl.imsglobal.org/ob/v3p0"

	svgMarker   = "<openbadges:credential"
	svgCloseTag = "</openbadges:credential>"
	svgRootEnd  = "</svg>"
	svgVerify   = "verify="
)

// IsSVG reports whether the root element of data is <svg>, after any BOM,
// XML declaration, processing instructions, comments and DOCTYPE.
func IsSVG(data []byte) bool {
	s := strings.TrimPrefix(string(data), "\ufeff")
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "<?"):
			end := strings.Index(s, "?>")
			if end < 0 {
				return false
			}
			s = s[end+2:]
		case strings.HasPrefix(s, "<!--"):
			end := strings.Index(s[4:], "-->")
			if end < 0 {
				return false
			}
			s = s[4+end+3:]
		case strings.HasPrefix(s, "<!DOCTYPE"), strings.HasPrefix(s, "<!doctype"):
			end := doctypeEnd(s)
			if end < 0 {
				return false
			}
			s = s[end+1:]
		default:
			if !strings.HasPrefix(s, "<svg") || len(s) == len("<svg") {
				return false
			}
			switch s[len("<svg")] {
			case ' ', '\t', '\r', '\n', '>', '/':
				return true
			}
			return false
		}
	}
}

// doctypeEnd returns the index of the '>' closing the DOCTYPE at the start of
// s, skipping an internal subset and quoted literals, or -1.
func doctypeEnd(s string) int {
	var quote byte
	depth := 0
	for i := 2; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '>' && depth <= 0:
			return i
		}
	}
	return -1
}

// BakeSVG embeds payload as the base64 verify attribute of an
// <openbadges:credential/> element placed before the closing </svg> tag.
func BakeSVG(svg, payload string, overwrite bool) (string, error) {
	if err := ValidatePayload(payload); err != nil {
		return "", err
	}

	if strings.Contains(svg, svgMarker) {
		if !overwrite {
			return "", badge.NewError(badge.ErrCodeAlreadyBaked, "credential already exists in SVG, use overwrite to replace")
		}
		stripped, err := removeSVGCredentials(svg)
		if err != nil {
			return "", err
		}
		svg = stripped
	}

	at := strings.LastIndex(svg, svgRootEnd)
	if at < 0 {
		return "", malformed("SVG has no closing </svg> tag")
	}

	element := fmt.Sprintf(`<openbadges:credential xmlns:openbadges="%s" verify="%s"/>`,
		SVGNamespace, base64.StdEncoding.EncodeToString([]byte(payload)))

	return svg[:at] + "\n" + element + svg[at:], nil
}

// ExtractSVG returns the decoded verify attribute of the first
// <openbadges:credential> element. found is false when no element exists.
func ExtractSVG(svg string) (payload string, found bool, err error) {
	start := strings.Index(svg, svgMarker)
	if start < 0 {
		return "", false, nil
	}

	// Limit the attribute search to the element's start tag when it is closed.
	region := svg[start:]
	if end := findTagEnd(svg, start); end >= 0 {
		region = svg[start : end+1]
	}

	value, ok := attributeValue(region, svgVerify)
	if !ok {
		return "", false, malformed("openbadges:credential element has no complete verify attribute")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return "", false, badge.WrapError(badge.ErrCodeMalformedInput, "verify attribute is not valid base64", err)
	}
	if !utf8.Valid(decoded) {
		return "", false, malformed("verify attribute does not decode to UTF-8")
	}
	return string(decoded), true, nil
}

// attributeValue finds name="..." or name='...' in s by literal scanning. A
// match must be preceded by whitespace so longer attribute names ending in
// name are skipped.
func attributeValue(s, name string) (string, bool) {
	for from := 0; ; {
		i := strings.Index(s[from:], name)
		if i < 0 {
			return "", false
		}
		i += from
		from = i + len(name)
		if i == 0 || !isSpace(s[i-1]) {
			continue
		}
		if i+len(name) >= len(s) {
			return "", false
		}
		quote := s[i+len(name)]
		if quote != '"' && quote != '\'' {
			return "", false
		}
		rest := s[i+len(name)+1:]
		j := strings.IndexByte(rest, quote)
		if j < 0 {
			return "", false
		}
		return rest[:j], true
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// removeSVGCredentials excises every <openbadges:credential> element, either
// self-closing or closed by </openbadges:credential>, together with the
// newline BakeSVG puts in front of it.
func removeSVGCredentials(svg string) (string, error) {
	for {
		start := strings.Index(svg, svgMarker)
		if start < 0 {
			return svg, nil
		}

		tagEnd := findTagEnd(svg, start)
		if tagEnd < 0 {
			return "", malformed("unterminated openbadges:credential element")
		}

		end := tagEnd + 1
		if svg[tagEnd-1] != '/' {
			closeAt := strings.Index(svg[end:], svgCloseTag)
			if closeAt < 0 {
				return "", malformed("openbadges:credential element has no closing tag")
			}
			end += closeAt + len(svgCloseTag)
		}

		if start > 0 && svg[start-1] == '\n' {
			start--
		}
		svg = svg[:start] + svg[end:]
	}
}

// findTagEnd returns the index of the '>' ending the tag opened at start,
// skipping quoted attribute values, or -1.
func findTagEnd(s string, start int) int {
	var quote byte
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}
