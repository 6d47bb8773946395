package bake

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"unicode/utf8"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
)

// PNGKeyword is the text chunk keyword credentials are stored under.
const PNGKeyword = "openbadgecredential"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const (
	chunkIHDR = "IHDR"
	chunkIDAT = "IDAT"
	chunkIEND = "IEND"
	chunkITXt = "iTXt"
	chunkTEXt = "tEXt"
	chunkZTXt = "zTXt"
)

// maxInflatedText bounds decompressed zTXt/iTXt payloads.
const maxInflatedText = 16 << 20

// chunk is one PNG chunk. raw holds the exact original bytes
// (length, type, data, crc) so untouched chunks are copied verbatim.
type chunk struct {
	typ  string
	data []byte
	raw  []byte
}

// pngImage is a parsed PNG container.
type pngImage struct {
	chunks   []chunk
	trailing []byte
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

func malformed(format string, args ...interface{}) error {
	return badge.NewError(badge.ErrCodeMalformedInput, fmt.Sprintf(format, args...))
}

func parsePNG(data []byte) (*pngImage, error) {
	if !IsPNG(data) {
		return nil, malformed("not a PNG image: bad signature")
	}

	img := &pngImage{}
	pos := len(pngSignature)
	for {
		if len(data)-pos < 12 {
			return nil, malformed("truncated PNG chunk at offset %d", pos)
		}
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		if uint64(length) > uint64(len(data)-pos-12) {
			return nil, malformed("PNG chunk length %d exceeds image size", length)
		}
		end := pos + 12 + int(length)
		typ := string(data[pos+4 : pos+8])
		body := data[pos+8 : pos+8+int(length)]
		want := binary.BigEndian.Uint32(data[end-4 : end])
		if got := crc32.ChecksumIEEE(data[pos+4 : end-4]); got != want {
			return nil, malformed("PNG chunk %s has bad CRC", typ)
		}

		if len(img.chunks) == 0 && typ != chunkIHDR {
			return nil, malformed("first PNG chunk is %s, want IHDR", typ)
		}
		img.chunks = append(img.chunks, chunk{typ: typ, data: body, raw: data[pos:end]})
		pos = end

		if typ == chunkIEND {
			break
		}
	}
	img.trailing = data[pos:]
	return img, nil
}

func (img *pngImage) bytes() []byte {
	var buf bytes.Buffer
	buf.Write(pngSignature)
	for _, c := range img.chunks {
		buf.Write(c.raw)
	}
	buf.Write(img.trailing)
	return buf.Bytes()
}

func newChunk(typ string, data []byte) chunk {
	raw := make([]byte, 12+len(data))
	binary.BigEndian.PutUint32(raw[0:4], uint32(len(data)))
	copy(raw[4:8], typ)
	copy(raw[8:], data)
	binary.BigEndian.PutUint32(raw[8+len(data):], crc32.ChecksumIEEE(raw[4:8+len(data)]))
	return chunk{typ: typ, data: raw[8 : 8+len(data)], raw: raw}
}

// textKeyword returns the keyword of a tEXt, zTXt or iTXt chunk.
func textKeyword(c chunk) (string, bool) {
	switch c.typ {
	case chunkTEXt, chunkZTXt, chunkITXt:
	default:
		return "", false
	}
	i := bytes.IndexByte(c.data, 0)
	if i < 0 {
		return "", false
	}
	return string(c.data[:i]), true
}

func isCredentialChunk(c chunk) bool {
	kw, ok := textKeyword(c)
	return ok && kw == PNGKeyword
}

func encodeITXt(keyword, text string) []byte {
	var buf bytes.Buffer
	buf.WriteString(keyword)
	buf.WriteByte(0) // keyword terminator
	buf.WriteByte(0) // compression flag: uncompressed
	buf.WriteByte(0) // compression method
	buf.WriteByte(0) // empty language tag
	buf.WriteByte(0) // empty translated keyword
	buf.WriteString(text)
	return buf.Bytes()
}

func decodeITXt(data []byte) (string, error) {
	i := bytes.IndexByte(data, 0)
	if i < 0 || len(data) < i+3 {
		return "", malformed("truncated iTXt chunk")
	}
	compressed := data[i+1] == 1
	rest := data[i+3:]

	// language tag and translated keyword
	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return "", malformed("truncated iTXt chunk")
		}
		rest = rest[j+1:]
	}

	text := rest
	if compressed {
		inflated, err := inflate(rest)
		if err != nil {
			return "", err
		}
		text = inflated
	}
	if !utf8.Valid(text) {
		return "", malformed("iTXt credential is not valid UTF-8")
	}
	return string(text), nil
}

func decodeTEXt(data []byte) string {
	i := bytes.IndexByte(data, 0)
	return latin1ToUTF8(data[i+1:])
}

func decodeZTXt(data []byte) (string, error) {
	i := bytes.IndexByte(data, 0)
	if len(data) < i+2 {
		return "", malformed("truncated zTXt chunk")
	}
	inflated, err := inflate(data[i+2:])
	if err != nil {
		return "", err
	}
	return latin1ToUTF8(inflated), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, badge.WrapError(badge.ErrCodeMalformedInput, "invalid compressed text chunk", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxInflatedText+1))
	if err != nil {
		return nil, badge.WrapError(badge.ErrCodeMalformedInput, "invalid compressed text chunk", err)
	}
	if len(out) > maxInflatedText {
		return nil, malformed("compressed text chunk exceeds %d bytes", maxInflatedText)
	}
	return out, nil
}

func latin1ToUTF8(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// BakePNG embeds payload in an iTXt chunk keyed "openbadgecredential".
// All other chunks are copied byte-for-byte. An existing credential entry
// fails with ErrAlreadyBaked unless overwrite is set, in which case every
// existing entry is replaced.
func BakePNG(image []byte, payload string, overwrite bool) ([]byte, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	img, err := parsePNG(image)
	if err != nil {
		return nil, err
	}

	kept := make([]chunk, 0, len(img.chunks)+1)
	for _, c := range img.chunks {
		if isCredentialChunk(c) {
			if !overwrite {
				return nil, badge.NewError(badge.ErrCodeAlreadyBaked, "credential already exists in image, use overwrite to replace")
			}
			continue
		}
		kept = append(kept, c)
	}

	at := -1
	for i, c := range kept {
		if c.typ == chunkIDAT {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, malformed("PNG image has no IDAT chunk")
	}

	out := make([]chunk, 0, len(kept)+1)
	out = append(out, kept[:at]...)
	out = append(out, newChunk(chunkITXt, encodeITXt(PNGKeyword, payload)))
	out = append(out, kept[at:]...)
	img.chunks = out

	return img.bytes(), nil
}

// ExtractPNG returns the baked credential payload. found is false, with a nil
// error, when the image carries no credential. iTXt entries take precedence
// over tEXt, then zTXt.
func ExtractPNG(image []byte) (payload string, found bool, err error) {
	img, err := parsePNG(image)
	if err != nil {
		return "", false, err
	}

	for _, typ := range []string{chunkITXt, chunkTEXt, chunkZTXt} {
		for _, c := range img.chunks {
			if c.typ != typ || !isCredentialChunk(c) {
				continue
			}
			var text string
			switch typ {
			case chunkITXt:
				text, err = decodeITXt(c.data)
			case chunkTEXt:
				text = decodeTEXt(c.data)
			case chunkZTXt:
				text, err = decodeZTXt(c.data)
			}
			if err != nil {
				return "", false, err
			}
			return text, true, nil
		}
	}
	return "", false, nil
}
