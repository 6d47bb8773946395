package bake_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/bake"
	"github.com/badgeengine/badgeengine-core/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	conformancePNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="
	conformanceSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100">
  <circle cx="50" cy="50" r="40" fill="blue"/>
</svg>`
)

// prologSVG carries more than 4 KB of XML prolog before the root element.
var prologSVG = `<?xml version="1.0" encoding="UTF-8"?>
<!-- ` + strings.Repeat("exported by a drawing tool ", 200) + ` -->
<!DOCTYPE svg PUBLIC "-//W3C//DTD SVG 1.1//EN" "http://www.w3.org/Graphics/SVG/1.1/DTD/svg11.dtd">
` + conformanceSVG

type bakerCase struct {
	baker bake.Baker
	image []byte
}

func bakerCases(t *testing.T) []bakerCase {
	t.Helper()
	png, err := base64.StdEncoding.DecodeString(conformancePNG)
	require.NoError(t, err)
	return []bakerCase{
		{bake.PNGBaker{}, png},
		{bake.SVGBaker{}, []byte(conformanceSVG)},
		{bake.SVGBaker{}, []byte(prologSVG)},
	}
}

// TestBakerConformance runs every Baker through the same behavioral contract.
func TestBakerConformance(t *testing.T) {
	credA := `{"id":"urn:uuid:a","name":"A"}`
	credB := `{"id":"urn:uuid:b","name":"B \"quoted\" ünïcödé"}`

	for _, tc := range bakerCases(t) {
		tc := tc
		t.Run(string(tc.baker.Format()), func(t *testing.T) {
			t.Run("never baked extracts nothing", func(t *testing.T) {
				payload, found, err := tc.baker.Extract(tc.image)
				assert.NoError(t, err)
				assert.False(t, found)
				assert.Empty(t, payload)
			})

			t.Run("round trip", func(t *testing.T) {
				baked, err := tc.baker.Bake(tc.image, credB, false)
				require.NoError(t, err)
				payload, found, err := tc.baker.Extract(baked)
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, credB, payload)
			})

			t.Run("double bake without overwrite fails", func(t *testing.T) {
				baked, err := tc.baker.Bake(tc.image, credA, false)
				require.NoError(t, err)
				_, err = tc.baker.Bake(baked, credB, false)
				assert.ErrorIs(t, err, badge.ErrAlreadyBaked)
			})

			t.Run("overwrite keeps only latest", func(t *testing.T) {
				once, err := tc.baker.Bake(tc.image, credA, true)
				require.NoError(t, err)
				twice, err := tc.baker.Bake(once, credB, true)
				require.NoError(t, err)
				payload, found, err := tc.baker.Extract(twice)
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, credB, payload)
			})

			t.Run("detect picks same format", func(t *testing.T) {
				detected, err := bake.Detect(tc.image)
				require.NoError(t, err)
				assert.Equal(t, tc.baker.Format(), detected.Format())

				baked, err := tc.baker.Bake(tc.image, credA, false)
				require.NoError(t, err)
				detected, err = bake.Detect(baked)
				require.NoError(t, err)
				assert.Equal(t, tc.baker.Format(), detected.Format())

				byName, err := bake.ForFormat(string(tc.baker.Format()))
				require.NoError(t, err)
				assert.Equal(t, tc.baker.ContentType(), byName.ContentType())
			})
		})
	}
}

func TestDetect_Unknown(t *testing.T) {
	_, err := bake.Detect([]byte("GIF89a...."))
	assert.ErrorIs(t, err, badge.ErrMalformedInput)

	_, err = bake.ForFormat("gif")
	assert.ErrorIs(t, err, badge.ErrMalformedInput)
}

func TestSelect(t *testing.T) {
	b, err := bake.Select("", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	require.NoError(t, err)
	assert.Equal(t, bake.FormatSVG, b.Format())

	b, err = bake.Select(".PNG", []byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, bake.FormatPNG, b.Format())

	_, err = bake.Select("", []byte("GIF89a"))
	assert.ErrorIs(t, err, badge.ErrMalformedInput)
}

func TestPreparePayload(t *testing.T) {
	jws := "eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiJ4In0.c2ln"

	tests := []struct {
		name     string
		raw      string
		expected string
		wantErr  bool
	}{
		{"object is canonicalized", "{ \"b\": 1, \"a\": \"x\" }", `{"a":"x","b":1}`, false},
		{"bare jws", jws + "\n", jws, false},
		{"jws as json string", `"` + jws + `"`, jws, false},
		{"array rejected", `[1,2]`, "", true},
		{"garbage rejected", `hello world`, "", true},
		{"empty rejected", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := bake.PreparePayload([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, badge.ErrMalformedInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

// TestSignedCredentialRoundTrip bakes a freshly signed credential's payload and
// checks the extracted JSON is canonically identical.
func TestSignedCredentialRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey(2048)
	require.NoError(t, err)

	builder, err := badge.NewBuilder(badge.BuilderConfig{
		Domain: "https://badges.example.edu",
		Now:    func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	cred, err := builder.Build(badge.IssueRequest{
		OrganizationID:   "org1",
		OrganizationName: "Acme U",
		AchievementName:  "Python Badge",
		AchievementType:  "Badge",
		Narrative:        "Completed course",
		Description:      "Proficiency badge",
		AchievementID:    "ach-1",
	})
	require.NoError(t, err)

	token, err := badge.SignCredential(cred, key)
	require.NoError(t, err)

	_, claims, err := badge.DecodeUnverified(token)
	require.NoError(t, err)
	raw, err := json.Marshal(claims)
	require.NoError(t, err)

	payload, err := bake.PreparePayload(raw)
	require.NoError(t, err)

	for _, tc := range bakerCases(t) {
		t.Run(string(tc.baker.Format()), func(t *testing.T) {
			baked, err := tc.baker.Bake(tc.image, payload, false)
			require.NoError(t, err)

			extracted, found, err := tc.baker.Extract(baked)
			require.NoError(t, err)
			require.True(t, found)

			want, err := crypto.CanonicalJSON(raw)
			require.NoError(t, err)
			got, err := crypto.CanonicalJSON([]byte(extracted))
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}

	t.Run("jws itself", func(t *testing.T) {
		for _, tc := range bakerCases(t) {
			baked, err := tc.baker.Bake(tc.image, token, false)
			require.NoError(t, err)
			extracted, found, err := tc.baker.Extract(baked)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, token, extracted)
		}
	})
}
