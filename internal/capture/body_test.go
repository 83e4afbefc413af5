package capture

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/dgnsrekt/apicapture/internal/types"
)

func TestDecodeBody(t *testing.T) {
	binary := []byte{0xff, 0xfe, 0x00}
	cases := []struct {
		name     string
		res      types.BodyResult
		max      int
		wantKind types.BodyKind
		wantText string
		wantRaw  string
	}{
		{"fetch error", types.BodyResult{Err: errors.New("No resource with given identifier found")}, 0,
			types.BodyUnavailable, "body unavailable: No resource with given identifier found", ""},
		{"json", types.BodyResult{Body: []byte(`{"ok":true}`)}, 0, types.BodyJSON, "", `{"ok":true}`},
		{"text", types.BodyResult{Body: []byte("plain")}, 0, types.BodyText, "plain", ""},
		{"empty", types.BodyResult{Body: nil}, 0, types.BodyText, "", ""},
		{"base64 json", types.BodyResult{Body: []byte(base64.StdEncoding.EncodeToString([]byte(`[1]`))), Base64Encoded: true}, 0,
			types.BodyJSON, "", `[1]`},
		{"bad base64", types.BodyResult{Body: []byte("%%%"), Base64Encoded: true}, 0,
			types.BodyUnavailable, "", ""},
		{"truncated json becomes text", types.BodyResult{Body: []byte(`{"long":"value"}`)}, 5, types.BodyText, `{"lon`, ""},
		{"binary", types.BodyResult{Body: binary}, 0, types.BodyText, base64.StdEncoding.EncodeToString(binary), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decodeBody("1", tc.res, tc.max)
			if got.Kind != tc.wantKind {
				t.Fatalf("Kind = %v; want %v", got.Kind, tc.wantKind)
			}
			if tc.wantText != "" && got.Text != tc.wantText {
				t.Fatalf("Text = %q; want %q", got.Text, tc.wantText)
			}
			if tc.wantRaw != "" && string(got.Raw) != tc.wantRaw {
				t.Fatalf("Raw = %s; want %s", got.Raw, tc.wantRaw)
			}
		})
	}
}
