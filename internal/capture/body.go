package capture

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"unicode/utf8"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// decodeBody turns a fetch result into the body stored on a record.
func decodeBody(requestID string, res types.BodyResult, maxBytes int) *types.Body {
	if res.Err != nil {
		return types.UnavailableBody(res.Err.Error())
	}

	raw := res.Body
	if res.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return types.UnavailableBody("decode base64: " + err.Error())
		}
		raw = decoded
	}

	raw, truncated, originalSize, bodyHash := capBody(raw, maxBytes)
	if truncated {
		slog.Warn("response body truncated due to max size",
			"request_id", requestID, "original_size", originalSize, "kept_size", len(raw), "sha256", bodyHash)
		return types.TextBody(string(raw))
	}

	if len(bytes.TrimSpace(raw)) > 0 && json.Valid(raw) {
		return types.JSONBody(raw)
	}
	if utf8.Valid(raw) {
		return types.TextBody(string(raw))
	}
	return types.TextBody(base64.StdEncoding.EncodeToString(raw))
}
