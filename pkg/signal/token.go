package signal

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// TokenScheme tags how an SDP body was packed into the URL token.
type TokenScheme string

const (
	// SchemeGzip is urlsafe-base64(gzip(sdp)).
	SchemeGzip TokenScheme = "gz"
	// SchemeFallback is urlsafe-base64(percent-encoded sdp).
	SchemeFallback TokenScheme = "fb"
)

// maxInflatedSize caps decompression of hostile tokens.
const maxInflatedSize = 4 << 20

var tokenEncoding = base64.RawURLEncoding

// packToken compresses sdp with the preferred scheme and falls back to the
// percent-encoded form if compression fails.
func packToken(sdp string, preferred TokenScheme) (string, TokenScheme) {
	if preferred != SchemeFallback {
		packed, err := gzipPack(sdp)
		if err == nil {
			return string(SchemeGzip) + ":" + packed, SchemeGzip
		}
		logger().Warn("gzip compression failed, using fallback token", zap.Error(err))
	}
	return string(SchemeFallback) + ":" + fallbackPack(sdp), SchemeFallback
}

// unpackToken dispatches on the scheme prefix. Untagged tokens are tried
// as gzip first, then as the fallback form.
func unpackToken(token string) (string, TokenScheme, error) {
	scheme, body, tagged := strings.Cut(token, ":")
	if !tagged {
		body = token
		if sdp, err := gzipUnpack(body); err == nil {
			return sdp, SchemeGzip, nil
		}
		sdp, err := fallbackUnpack(body)
		if err != nil {
			return "", "", fmt.Errorf("%w: untagged token: %v", ErrSignaling, err)
		}
		return sdp, SchemeFallback, nil
	}

	switch TokenScheme(scheme) {
	case SchemeGzip:
		sdp, err := gzipUnpack(body)
		if err != nil {
			return "", "", fmt.Errorf("%w: gz token: %v", ErrSignaling, err)
		}
		return sdp, SchemeGzip, nil
	case SchemeFallback:
		sdp, err := fallbackUnpack(body)
		if err != nil {
			return "", "", fmt.Errorf("%w: fb token: %v", ErrSignaling, err)
		}
		return sdp, SchemeFallback, nil
	default:
		return "", "", fmt.Errorf("%w: unknown token scheme %q", ErrSignaling, scheme)
	}
}

func gzipPack(sdp string) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write([]byte(sdp)); err != nil {
		zw.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(buf.Bytes()), nil
}

func gzipUnpack(body string) (string, error) {
	raw, err := decodeBase64(body)
	if err != nil {
		return "", err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflatedSize+1))
	if err != nil {
		return "", err
	}
	if len(out) > maxInflatedSize {
		return "", fmt.Errorf("inflated sdp exceeds %d bytes", maxInflatedSize)
	}
	return string(out), nil
}

func fallbackPack(sdp string) string {
	return tokenEncoding.EncodeToString([]byte(encodeURIComponent(sdp)))
}

func fallbackUnpack(body string) (string, error) {
	raw, err := decodeBase64(body)
	if err != nil {
		return "", err
	}
	return url.PathUnescape(string(raw))
}

// decodeBase64 accepts urlsafe base64 with or without trailing padding.
func decodeBase64(body string) ([]byte, error) {
	return tokenEncoding.DecodeString(strings.TrimRight(body, "="))
}

// encodeURIComponent percent-encodes s so that spaces become %20, never '+'.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
