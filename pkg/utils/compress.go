package utils

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	EncodingPlain      = "utf-8"
	EncodingGzipBase64 = "gzip+base64"
)

// EncodedText is a response body ready for the wire.
type EncodedText struct {
	Text       string
	Compressed bool
	Encoding   string
}

// EncodeResponse gzips and base64-encodes text longer than threshold
// characters and passes shorter text through unchanged.
func EncodeResponse(text string, threshold int) (EncodedText, error) {
	if len([]rune(text)) <= threshold {
		return EncodedText{Text: text, Encoding: EncodingPlain}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return EncodedText{}, fmt.Errorf("failed to compress response: %w", err)
	}
	if err := zw.Close(); err != nil {
		return EncodedText{}, fmt.Errorf("failed to finish compression: %w", err)
	}

	return EncodedText{
		Text:       base64.StdEncoding.EncodeToString(buf.Bytes()),
		Compressed: true,
		Encoding:   EncodingGzipBase64,
	}, nil
}

// DecodeResponse reverses EncodeResponse.
func DecodeResponse(enc EncodedText) (string, error) {
	if !enc.Compressed {
		return enc.Text, nil
	}
	if enc.Encoding != EncodingGzipBase64 {
		return "", fmt.Errorf("unsupported encoding %q", enc.Encoding)
	}

	raw, err := base64.StdEncoding.DecodeString(enc.Text)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("failed to decompress: %w", err)
	}
	return string(out), nil
}
