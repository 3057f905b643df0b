// Package pairing renders pairing challenges as scannable QR images.
package pairing

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// imageSize is the rendered QR edge length in pixels.
const imageSize = 256

// dataURIPrefix precedes the base64 PNG payload in the returned URI.
const dataURIPrefix = "data:image/png;base64,"

// ImageDataURI renders a pairing challenge as a PNG QR code and returns it
// as a data URI suitable for direct embedding in an <img> tag.
func ImageDataURI(challenge string) (string, error) {
	png, err := qrcode.Encode(challenge, qrcode.Medium, imageSize)
	if err != nil {
		return "", fmt.Errorf("encoding pairing challenge: %w", err)
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}
