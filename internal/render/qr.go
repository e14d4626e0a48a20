package render

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// QRPayload is the public verification URL encoded on signed documents.
func QRPayload(baseURL string, documentID uuid.UUID) string {
	return strings.TrimRight(baseURL, "/") + "/" + documentID.String()
}

// EncodeQR renders payload as a size x size PNG at error correction level M.
// The output depends only on its inputs.
func EncodeQR(payload string, size int) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
