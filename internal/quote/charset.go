package quote

import (
	"io"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// DecodeGBK converts a GBK encoded quote response to UTF-8.
func DecodeGBK(body []byte) (string, error) {
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewGBKReader wraps r so that reads yield UTF-8.
func NewGBKReader(r io.Reader) io.Reader {
	return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
}
