package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen は形式判定のために先読みするバイト数。
const sniffLen = 3072

// ErrUnsupportedImage は受け付けない画像形式を表す。
var ErrUnsupportedImage = errors.New("unsupported image type")

// allowedImageTypes は投稿に添付できる画像のMIMEタイプ。
var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Image は形式判定済みのアップロード画像。
type Image struct {
	ContentType string
	Extension   string // 先頭のドットを含む。例: ".png"
	Body        io.Reader
}

// SniffImage は内容から画像形式を判定する。
// 申告されたContent-Typeやファイル名は信用しない。
// 判定に使った先頭部分を含めて読み直せるBodyを返す。
func SniffImage(r io.Reader) (*Image, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	for _, allowed := range allowedImageTypes {
		if mt.Is(allowed) {
			return &Image{
				ContentType: allowed,
				Extension:   mt.Extension(),
				Body:        io.MultiReader(bytes.NewReader(head), r),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
}
