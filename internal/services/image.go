package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rahul4469/meter-reader/internal/models"
)

// formats the vision endpoint accepts inline
var supportedMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
}

// InspectImage checks that data is a decodable PNG, JPEG or GIF and returns
// it together with its type and dimensions.
func InspectImage(data []byte) (*models.CapturedImage, error) {
	if len(data) == 0 {
		return nil, models.ErrEmptyImage
	}

	mime := mimetype.Detect(data)
	if !supportedMIME[mime.String()] {
		return nil, fmt.Errorf("%w (detected %s)", models.ErrUnsupportedImage, mime.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnsupportedImage, err)
	}

	return &models.CapturedImage{
		Data:       data,
		MIME:       mime.String(),
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: time.Now(),
	}, nil
}

// DataURI inlines the image as data:<mime>;base64,<payload>.
func DataURI(img *models.CapturedImage) string {
	return "data:" + img.MIME + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
