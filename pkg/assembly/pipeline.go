package assembly

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"

	"github.com/telegem/telegem/pkg/conversation"
)

// DefaultImagePrompt is substituted when an attachment arrives without a
// caption so the assembled request is never image-only.
const DefaultImagePrompt = "describe this content"

var (
	ErrEmptyInput           = errors.New("assembly: no attachment and no caption")
	ErrUnsupportedMediaType = errors.New("assembly: unsupported media type")
	ErrUnreadableMedia      = errors.New("assembly: media could not be decoded")
)

// Asset is a transient attachment scoped to a single request: raw bytes plus
// the declared MIME type. It is never persisted.
type Asset struct {
	Data     []byte
	MIME     string
	FileName string
}

var rasterImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var paginatedDocumentTypes = map[string]bool{
	"application/pdf":   true,
	"application/x-pdf": true,
}

func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// Pipeline normalizes heterogeneous attachments plus an optional caption into
// an ordered sequence of content parts.
type Pipeline struct{}

func NewPipeline() *Pipeline { return &Pipeline{} }

// Assemble classifies the attachment, produces at most one image part from
// it, and orders the result image-first so grounding context precedes the
// instruction text. Returns ErrEmptyInput when there is nothing to send.
func (p *Pipeline) Assemble(asset *Asset, caption string) ([]conversation.Part, error) {
	caption = strings.TrimSpace(caption)

	if asset == nil {
		if caption == "" {
			return nil, ErrEmptyInput
		}
		return []conversation.Part{conversation.NewTextPart(caption)}, nil
	}

	mime := normalizeMIME(asset.MIME)
	var imagePart conversation.Part
	switch {
	case rasterImageTypes[mime]:
		part, err := p.decodeRaster(asset, mime)
		if err != nil {
			return nil, err
		}
		imagePart = part
	case paginatedDocumentTypes[mime]:
		part, err := p.renderFirstPage(asset)
		if err != nil {
			return nil, err
		}
		imagePart = part
	default:
		return nil, errors.Wrapf(ErrUnsupportedMediaType, "mime type %q", mime)
	}

	if caption == "" {
		caption = DefaultImagePrompt
	}
	return []conversation.Part{imagePart, conversation.NewTextPart(caption)}, nil
}

// decodeRaster validates that the bytes really decode as an image before they
// are shipped upstream. The original bytes are kept; only the header is
// parsed here.
func (p *Pipeline) decodeRaster(asset *Asset, mime string) (conversation.Part, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(asset.Data))
	if err != nil {
		return conversation.Part{}, errors.Wrap(ErrUnreadableMedia, err.Error())
	}
	log.Debug().
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("bytes", len(asset.Data)).
		Msg("decoded raster attachment")
	return conversation.NewImagePart(asset.Data, mime), nil
}
