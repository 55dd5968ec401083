package assembly

import (
	"bytes"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/telegem/telegem/pkg/conversation"
)

// pdfRenderScale is the upscale factor applied when rasterizing a document's
// first page. Tunable, not a behavioral contract.
const pdfRenderScale = 2

const baseRenderDPI = 72

// renderFirstPage rasterizes exactly the first page of a paginated document
// into a PNG image part. All subsequent pages are discarded unconditionally:
// a deterministic, bounded-cost policy. The MuPDF document handle is released
// on every exit path.
func (p *Pipeline) renderFirstPage(asset *Asset) (conversation.Part, error) {
	doc, err := fitz.NewFromMemory(asset.Data)
	if err != nil {
		return conversation.Part{}, errors.Wrap(ErrUnreadableMedia, err.Error())
	}
	defer func() { _ = doc.Close() }()

	pages := doc.NumPage()
	if pages == 0 {
		return conversation.Part{}, errors.Wrap(ErrUnreadableMedia, "document has no pages")
	}

	img, err := doc.ImageDPI(0, baseRenderDPI*pdfRenderScale)
	if err != nil {
		return conversation.Part{}, errors.Wrap(ErrUnreadableMedia, err.Error())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return conversation.Part{}, errors.Wrap(ErrUnreadableMedia, err.Error())
	}

	log.Debug().
		Int("pages", pages).
		Int("rendered_bytes", buf.Len()).
		Msg("rendered first document page")
	return conversation.NewImagePart(buf.Bytes(), "image/png"), nil
}
