package telegram

import (
	"context"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// maxAttachmentBytes caps downloads at the bot API's own file size limit.
const maxAttachmentBytes = 20 << 20

// Fetcher resolves a Telegram file id to raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

type botFetcher struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

func NewBotFetcher(api *tgbotapi.BotAPI) Fetcher {
	return &botFetcher{
		api:  api,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (f *botFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	file, err := f.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, errors.Wrap(err, "telegram: resolve file")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(f.api.Token), nil)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: build download request")
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: download file")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("telegram: download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "telegram: read file body")
	}
	if len(data) > maxAttachmentBytes {
		return nil, errors.Errorf("telegram: file exceeds %d bytes", maxAttachmentBytes)
	}
	return data, nil
}
