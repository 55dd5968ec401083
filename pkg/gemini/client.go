package gemini

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/telegem/telegem/pkg/conversation"
)

// DefaultModel matches the deployment default; override via config.
const DefaultModel = "gemini-2.5-flash"

var (
	// ErrAuth marks credential problems: the request will keep failing until
	// the operator fixes configuration.
	ErrAuth = errors.New("gemini: invalid or rejected credentials")
	// ErrUpstream marks transient backend failures (rate limits, outages).
	ErrUpstream = errors.New("gemini: upstream request failed")
)

// ModelClient is the stateless request/response boundary to the generative
// backend: full history plus the new parts in, reply text out.
type ModelClient interface {
	Send(ctx context.Context, history []conversation.Turn, parts []conversation.Part) (string, error)
}

// Client calls the Gemini API through the official SDK.
type Client struct {
	client *genai.Client
	model  string
}

var _ ModelClient = &Client{}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = DefaultModel
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "gemini: create client")
	}
	log.Info().Str("model", model).Msg("gemini client initialized")
	return &Client{client: c, model: model}, nil
}

func (c *Client) Send(ctx context.Context, history []conversation.Turn, parts []conversation.Part) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrAuth
	}

	contents := contentsFromHistory(history)
	contents = append(contents, genai.NewContentFromParts(partsToGenai(parts), genai.RoleUser))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", classifyAPIError(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.Wrap(ErrUpstream, "empty response")
	}
	return text, nil
}

// contentsFromHistory converts prior turns into SDK contents, preserving
// order and roles.
func contentsFromHistory(history []conversation.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == conversation.RoleModel {
			role = genai.RoleModel
		}
		sdkParts := partsToGenai(turn.Parts)
		if len(sdkParts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(sdkParts, role))
	}
	return contents
}

func partsToGenai(parts []conversation.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case conversation.PartKindText:
			out = append(out, genai.NewPartFromText(p.Text))
		case conversation.PartKindImage:
			out = append(out, genai.NewPartFromBytes(p.Data, p.MIME))
		}
	}
	return out
}

// classifyAPIError folds SDK errors into the two failure modes callers care
// about: credentials vs everything else.
func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrap(ErrAuth, apiErr.Message)
		default:
			return errors.Wrapf(ErrUpstream, "status %d: %s", apiErr.Code, apiErr.Message)
		}
	}
	return errors.Wrap(ErrUpstream, err.Error())
}
