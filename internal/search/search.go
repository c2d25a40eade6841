// Package search wraps a Typesense collection used to accelerate the search_messages system command over the
// in-memory message arena threadmod keeps. The collection is a derived cache: if Typesense is unreachable, callers get
// ErrSearchUnavailable and the connection is never dropped for it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrSearchUnavailable is returned when the search backend cannot be reached or returns a server error.
var ErrSearchUnavailable = errors.New("search service is unavailable")

// CollectionName is the Typesense collection the hub indexes channel and DM message text into.
const CollectionName = "agent_messages"

const defaultLimit = 20
const maxLimit = 100

// Document mirrors the fields pushed into the search collection for every stored root, reply, or DM message with
// non-empty text.
type Document struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// Hit is a single search result surfaced to search_messages callers.
type Hit struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel"`
	SenderID  string `json:"sender_id"`
	Snippet   string `json:"snippet"`
}

// Index wraps the Typesense HTTP API for ensuring the collection exists, indexing documents, and querying them. It
// has no SDK dependency: Typesense's wire protocol is plain JSON over HTTP, so a thin net/http client is exactly as
// idiomatic as a generated SDK would be.
type Index struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewIndex creates a Typesense-backed index client. baseURL and apiKey are read from config; if baseURL is empty the
// caller should not construct an Index at all (search stays disabled).
func NewIndex(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Index {
	return &Index{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     logger.With().Str("component", "search").Logger(),
	}
}

// EnsureCollection creates the agent_messages collection if it does not already exist. Failure is logged and
// swallowed: search is an optional accelerator, never a startup dependency.
func (idx *Index) EnsureCollection(ctx context.Context) {
	schema := map[string]any{
		"name": CollectionName,
		"fields": []map[string]any{
			{"name": "id", "type": "string"},
			{"name": "channel", "type": "string", "facet": true},
			{"name": "sender_id", "type": "string", "facet": true},
			{"name": "text", "type": "string"},
			{"name": "created_at", "type": "int64"},
		},
		"default_sorting_field": "created_at",
	}
	body, err := json.Marshal(schema)
	if err != nil {
		idx.log.Error().Err(err).Msg("Failed to marshal collection schema")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, idx.baseURL+"/collections", bytes.NewReader(body))
	if err != nil {
		idx.log.Error().Err(err).Msg("Failed to build ensure-collection request")
		return
	}
	idx.setHeaders(req)

	resp, err := idx.client.Do(req)
	if err != nil {
		idx.log.Warn().Err(err).Msg("Typesense unreachable while ensuring collection; search will report unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusCreated:
		idx.log.Info().Str("collection", CollectionName).Msg("Created search collection")
	case resp.StatusCode == http.StatusConflict:
		idx.log.Debug().Str("collection", CollectionName).Msg("Search collection already exists")
	default:
		detail, _ := io.ReadAll(resp.Body)
		idx.log.Warn().Int("status", resp.StatusCode).Str("body", string(detail)).Msg("Unexpected response ensuring search collection")
	}
}

// IndexMessage pushes or overwrites a document for the given message. Failures are returned to the caller, which
// logs and discards them (indexing is best-effort; the message is already durably stored in the arena).
func (idx *Index) IndexMessage(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal search document: %w", err)
	}

	upsertURL := idx.baseURL + "/collections/" + CollectionName + "/documents?action=upsert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upsertURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build index request: %w", err)
	}
	idx.setHeaders(req)

	resp, err := idx.client.Do(req)
	if err != nil {
		return ErrSearchUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("typesense returned status %d indexing message: %s", resp.StatusCode, detail)
	}
	return nil
}

// Query searches indexed message text within a single channel. A limit below 1 uses defaultLimit; a limit above
// maxLimit is clamped to maxLimit.
func (idx *Index) Query(ctx context.Context, channel, text string, limit int) ([]Hit, error) {
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	qv := url.Values{}
	qv.Set("q", text)
	qv.Set("query_by", "text")
	qv.Set("filter_by", "channel:="+channel)
	qv.Set("sort_by", "created_at:desc")
	qv.Set("per_page", strconv.Itoa(limit))
	qv.Set("highlight_fields", "text")
	qv.Set("highlight_start_tag", "")
	qv.Set("highlight_end_tag", "")

	searchURL := idx.baseURL + "/collections/" + CollectionName + "/documents/search?" + qv.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	idx.setHeaders(req)

	resp, err := idx.client.Do(req)
	if err != nil {
		return nil, ErrSearchUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, ErrSearchUnavailable
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("typesense returned status %d on search: %s", resp.StatusCode, detail)
	}

	var raw struct {
		Hits []struct {
			Document   Document `json:"document"`
			Highlights []struct {
				Field    string   `json:"field"`
				Snippets []string `json:"snippets"`
			} `json:"highlights"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(raw.Hits))
	for _, h := range raw.Hits {
		snippet := h.Document.Text
		for _, hl := range h.Highlights {
			if hl.Field == "text" && len(hl.Snippets) > 0 {
				snippet = hl.Snippets[0]
				break
			}
		}
		hits = append(hits, Hit{
			MessageID: h.Document.ID,
			Channel:   h.Document.Channel,
			SenderID:  h.Document.SenderID,
			Snippet:   snippet,
		})
	}
	return hits, nil
}

func (idx *Index) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TYPESENSE-API-KEY", idx.apiKey)
}

