package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strconv"
	"strings"
)

// Payload is one decoded response page.
type Payload struct {
	Raw      json.RawMessage
	Items    []json.RawMessage
	Page     PageInfo
	NotFound bool
}

// Empty reports whether the page carried no records.
func (p Payload) Empty() bool { return len(p.Items) == 0 }

// PageInfo is the pagination metadata found in the envelope, zero when absent.
type PageInfo struct {
	Number       int
	TotalPages   int
	Remaining    int
	HasRemaining bool
	TotalRecords int
}

// Envelope keys differ between APIs and API versions; the first present wins.
var (
	itemKeys      = []string{"data", "resultado", "items", "itens", "results"}
	totalPageKeys = []string{"totalPaginas", "total_pages", "totalPages"}
	pageKeys      = []string{"numeroPagina", "page", "pagina", "current_page"}
	remainingKeys = []string{"paginasRestantes", "remaining_pages"}
	totalKeys     = []string{"totalRegistros", "total", "count"}
)

func decodePayload(contentType string, body []byte) (Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Payload{}, nil
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil || !strings.Contains(mt, "json") {
			return Payload{}, fmt.Errorf("%w: content-type %q", ErrNotJSON, contentType)
		}
	}
	if !json.Valid(body) {
		return Payload{}, fmt.Errorf("%w: invalid body", ErrNotJSON)
	}
	p := Payload{Raw: json.RawMessage(body)}
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &p.Items); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
		}
		return p, nil
	case '{':
	default:
		return p, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	enveloped := false
	for _, k := range itemKeys {
		raw, ok := env[k]
		if !ok {
			continue
		}
		enveloped = true
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			if err := json.Unmarshal(raw, &p.Items); err != nil {
				return Payload{}, fmt.Errorf("%w: %s: %v", ErrNotJSON, k, err)
			}
		}
		break
	}
	if n, ok := intField(env, totalPageKeys); ok {
		p.Page.TotalPages = n
		enveloped = true
	}
	if n, ok := intField(env, pageKeys); ok {
		p.Page.Number = n
	}
	if n, ok := intField(env, remainingKeys); ok {
		p.Page.Remaining = n
		p.Page.HasRemaining = true
		enveloped = true
	}
	if n, ok := intField(env, totalKeys); ok {
		p.Page.TotalRecords = n
	}
	if !enveloped {
		// A bare object is a single record (detail endpoints).
		p.Items = []json.RawMessage{p.Raw}
	}
	return p, nil
}

func intField(env map[string]json.RawMessage, keys []string) (int, bool) {
	for _, k := range keys {
		raw, ok := env[k]
		if !ok {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if i, err := strconv.Atoi(n.String()); err == nil {
				return i, true
			}
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

// FetchAll walks pages 1..n sequentially through pageParam until a page is
// empty, the envelope reports no remaining pages, or maxPages is reached
// (zero means no limit). Pages are returned in order.
func (c *Client) FetchAll(ctx context.Context, path string, params url.Values, pageParam string, maxPages int) ([][]json.RawMessage, error) {
	var pages [][]json.RawMessage
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		q := cloneValues(params)
		q.Set(pageParam, strconv.Itoa(page))
		p, err := c.FetchPage(ctx, path, q)
		if err != nil {
			return pages, fmt.Errorf("page %d: %w", page, err)
		}
		if p.NotFound || p.Empty() {
			break
		}
		pages = append(pages, p.Items)
		if p.Page.HasRemaining && p.Page.Remaining <= 0 {
			break
		}
		if p.Page.TotalPages > 0 && page >= p.Page.TotalPages {
			break
		}
	}
	return pages, nil
}

// Flatten concatenates pages in order.
func Flatten(pages [][]json.RawMessage) []json.RawMessage {
	n := 0
	for _, p := range pages {
		n += len(p)
	}
	out := make([]json.RawMessage, 0, n)
	for _, p := range pages {
		out = append(out, p...)
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
