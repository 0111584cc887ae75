package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/m0o0scar/nenya/internal/errors"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// DefaultBaseURL is the public Raindrop API host.
const DefaultBaseURL = "https://api.raindrop.io"

const (
	// PageSize is the number of items requested per page. A page shorter
	// than this is the last one.
	PageSize = 50

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. A full page of items
	// with notes stays well below this.
	maxAPIResponseBytes = 8 * 1024 * 1024

	// maxPages stops pagination against a server that keeps returning
	// full pages.
	maxPages = 2000
)

// Client talks to the Raindrop REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so the bearer token never leaves
// the API host.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created. An empty
// baseURL selects DefaultBaseURL.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// doJSON sends a request with an optional JSON body and decodes the
// response into result.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, endpoint, result)
}

// send attaches auth, executes req and decodes the response.
func (c *Client) send(req *http.Request, endpoint string, result interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: sending request to %s: %w", apperrors.ErrAPIRequest, endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("%w: reading response from %s: %w", apperrors.ErrAPIRequest, endpoint, err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("API %s: %w", endpoint, apperrors.ErrInvalidToken)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.message() != "" {
			err := fmt.Errorf("%w: API %s (%d): %s", apperrors.ErrAPIRequest, endpoint, resp.StatusCode, apiErr.message())
			if isTransientStatus(resp.StatusCode) {
				return &TransientError{Err: err}
			}

			return err
		}

		err := fmt.Errorf("%w: API %s returned status %d: %s", apperrors.ErrAPIRequest, endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: decoding response from %s: %w", apperrors.ErrAPIResponse, endpoint, err)
		}
	}

	return nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// ListRootCollections returns the top-level collections.
func (c *Client) ListRootCollections(ctx context.Context) ([]Collection, error) {
	var resp collectionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/collections", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing root collections: %w", err)
	}

	return resp.Items, nil
}

// ListChildCollections returns every nested collection. Each carries a
// parent reference.
func (c *Client) ListChildCollections(ctx context.Context) ([]Collection, error) {
	var resp collectionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/collections/childrens", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing child collections: %w", err)
	}

	return resp.Items, nil
}

// ListGroups returns the user's named collection groups in display order.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var resp userResponse
	if err := c.doJSON(ctx, http.MethodGet, "/rest/v1/user", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	return resp.User.Groups, nil
}

// FetchItems returns every item in a collection, requesting pages of
// PageSize until a page comes back short.
func (c *Client) FetchItems(ctx context.Context, collectionID int64) ([]Item, error) {
	var all []Item

	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("perpage", strconv.Itoa(PageSize))

		endpoint := fmt.Sprintf("/rest/v1/raindrops/%d?%s", collectionID, q.Encode())

		var resp itemsResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetching items of collection %d page %d: %w", collectionID, page, err)
		}

		all = append(all, resp.Items...)

		if len(resp.Items) < PageSize {
			return all, nil
		}
	}

	return nil, fmt.Errorf("fetching items of collection %d: %w: more than %d pages", collectionID, apperrors.ErrAPIResponse, maxPages)
}

// CreateCollection creates a collection. A parentID of zero creates a
// root collection.
func (c *Client) CreateCollection(ctx context.Context, title string, parentID int64) (*Collection, error) {
	body := map[string]interface{}{"title": title}
	if parentID > 0 {
		body["parent"] = Ref{ID: ID(parentID)}
	}

	var resp collectionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/rest/v1/collection", body, &resp); err != nil {
		return nil, fmt.Errorf("creating collection %q: %w", title, err)
	}

	return &resp.Item, nil
}

// CreateItem creates one item and returns it with its assigned id.
func (c *Client) CreateItem(ctx context.Context, item NewItem) (*Item, error) {
	var resp itemResponse
	if err := c.doJSON(ctx, http.MethodPost, "/rest/v1/raindrop", item, &resp); err != nil {
		return nil, fmt.Errorf("creating item %s: %w", item.Link, err)
	}

	return &resp.Item, nil
}

// UpdateItem replaces the link, title and note of an item.
func (c *Client) UpdateItem(ctx context.Context, id int64, update ItemUpdate) (*Item, error) {
	var resp itemResponse
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/rest/v1/raindrop/%d", id), update, &resp); err != nil {
		return nil, fmt.Errorf("updating item %d: %w", id, err)
	}

	return &resp.Item, nil
}

// DeleteItems removes the given items from a collection in one call and
// returns the number of items the server reports as modified.
func (c *Client) DeleteItems(ctx context.Context, collectionID int64, ids []int64) (int, error) {
	var resp bulkResponse

	endpoint := fmt.Sprintf("/rest/v1/raindrops/%d", collectionID)
	if err := c.doJSON(ctx, http.MethodDelete, endpoint, bulkRequest{IDs: ids}, &resp); err != nil {
		return 0, fmt.Errorf("deleting %d items from collection %d: %w", len(ids), collectionID, err)
	}

	return resp.Modified, nil
}

// TrashItems moves the given items into the trash collection.
func (c *Client) TrashItems(ctx context.Context, collectionID int64, ids []int64) (int, error) {
	var resp bulkResponse

	endpoint := fmt.Sprintf("/rest/v1/raindrops/%d", collectionID)
	req := bulkRequest{IDs: ids, Collection: &Ref{ID: ID(CollectionTrash)}}

	if err := c.doJSON(ctx, http.MethodPut, endpoint, req, &resp); err != nil {
		return 0, fmt.Errorf("trashing %d items from collection %d: %w", len(ids), collectionID, err)
	}

	return resp.Modified, nil
}

// UploadCover uploads an image as the item's cover.
func (c *Client) UploadCover(ctx context.Context, id int64, filename string, data []byte) error {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("cover", filename)
	if err != nil {
		return fmt.Errorf("creating cover form: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing cover form: %w", err)
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing cover form: %w", err)
	}

	endpoint := fmt.Sprintf("/rest/v1/raindrop/%d/cover", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+endpoint, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := c.send(req, endpoint, nil); err != nil {
		return fmt.Errorf("uploading cover for item %d: %w", id, err)
	}

	return nil
}
