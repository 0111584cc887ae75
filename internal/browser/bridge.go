package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	apperrors "github.com/m0o0scar/nenya/internal/errors"
)

//go:generate mockgen -source=bridge.go -destination=mock_wsconn_test.go -package=browser -mock_names=wsConn=MockWSConn

const (
	// bridgeReadLimit bounds a single response. Thumbnails are the
	// largest payloads.
	bridgeReadLimit = 8 << 20

	// callTimeout bounds one request/response round trip, including a
	// reconnect attempt.
	callTimeout = 30 * time.Second

	// Reconnect backoff after a failed dial. Calls made before the next
	// attempt is due fail fast with ErrBridgeClosed.
	reconnectMin               = 5 * time.Second
	reconnectMax               = 5 * time.Minute
	reconnectBackoffMultiplier = 2

	// jitterDivisor bounds the random jitter added to the backoff:
	// jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2
)

// wsConn abstracts the WebSocket connection so Bridge can be tested
// without a real companion. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type rpcRequest struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error reported by the browser companion.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("browser error %d: %s", e.Code, e.Message)
}

// Bridge is a Provider backed by a JSON request/response protocol over a
// WebSocket to a companion running inside the browser. Method names
// follow the browser extension API (windows.getAll, tabs.create, ...).
// Calls are serialized: one request is in flight at a time.
//
// A Bridge created with New or Dial reconnects on the next call after the
// companion goes away, backing off exponentially between failed dials.
type Bridge struct {
	mu     sync.Mutex
	conn   wsConn
	dial   func(ctx context.Context) (wsConn, error)
	closed bool

	backoff time.Duration
	retryAt time.Time

	logger *slog.Logger
}

var (
	_ Provider        = (*Bridge)(nil)
	_ ThumbnailSource = (*Bridge)(nil)
)

// New returns a Bridge for the companion at url. Nothing is dialed until
// the first call, so the browser does not need to be running yet.
func New(url string, logger *slog.Logger) *Bridge {
	return &Bridge{
		dial: func(ctx context.Context) (wsConn, error) {
			logger.Debug("connecting to browser bridge", slog.String("url", url))

			conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
			if err != nil {
				return nil, err
			}

			return conn, nil
		},
		backoff: reconnectMin,
		logger:  logger,
	}
}

// Dial connects to the companion at url and fails if it is unreachable.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Bridge, error) {
	b := New(url, logger)

	conn, err := b.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialing browser bridge: %w", err)
	}

	conn.SetReadLimit(bridgeReadLimit)
	b.conn = conn

	return b, nil
}

func newBridge(conn wsConn, logger *slog.Logger) *Bridge {
	conn.SetReadLimit(bridgeReadLimit)

	return &Bridge{conn: conn, backoff: reconnectMin, logger: logger}
}

// Close closes the connection. Later calls fail with ErrBridgeClosed and
// never reconnect.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	if b.conn == nil {
		return nil
	}

	err := b.conn.Close(websocket.StatusNormalClosure, "")
	b.conn = nil

	return err
}

// reconnect dials a fresh connection when one is due. The caller holds mu.
func (b *Bridge) reconnect(ctx context.Context, method string) error {
	if b.closed || b.dial == nil {
		return fmt.Errorf("%s: %w", method, apperrors.ErrBridgeClosed)
	}

	if time.Now().Before(b.retryAt) {
		return fmt.Errorf("%s: %w (next reconnect in %s)", method, apperrors.ErrBridgeClosed,
			time.Until(b.retryAt).Round(time.Second))
	}

	conn, err := b.dial(ctx)
	if err != nil {
		jitter := time.Duration(rand.Int64N(int64(b.backoff) / jitterDivisor)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact
		b.retryAt = time.Now().Add(b.backoff + jitter)

		b.logger.Warn("browser bridge reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("backoff", b.backoff),
		)
		b.backoff = min(b.backoff*reconnectBackoffMultiplier, reconnectMax)

		return fmt.Errorf("%s: %w: %w", method, apperrors.ErrBridgeClosed, err)
	}

	conn.SetReadLimit(bridgeReadLimit)
	b.conn = conn
	b.backoff = reconnectMin
	b.retryAt = time.Time{}

	b.logger.Info("browser bridge connected")

	return nil
}

func (b *Bridge) call(ctx context.Context, method string, params, result interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if b.conn == nil {
		if err := b.reconnect(ctx, method); err != nil {
			return err
		}
	}

	id := uuid.NewString()

	data, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return b.connError(method, "sending", err)
	}

	for {
		typ, msg, err := b.conn.Read(ctx)
		if err != nil {
			return b.connError(method, "reading", err)
		}

		if typ != websocket.MessageText {
			b.logger.Debug("ignoring binary bridge message", slog.String("method", method))
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("decoding %s response: %w", method, err)
		}

		// A late reply to a call that already timed out.
		if resp.ID != id {
			b.logger.Debug("dropping stale bridge response",
				slog.String("method", method),
				slog.String("id", resp.ID),
			)

			continue
		}

		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}

		if result == nil || len(resp.Result) == 0 {
			return nil
		}

		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}

		return nil
	}
}

// connError drops the connection when the peer closed it or the context
// expired mid-read, since the websocket library closes the connection in
// that case too. The next call reconnects.
func (b *Bridge) connError(method, doing string, err error) error {
	if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.conn = nil
		return fmt.Errorf("%s %s: %w", doing, method, apperrors.ErrBridgeClosed)
	}

	return fmt.Errorf("%s %s: %w", doing, method, err)
}

// Windows lists normal windows with their tabs.
func (b *Bridge) Windows(ctx context.Context) ([]Window, error) {
	var windows []Window

	params := map[string]interface{}{"populate": true, "windowTypes": []string{"normal"}}
	if err := b.call(ctx, "windows.getAll", params, &windows); err != nil {
		return nil, err
	}

	return windows, nil
}

// TabGroups lists every tab group across windows.
func (b *Bridge) TabGroups(ctx context.Context) ([]TabGroup, error) {
	var groups []TabGroup
	if err := b.call(ctx, "tabGroups.query", map[string]interface{}{}, &groups); err != nil {
		return nil, err
	}

	return groups, nil
}

// CreateWindow opens a focused window loading url.
func (b *Bridge) CreateWindow(ctx context.Context, url string) (*Window, error) {
	var w Window
	if err := b.call(ctx, "windows.create", map[string]interface{}{"url": url, "focused": true}, &w); err != nil {
		return nil, err
	}

	return &w, nil
}

// CreateTab appends an inactive tab to a window.
func (b *Bridge) CreateTab(ctx context.Context, windowID int64, url string) (*Tab, error) {
	var t Tab

	params := map[string]interface{}{"windowId": windowID, "url": url, "active": false}
	if err := b.call(ctx, "tabs.create", params, &t); err != nil {
		return nil, err
	}

	return &t, nil
}

// SetPinned pins or unpins a tab.
func (b *Bridge) SetPinned(ctx context.Context, tabID int64, pinned bool) error {
	params := map[string]interface{}{"tabId": tabID, "pinned": pinned}
	return b.call(ctx, "tabs.update", params, nil)
}

// GroupTabs groups tabs within a window.
func (b *Bridge) GroupTabs(ctx context.Context, windowID int64, tabIDs []int64) (int64, error) {
	var groupID int64

	params := map[string]interface{}{
		"tabIds":           tabIDs,
		"createProperties": map[string]int64{"windowId": windowID},
	}
	if err := b.call(ctx, "tabs.group", params, &groupID); err != nil {
		return 0, err
	}

	return groupID, nil
}

// UpdateGroup sets a group's title, color and collapsed state.
func (b *Bridge) UpdateGroup(ctx context.Context, groupID int64, update GroupUpdate) error {
	params := map[string]interface{}{"groupId": groupID, "update": update}
	return b.call(ctx, "tabGroups.update", params, nil)
}

// Thumbnail returns the last preview image the companion captured for a
// tab.
func (b *Bridge) Thumbnail(ctx context.Context, tabID int64) ([]byte, error) {
	var out struct {
		Data []byte `json:"data"`
	}

	if err := b.call(ctx, "thumbnails.get", map[string]int64{"tabId": tabID}, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}
