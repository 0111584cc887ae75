package raindrop

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Special collection ids understood by the API.
const (
	CollectionAll      int64 = 0
	CollectionUnsorted int64 = -1
	CollectionTrash    int64 = -99
)

// ID is a collection or item id. The API sends numbers, but some
// endpoints and older exports send numeric strings. Values that cannot
// be parsed decode to zero so callers can skip the record instead of
// failing the whole response.
type ID int64

// UnmarshalJSON accepts 12, 12.0 and "12". Anything else becomes 0.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*id = 0
			return nil
		}

		data = []byte(s)
	}

	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*id = ID(n)
		return nil
	}

	if f, err := strconv.ParseFloat(string(data), 64); err == nil && f == float64(int64(f)) {
		*id = ID(int64(f))
		return nil
	}

	*id = 0

	return nil
}

// Ref is the {"$id": n} reference shape used for parents and collections.
type Ref struct {
	ID ID `json:"$id"`
}

// Collection is a remote folder-like node.
type Collection struct {
	ID     ID     `json:"_id"`
	Title  string `json:"title"`
	Sort   int64  `json:"sort"`
	Parent *Ref   `json:"parent,omitempty"`
}

// Group is a named top-level bucket of root collections, in user order.
type Group struct {
	Title       string `json:"title"`
	Hidden      bool   `json:"hidden"`
	Sort        int    `json:"sort"`
	Collections []ID   `json:"collections"`
}

// Item is a saved link ("raindrop"). Note carries an opaque JSON blob
// for items written by the session exporter.
type Item struct {
	ID         ID     `json:"_id"`
	Link       string `json:"link"`
	Title      string `json:"title"`
	Note       string `json:"note"`
	Cover      string `json:"cover,omitempty"`
	Collection Ref    `json:"collection"`
}

// NewItem is the payload for creating an item.
type NewItem struct {
	Link       string `json:"link"`
	Title      string `json:"title"`
	Note       string `json:"note,omitempty"`
	Collection Ref    `json:"collection"`
}

// ItemUpdate is the payload for updating an item's fields.
type ItemUpdate struct {
	Link  string `json:"link"`
	Title string `json:"title"`
	Note  string `json:"note"`
}

// APIError is the error body returned by the API.
type APIError struct {
	Result       bool   `json:"result"`
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

func (e APIError) message() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}

	return e.Error
}

type collectionsResponse struct {
	Result bool         `json:"result"`
	Items  []Collection `json:"items"`
}

type collectionResponse struct {
	Result bool       `json:"result"`
	Item   Collection `json:"item"`
}

type userResponse struct {
	Result bool `json:"result"`
	User   struct {
		Groups []Group `json:"groups"`
	} `json:"user"`
}

type itemsResponse struct {
	Result bool   `json:"result"`
	Items  []Item `json:"items"`
}

type itemResponse struct {
	Result bool `json:"result"`
	Item   Item `json:"item"`
}

type bulkRequest struct {
	IDs        []int64 `json:"ids"`
	Collection *Ref    `json:"collection,omitempty"`
}

type bulkResponse struct {
	Result   bool `json:"result"`
	Modified int  `json:"modified"`
}
