// Package media defines the interface which must be implemented by
// object storage handlers used for avatar uploads.
package media

import (
	"encoding/json"
	"io"
)

// Handler is the interface which must be implemented by object storage
// handlers. Upload is an opaque "store bytes, get a URL back"
// operation; the URL ends up in profile records as-is.
type Handler interface {
	// Init initializes the media handler.
	Init(jsonconf json.RawMessage) error

	// Upload stores the object under the given unique key. Returns the
	// URL the stored object is reachable at and the stored size.
	Upload(key string, file io.Reader) (string, int64, error)
}

var availableHandlers = make(map[string]Handler)

// RegisterHandler makes an object storage handler available by name.
func RegisterHandler(name string, h Handler) {
	if h == nil {
		panic("media: register handler is nil")
	}
	if _, ok := availableHandlers[name]; ok {
		panic("media: handler '" + name + "' is already registered")
	}
	availableHandlers[name] = h
}

// GetHandler returns a registered handler by name, nil if absent.
func GetHandler(name string) Handler {
	return availableHandlers[name]
}
