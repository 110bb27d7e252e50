// Package fs implements the media interface storing objects in the
// local file system.
package fs

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/letschat/letschat/client/logs"
	"github.com/letschat/letschat/client/media"
)

const handlerName = "fs"

type configType struct {
	// Directory the uploads are written to.
	UploadDir string `json:"upload_dir"`
	// URL prefix the uploaded files are served under.
	ServeURL string `json:"serve_url"`
}

type fshandler struct {
	conf configType
}

// Init initializes the handler.
func (fh *fshandler) Init(jsonconf json.RawMessage) error {
	if err := json.Unmarshal(jsonconf, &fh.conf); err != nil {
		return errors.New("fs: failed to parse config: " + err.Error())
	}
	if fh.conf.UploadDir == "" {
		return errors.New("fs: upload_dir is required")
	}
	return os.MkdirAll(fh.conf.UploadDir, 0750)
}

// Upload writes the object to the upload directory under its key.
func (fh *fshandler) Upload(key string, file io.Reader) (string, int64, error) {
	location := filepath.Join(fh.conf.UploadDir, key)

	outfile, err := os.Create(location)
	if err != nil {
		logs.Err.Println("fs: failed to create file", location, err)
		return "", 0, err
	}

	size, err := io.Copy(outfile, file)
	outfile.Close()
	if err != nil {
		os.Remove(location)
		return "", 0, err
	}

	return fh.conf.ServeURL + key, size, nil
}

func init() {
	media.RegisterHandler(handlerName, &fshandler{})
}
