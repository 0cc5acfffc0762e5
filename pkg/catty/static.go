package catty

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ContentSource resolves a path relative to a static prefix into content.
type ContentSource interface {
	Lookup(name string) (contentType string, data []byte, err error)
}

// FSSource serves content from an fs.FS, such as an embed.FS.
type FSSource struct {
	FS fs.FS
}

// Dir serves content from a directory on disk.
func Dir(root string) FSSource {
	return FSSource{FS: os.DirFS(root)}
}

// Lookup reads name from the file system. Names containing ".." elements
// and directories are reported as ErrNotFound.
func (s FSSource) Lookup(name string) (string, []byte, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || !fs.ValidPath(name) {
		return "", nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	info, err := fs.Stat(s.FS, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%w: %q is a directory", ErrNotFound, name)
	}

	data, err := fs.ReadFile(s.FS, name)
	if err != nil {
		return "", nil, err
	}
	return contentType(name, data), data, nil
}

// contentType picks a type from the file extension, sniffing the content
// when the extension is unknown. Types without a charset get utf-8.
func contentType(name string, data []byte) string {
	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = mimetype.Detect(data).String()
	}
	if !strings.Contains(ct, "charset=") {
		ct += "; charset=utf-8"
	}
	return ct
}

// Static registers GET prefix/* to serve content from src.
func (r *Router) Static(prefix string, src ContentSource) *Route {
	prefix = strings.TrimSuffix(prefix, "/")
	return r.GET(prefix+"/*", HandlerFunc(func(req *Request, res *Response) error {
		name := req.ParamString(WildcardParam)
		if name == "" && req.Route() != nil {
			name = req.Route().Vars(req.Path)[WildcardParam]
		}

		ct, data, err := src.Lookup(name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return NewHTTPError(404, statusText(404))
			}
			return fmt.Errorf("static %q: %w", name, err)
		}
		res.Data(200, ct, data)
		return nil
	}))
}
