package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/c2fo/vfs/v7/vfssimple"
	"github.com/gabriel-vasile/mimetype"
)

// ErrSourceConsumed is returned when a single-use reader source is opened a
// second time (for example by re-subscribing to the same Call).
var ErrSourceConsumed = errors.New("bridge: reader source already consumed")

// sniffLen is how much of a stream is buffered for content type detection.
const sniffLen = 3072

// genericType is what the detector reports when it recognizes nothing; it
// is treated as "no content type".
const genericType = "application/octet-stream"

// Source supplies content for CreateFile and UpdateFileContent. Open is
// called once per subscription.
type Source interface {
	Open(ctx context.Context) (*Content, error)
}

// Content is an opened Source. Name and ContentType may be empty; Size is
// Unknown when the source cannot tell.
type Content struct {
	io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}

// FromReader wraps r as a named, single-use source. name may be empty.
func FromReader(name string, r io.Reader) Source {
	return &readerSource{name: name, r: r}
}

// FromFile returns a source reading the local file at path, reopened on
// every subscription.
func FromFile(path string) Source {
	return fileSource{path: path}
}

// FromURI returns a source for any URI the vfs backends understand
// (file://, s3://, gs://, mem://, sftp://, ...).
func FromURI(uri string) Source {
	return uriSource{uri: uri}
}

type readerSource struct {
	mu   sync.Mutex
	used bool
	name string
	r    io.Reader
}

func (s *readerSource) Open(_ context.Context) (*Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used {
		return nil, ErrSourceConsumed
	}

	s.used = true

	body, ctype, err := sniff(s.name, s.r)
	if err != nil {
		return nil, err
	}

	rc := io.NopCloser(body)
	if c, ok := s.r.(io.Closer); ok {
		rc = readCloser{Reader: body, Closer: c}
	}

	return &Content{ReadCloser: rc, Name: s.name, ContentType: ctype, Size: Unknown}, nil
}

type fileSource struct {
	path string
}

func (s fileSource) Open(_ context.Context) (*Content, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}

	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("opening %s: is a directory", s.path)
	}

	name := filepath.Base(s.path)

	ctype := typeByExtension(name)
	if ctype == "" && info.Size() > 0 {
		if m, derr := mimetype.DetectFile(s.path); derr == nil {
			ctype = baseType(m.String())
		}
	}

	return &Content{ReadCloser: f, Name: name, ContentType: ctype, Size: info.Size()}, nil
}

type uriSource struct {
	uri string
}

func (s uriSource) Open(_ context.Context) (*Content, error) {
	f, err := vfssimple.NewFile(s.uri)
	if err != nil {
		return nil, err
	}

	size := Unknown
	if n, serr := f.Size(); serr == nil {
		size = int64(n)
	}

	name := f.Name()
	if name == "" {
		name = path.Base(f.Path())
	}

	body, ctype, err := sniff(name, f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Content{
		ReadCloser:  readCloser{Reader: body, Closer: f},
		Name:        name,
		ContentType: ctype,
		Size:        size,
	}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// sniff resolves the content type of a stream from its name, falling back to
// the detector on the first bytes. The returned reader replays those bytes.
func sniff(name string, r io.Reader) (io.Reader, string, error) {
	if ctype := typeByExtension(name); ctype != "" {
		return r, ctype, nil
	}

	head := make([]byte, sniffLen)

	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}

	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), r)

	if n == 0 {
		return body, "", nil
	}

	return body, baseType(mimetype.Detect(head).String()), nil
}

func typeByExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}

	return baseType(mime.TypeByExtension(ext))
}

// baseType strips parameters ("; charset=...") and drops the generic type.
func baseType(ctype string) string {
	base, _, _ := strings.Cut(ctype, ";")
	base = strings.TrimSpace(base)

	if base == genericType {
		return ""
	}

	return base
}
