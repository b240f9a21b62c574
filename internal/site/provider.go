package site

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"

	"peerweb/internal/vpath"
)

var (
	ErrSiteNotFound  = errors.New("site not found")
	ErrInvalidSiteID = errors.New("invalid site id")
)

// Provider is the content-fetching engine. It returns every file of a site
// with its logical slash-separated path.
type Provider interface {
	Files(ctx context.Context, siteID string) ([]Resource, error)
}

// DirProvider serves sites from <Root>/<siteID>/ on the local filesystem.
type DirProvider struct {
	Root string
	// FileTimeout bounds reading a single file; zero means 5s.
	FileTimeout time.Duration
}

var _ Provider = (*DirProvider)(nil)

func (p *DirProvider) Files(ctx context.Context, siteID string) ([]Resource, error) {
	if !vpath.ValidSiteID(siteID) {
		return nil, ErrInvalidSiteID
	}
	root := filepath.Join(p.Root, strings.ToLower(siteID))
	fi, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
	}
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSiteNotFound, root)
	}

	timeout := p.FileTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var (
		mu    sync.Mutex
		files []Resource
	)
	conf := fastwalk.DefaultConfig.Copy()
	conf.Follow = false
	err = fastwalk.Walk(conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := readFileWithTimeout(ctx, path, timeout)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		logical := filepath.ToSlash(rel)
		r := Resource{Path: logical, Data: data, ContentType: detectContentType(logical, data)}
		mu.Lock()
		files = append(files, r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func readFileWithTimeout(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.Open(path)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		return r.b, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("file buffer timeout after %s: %w", timeout, ctx.Err())
	}
}

// detectContentType prefers the extension map and sniffs the bytes for
// unknown extensions.
func detectContentType(name string, data []byte) string {
	if ct, ok := vpath.ContentType(name); ok {
		return ct
	}
	if len(data) == 0 {
		return vpath.DefaultContentType
	}
	return mimetype.Detect(data).String()
}
