// Package enumerate turns source lists and directory scans into ordered
// work items, and filters out items whose final artifact already exists.
package enumerate

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/brensch/tilepull/internal/tile"
	"github.com/brensch/tilepull/internal/work"
)

// LoadSourceList resolves a source list location (http(s) URL or local
// file) into the ordered slice of remote archive URLs it names. Plain-text
// lists keep one URL per line; HTML directory listings have their .zip
// hrefs harvested and resolved against the listing URL.
func LoadSourceList(ctx context.Context, client *http.Client, location string) ([]string, error) {
	var content []byte
	var base *url.URL

	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, fmt.Errorf("create source list request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch source list %s: %w", location, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch source list %s: bad status %s", location, resp.Status)
		}
		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read source list %s: %w", location, err)
		}
		base, _ = url.Parse(location)
	} else {
		var err error
		content, err = os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read source list: %w", err)
		}
	}

	return ParseSourceList(content, base)
}

// ParseSourceList extracts archive URLs from list content. base is used to
// resolve relative hrefs in HTML listings and may be nil for plain lists.
func ParseSourceList(content []byte, base *url.URL) ([]string, error) {
	if looksLikeHTML(content) {
		return parseHTMLListing(content, base)
	}

	var urls []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	return urls, nil
}

func looksLikeHTML(content []byte) bool {
	head := strings.ToLower(string(content[:min(len(content), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// parseHTMLListing walks an HTML directory index and collects hrefs ending
// in .zip, in document order.
func parseHTMLListing(content []byte, base *url.URL) ([]string, error) {
	root, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parse HTML source listing: %w", err)
	}

	var urls []string
	var walk func(*html.Node)
	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key != "href" {
					continue
				}
				if !strings.HasSuffix(strings.ToLower(a.Val), ".zip") {
					break
				}
				ref, err := url.Parse(a.Val)
				if err != nil {
					break
				}
				if base != nil {
					ref = base.ResolveReference(ref)
				}
				urls = append(urls, ref.String())
				break
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return urls, nil
}

// FromSources builds work items for remote archive URLs. Sources with no
// parseable tile code are dropped with a warning rather than failing the
// run. The final artifact name is the archive basename with the .zip
// extension replaced by wantedSuffix, e.g.
// ASTGTMV003_N00E006.zip -> ASTGTMV003_N00E006_dem.tif.
func FromSources(logger *slog.Logger, sources []string, stagingDir, outputDir, wantedSuffix string) []work.Item {
	items := make([]work.Item, 0, len(sources))
	seen := make(map[tile.Key]bool, len(sources))

	for _, src := range sources {
		key, err := tile.ParseKey(src)
		if err != nil {
			logger.Warn("Dropping source with no parseable tile code.", "source", src, "error", err)
			continue
		}
		if seen[key] {
			logger.Warn("Dropping duplicate tile key.", "source", src, "key", key.String())
			continue
		}
		seen[key] = true

		name := filepath.Base(src)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		items = append(items, work.Item{
			Key:         key,
			Source:      src,
			Remote:      true,
			StagingPath: filepath.Join(stagingDir, name),
			FinalPath:   filepath.Join(outputDir, stem+wantedSuffix),
		})
	}
	return items
}

// FromDir scans dataDir recursively for files ending in ext (e.g.
// ".hgt.gz") and builds one local work item per file, ordered by path so
// enumeration is deterministic across runs. The final artifact sits next to
// the source with the compression extension stripped.
func FromDir(logger *slog.Logger, dataDir, ext string) ([]work.Item, error) {
	var paths []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dataDir, err)
	}
	sort.Strings(paths)

	items := make([]work.Item, 0, len(paths))
	seen := make(map[tile.Key]bool, len(paths))
	for _, path := range paths {
		key, err := tile.ParseKey(path)
		if err != nil {
			logger.Warn("Dropping file with no parseable tile code.", "path", path, "error", err)
			continue
		}
		if seen[key] {
			logger.Warn("Dropping duplicate tile key.", "path", path, "key", key.String())
			continue
		}
		seen[key] = true
		items = append(items, work.Item{
			Key:         key,
			Source:      path,
			Remote:      false,
			StagingPath: path,
			FinalPath:   strings.TrimSuffix(path, filepath.Ext(path)),
		})
	}
	return items, nil
}

// Clamp restricts items to the [start, end) index range. Bounds outside
// [0, len) clamp rather than error; end < 0 means "to the end".
func Clamp(items []work.Item, start, end int) []work.Item {
	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(items) {
		end = len(items)
	}
	if start >= end {
		return nil
	}
	return items[start:end]
}

// SelectKeys keeps only items whose key is present in keys, preserving
// order. Used by retry passes to re-resolve ledgered failures against the
// full enumeration.
func SelectKeys(items []work.Item, keys map[tile.Key]bool) []work.Item {
	var out []work.Item
	for _, it := range items {
		if keys[it.Key] {
			out = append(out, it)
		}
	}
	return out
}

// StatFunc is the filesystem probe used by Filter, injectable for tests.
type StatFunc func(string) (os.FileInfo, error)

// Filter is the resume filter: it splits items into those still to do and
// those whose final artifact already exists with non-zero size, preserving
// relative order. Pure over (items, stat) so it can be tested without real
// datasets on disk.
func Filter(items []work.Item, stat StatFunc) (todo, done []work.Item) {
	if stat == nil {
		stat = os.Stat
	}
	for _, it := range items {
		if fi, err := stat(it.FinalPath); err == nil && fi.Size() > 0 {
			done = append(done, it)
		} else {
			todo = append(todo, it)
		}
	}
	return todo, done
}
