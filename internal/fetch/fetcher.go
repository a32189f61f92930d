// Package fetch downloads remote archives into the staging directory with
// bearer-token auth, classifying failures and retrying the transient ones.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/tilepull/internal/work"
)

// zipMagic is the local-file-header signature every valid zip starts with.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// suspiciousSize marks downloads small enough to plausibly be an HTML error
// page served with a 200 status. Anything this small must carry the zip
// signature to be accepted.
const suspiciousSize = 16 * 1024

// Fetcher downloads archives over HTTP.
type Fetcher struct {
	Client *http.Client
	Token  string
	Logger *slog.Logger

	// Policy overrides the transient-network retry policy when non-zero.
	// Tests zero the backoff through this.
	Policy work.Policy
}

// New returns a Fetcher with a sensible client timeout for large archives.
func New(token string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		Client: &http.Client{Timeout: 10 * time.Minute},
		Token:  token,
		Logger: logger,
	}
}

func (f *Fetcher) policy() work.Policy {
	if f.Policy.MaxAttempts > 0 {
		return f.Policy
	}
	return work.PolicyFor(work.KindTransientNetwork)
}

// Fetch downloads it.Source to it.StagingPath. A non-empty staging file is
// reused without touching the network so interrupted runs do not re-download
// archives they already hold. Transient failures are retried per policy;
// auth and not-found failures are returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, it work.Item) error {
	if fi, err := os.Stat(it.StagingPath); err == nil && fi.Size() > 0 {
		f.Logger.Debug("Reusing staged archive.", "tile", it.Key.String(), "path", it.StagingPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(it.StagingPath), 0o755); err != nil {
		return work.Errorf(work.KindDiskWrite, "create staging dir: %w", err)
	}

	policy := f.policy()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt)
			f.Logger.Info("Retrying fetch.",
				"tile", it.Key.String(), "attempt", attempt, "delay", delay.String())
			select {
			case <-ctx.Done():
				return work.NewError(work.KindTransientNetwork, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := f.fetchOnce(ctx, it)
		if err == nil {
			return nil
		}
		lastErr = err

		var we *work.Error
		if errors.As(err, &we) && we.Kind != work.KindTransientNetwork {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		f.Logger.Warn("Fetch attempt failed.",
			"tile", it.Key.String(), "attempt", attempt, "error", err)
	}
	return lastErr
}

// fetchOnce performs a single download attempt, streaming into a .partial
// file that is renamed into place only on success.
func (f *Fetcher) fetchOnce(ctx context.Context, it work.Item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.Source, nil)
	if err != nil {
		return work.Errorf(work.KindNotFound, "build request for %s: %w", it.Source, err)
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return work.Errorf(work.KindTransientNetwork, "fetch %s: %w", it.Source, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, it.Source); err != nil {
		return err
	}

	partial := it.StagingPath + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return work.Errorf(work.KindDiskWrite, "create %s: %w", partial, err)
	}

	written, copyErr := io.Copy(out, resp.Body)
	syncErr := out.Sync()
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(partial)
		return work.Errorf(work.KindTransientNetwork, "stream %s: %w", it.Source, copyErr)
	}
	if err := errors.Join(syncErr, closeErr); err != nil {
		os.Remove(partial)
		return work.Errorf(work.KindDiskWrite, "finish %s: %w", partial, err)
	}

	if written < suspiciousSize {
		ok, err := hasZipMagic(partial)
		if err != nil {
			os.Remove(partial)
			return work.Errorf(work.KindDiskWrite, "verify %s: %w", partial, err)
		}
		if !ok {
			os.Remove(partial)
			return work.Errorf(work.KindTransientNetwork,
				"response for %s is %d bytes and not a zip archive", it.Source, written)
		}
	}

	if err := os.Rename(partial, it.StagingPath); err != nil {
		os.Remove(partial)
		return work.Errorf(work.KindDiskWrite, "move %s into place: %w", partial, err)
	}
	return nil
}

func classifyStatus(status int, source string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return work.Errorf(work.KindAuth, "fetch %s: status %d, credential rejected", source, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return work.Errorf(work.KindTransientNetwork, "fetch %s: status %d", source, status)
	default:
		return work.Errorf(work.KindNotFound, "fetch %s: status %d", source, status)
	}
}

func hasZipMagic(path string) (bool, error) {
	fh, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer fh.Close()
	head := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(fh, head); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, zipMagic), nil
}

// LoadToken resolves the bearer token: an explicit override wins, otherwise
// the token file is read and trimmed. A missing file with no override is an
// error since every fetch request needs the credential.
func LoadToken(override, path string) (string, error) {
	if override != "" {
		return override, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file %s (pass --token, or generate one at https://urs.earthdata.nasa.gov and save it there): %w", path, err)
	}
	token := string(bytes.TrimSpace(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
