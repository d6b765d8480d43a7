package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/jlaffaye/ftp"
	"github.com/munifin/harvester/internal/metrics"
	"go.uber.org/zap"
)

// FTPFetcher lists directories and retrieves files from ftp:// sources.
// Connections are anonymous; the statement archives this pipeline crawls do
// not require credentials.
type FTPFetcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewFTPFetcher constructs an FTP fetcher.
func NewFTPFetcher(cfg Config, logger *zap.Logger) *FTPFetcher {
	return &FTPFetcher{cfg: cfg, logger: logger}
}

// ListDir lists the directory at the URL path and returns the entry names of
// regular files. The listing feeds the same candidate-link extraction as HTML
// anchors.
func (f *FTPFetcher) ListDir(ctx context.Context, rawURL string) (Listing, error) {
	u, conn, err := f.connect(ctx, rawURL)
	if err != nil {
		metrics.FetchErrors.Inc()
		return Listing{}, err
	}
	defer func() {
		if qerr := conn.Quit(); qerr != nil {
			f.logger.Debug("ftp quit failed", zap.String("url", rawURL), zap.Error(qerr))
		}
	}()

	dir := u.Path
	if dir == "" {
		dir = "/"
	}
	entries, err := conn.List(dir)
	if err != nil {
		metrics.FetchErrors.Inc()
		return Listing{}, fmt.Errorf("ftp list %s: %w", rawURL, err)
	}

	listing := Listing{DirURL: rawURL}
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		listing.Names = append(listing.Names, e.Name)
	}
	metrics.PagesFetched.Inc()
	return listing, nil
}

// RetrieveFile downloads a single file from an ftp:// URL.
func (f *FTPFetcher) RetrieveFile(ctx context.Context, rawURL string) ([]byte, error) {
	u, conn, err := f.connect(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if qerr := conn.Quit(); qerr != nil {
			f.logger.Debug("ftp quit failed", zap.String("url", rawURL), zap.Error(qerr))
		}
	}()

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", rawURL, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("ftp read %s: %w", rawURL, err)
	}
	return body, nil
}

func (f *FTPFetcher) connect(ctx context.Context, rawURL string) (*url.URL, *ftp.ServerConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ftp url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "ftp") {
		return nil, nil, fmt.Errorf("not an ftp url: %s", rawURL)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.cfg.Timeout),
	)
	if err != nil {
		return nil, nil, classifyFTPDialError(rawURL, err)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		_ = conn.Quit()
		return nil, nil, fmt.Errorf("ftp login %s: %w", rawURL, err)
	}
	return u, conn, nil
}

func classifyFTPDialError(rawURL string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrUnreachable, fmt.Errorf("ftp dial %s: %w", rawURL, err))
}
