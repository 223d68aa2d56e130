// Package marketdata supplies OHLCV series to the executor. The core never
// fetches exchange data itself; this package reads series that a fetcher
// pipeline has already materialized on disk.
package marketdata

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/series"
)

// FSProvider reads candle series from <dir>/<symbol>/<timeframe>.json, with
// a gzipped .json.gz fallback. Series are sorted by timestamp on load so the
// clamp's ordering assumption always holds.
type FSProvider struct {
	dir    string
	logger *zap.SugaredLogger
}

// NewFSProvider creates a provider rooted at dir.
func NewFSProvider(dir string, logger *zap.SugaredLogger) *FSProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FSProvider{dir: dir, logger: logger.Named("marketdata")}
}

// Series loads the full history for (symbol, timeframe). Missing files map
// to ErrNotFound so the caller can distinguish "no data yet" from a broken
// feed.
func (p *FSProvider) Series(ctx context.Context, symbol, timeframe string) (series.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(p.dir, symbol, timeframe)
	r, err := p.open(base)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var s series.Series
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode series for %s/%s", symbol, timeframe)
	}
	if len(s) == 0 {
		return nil, errors.NewValidationError("series for %s/%s is empty", symbol, timeframe)
	}

	sort.Slice(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
	return s, nil
}

func (p *FSProvider) open(base string) (io.ReadCloser, error) {
	f, err := os.Open(base + ".json")
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "open series file")
	}

	f, err = os.Open(base + ".json.gz")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "no series file at %s.json[.gz]", base)
		}
		return nil, errors.Wrap(err, "open series file")
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "open gzip series file")
	}
	return &gzipFile{zr: zr, f: f}, nil
}

type gzipFile struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipFile) Close() error {
	zerr := g.zr.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
