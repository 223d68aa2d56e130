package artifact

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/errors"
)

// Store writes and reads compressed trade artifacts under a base directory.
type Store struct {
	dir    string
	logger *zap.SugaredLogger
}

// NewStore creates an artifact store rooted at dir.
func NewStore(dir string, logger *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create artifact directory")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{dir: dir, logger: logger.Named("artifact")}, nil
}

// Ref returns the artifact reference for an identity. The ref is a relative
// path, stable across re-runs: saving identical content under the same
// identity yields the same ref and the same bytes.
func (s *Store) Ref(id Identity) string {
	return filepath.Join(
		sanitize(id.Symbol),
		sanitize(id.Timeframe),
		sanitize(id.ConfigName)+"__"+sanitize(id.ExecutionID)+".json.gz",
	)
}

// Save serializes, compresses and persists trades under the identity's ref.
// The write is atomic (temp file + rename) so readers never observe a
// partially-written artifact. Saving twice with identical trades is
// idempotent: same ref, same bytes.
func (s *Store) Save(id Identity, trades []Trade) (string, error) {
	ref := s.Ref(id)
	path := filepath.Join(s.dir, ref)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create artifact subdirectory")
	}

	data, err := encode(trades)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return "", errors.Wrap(err, "create temp artifact")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.Wrap(err, "write artifact")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(err, "close artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(err, "finalize artifact")
	}

	s.logger.Debugw("Artifact saved",
		"artifact_ref", ref,
		"trades", len(trades),
		"bytes", len(data),
	)
	return ref, nil
}

// Load reads and decompresses the trades stored under ref.
func (s *Store) Load(ref string) ([]Trade, error) {
	f, err := os.Open(filepath.Join(s.dir, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "artifact %s", ref)
		}
		return nil, errors.Wrap(err, "open artifact")
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decompress artifact %s", ref)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", ref)
	}

	var trades []Trade
	if err := json.Unmarshal(raw, &trades); err != nil {
		return nil, errors.Wrapf(err, "decode artifact %s", ref)
	}
	return trades, nil
}

// Delete removes the artifact under ref. Used to quarantine corrupt artifacts
// and by administrative run cleanup. Deleting a missing ref is not an error.
func (s *Store) Delete(ref string) error {
	err := os.Remove(filepath.Join(s.dir, ref))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete artifact %s", ref)
	}
	return nil
}

// encode produces the deterministic compressed representation: a stable JSON
// encoding wrapped in a gzip stream with a zeroed header, so identical trades
// always yield identical bytes.
func encode(trades []Trade) ([]byte, error) {
	if trades == nil {
		trades = []Trade{}
	}
	raw, err := json.Marshal(trades)
	if err != nil {
		return nil, errors.Wrap(err, "encode trades")
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "compress trades")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "flush compressed trades")
	}
	return buf.Bytes(), nil
}

func sanitize(part string) string {
	part = strings.TrimSpace(part)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return replacer.Replace(part)
}
