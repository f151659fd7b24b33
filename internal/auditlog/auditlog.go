// Package auditlog keeps a JSON-lines journal of what each run dropped or
// defaulted: skipped rows, resolution misses and zeroed values. One file per
// day under RECON_LOG_DIR.
package auditlog

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fundrecon/internal/types"
)

var ist = time.FixedZone("IST", 19800)

func LogDir() string {
	if v := os.Getenv("RECON_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(dir string, t time.Time) string {
	return filepath.Join(dir, "audit", t.In(ist).Format("2006-01-02")+".txt")
}

type Journal struct {
	mu   sync.Mutex
	file *os.File
	log  *zap.Logger
}

// Open appends to today's journal in dir.
func Open(dir string) (*Journal, error) {
	p := dailyFilepath(dir, time.Now())
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: f, log: newLogger(f)}, nil
}

// New writes to w; the caller owns w.
func New(w io.Writer) *Journal {
	return &Journal{log: newLogger(zapcore.AddSync(w))}
}

func newLogger(w zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "event"
	enc.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(t.In(ist).Format("2006-01-02 15:04:05"))
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, zapcore.InfoLevel)
	return zap.New(core)
}

// Record writes one line per skip reason, missed map and zeroed column,
// followed by a run line with the totals.
func (j *Journal) Record(report string, records int, s *types.RunSummary) {
	if j == nil || s == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, k := range sortedKeys(s.SkipReasons) {
		j.log.Info("skipped_rows", zap.String("report", report), zap.String("reason", k), zap.Int("count", s.SkipReasons[k]))
	}
	for _, k := range sortedKeys(s.Misses) {
		j.log.Info("resolution_miss", zap.String("report", report), zap.String("map", k), zap.Int("count", s.Misses[k]))
	}
	for _, k := range sortedKeys(s.Zeroed) {
		j.log.Warn("zeroed_values", zap.String("report", report), zap.String("column", k), zap.Int("count", s.Zeroed[k]))
	}
	j.log.Info("run",
		zap.String("report", report),
		zap.Int("records", records),
		zap.Int("skipped", s.Skipped),
		zap.Int("misses", s.TotalMisses()),
		zap.Int("zeroed", s.TotalZeroed()),
	)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.log.Sync()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CompressOlder gzips journal files under dir last modified more than
// retentionDays ago and removes the originals.
func CompressOlder(dir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err == nil {
			_ = os.Remove(p)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
