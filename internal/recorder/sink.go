package recorder

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Kind identifies a metric channel.
type Kind string

const (
	KindHandshake Kind = "hs"
	KindRead      Kind = "rx"
	KindWrite     Kind = "tx"
)

// Kinds lists the channels in file-creation order.
var Kinds = []Kind{KindHandshake, KindRead, KindWrite}

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	default:
		return string(k)
	}
}

const (
	// Delimiter separates the columns of the read and write channels.
	Delimiter = ';'
	// LineEnding terminates every header and record line.
	LineEnding = "\r\n"

	lockFileName    = ".tlsbench.lock"
	timestampLayout = "2006-01-02_15:04:05"
)

// Record is a single measurement. Size is zero for handshake records.
type Record struct {
	Kind     Kind
	Size     int64
	Duration time.Duration
}

// Observer receives every record after it has been persisted.
// Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Record)
}

// Header returns the column header written at the top of a channel file.
func Header(kind Kind) string {
	if kind == KindHandshake {
		return "duration"
	}
	return "size" + string(Delimiter) + "duration"
}

// FileName returns the deterministic file name of a channel for a bootstrap time.
func FileName(bootstrap time.Time, kind Kind) string {
	return bootstrap.Local().Format(timestampLayout) + "_log_server_" + string(kind) + ".csv"
}

// Format renders a record as one line, including the line ending.
func Format(rec Record) []byte {
	line := make([]byte, 0, 32)
	if rec.Kind != KindHandshake {
		line = strconv.AppendInt(line, rec.Size, 10)
		line = append(line, Delimiter)
	}
	line = strconv.AppendInt(line, rec.Duration.Milliseconds(), 10)
	return append(line, LineEnding...)
}

type channel struct {
	kind Kind
	path string

	mu   sync.Mutex
	file *os.File

	written  atomic.Int64
	failures atomic.Int64
}

func openChannel(dir string, bootstrap time.Time, kind Kind) (*channel, error) {
	path := filepath.Join(dir, FileName(bootstrap, kind))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s channel", kind)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %s channel", kind)
	}
	// A restart within the same second reuses the file; the header is already there.
	if info.Size() == 0 {
		if _, err := f.WriteString(Header(kind) + LineEnding); err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "write %s channel header", kind)
		}
	}
	return &channel{kind: kind, path: path, file: f}, nil
}

func (c *channel) append(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return os.ErrClosed
	}
	_, err := c.file.Write(line)
	return err
}

func (c *channel) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// Sink is the append-only destination of all session measurements.
type Sink struct {
	dir       string
	lock      *flock.Flock
	channels  map[Kind]*channel
	observers []Observer
	logger    log.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Sink.
type Option func(*Sink)

// WithObserver registers an observer notified after every persisted record.
func WithObserver(o Observer) Option {
	return func(s *Sink) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger sets the logger used to report failed writes.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates dir if needed, takes an exclusive lock on it and opens the three
// channel files named after bootstrap. Any failure is fatal: nothing stays open.
func Open(dir string, bootstrap time.Time, opts ...Option) (*Sink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create metrics directory")
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "lock metrics directory")
	}
	if !locked {
		return nil, errors.Errorf("metrics directory %s is in use by another process", dir)
	}

	s := &Sink{
		dir:      dir,
		lock:     lock,
		channels: make(map[Kind]*channel, len(Kinds)),
		logger:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, kind := range Kinds {
		ch, err := openChannel(dir, bootstrap, kind)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.channels[kind] = ch
	}
	return s, nil
}

// RecordHandshake appends one handshake duration.
func (s *Sink) RecordHandshake(d time.Duration) {
	s.record(Record{Kind: KindHandshake, Duration: d})
}

// RecordRead appends the size and duration of one request read.
func (s *Sink) RecordRead(size int64, d time.Duration) {
	s.record(Record{Kind: KindRead, Size: size, Duration: d})
}

// RecordWrite appends the size and duration of one response write.
func (s *Sink) RecordWrite(size int64, d time.Duration) {
	s.record(Record{Kind: KindWrite, Size: size, Duration: d})
}

func (s *Sink) record(rec Record) {
	ch := s.channels[rec.Kind]
	if ch == nil {
		return
	}
	if err := ch.append(Format(rec)); err != nil {
		ch.failures.Add(1)
		s.logger.WithError(err).WithField("channel", rec.Kind.String()).Error("Failed to append metric record")
		return
	}
	ch.written.Add(1)
	for _, o := range s.observers {
		o.Observe(rec)
	}
}

// Path returns the file backing a channel.
func (s *Sink) Path(kind Kind) string {
	if ch := s.channels[kind]; ch != nil {
		return ch.path
	}
	return ""
}

// Dir returns the metrics directory.
func (s *Sink) Dir() string {
	return s.dir
}

// Written returns how many records were persisted on a channel.
func (s *Sink) Written(kind Kind) int64 {
	if ch := s.channels[kind]; ch != nil {
		return ch.written.Load()
	}
	return 0
}

// Failures returns how many records could not be persisted on a channel.
func (s *Sink) Failures(kind Kind) int64 {
	if ch := s.channels[kind]; ch != nil {
		return ch.failures.Load()
	}
	return 0
}

// Close closes every channel and releases the directory lock. It is safe to
// call more than once.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		for _, kind := range Kinds {
			if ch := s.channels[kind]; ch != nil {
				if err := ch.close(); err != nil && s.closeErr == nil {
					s.closeErr = errors.Wrapf(err, "close %s channel", kind)
				}
			}
		}
		if err := s.lock.Unlock(); err != nil && s.closeErr == nil {
			s.closeErr = errors.Wrap(err, "unlock metrics directory")
		}
	})
	return s.closeErr
}
