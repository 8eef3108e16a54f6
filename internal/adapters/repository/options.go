package repository

import (
	"os"

	"github.com/okian/psyche/internal/adapters/keylock"
	"github.com/okian/psyche/pkg/logger"
)

// Option configures a store. Options that do not apply to a backend are ignored.
type Option func(*options)

type options struct {
	log            logger.Logger
	locker         keylock.Locker
	rename         func(oldpath, newpath string) error
	tablePrefix    string
	badgerInMemory bool
	badgerSync     bool
}

func defaultOptions() options {
	return options{
		log:        logger.Nop(),
		locker:     keylock.NewMemory(),
		rename:     os.Rename,
		badgerSync: true,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the logger used for corrupt-data warnings.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithLocker sets the per-key locker serializing file writers.
func WithLocker(l keylock.Locker) Option {
	return func(o *options) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithRenameFunc replaces os.Rename in the file store's atomic write path.
func WithRenameFunc(fn func(oldpath, newpath string) error) Option {
	return func(o *options) {
		if fn != nil {
			o.rename = fn
		}
	}
}

// WithTablePrefix prefixes the Postgres table names.
func WithTablePrefix(p string) Option {
	return func(o *options) { o.tablePrefix = p }
}

// WithBadgerInMemory runs Badger without touching disk.
func WithBadgerInMemory() Option {
	return func(o *options) { o.badgerInMemory = true }
}

// WithBadgerSyncWrites toggles fsync on every Badger commit.
func WithBadgerSyncWrites(sync bool) Option {
	return func(o *options) { o.badgerSync = sync }
}
