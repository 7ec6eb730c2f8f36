package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/raffis/importer/pkg/importer"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type Backend string

var (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
)

func (b Backend) String() string {
	return string(b)
}

type Options struct {
	Backend string
	Dir     string
	TTL     time.Duration
	Redis   struct {
		Addr     string
		Username string
		Password string
		DB       int
	}
}

func DefaultOptions() *Options {
	return &Options{
		Backend: BackendFile.String(),
		Dir:     filepath.Join(os.TempDir(), "importer-locks"),
		TTL:     DefaultTTL,
	}
}

func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Backend, "lock-backend", "", o.Backend, "Lock backend used to exclude concurrent imports of the same pipeline. One of [memory, file, redis].")
	fs.StringVarP(&o.Dir, "lock-dir", "", o.Dir, "Directory holding the lock files of the file lock backend.")
	fs.DurationVarP(&o.TTL, "lock-ttl", "", o.TTL, "Expiry of a redis lock if its holder stops refreshing it.")
	fs.StringVarP(&o.Redis.Addr, "redis-addr", "", "localhost:6379", "Redis address of the redis lock backend.")
	fs.StringVarP(&o.Redis.Username, "redis-username", "", "", "Redis username.")
	fs.StringVarP(&o.Redis.Password, "redis-password", "", "", "Redis password.")
	fs.IntVarP(&o.Redis.DB, "redis-db", "", 0, "Redis database.")
}

// Build returns the configured locker. Lockers holding a connection implement io.Closer.
func (o *Options) Build(logger logr.Logger) (importer.Locker, error) {
	switch Backend(o.Backend) {
	case BackendMemory:
		return importer.NewLocalLocker(), nil
	case BackendFile:
		return NewFileLocker(o.Dir), nil
	case BackendRedis:
		if o.TTL < MinTTL {
			return nil, fmt.Errorf("invalid lock ttl given: %s, must be at least %s", o.TTL, MinTTL)
		}

		client := goredis.NewClient(&goredis.Options{
			Addr:     o.Redis.Addr,
			Username: o.Redis.Username,
			Password: o.Redis.Password,
			DB:       o.Redis.DB,
		})

		return NewRedisLocker(client,
			WithTTL(o.TTL),
			WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("invalid lock backend given: %s", o.Backend)
	}
}
