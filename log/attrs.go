package log

import (
	"time"

	"github.com/rs/zerolog"
)

func Scope(name string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("s", name)
	}
}

func Int64(key string, v int64) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Int64(key, v)
	}
}

func Str(key, v string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str(key, v)
	}
}

// Coll is the "db.collection" namespace (or target table) an entry is about.
func Coll(name string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("coll", name)
	}
}

func TxID(id string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("tx", id)
	}
}

func Op(kind string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("op", kind)
	}
}

func Store(name string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("store", name)
	}
}

func Size(n int) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Int("size", n)
	}
}

func Attempt(n int) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Int("attempt", n)
	}
}

func Elapsed(d time.Duration) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Dur("elapsed", d)
	}
}

// OpTime is a logical cluster time.
func OpTime(t, i uint32) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Uints32("ts", []uint32{t, i})
	}
}
