package store

import (
	"context"
	"fmt"

	"github.com/zergu1ar/steamtrade/tradeoffer"
)

// Kinds accepted by Open.
const (
	KindFile     = "file"
	KindFileZstd = "file+zstd"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Open builds the store named by kind. target is a directory for the file
// kinds, a database path for sqlite and a DSN for postgres. The returned close
// func is never nil.
func Open(ctx context.Context, kind, target string) (tradeoffer.PollStore, func(), error) {
	switch kind {
	case KindFile, KindFileZstd:
		f, err := NewFile(target, kind == KindFileZstd)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	case KindSQLite:
		s, err := OpenSQLite(target)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case KindPostgres:
		p, err := OpenPostgres(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", kind)
}
