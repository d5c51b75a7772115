package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open builds the Store named by driver.
func Open(ctx context.Context, driver, dsn string, maxConns int, logger *zap.Logger) (Store, error) {
	switch driver {
	case DriverMemory, "":
		logger.Warn("using in-memory store, data is lost on restart")
		return NewMemory(), nil
	case DriverPostgres:
		pg, err := NewPostgres(ctx, dsn, int32(maxConns), logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverSQLite:
		lite, err := NewSQLite(dsn, maxConns, logger)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
