package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/config"
	"github.com/spec-kit/queue-service/internal/directory"
	"github.com/spec-kit/queue-service/internal/persistence"
	"github.com/spec-kit/queue-service/internal/repository"
)

// Store is an opened ticket store plus the handle backing it.
type Store struct {
	Tickets repository.TicketStore
	Driver  string
	ping    func(ctx context.Context) error
	close   func()
}

// Ping checks the backing database. The memory driver is always reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backing database.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore opens the ticket store selected by cfg.Store.Driver. Postgres
// migrations run when migrate is true; the SQLite schema is always applied.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return &Store{
			Tickets: repository.NewPostgresTicketStore(pg.PoolHandle()),
			Driver:  config.StoreDriverPostgres,
			ping:    pg.Ping,
			close:   pg.Close,
		}, nil
	case config.StoreDriverSQLite:
		db, err := persistence.OpenSQLite(cfg.SQLite, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Tickets: repository.NewSQLiteTicketStore(db.DB, db.Read),
			Driver:  config.StoreDriverSQLite,
			ping:    db.Ping,
			close:   db.Close,
		}, nil
	case config.StoreDriverMemory:
		logger.Warn("using in-memory ticket store, tickets are lost on restart")
		return &Store{Tickets: repository.NewMemoryTicketStore(), Driver: config.StoreDriverMemory}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// LoadDirectory reads the configured department file, falling back to the
// built-in departments.
func LoadDirectory(cfg config.QueueConfig) (*directory.Directory, error) {
	return directory.Load(cfg.DepartmentsFile, cfg.DefaultCapacity)
}
