package main

import (
	"context"
	"fmt"
	"log"

	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/database"
	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/repository"
	"github.com/iliyamo/table-reservation/internal/repository/memstore"
	"github.com/iliyamo/table-reservation/internal/service"
)

// storage groups the stores behind the selected STORAGE_DRIVER.
type storage struct {
	slots  service.SlotStore
	ledger service.LedgerStore
	users  handler.UserStore
	tokens handler.TokenStore
	ping   handler.Check
	close  func() error
}

func openStorage(cfg config.Config) (storage, error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.Printf("storage: in-memory (data is lost on restart)")
		st := memstore.New()
		return storage{
			slots:  st,
			ledger: st,
			users:  st.Users(),
			tokens: st,
			ping:   func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return storage{}, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.DBMigrate {
		if err := database.Migrate(db); err != nil {
			_ = db.Close()
			return storage{}, fmt.Errorf("migrate: %w", err)
		}
	}
	return storage{
		slots:  repository.NewSlotRepo(db),
		ledger: repository.NewPaymentRepo(db),
		users:  repository.NewUserRepo(db),
		tokens: repository.NewTokenRepo(db),
		ping:   db.PingContext,
		close:  db.Close,
	}, nil
}
