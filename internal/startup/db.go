package startup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/networkup/chat/internal/config"
)

// ConnectDB подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
func ConnectDB(ctx context.Context, cfg *config.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())

	var pool *pgxpool.Pool
	err = retry(ctx, "postgres", maxWait, func(ctx context.Context) error {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(connectCtx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	return pool, err
}
