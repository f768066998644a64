package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// Repository implements ports.TradeRepository, ports.PositionRepository
// and ports.SnapshotStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and initializes the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradesim.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between writer and readers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY,
		order_id    INTEGER NOT NULL,
		instrument  TEXT    NOT NULL,
		direction   INTEGER NOT NULL,
		size        TEXT    NOT NULL,
		price       TEXT    NOT NULL,
		last_price  TEXT    NOT NULL,
		fee         TEXT    NOT NULL,
		maker       INTEGER NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);

	CREATE TABLE IF NOT EXISTS closed_positions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument TEXT      NOT NULL,
		avg_price  TEXT      NOT NULL,
		exit_price TEXT      NOT NULL,
		realised   TEXT      NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_closed_positions_instrument ON closed_positions(instrument);

	CREATE TABLE IF NOT EXISTS snapshots (
		session_id TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		checksum   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveTrade persists a single fill.
func (r *Repository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (id, order_id, instrument, direction, size, price, last_price, fee, maker, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.OrderID, trade.Instrument, int(trade.Direction),
		trade.Size.String(), trade.Price.String(), trade.LastPrice.String(),
		trade.Fee.String(), boolToInt(trade.Maker), trade.Time.UTC(),
	)
	if err != nil {
		// Trade ids are globally unique, so a key collision means the fill
		// was already persisted.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: trade %d: %v", ports.ErrDuplicateEntry, trade.ID, err)
		}
		return fmt.Errorf("%w: failed to insert trade %d: %v", ports.ErrUpdateFailed, trade.ID, err)
	}
	return nil
}

// TradesByInstrument retrieves the most recent fills for an instrument,
// newest first. A limit of 0 returns everything.
func (r *Repository) TradesByInstrument(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	query := `
	SELECT id, order_id, instrument, direction, size, price, last_price, fee, maker, executed_at
	FROM trades WHERE instrument = ? ORDER BY executed_at DESC, id DESC`
	args := []interface{}{instrument}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		var direction, maker int
		var size, price, lastPrice, fee string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Instrument, &direction, &size, &price, &lastPrice, &fee, &maker, &t.Time); err != nil {
			return nil, fmt.Errorf("%w: failed to scan trade: %v", ports.ErrQueryFailed, err)
		}
		t.Direction = domain.Direction(direction)
		t.Maker = maker != 0
		if t.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("%w: bad size for trade %d: %v", ports.ErrQueryFailed, t.ID, err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("%w: bad price for trade %d: %v", ports.ErrQueryFailed, t.ID, err)
		}
		if t.LastPrice, err = decimal.NewFromString(lastPrice); err != nil {
			return nil, fmt.Errorf("%w: bad last price for trade %d: %v", ports.ErrQueryFailed, t.ID, err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("%w: bad fee for trade %d: %v", ports.ErrQueryFailed, t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveClosedPosition persists a position that has been closed out.
func (r *Repository) SaveClosedPosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO closed_positions (instrument, avg_price, exit_price, realised, entry_time, exit_time)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		pos.Instrument, pos.AvgPrice.String(), pos.ExitPrice.String(),
		pos.Realised.String(), pos.EntryTime.UTC(), pos.ExitTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert closed position: %v", ports.ErrUpdateFailed, err)
	}
	return nil
}

// ClosedPositions retrieves closed positions, oldest first. An empty
// instrument matches all.
func (r *Repository) ClosedPositions(ctx context.Context, instrument string) ([]*domain.Position, error) {
	query := `
	SELECT instrument, avg_price, exit_price, realised, entry_time, exit_time
	FROM closed_positions`
	var args []interface{}
	if instrument != "" {
		query += " WHERE instrument = ?"
		args = append(args, instrument)
	}
	query += " ORDER BY exit_time ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p := &domain.Position{}
		var avgPrice, exitPrice, realised string
		if err := rows.Scan(&p.Instrument, &avgPrice, &exitPrice, &realised, &p.EntryTime, &p.ExitTime); err != nil {
			return nil, fmt.Errorf("%w: failed to scan closed position: %v", ports.ErrQueryFailed, err)
		}
		if p.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("%w: bad avg price: %v", ports.ErrQueryFailed, err)
		}
		if p.ExitPrice, err = decimal.NewFromString(exitPrice); err != nil {
			return nil, fmt.Errorf("%w: bad exit price: %v", ports.ErrQueryFailed, err)
		}
		if p.Realised, err = decimal.NewFromString(realised); err != nil {
			return nil, fmt.Errorf("%w: bad realised pnl: %v", ports.ErrQueryFailed, err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// TotalRealised sums realized PnL over all stored closed positions.
func (r *Repository) TotalRealised(ctx context.Context) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT realised FROM closed_positions`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var realised string
		if err := rows.Scan(&realised); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
		}
		d, err := decimal.NewFromString(realised)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: bad realised pnl: %v", ports.ErrQueryFailed, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// SaveSnapshot upserts the state blob for a session, stamped with a sha256
// checksum verified on load.
func (r *Repository) SaveSnapshot(ctx context.Context, session uuid.UUID, data []byte) error {
	checksum := sha256.Sum256(data)
	const query = `
	INSERT OR REPLACE INTO snapshots (session_id, data, checksum, updated_at)
	VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, session.String(), string(data), checksum[:], time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to write snapshot: %v", ports.ErrUpdateFailed, err)
	}
	return nil
}

// LoadSnapshot returns the blob for a session, or (nil, nil) when none is
// stored.
func (r *Repository) LoadSnapshot(ctx context.Context, session uuid.UUID) ([]byte, error) {
	var data string
	var stored []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data, checksum FROM snapshots WHERE session_id = ?`, session.String(),
	).Scan(&data, &stored)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}

	computed := sha256.Sum256([]byte(data))
	if len(stored) != len(computed) {
		return nil, ports.ErrSnapshotCorrupted
	}
	for i := range computed {
		if stored[i] != computed[i] {
			return nil, ports.ErrSnapshotCorrupted
		}
	}
	return []byte(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
