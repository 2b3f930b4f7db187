package lead

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const pgForeignKeyViolation = "23503"

type PostgresConfig struct {
	DSN         string        `split_words:"true" required:"true"`
	DialTimeout time.Duration `split_words:"true" default:"5s"`
	ReadTimeout time.Duration `split_words:"true" default:"10s"`
	AutoMigrate bool          `split_words:"true" default:"true"`
}

type leadRow struct {
	bun.BaseModel `bun:"table:leads,alias:l"`

	ID               string    `bun:"id,pk"`
	Email            *string   `bun:"email"`
	Name             *string   `bun:"name"`
	Company          *string   `bun:"company"`
	ServiceRequested *string   `bun:"service_requested"`
	Summary          *string   `bun:"summary"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

// turnRow ids come from a sequence, so ordering by id is insertion order and
// an append is a single INSERT with no read of the existing transcript.
type turnRow struct {
	bun.BaseModel `bun:"table:lead_turns,alias:t"`

	ID        int64     `bun:"id,pk,autoincrement"`
	LeadID    string    `bun:"lead_id,notnull"`
	Role      string    `bun:"role,notnull"`
	Content   string    `bun:"content,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (r leadRow) toLead(turns []turnRow) *Lead {
	out := &Lead{
		ID: r.ID,
		Fields: Fields{
			Email:            r.Email,
			Name:             r.Name,
			Company:          r.Company,
			ServiceRequested: r.ServiceRequested,
			Summary:          r.Summary,
		}.Clone(),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
		Transcript: make([]Turn, 0, len(turns)),
	}
	for _, t := range turns {
		out.Transcript = append(out.Transcript, Turn{
			Role:      Role(t.Role),
			Content:   t.Content,
			Timestamp: t.CreatedAt.UTC(),
		})
	}
	return out
}

func turnRowFromTurn(leadID string, turn Turn) *turnRow {
	return &turnRow{
		LeadID:    leadID,
		Role:      string(turn.Role),
		Content:   turn.Content,
		CreatedAt: turn.Timestamp.UTC(),
	}
}

// PostgresStore persists leads with bun on PostgreSQL.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.DialTimeout > 0 {
		opts = append(opts, pgdriver.WithDialTimeout(cfg.DialTimeout))
	}
	if cfg.ReadTimeout > 0 {
		opts = append(opts, pgdriver.WithReadTimeout(cfg.ReadTimeout))
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	store := NewPostgresStoreFromDB(bun.NewDB(sqldb, pgdialect.New()))

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func NewPostgresStoreFromDB(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*leadRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create leads table: %w", err)
	}

	if _, err := s.db.NewCreateTable().
		Model((*turnRow)(nil)).
		IfNotExists().
		ForeignKey(`("lead_id") REFERENCES "leads" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create lead_turns table: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*turnRow)(nil)).
		Index("lead_turns_lead_id_idx").
		Column("lead_id", "id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create lead_turns index: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, initial Turn) (string, error) {
	if err := ValidateTurn(initial); err != nil {
		return "", err
	}
	now := s.now().UTC()
	row := &leadRow{
		ID:        newLeadID(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert lead: %w", err)
		}
		if _, err := tx.NewInsert().Model(turnRowFromTurn(row.ID, initial)).Exec(ctx); err != nil {
			return fmt.Errorf("insert initial turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return row.ID, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := ValidateTurn(turn); err != nil {
		return err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(turnRowFromTurn(id, turn)).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*leadRow)(nil)).
			Set("updated_at = ?", s.now().UTC()).
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: append turn: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) ApplyFields(ctx context.Context, id string, fields Fields) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}

	values := fields.Values()
	if len(values) == 0 {
		exists, err := s.db.NewSelect().
			Model((*leadRow)(nil)).
			Where("id = ?", id).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("%w: lookup lead: %v", ErrStoreUnavailable, err)
		}
		if !exists {
			return ErrSessionNotFound
		}
		return nil
	}

	q := s.db.NewUpdate().
		Model((*leadRow)(nil)).
		Set("updated_at = ?", s.now().UTC()).
		Where("id = ?", id)
	for _, kv := range values {
		q = q.Set("? = ?", bun.Ident(string(kv.Key)), kv.Value)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: apply fields: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: apply fields: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	var row leadRow
	if err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: get lead: %v", ErrStoreUnavailable, err)
	}

	var turns []turnRow
	if err := s.db.NewSelect().
		Model(&turns).
		Where("lead_id = ?", id).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: get transcript: %v", ErrStoreUnavailable, err)
	}

	return row.toLead(turns), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isForeignKeyViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgForeignKeyViolation
	}
	return false
}
