// internal/repository/history.go
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jmoiron/sqlx"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/models"
)

// HistoryStore appends one record per delivered job.
type HistoryStore interface {
	Append(ctx context.Context, rec models.HistoryRecord) error
}

// PostgresHistoryStore writes notifications_history rows.
type PostgresHistoryStore struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	now          func() time.Time
}

func NewPostgresHistoryStore(db *sqlx.DB, queryTimeout time.Duration) *PostgresHistoryStore {
	return &PostgresHistoryStore{
		db:           db,
		queryTimeout: queryTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresHistoryStore) Append(ctx context.Context, rec models.HistoryRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode history payload: %w", err)
	}

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(insertHistorySQL),
		rec.UserID, rec.Type, string(payload), s.now()); err != nil {
		return apperrors.NewStoreError("append history", err)
	}
	return nil
}

// ESHistoryStore indexes history records as documents.
type ESHistoryStore struct {
	client *elasticsearch.Client
	index  string
	now    func() time.Time
}

func NewESHistoryStore(client *elasticsearch.Client, index string) *ESHistoryStore {
	return &ESHistoryStore{
		client: client,
		index:  index,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type historyDocument struct {
	models.HistoryRecord
	CreatedAt time.Time `json:"created_at"`
}

func (s *ESHistoryStore) Append(ctx context.Context, rec models.HistoryRecord) error {
	body, err := json.Marshal(historyDocument{HistoryRecord: rec, CreatedAt: s.now()})
	if err != nil {
		return fmt.Errorf("encode history document: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return apperrors.NewStoreError("index history", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewStoreError("index history", fmt.Errorf("elasticsearch: %s", res.String()))
	}
	return nil
}
