package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/models"
)

func sampleRecord() models.HistoryRecord {
	title := "You're out"
	tournament := "tour-9"
	job := models.NotificationJob{
		ID:              "job-1",
		Kind:            models.KindTournamentElimination,
		TournamentID:    &tournament,
		RecipientUserID: "u1",
		Payload:         models.Payload{Title: &title},
	}
	return models.NewHistoryRecord(job, 2)
}

func TestNewHistoryRecord(t *testing.T) {
	rec := sampleRecord()
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "tournament_elimination", rec.Type)
	assert.Equal(t, "You're out", rec.Payload["title"])
	assert.Equal(t, 2, rec.Payload["deviceCount"])
	assert.Equal(t, "job-1", rec.Payload["jobId"])
}

func TestPostgresHistoryStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresHistoryStore(sqlx.NewDb(db, "postgres"), time.Second)
	store.now = func() time.Time { return fixedNow }

	mock.ExpectExec(`INSERT INTO notifications_history \(user_id, type, payload, created_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs("u1", "tournament_elimination", `{"deviceCount":2,"jobId":"job-1","title":"You're out"}`, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Append(context.Background(), sampleRecord()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryStore_Append_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notifications_history`).WillReturnError(errors.New("disk full"))

	err = NewPostgresHistoryStore(sqlx.NewDb(db, "postgres"), time.Second).Append(context.Background(), sampleRecord())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreError))
}

func newTestESClient(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{srv.URL},
	})
	require.NoError(t, err)
	return client
}

func TestESHistoryStore_Append(t *testing.T) {
	var (
		gotPath string
		gotDoc  map[string]interface{}
	)
	client := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_index":"notifications-history","_id":"abc","result":"created"}`))
	})

	store := NewESHistoryStore(client, "notifications-history")
	require.NoError(t, store.Append(context.Background(), sampleRecord()))

	assert.True(t, strings.HasPrefix(gotPath, "/notifications-history/_doc"))
	assert.Equal(t, "u1", gotDoc["user_id"])
	assert.Equal(t, "tournament_elimination", gotDoc["type"])
	payload := gotDoc["payload"].(map[string]interface{})
	assert.Equal(t, float64(2), payload["deviceCount"])
	assert.Contains(t, gotDoc, "created_at")
}

func TestESHistoryStore_Append_Rejected(t *testing.T) {
	client := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"},"status":400}`))
	})

	err := NewESHistoryStore(client, "notifications-history").Append(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreError))
}
