package bqstore_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-cnxstream/pkg/bqstore"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeBigQuery serves just enough of the BigQuery REST API for table creation
// and streaming inserts.
type fakeBigQuery struct {
	mu           sync.Mutex
	tableExists  bool
	createdTable bool
	insertedRows []map[string]interface{}
}

func (f *fakeBigQuery) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/tables/"):
		if !f.tableExists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not found: Table","errors":[{"reason":"notFound"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"tableReference":{"projectId":"p","datasetId":"d","tableId":"t"}}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/tables"):
		f.createdTable = true
		f.tableExists = true
		_, _ = w.Write([]byte(`{"tableReference":{"projectId":"p","datasetId":"d","tableId":"t"}}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/insertAll"):
		var body struct {
			Rows []struct {
				JSON map[string]interface{} `json:"json"`
			} `json:"rows"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, row := range body.Rows {
			f.insertedRows = append(f.insertedRows, row.JSON)
		}
		_, _ = w.Write([]byte(`{"kind":"bigquery#tableDataInsertAllResponse"}`))
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeBigQueryClient(t *testing.T, fake *fakeBigQuery) *bigquery.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := bigquery.NewClient(context.Background(), "p",
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBigQueryInserter_CreatesMissingTableAndInserts(t *testing.T) {
	// Arrange
	fake := &fakeBigQuery{}
	client := newFakeBigQueryClient(t, fake)
	cfg := &bqstore.BigQueryDatasetConfig{ProjectID: "p", DatasetID: "d", TableID: "t"}

	// Act
	inserter, err := bqstore.NewBigQueryInserter[bqstore.EventRow](context.Background(), client, cfg, zerolog.Nop())
	require.NoError(t, err)
	rows := []*bqstore.EventRow{
		bqstore.NewEventRow(&messagepipeline.EventRecord{ID: "r-1", EventType: "com.example.a", Tier: types.TierLightweight, Outcome: "decoded"}),
		bqstore.NewEventRow(&messagepipeline.EventRecord{ID: "r-2", EventType: "com.example.b", Tier: types.TierHeavyweight, Outcome: "unhandled"}),
	}
	err = inserter.InsertBatch(context.Background(), rows)

	// Assert
	require.NoError(t, err)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.createdTable)
	require.Len(t, fake.insertedRows, 2)
	assert.Equal(t, "r-1", fake.insertedRows[0]["id"])
	assert.Equal(t, "heavyweight", fake.insertedRows[1]["tier"])
	assert.NoError(t, inserter.Close())
}

func TestBigQueryInserter_ExistingTable(t *testing.T) {
	fake := &fakeBigQuery{tableExists: true}
	client := newFakeBigQueryClient(t, fake)

	_, err := bqstore.NewBigQueryInserter[bqstore.EventRow](context.Background(), client, &bqstore.BigQueryDatasetConfig{DatasetID: "d", TableID: "t"}, zerolog.Nop())

	require.NoError(t, err)
	assert.False(t, fake.createdTable)
}

func TestNewBigQueryInserter_Validation(t *testing.T) {
	_, err := bqstore.NewBigQueryInserter[bqstore.EventRow](context.Background(), nil, &bqstore.BigQueryDatasetConfig{}, zerolog.Nop())
	assert.Error(t, err)

	client := newFakeBigQueryClient(t, &fakeBigQuery{})
	_, err = bqstore.NewBigQueryInserter[bqstore.EventRow](context.Background(), client, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestLoadBigQueryInserterConfigFromEnv(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "")
	_, err := bqstore.LoadBigQueryInserterConfigFromEnv()
	assert.ErrorContains(t, err, "GCP_PROJECT_ID")

	t.Setenv("GCP_PROJECT_ID", "p")
	t.Setenv("BQ_DATASET_ID", "d")
	t.Setenv("BQ_TABLE_ID", "")
	_, err = bqstore.LoadBigQueryInserterConfigFromEnv()
	assert.ErrorContains(t, err, "BQ_TABLE_ID")

	t.Setenv("BQ_TABLE_ID", "t")
	cfg, err := bqstore.LoadBigQueryInserterConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, &bqstore.BigQueryDatasetConfig{ProjectID: "p", DatasetID: "d", TableID: "t"}, cfg)
}

func TestNewEventRow(t *testing.T) {
	rec := &messagepipeline.EventRecord{
		ID:             "r-1",
		ReceivedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType:      "com.example.a",
		Subject:        "customer-42",
		Tier:           types.TierLightweight,
		SizeBytes:      120,
		Outcome:        "decoded",
		Field:          "widsRulesEvent",
		Decoded:        json.RawMessage(`{"rule_name":"x"}`),
		EnrichmentData: map[string]interface{}{"customerName": "Acme"},
	}

	row := bqstore.NewEventRow(rec)

	assert.Equal(t, "r-1", row.ID)
	assert.Equal(t, "lightweight", row.Tier)
	assert.Equal(t, int64(120), row.SizeBytes)
	assert.Equal(t, bigquery.NullString{StringVal: `{"rule_name":"x"}`, Valid: true}, row.Decoded)
	assert.False(t, row.Error.Valid)
	assert.Equal(t, "Acme", row.Customer.StringVal)

	schema, err := bigquery.InferSchema(bqstore.EventRow{})
	require.NoError(t, err)
	assert.Len(t, schema, 13)
}
