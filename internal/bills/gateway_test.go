// internal/bills/gateway_test.go
package bills_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/backend"
	"github.com/factuscan/factuscan/internal/bills"
	"github.com/factuscan/factuscan/internal/config"
)

// fakeBackend is an in-memory stand-in for the record-keeping API, serving
// the endpoints the gateway touches.
type fakeBackend struct {
	t *testing.T

	userServices map[string]schemas.UserService
	records      []schemas.ScrappedData
	patches      int
	creates      int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t: t,
		userServices: map[string]schemas.UserService{
			"us-1": {ID: "us-1", CustomerNumber: "12345678"},
		},
	}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/user-service/"):
		id := strings.TrimPrefix(r.URL.Path, "/user-service/")
		us, ok := f.userServices[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(us)

	case strings.HasPrefix(r.URL.Path, "/scrapped-data/user-service/"):
		if len(f.records) == 0 {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(f.records)

	case r.URL.Path == "/scrapped-data" && r.Method == http.MethodPost:
		var body struct {
			UserServiceID string                 `json:"user_service_id"`
			Bills         []schemas.Bill         `json:"bills_url"`
			Consumption   map[string]interface{} `json:"consumption_data"`
			Debt          bool                   `json:"debt"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		record := schemas.ScrappedData{
			ID:            "sd-1",
			UserServiceID: body.UserServiceID,
			BillsURL:      body.Bills,
			Debt:          body.Debt,
		}
		f.records = append(f.records, record)
		f.creates++
		json.NewEncoder(w).Encode(record)

	case strings.HasPrefix(r.URL.Path, "/scrapped-data/") && r.Method == http.MethodPatch:
		var patch struct {
			Bills []schemas.Bill `json:"bills_url"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&patch))
		id := strings.TrimPrefix(r.URL.Path, "/scrapped-data/")
		for i := range f.records {
			if f.records[i].ID == id {
				f.records[i].BillsURL = patch.Bills
			}
		}
		f.patches++
		json.NewEncoder(w).Encode(f.records[0])

	default:
		http.NotFound(w, r)
	}
}

func newGateway(t *testing.T, fake *fakeBackend) *bills.Gateway {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := backend.NewClient(config.BackendConfig{BaseURL: server.URL}, zap.NewNop())
	return bills.NewGateway(client, zap.NewNop())
}

func TestSaveBillsCreatesRecordWhenNoneExists(t *testing.T) {
	fake := newFakeBackend(t)
	gw := newGateway(t, fake)

	result := gw.SaveBills(context.Background(), "us-1",
		[]schemas.Bill{{URL: "https://p.example/b1.pdf"}}, true)

	assert.True(t, result.Success)
	assert.True(t, result.NewBillsSaved)
	assert.Equal(t, 1, fake.creates)
	require.Len(t, fake.records, 1)
	assert.True(t, fake.records[0].Debt)
}

func TestSaveBillsAppendsOnlyNew(t *testing.T) {
	fake := newFakeBackend(t)
	fake.records = []schemas.ScrappedData{{
		ID:            "sd-1",
		UserServiceID: "us-1",
		BillsURL:      []schemas.Bill{{URL: "https://p.example/old.pdf"}},
	}}
	gw := newGateway(t, fake)

	result := gw.SaveBills(context.Background(), "us-1", []schemas.Bill{
		{URL: "https://p.example/old.pdf"},
		{URL: "https://p.example/new.pdf"},
	}, false)

	assert.True(t, result.Success)
	assert.True(t, result.NewBillsSaved)
	require.Len(t, fake.records[0].BillsURL, 2)
	assert.Equal(t, "https://p.example/old.pdf", fake.records[0].BillsURL[0].URL)
	assert.Equal(t, "https://p.example/new.pdf", fake.records[0].BillsURL[1].URL)
}

// Saving an identical list twice must not write anything the second time.
func TestSaveBillsIdempotent(t *testing.T) {
	fake := newFakeBackend(t)
	gw := newGateway(t, fake)

	billsIn := []schemas.Bill{
		{URL: "https://p.example/b1.pdf"},
		{Content: "FACTURA B 0001 TOTAL $ 100,00"},
	}

	first := gw.SaveBills(context.Background(), "us-1", billsIn, false)
	assert.True(t, first.NewBillsSaved)

	second := gw.SaveBills(context.Background(), "us-1", billsIn, false)
	assert.True(t, second.Success)
	assert.False(t, second.NewBillsSaved)

	require.Len(t, fake.records, 1)
	assert.Len(t, fake.records[0].BillsURL, 2)
	assert.Equal(t, 0, fake.patches)
}

func TestSaveBillsUnknownUserService(t *testing.T) {
	fake := newFakeBackend(t)
	gw := newGateway(t, fake)

	result := gw.SaveBills(context.Background(), "us-missing", nil, false)
	assert.False(t, result.Success)
	assert.False(t, result.NewBillsSaved)
}

func TestSaveBillsContentIdentityIsExact(t *testing.T) {
	fake := newFakeBackend(t)
	fake.records = []schemas.ScrappedData{{
		ID:       "sd-1",
		BillsURL: []schemas.Bill{{Content: "texto exacto"}},
	}}
	gw := newGateway(t, fake)

	// A content bill differing by one character is a different bill.
	result := gw.SaveBills(context.Background(), "us-1",
		[]schemas.Bill{{Content: "texto exacto!"}}, false)

	assert.True(t, result.NewBillsSaved)
	assert.Len(t, fake.records[0].BillsURL, 2)
}
