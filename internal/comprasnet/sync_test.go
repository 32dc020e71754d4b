package comprasnet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/procurement-sync/internal/fetch"
	"github.com/yourorg/procurement-sync/internal/reconcile"
	"github.com/yourorg/procurement-sync/internal/records"
)

type memState struct {
	mu   sync.Mutex
	rows map[records.ContractKey]map[records.ChildKind]records.ChildSync
}

func (m *memState) MarkSynced(_ context.Context, s records.ChildSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[records.ContractKey]map[records.ChildKind]records.ChildSync)
	}
	if m.rows[s.Contract] == nil {
		m.rows[s.Contract] = make(map[records.ChildKind]records.ChildSync)
	}
	m.rows[s.Contract][s.Kind] = s
	return nil
}

type fixture struct {
	contracts   *reconcile.MemStore[records.ContractKey, records.Contract]
	history     *reconcile.MemChildren[records.ContractKey, records.ContractHistory]
	commitments *reconcile.MemChildren[records.ContractKey, records.Commitment]
	items       *reconcile.MemChildren[records.ContractKey, records.ContractItem]
	files       *reconcile.MemChildren[records.ContractKey, records.ContractFile]
	state       *memState
	syncer      *Syncer
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, routes map[string]func(w http.ResponseWriter)) *fixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)

	f := &fixture{
		contracts:   reconcile.NewMemStore[records.ContractKey, records.Contract](),
		history:     reconcile.NewMemChildren[records.ContractKey, records.ContractHistory](),
		commitments: reconcile.NewMemChildren[records.ContractKey, records.Commitment](),
		items:       reconcile.NewMemChildren[records.ContractKey, records.ContractItem](),
		files:       reconcile.NewMemChildren[records.ContractKey, records.ContractFile](),
		state:       &memState{},
	}
	log := zaptest.NewLogger(t)
	client := fetch.New(fetch.Config{BaseURL: srv.URL, Pipeline: "comprasnet", MaxRetries: 1}, log)
	f.syncer = New(client, Stores{
		Contracts:   f.contracts,
		History:     f.history,
		Commitments: f.commitments,
		Items:       f.items,
		Files:       f.files,
		State:       f.state,
	}, log, WithClock(func() time.Time { return testNow }))
	return f
}

func jsonBody(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

const listing = `[
  {"id": 1, "numero": "00001/2023", "vigencia_fim": "2024-01-03", "valor_global": "10,00"},
  {"id": 2, "numero": "00002/2023", "vigencia_fim": null, "valor_global": "1.234,56", "fornecedor_nome": "ACME LTDA"},
  {"id": 3, "numero": "00003/2024", "vigencia_fim": "2025-12-31", "valor_global": 1234.56, "num_parcelas": "12"},
  {"id": 2, "numero": "00002/2023", "vigencia_fim": null, "valor_global": "1.234,56", "situacao": "Ativo"},
  {"numero": "sem id"}
]`

func TestSyncUnitFiltersAndDedupes(t *testing.T) {
	f := newFixture(t, map[string]func(http.ResponseWriter){
		"/api/contrato/ug/153080": jsonBody(listing),
	})

	res, err := f.syncer.SyncUnit(context.Background(), "153080")
	require.NoError(t, err)

	// Contract 1 ended 150 days before testNow and is dropped.
	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, f.contracts.Len())

	_, ok, _ := f.contracts.FindByKey(context.Background(), 1)
	assert.False(t, ok, "expired contract must not be stored")

	c2, ok, _ := f.contracts.FindByKey(context.Background(), 2)
	require.True(t, ok, "contract without end date is always included")
	assert.Equal(t, "Ativo", c2.Situacao, "last duplicate wins")
	assert.Nil(t, c2.VigenciaFim)
	assert.Equal(t, "153080", c2.UASG)
	assert.NotEmpty(t, c2.Raw)

	c3, _, _ := f.contracts.FindByKey(context.Background(), 3)
	want := decimal.RequireFromString("1234.56")
	assert.True(t, c2.ValorGlobal.Equal(want))
	assert.True(t, c3.ValorGlobal.Equal(want), "money formats must normalize identically")
	assert.Equal(t, 12, c3.NumParcelas)
}

func TestSyncUnitIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]func(http.ResponseWriter){
		"/api/contrato/ug/153080": jsonBody(listing),
	})
	ctx := context.Background()
	_, err := f.syncer.SyncUnit(ctx, "153080")
	require.NoError(t, err)
	before := f.contracts.Snapshot()

	res, err := f.syncer.SyncUnit(ctx, "153080")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, before, f.contracts.Snapshot())
}

func TestSyncUnitUpstreamFailure(t *testing.T) {
	f := newFixture(t, map[string]func(http.ResponseWriter){
		"/api/contrato/ug/1": status(http.StatusServiceUnavailable),
	})
	_, err := f.syncer.SyncUnit(context.Background(), "1")
	assert.ErrorIs(t, err, fetch.ErrRetriesExhausted)
}

func TestSyncChildrenNotFoundIsConfirmedEmpty(t *testing.T) {
	f := newFixture(t, map[string]func(http.ResponseWriter){})
	ctx := context.Background()
	_, _ = f.items.BulkInsert(ctx, 7, []records.ContractItem{{Descricao: "stale"}})

	res, err := f.syncer.SyncChildren(ctx, 7, records.KindItems)
	require.NoError(t, err)
	assert.Equal(t, map[records.ChildKind]int{records.KindItems: 0}, res.Counts)
	assert.Empty(t, res.Errors)
	assert.NoError(t, res.Err())
	assert.Empty(t, f.items.Of(7))

	stamp, ok := f.state.rows[7][records.KindItems]
	require.True(t, ok, "sync stamp must advance on 404")
	assert.Equal(t, testNow, stamp.SyncedAt)
	assert.Equal(t, 0, stamp.Count)
}

func TestSyncChildrenIsolatesKinds(t *testing.T) {
	f := newFixture(t, map[string]func(http.ResponseWriter){
		"/api/contrato/9/historico": status(http.StatusBadRequest),
		"/api/contrato/9/empenhos":  jsonBody(`[{"numero":"2024NE000001","empenhado":"5.000,00","pago":"1.000,00"}]`),
		"/api/contrato/9/itens": jsonBody(`[{"tipo_id":"Serviço","descricao_complementar":"Limpeza","quantidade":"12","valorunitario":"100,00","valortotal":"1.200,00"},
		                                   {"tipo_id":"Serviço","descricao_complementar":"Jardinagem"}]`),
		"/api/contrato/9/arquivos": jsonBody(`[{"tipo":"Contrato","descricao":"Termo","path":"https://contratos.comprasnet.gov.br/x.pdf"}]`),
	})
	ctx := context.Background()
	res, err := f.syncer.SyncChildren(ctx, 9)
	require.NoError(t, err)

	assert.Contains(t, res.Errors, records.KindHistory)
	assert.Error(t, res.Err())
	assert.Equal(t, 1, res.Counts[records.KindCommitments])
	assert.Equal(t, 2, res.Counts[records.KindItems])
	assert.Equal(t, 1, res.Counts[records.KindFiles])

	emp := f.commitments.Of(9)
	require.Len(t, emp, 1)
	assert.True(t, emp[0].ValorEmpenhado.Equal(decimal.NewFromInt(5000)))
	items := f.items.Of(9)
	assert.True(t, items[0].ValorTotal.Equal(decimal.NewFromInt(1200)))
	assert.Nil(t, items[1].ValorTotal)

	_, stamped := f.state.rows[9][records.KindHistory]
	assert.False(t, stamped, "failed kind must not be stamped")
}

func TestDryRunStoresWriteNothing(t *testing.T) {
	f := newFixture(t, map[string]func(http.ResponseWriter){
		"/api/contrato/ug/153080": jsonBody(listing),
		"/api/contrato/2/itens":   jsonBody(`[{"descricao_complementar":"x"}]`),
	})
	dry := New(f.syncer.api, DryRunStores(f.syncer.stores), zaptest.NewLogger(t), WithClock(func() time.Time { return testNow }))
	res, err := dry.SyncUnit(context.Background(), "153080")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, f.contracts.Len())

	cr, err := dry.SyncChildren(context.Background(), 2, records.KindItems)
	require.NoError(t, err)
	assert.Equal(t, 1, cr.Counts[records.KindItems])
	assert.Empty(t, f.items.Of(2))
	assert.Empty(t, f.state.rows)
}
