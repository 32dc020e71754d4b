package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/procurement-sync/internal/records"
)

// PurchaseRepository persists PNCP purchases.
type PurchaseRepository interface {
	FindByKey(ctx context.Context, k records.PurchaseKey) (records.Purchase, bool, error)
	Upsert(ctx context.Context, k records.PurchaseKey, p records.Purchase) (bool, error)
	// PendingItems lists purchases whose items were never synced. With force
	// it lists every purchase published from the start of from through the
	// end of day to, synced or not; zero bounds are open.
	PendingItems(ctx context.Context, from, to time.Time, force bool, limit int) ([]records.PurchaseKey, error)
	MarkItemsSynced(ctx context.Context, k records.PurchaseKey, at time.Time) error
}

// PurchaseItemRepository persists PNCP purchase items.
type PurchaseItemRepository interface {
	FindByKey(ctx context.Context, k records.ItemKey) (records.PurchaseItem, bool, error)
	Upsert(ctx context.Context, k records.ItemKey, it records.PurchaseItem) (bool, error)
	// PendingResults lists items flagged with a result whose results were never synced.
	PendingResults(ctx context.Context, force bool, limit int) ([]records.ItemKey, error)
	MarkResultsSynced(ctx context.Context, k records.ItemKey, at time.Time) error
}

// SupplierRepository persists bidders keyed by document.
type SupplierRepository interface {
	FindByKey(ctx context.Context, doc string) (records.Supplier, bool, error)
	Upsert(ctx context.Context, doc string, s records.Supplier) (bool, error)
}

// ResultRepository persists item awards.
type ResultRepository interface {
	FindByKey(ctx context.Context, k records.ResultKey) (records.ItemResult, bool, error)
	Upsert(ctx context.Context, k records.ResultKey, r records.ItemResult) (bool, error)
}

func NewPurchaseRepo(p *Pool) PurchaseRepository         { return &purchaseRepo{p: p} }
func NewPurchaseItemRepo(p *Pool) PurchaseItemRepository { return &purchaseItemRepo{p: p} }
func NewSupplierRepo(p *Pool) SupplierRepository         { return &supplierRepo{p: p} }
func NewResultRepo(p *Pool) ResultRepository             { return &resultRepo{p: p} }

type purchaseRepo struct{ p *Pool }
type purchaseItemRepo struct{ p *Pool }
type supplierRepo struct{ p *Pool }
type resultRepo struct{ p *Pool }

func (r *purchaseRepo) FindByKey(ctx context.Context, k records.PurchaseKey) (records.Purchase, bool, error) {
	const q = `
select numero_controle, coalesce(modalidade_id, 0), modalidade_nome, objeto, processo, situacao, srp,
       valor_total_estimado::text, valor_total_homologado::text, data_publicacao, data_abertura, data_encerramento,
       unidade_codigo, unidade_nome, municipio, uf, raw
from pncp_purchase where cnpj=$1 and ano=$2 and sequencial=$3`
	var (
		p                                    records.Purchase
		ctrl, modNome, objeto, processo, sit *string
		vEst, vHom                           *string
		unidade, unidadeNome, municipio, uf  *string
	)
	err := r.p.q(ctx).QueryRow(ctx, q, k.CNPJ, k.Ano, k.Sequencial).Scan(
		&ctrl, &p.ModalidadeID, &modNome, &objeto, &processo, &sit, &p.SRP,
		&vEst, &vHom, &p.DataPublicacao, &p.DataAbertura, &p.DataEncerramento,
		&unidade, &unidadeNome, &municipio, &uf, &p.Raw,
	)
	if found, err := lookup(err); !found {
		return records.Purchase{}, false, err
	}
	p.Key = k
	p.NumeroControle, p.ModalidadeNome, p.Objeto, p.Processo, p.Situacao = deref(ctrl), deref(modNome), deref(objeto), deref(processo), deref(sit)
	p.ValorTotalEstimado, p.ValorTotalHomologado = numScan(vEst), numScan(vHom)
	p.UnidadeCodigo, p.UnidadeNome, p.Municipio, p.UF = deref(unidade), deref(unidadeNome), deref(municipio), deref(uf)
	return p, true, nil
}

func (r *purchaseRepo) Upsert(ctx context.Context, k records.PurchaseKey, p records.Purchase) (bool, error) {
	const q = `
insert into pncp_purchase (cnpj, ano, sequencial, numero_controle, modalidade_id, modalidade_nome, objeto, processo,
    situacao, srp, valor_total_estimado, valor_total_homologado, data_publicacao, data_abertura, data_encerramento,
    unidade_codigo, unidade_nome, municipio, uf, raw)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
on conflict (cnpj, ano, sequencial) do update set
    numero_controle = excluded.numero_controle, modalidade_id = excluded.modalidade_id,
    modalidade_nome = excluded.modalidade_nome, objeto = excluded.objeto, processo = excluded.processo,
    situacao = excluded.situacao, srp = excluded.srp, valor_total_estimado = excluded.valor_total_estimado,
    valor_total_homologado = excluded.valor_total_homologado, data_publicacao = excluded.data_publicacao,
    data_abertura = excluded.data_abertura, data_encerramento = excluded.data_encerramento,
    unidade_codigo = excluded.unidade_codigo, unidade_nome = excluded.unidade_nome,
    municipio = excluded.municipio, uf = excluded.uf, raw = excluded.raw, updated_at = now()
returning (xmax = 0)`
	var created bool
	err := r.p.q(ctx).QueryRow(ctx, q,
		k.CNPJ, k.Ano, k.Sequencial, textArg(p.NumeroControle), p.ModalidadeID, textArg(p.ModalidadeNome),
		textArg(p.Objeto), textArg(p.Processo), textArg(p.Situacao), p.SRP,
		numArg(p.ValorTotalEstimado), numArg(p.ValorTotalHomologado), p.DataPublicacao, p.DataAbertura, p.DataEncerramento,
		textArg(p.UnidadeCodigo), textArg(p.UnidadeNome), textArg(p.Municipio), textArg(p.UF), jsonArg(p.Raw),
	).Scan(&created)
	if err != nil {
		return false, mapPgErr(err)
	}
	return created, nil
}

func (r *purchaseRepo) PendingItems(ctx context.Context, from, to time.Time, force bool, limit int) ([]records.PurchaseKey, error) {
	if limit <= 0 {
		limit = 10000
	}
	const q = `
select cnpj, ano, sequencial from pncp_purchase
where case when $4 then
        ($1::timestamptz is null or data_publicacao >= $1::timestamptz)
    and ($2::timestamptz is null or data_publicacao < $2::timestamptz + interval '1 day')
  else items_synced_at is null end
order by cnpj, ano, sequencial
limit $3`
	rows, err := r.p.q(ctx).Query(ctx, q, nullTime(from), nullTime(to), limit, force)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.PurchaseKey, error) {
		var k records.PurchaseKey
		err := row.Scan(&k.CNPJ, &k.Ano, &k.Sequencial)
		return k, err
	})
}

func (r *purchaseRepo) MarkItemsSynced(ctx context.Context, k records.PurchaseKey, at time.Time) error {
	const q = `update pncp_purchase set items_synced_at=$4 where cnpj=$1 and ano=$2 and sequencial=$3`
	ct, err := r.p.q(ctx).Exec(ctx, q, k.CNPJ, k.Ano, k.Sequencial, at)
	if err != nil {
		return mapPgErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *purchaseItemRepo) FindByKey(ctx context.Context, k records.ItemKey) (records.PurchaseItem, bool, error) {
	const q = `
select descricao, material_ou_servico, quantidade::text, unidade_medida, valor_unitario_estimado::text,
       valor_total::text, criterio_julgamento, situacao, tem_resultado, raw
from pncp_item where cnpj=$1 and ano=$2 and sequencial=$3 and numero_item=$4`
	var (
		it                                records.PurchaseItem
		desc, mat, unidade, criterio, sit *string
		qtd, vUnit, vTotal                *string
	)
	err := r.p.q(ctx).QueryRow(ctx, q, k.Purchase.CNPJ, k.Purchase.Ano, k.Purchase.Sequencial, k.NumeroItem).Scan(
		&desc, &mat, &qtd, &unidade, &vUnit, &vTotal, &criterio, &sit, &it.TemResultado, &it.Raw,
	)
	if found, err := lookup(err); !found {
		return records.PurchaseItem{}, false, err
	}
	it.Key = k
	it.Descricao, it.MaterialOuServico, it.UnidadeMedida = deref(desc), deref(mat), deref(unidade)
	it.CriterioJulgamento, it.Situacao = deref(criterio), deref(sit)
	it.Quantidade, it.ValorUnitarioEstimado, it.ValorTotal = numScan(qtd), numScan(vUnit), numScan(vTotal)
	return it, true, nil
}

func (r *purchaseItemRepo) Upsert(ctx context.Context, k records.ItemKey, it records.PurchaseItem) (bool, error) {
	const q = `
insert into pncp_item (cnpj, ano, sequencial, numero_item, descricao, material_ou_servico, quantidade, unidade_medida,
    valor_unitario_estimado, valor_total, criterio_julgamento, situacao, tem_resultado, raw)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
on conflict (cnpj, ano, sequencial, numero_item) do update set
    descricao = excluded.descricao, material_ou_servico = excluded.material_ou_servico,
    quantidade = excluded.quantidade, unidade_medida = excluded.unidade_medida,
    valor_unitario_estimado = excluded.valor_unitario_estimado, valor_total = excluded.valor_total,
    criterio_julgamento = excluded.criterio_julgamento, situacao = excluded.situacao,
    tem_resultado = excluded.tem_resultado, raw = excluded.raw
returning (xmax = 0)`
	var created bool
	err := r.p.q(ctx).QueryRow(ctx, q,
		k.Purchase.CNPJ, k.Purchase.Ano, k.Purchase.Sequencial, k.NumeroItem,
		textArg(it.Descricao), textArg(it.MaterialOuServico), numArg(it.Quantidade), textArg(it.UnidadeMedida),
		numArg(it.ValorUnitarioEstimado), numArg(it.ValorTotal), textArg(it.CriterioJulgamento), textArg(it.Situacao),
		it.TemResultado, jsonArg(it.Raw),
	).Scan(&created)
	if err != nil {
		return false, mapPgErr(err)
	}
	return created, nil
}

func (r *purchaseItemRepo) PendingResults(ctx context.Context, force bool, limit int) ([]records.ItemKey, error) {
	if limit <= 0 {
		limit = 10000
	}
	const q = `
select cnpj, ano, sequencial, numero_item from pncp_item
where tem_resultado and ($2 or results_synced_at is null)
order by cnpj, ano, sequencial, numero_item
limit $1`
	rows, err := r.p.q(ctx).Query(ctx, q, limit, force)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.ItemKey, error) {
		var k records.ItemKey
		err := row.Scan(&k.Purchase.CNPJ, &k.Purchase.Ano, &k.Purchase.Sequencial, &k.NumeroItem)
		return k, err
	})
}

func (r *purchaseItemRepo) MarkResultsSynced(ctx context.Context, k records.ItemKey, at time.Time) error {
	const q = `update pncp_item set results_synced_at=$5 where cnpj=$1 and ano=$2 and sequencial=$3 and numero_item=$4`
	_, err := r.p.q(ctx).Exec(ctx, q, k.Purchase.CNPJ, k.Purchase.Ano, k.Purchase.Sequencial, k.NumeroItem, at)
	return mapPgErr(err)
}

func (r *supplierRepo) FindByKey(ctx context.Context, doc string) (records.Supplier, bool, error) {
	const q = `select tipo_pessoa, nome, porte, raw from pncp_supplier where documento=$1`
	var (
		s                 records.Supplier
		tipo, nome, porte *string
	)
	err := r.p.q(ctx).QueryRow(ctx, q, doc).Scan(&tipo, &nome, &porte, &s.Raw)
	if found, err := lookup(err); !found {
		return records.Supplier{}, false, err
	}
	s.Documento, s.TipoPessoa, s.Nome, s.Porte = doc, deref(tipo), deref(nome), deref(porte)
	return s, true, nil
}

func (r *supplierRepo) Upsert(ctx context.Context, doc string, s records.Supplier) (bool, error) {
	const q = `
insert into pncp_supplier (documento, tipo_pessoa, nome, porte, raw) values ($1,$2,$3,$4,$5)
on conflict (documento) do update set
    tipo_pessoa = coalesce(excluded.tipo_pessoa, pncp_supplier.tipo_pessoa),
    nome = coalesce(excluded.nome, pncp_supplier.nome),
    porte = coalesce(excluded.porte, pncp_supplier.porte),
    raw = excluded.raw, updated_at = now()
returning (xmax = 0)`
	var created bool
	err := r.p.q(ctx).QueryRow(ctx, q, doc, textArg(s.TipoPessoa), textArg(s.Nome), textArg(s.Porte), jsonArg(s.Raw)).Scan(&created)
	if err != nil {
		return false, mapPgErr(err)
	}
	return created, nil
}

func (r *resultRepo) FindByKey(ctx context.Context, k records.ResultKey) (records.ItemResult, bool, error) {
	const q = `
select coalesce(sequencial_resultado, 0), quantidade_homologada::text, valor_unitario_homologado::text,
       valor_total_homologado::text, percentual_desconto::text, data_resultado, situacao, raw
from pncp_result where cnpj=$1 and ano=$2 and sequencial=$3 and numero_item=$4 and ni_fornecedor=$5`
	var (
		res                         records.ItemResult
		qtd, vUnit, vTotal, pct, st *string
	)
	p := k.Item.Purchase
	err := r.p.q(ctx).QueryRow(ctx, q, p.CNPJ, p.Ano, p.Sequencial, k.Item.NumeroItem, k.Fornecedor).Scan(
		&res.Sequencial, &qtd, &vUnit, &vTotal, &pct, &res.DataResultado, &st, &res.Raw,
	)
	if found, err := lookup(err); !found {
		return records.ItemResult{}, false, err
	}
	res.Key = k
	res.QuantidadeHomologada, res.ValorUnitarioHomologado = numScan(qtd), numScan(vUnit)
	res.ValorTotalHomologado, res.PercentualDesconto = numScan(vTotal), numScan(pct)
	res.Situacao = deref(st)
	return res, true, nil
}

func (r *resultRepo) Upsert(ctx context.Context, k records.ResultKey, res records.ItemResult) (bool, error) {
	const q = `
insert into pncp_result (cnpj, ano, sequencial, numero_item, ni_fornecedor, sequencial_resultado,
    quantidade_homologada, valor_unitario_homologado, valor_total_homologado, percentual_desconto,
    data_resultado, situacao, raw)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
on conflict (cnpj, ano, sequencial, numero_item, ni_fornecedor) do update set
    sequencial_resultado = excluded.sequencial_resultado,
    quantidade_homologada = excluded.quantidade_homologada,
    valor_unitario_homologado = excluded.valor_unitario_homologado,
    valor_total_homologado = excluded.valor_total_homologado,
    percentual_desconto = excluded.percentual_desconto,
    data_resultado = excluded.data_resultado, situacao = excluded.situacao, raw = excluded.raw
returning (xmax = 0)`
	var created bool
	p := k.Item.Purchase
	err := r.p.q(ctx).QueryRow(ctx, q,
		p.CNPJ, p.Ano, p.Sequencial, k.Item.NumeroItem, k.Fornecedor, res.Sequencial,
		numArg(res.QuantidadeHomologada), numArg(res.ValorUnitarioHomologado), numArg(res.ValorTotalHomologado),
		numArg(res.PercentualDesconto), res.DataResultado, textArg(res.Situacao), jsonArg(res.Raw),
	).Scan(&created)
	if err != nil {
		return false, mapPgErr(err)
	}
	return created, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
