package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/procurement-sync/internal/records"
)

// ContractRepository persists ComprasNet contract headers.
type ContractRepository interface {
	FindByKey(ctx context.Context, id records.ContractKey) (records.Contract, bool, error)
	Upsert(ctx context.Context, id records.ContractKey, c records.Contract) (bool, error)
	// ListByUnit returns the ids of a unit's contracts still in their validity window.
	ListByUnit(ctx context.Context, uasg string, endedAfter time.Time) ([]records.ContractKey, error)
}

// SyncStateRepository tracks when each child dataset was last confirmed.
type SyncStateRepository interface {
	MarkSynced(ctx context.Context, s records.ChildSync) error
	LastSynced(ctx context.Context, id records.ContractKey, kind records.ChildKind) (time.Time, bool, error)
}

// NewContractRepo returns a repository bound to the pool.
func NewContractRepo(p *Pool) ContractRepository { return &contractRepo{p: p} }

// NewSyncStateRepo returns a repository bound to the pool.
func NewSyncStateRepo(p *Pool) SyncStateRepository { return &syncStateRepo{p: p} }

type contractRepo struct{ p *Pool }
type syncStateRepo struct{ p *Pool }

func (r *contractRepo) FindByKey(ctx context.Context, id records.ContractKey) (records.Contract, bool, error) {
	const q = `
select id, uasg, numero, receita_despesa, orgao_codigo, orgao_nome, unidade_codigo, unidade_nome,
       fornecedor_tipo, fornecedor_documento, fornecedor_nome, tipo, categoria, processo, objeto,
       modalidade, licitacao_numero, data_assinatura, data_publicacao, vigencia_inicio, vigencia_fim,
       valor_inicial::text, valor_global::text, coalesce(num_parcelas, 0), valor_parcela::text,
       valor_acumulado::text, situacao, raw
from contract where id=$1`
	var (
		c                                      records.Contract
		numero, receita, orgao, orgaoNome      *string
		unidade, unidadeNome, fTipo, fDoc      *string
		fNome, tipo, categoria, processo       *string
		objeto, modalidade, licitacao, sit     *string
		vInicial, vGlobal, vParcela, vAcumulad *string
	)
	err := r.p.q(ctx).QueryRow(ctx, q, int64(id)).Scan(
		&c.ID, &c.UASG, &numero, &receita, &orgao, &orgaoNome, &unidade, &unidadeNome,
		&fTipo, &fDoc, &fNome, &tipo, &categoria, &processo, &objeto,
		&modalidade, &licitacao, &c.DataAssinatura, &c.DataPublicacao, &c.VigenciaInicio, &c.VigenciaFim,
		&vInicial, &vGlobal, &c.NumParcelas, &vParcela, &vAcumulad, &sit, &c.Raw,
	)
	if found, err := lookup(err); !found {
		return records.Contract{}, false, err
	}
	c.Numero, c.ReceitaDespesa, c.OrgaoCodigo, c.OrgaoNome = deref(numero), deref(receita), deref(orgao), deref(orgaoNome)
	c.UnidadeCodigo, c.UnidadeNome, c.FornecedorTipo, c.FornecedorDocumento = deref(unidade), deref(unidadeNome), deref(fTipo), deref(fDoc)
	c.FornecedorNome, c.Tipo, c.Categoria, c.Processo = deref(fNome), deref(tipo), deref(categoria), deref(processo)
	c.Objeto, c.Modalidade, c.LicitacaoNumero, c.Situacao = deref(objeto), deref(modalidade), deref(licitacao), deref(sit)
	c.ValorInicial, c.ValorGlobal = numScan(vInicial), numScan(vGlobal)
	c.ValorParcela, c.ValorAcumulado = numScan(vParcela), numScan(vAcumulad)
	return c, true, nil
}

func (r *contractRepo) Upsert(ctx context.Context, id records.ContractKey, c records.Contract) (bool, error) {
	const q = `
insert into contract (id, uasg, numero, receita_despesa, orgao_codigo, orgao_nome, unidade_codigo, unidade_nome,
    fornecedor_tipo, fornecedor_documento, fornecedor_nome, tipo, categoria, processo, objeto,
    modalidade, licitacao_numero, data_assinatura, data_publicacao, vigencia_inicio, vigencia_fim,
    valor_inicial, valor_global, num_parcelas, valor_parcela, valor_acumulado, situacao, raw)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
on conflict (id) do update set
    uasg = excluded.uasg, numero = excluded.numero, receita_despesa = excluded.receita_despesa,
    orgao_codigo = excluded.orgao_codigo, orgao_nome = excluded.orgao_nome,
    unidade_codigo = excluded.unidade_codigo, unidade_nome = excluded.unidade_nome,
    fornecedor_tipo = excluded.fornecedor_tipo, fornecedor_documento = excluded.fornecedor_documento,
    fornecedor_nome = excluded.fornecedor_nome, tipo = excluded.tipo, categoria = excluded.categoria,
    processo = excluded.processo, objeto = excluded.objeto, modalidade = excluded.modalidade,
    licitacao_numero = excluded.licitacao_numero, data_assinatura = excluded.data_assinatura,
    data_publicacao = excluded.data_publicacao, vigencia_inicio = excluded.vigencia_inicio,
    vigencia_fim = excluded.vigencia_fim, valor_inicial = excluded.valor_inicial,
    valor_global = excluded.valor_global, num_parcelas = excluded.num_parcelas,
    valor_parcela = excluded.valor_parcela, valor_acumulado = excluded.valor_acumulado,
    situacao = excluded.situacao, raw = excluded.raw, updated_at = now()
returning (xmax = 0)`
	var created bool
	err := r.p.q(ctx).QueryRow(ctx, q,
		int64(id), c.UASG, textArg(c.Numero), textArg(c.ReceitaDespesa), textArg(c.OrgaoCodigo), textArg(c.OrgaoNome),
		textArg(c.UnidadeCodigo), textArg(c.UnidadeNome), textArg(c.FornecedorTipo), textArg(c.FornecedorDocumento),
		textArg(c.FornecedorNome), textArg(c.Tipo), textArg(c.Categoria), textArg(c.Processo), textArg(c.Objeto),
		textArg(c.Modalidade), textArg(c.LicitacaoNumero), c.DataAssinatura, c.DataPublicacao, c.VigenciaInicio, c.VigenciaFim,
		numArg(c.ValorInicial), numArg(c.ValorGlobal), c.NumParcelas, numArg(c.ValorParcela), numArg(c.ValorAcumulado),
		textArg(c.Situacao), jsonArg(c.Raw),
	).Scan(&created)
	if err != nil {
		return false, mapPgErr(err)
	}
	return created, nil
}

func (r *contractRepo) ListByUnit(ctx context.Context, uasg string, endedAfter time.Time) ([]records.ContractKey, error) {
	const q = `select id from contract where uasg=$1 and (vigencia_fim is null or vigencia_fim >= $2) order by id`
	rows, err := r.p.q(ctx).Query(ctx, q, uasg, endedAfter)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.ContractKey, error) {
		var id int64
		err := row.Scan(&id)
		return records.ContractKey(id), err
	})
}

func (r *syncStateRepo) MarkSynced(ctx context.Context, s records.ChildSync) error {
	const q = `
insert into contract_sync (contract_id, kind, synced_at, item_count) values ($1, $2, $3, $4)
on conflict (contract_id, kind) do update set synced_at = excluded.synced_at, item_count = excluded.item_count`
	_, err := r.p.q(ctx).Exec(ctx, q, int64(s.Contract), string(s.Kind), s.SyncedAt, s.Count)
	return mapPgErr(err)
}

func (r *syncStateRepo) LastSynced(ctx context.Context, id records.ContractKey, kind records.ChildKind) (time.Time, bool, error) {
	const q = `select synced_at from contract_sync where contract_id=$1 and kind=$2`
	var t time.Time
	err := r.p.q(ctx).QueryRow(ctx, q, int64(id), string(kind)).Scan(&t)
	if found, err := lookup(err); !found {
		return time.Time{}, false, err
	}
	return t, true, nil
}
