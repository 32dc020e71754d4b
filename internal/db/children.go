package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/procurement-sync/internal/records"
)

// ChildRepository replaces one kind of contract sub-resource.
type ChildRepository[C any] interface {
	DeleteChildrenOf(ctx context.Context, id records.ContractKey) (int64, error)
	// BulkInsert loads rows with COPY.
	BulkInsert(ctx context.Context, id records.ContractKey, rows []C) (int64, error)
}

type childRepo[C any] struct {
	p       *Pool
	table   string
	columns []string
	values  func(C) []any
}

func (r *childRepo[C]) DeleteChildrenOf(ctx context.Context, id records.ContractKey) (int64, error) {
	ct, err := r.p.q(ctx).Exec(ctx, `delete from `+pgx.Identifier{r.table}.Sanitize()+` where contract_id=$1`, int64(id))
	if err != nil {
		return 0, mapPgErr(err)
	}
	return ct.RowsAffected(), nil
}

func (r *childRepo[C]) BulkInsert(ctx context.Context, id records.ContractKey, rows []C) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	vals := make([][]any, 0, len(rows))
	for _, row := range rows {
		vals = append(vals, append([]any{int64(id)}, r.values(row)...))
	}
	n, err := r.p.q(ctx).CopyFrom(ctx,
		pgx.Identifier{r.table},
		append([]string{"contract_id"}, r.columns...),
		pgx.CopyFromRows(vals),
	)
	if err != nil {
		return 0, mapPgErr(err)
	}
	return n, nil
}

// NewHistoryRepo stores contract history entries.
func NewHistoryRepo(p *Pool) ChildRepository[records.ContractHistory] {
	return &childRepo[records.ContractHistory]{
		p:     p,
		table: "contract_history",
		columns: []string{"external_id", "tipo", "numero", "observacao", "data_assinatura",
			"vigencia_inicio", "vigencia_fim", "valor_global", "raw"},
		values: func(h records.ContractHistory) []any {
			return []any{h.ExternalID, textArg(h.Tipo), textArg(h.Numero), textArg(h.Observacao), h.DataAssinatura,
				h.VigenciaInicio, h.VigenciaFim, numArg(h.ValorGlobal), jsonArg(h.Raw)}
		},
	}
}

// NewCommitmentRepo stores contract commitments (empenhos).
func NewCommitmentRepo(p *Pool) ChildRepository[records.Commitment] {
	return &childRepo[records.Commitment]{
		p:     p,
		table: "contract_commitment",
		columns: []string{"numero", "credor", "plano_interno", "natureza_desp", "data_emissao",
			"valor_empenhado", "valor_a_liquidar", "valor_liquidado", "valor_pago", "raw"},
		values: func(c records.Commitment) []any {
			return []any{textArg(c.Numero), textArg(c.Credor), textArg(c.PlanoInterno), textArg(c.NaturezaDesp), c.DataEmissao,
				numArg(c.ValorEmpenhado), numArg(c.ValorALiquidar), numArg(c.ValorLiquidado), numArg(c.ValorPago), jsonArg(c.Raw)}
		},
	}
}

// NewContractItemRepo stores contract line items.
func NewContractItemRepo(p *Pool) ChildRepository[records.ContractItem] {
	return &childRepo[records.ContractItem]{
		p:       p,
		table:   "contract_item",
		columns: []string{"tipo_item", "codigo_item", "descricao", "quantidade", "valor_unitario", "valor_total", "raw"},
		values: func(i records.ContractItem) []any {
			return []any{textArg(i.TipoItem), textArg(i.CodigoItem), textArg(i.Descricao), numArg(i.Quantidade),
				numArg(i.ValorUnitario), numArg(i.ValorTotal), jsonArg(i.Raw)}
		},
	}
}

// NewContractFileRepo stores contract attachments.
func NewContractFileRepo(p *Pool) ChildRepository[records.ContractFile] {
	return &childRepo[records.ContractFile]{
		p:       p,
		table:   "contract_file",
		columns: []string{"tipo", "descricao", "url", "raw"},
		values: func(f records.ContractFile) []any {
			return []any{textArg(f.Tipo), textArg(f.Descricao), textArg(f.URL), jsonArg(f.Raw)}
		},
	}
}
