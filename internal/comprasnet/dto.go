package comprasnet

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/normalize"
	"github.com/yourorg/procurement-sync/internal/records"
)

// The contracts API is loose with types: ids and codes arrive as numbers or
// strings, money as "1.234,56" or 1234.56. Fields are decoded as any and go
// through the normalizers.

type contractDTO struct {
	ID                       any `json:"id"`
	Numero                   any `json:"numero"`
	ReceitaDespesa           any `json:"receita_despesa"`
	OrgaoCodigo              any `json:"orgao_codigo"`
	OrgaoNome                any `json:"orgao_nome"`
	UnidadeCodigo            any `json:"unidade_codigo"`
	UnidadeNome              any `json:"unidade_nome"`
	FornecedorTipo           any `json:"fornecedor_tipo"`
	FornecedorCnpjCpfIdgener any `json:"fornecedor_cnpj_cpf_idgener"`
	FornecedorNome           any `json:"fornecedor_nome"`
	Tipo                     any `json:"tipo"`
	Categoria                any `json:"categoria"`
	Processo                 any `json:"processo"`
	Objeto                   any `json:"objeto"`
	Modalidade               any `json:"modalidade"`
	LicitacaoNumero          any `json:"licitacao_numero"`
	DataAssinatura           any `json:"data_assinatura"`
	DataPublicacao           any `json:"data_publicacao"`
	VigenciaInicio           any `json:"vigencia_inicio"`
	VigenciaFim              any `json:"vigencia_fim"`
	ValorInicial             any `json:"valor_inicial"`
	ValorGlobal              any `json:"valor_global"`
	NumParcelas              any `json:"num_parcelas"`
	ValorParcela             any `json:"valor_parcela"`
	ValorAcumulado           any `json:"valor_acumulado"`
	Situacao                 any `json:"situacao"`
}

type historyDTO struct {
	ID             any `json:"id"`
	Tipo           any `json:"tipo"`
	Numero         any `json:"numero"`
	Observacao     any `json:"observacao"`
	DataAssinatura any `json:"data_assinatura"`
	VigenciaInicio any `json:"vigencia_inicio"`
	VigenciaFim    any `json:"vigencia_fim"`
	ValorGlobal    any `json:"valor_global"`
}

type commitmentDTO struct {
	Numero          any `json:"numero"`
	Credor          any `json:"credor"`
	PlanoInterno    any `json:"planointerno"`
	NaturezaDespesa any `json:"naturezadespesa"`
	DataEmissao     any `json:"data_emissao"`
	Empenhado       any `json:"empenhado"`
	ALiquidar       any `json:"aliquidar"`
	Liquidado       any `json:"liquidado"`
	Pago            any `json:"pago"`
}

type itemDTO struct {
	TipoID        any `json:"tipo_id"`
	CodigoItem    any `json:"codigo_item"`
	Descricao     any `json:"descricao_complementar"`
	Quantidade    any `json:"quantidade"`
	ValorUnitario any `json:"valorunitario"`
	ValorTotal    any `json:"valortotal"`
}

type fileDTO struct {
	Tipo      any `json:"tipo"`
	Descricao any `json:"descricao"`
	Path      any `json:"path"`
}

// decode unmarshals raw keeping numbers as json.Number.
func decode(raw json.RawMessage, v any) error {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d.Decode(v)
}

// Column widths from schema.sql.
const (
	wCode  = 16
	wShort = 32
	wMid   = 64
	wName  = 255
)

func (d contractDTO) toRecord(log *zap.Logger, uasg string, raw json.RawMessage) (records.Contract, bool) {
	id, ok := normalize.ParseInt(d.ID)
	if !ok {
		return records.Contract{}, false
	}
	n, _ := normalize.ParseInt(d.NumParcelas)
	return records.Contract{
		ID:                  records.ContractKey(id),
		UASG:                uasg,
		Numero:              normalize.Truncate(log, d.Numero, wMid),
		ReceitaDespesa:      normalize.Truncate(log, d.ReceitaDespesa, wCode),
		OrgaoCodigo:         normalize.Truncate(log, d.OrgaoCodigo, wCode),
		OrgaoNome:           normalize.Truncate(log, d.OrgaoNome, wName),
		UnidadeCodigo:       normalize.Truncate(log, d.UnidadeCodigo, wCode),
		UnidadeNome:         normalize.Truncate(log, d.UnidadeNome, wName),
		FornecedorTipo:      normalize.Truncate(log, d.FornecedorTipo, wShort),
		FornecedorDocumento: normalize.Truncate(log, d.FornecedorCnpjCpfIdgener, wShort),
		FornecedorNome:      normalize.Truncate(log, d.FornecedorNome, wName),
		Tipo:                normalize.Truncate(log, d.Tipo, wMid),
		Categoria:           normalize.Truncate(log, d.Categoria, wMid),
		Processo:            normalize.Truncate(log, d.Processo, wMid),
		Objeto:              normalize.String(d.Objeto),
		Modalidade:          normalize.Truncate(log, d.Modalidade, wMid),
		LicitacaoNumero:     normalize.Truncate(log, d.LicitacaoNumero, wMid),
		DataAssinatura:      normalize.DatePtr(d.DataAssinatura),
		DataPublicacao:      normalize.DatePtr(d.DataPublicacao),
		VigenciaInicio:      normalize.DatePtr(d.VigenciaInicio),
		VigenciaFim:         normalize.DatePtr(d.VigenciaFim),
		ValorInicial:        normalize.MoneyPtr(d.ValorInicial),
		ValorGlobal:         normalize.MoneyPtr(d.ValorGlobal),
		NumParcelas:         int(n),
		ValorParcela:        normalize.MoneyPtr(d.ValorParcela),
		ValorAcumulado:      normalize.MoneyPtr(d.ValorAcumulado),
		Situacao:            normalize.Truncate(log, d.Situacao, wShort),
		Raw:                 raw,
	}, true
}

func toHistory(log *zap.Logger, raw json.RawMessage) (records.ContractHistory, error) {
	var d historyDTO
	if err := decode(raw, &d); err != nil {
		return records.ContractHistory{}, err
	}
	ext, _ := normalize.ParseInt(d.ID)
	return records.ContractHistory{
		ExternalID:     ext,
		Tipo:           normalize.Truncate(log, d.Tipo, wMid),
		Numero:         normalize.Truncate(log, d.Numero, wMid),
		Observacao:     normalize.String(d.Observacao),
		DataAssinatura: normalize.DatePtr(d.DataAssinatura),
		VigenciaInicio: normalize.DatePtr(d.VigenciaInicio),
		VigenciaFim:    normalize.DatePtr(d.VigenciaFim),
		ValorGlobal:    normalize.MoneyPtr(d.ValorGlobal),
		Raw:            raw,
	}, nil
}

func toCommitment(log *zap.Logger, raw json.RawMessage) (records.Commitment, error) {
	var d commitmentDTO
	if err := decode(raw, &d); err != nil {
		return records.Commitment{}, err
	}
	return records.Commitment{
		Numero:         normalize.Truncate(log, d.Numero, wMid),
		Credor:         normalize.Truncate(log, d.Credor, wName),
		PlanoInterno:   normalize.Truncate(log, d.PlanoInterno, wMid),
		NaturezaDesp:   normalize.Truncate(log, d.NaturezaDespesa, wMid),
		DataEmissao:    normalize.DatePtr(d.DataEmissao),
		ValorEmpenhado: normalize.MoneyPtr(d.Empenhado),
		ValorALiquidar: normalize.MoneyPtr(d.ALiquidar),
		ValorLiquidado: normalize.MoneyPtr(d.Liquidado),
		ValorPago:      normalize.MoneyPtr(d.Pago),
		Raw:            raw,
	}, nil
}

func toItem(log *zap.Logger, raw json.RawMessage) (records.ContractItem, error) {
	var d itemDTO
	if err := decode(raw, &d); err != nil {
		return records.ContractItem{}, err
	}
	return records.ContractItem{
		TipoItem:      normalize.Truncate(log, d.TipoID, wMid),
		CodigoItem:    normalize.Truncate(log, d.CodigoItem, wMid),
		Descricao:     normalize.String(d.Descricao),
		Quantidade:    normalize.MoneyPtr(d.Quantidade),
		ValorUnitario: normalize.MoneyPtr(d.ValorUnitario),
		ValorTotal:    normalize.MoneyPtr(d.ValorTotal),
		Raw:           raw,
	}, nil
}

func toFile(log *zap.Logger, raw json.RawMessage) (records.ContractFile, error) {
	var d fileDTO
	if err := decode(raw, &d); err != nil {
		return records.ContractFile{}, err
	}
	return records.ContractFile{
		Tipo:      normalize.Truncate(log, d.Tipo, wMid),
		Descricao: normalize.String(d.Descricao),
		URL:       normalize.String(d.Path),
		Raw:       raw,
	}, nil
}
