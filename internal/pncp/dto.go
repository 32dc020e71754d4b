package pncp

import (
	"bytes"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/normalize"
	"github.com/yourorg/procurement-sync/internal/records"
)

type orgaoDTO struct {
	CNPJ        any `json:"cnpj"`
	RazaoSocial any `json:"razaoSocial"`
}

type unidadeDTO struct {
	CodigoUnidade any `json:"codigoUnidade"`
	NomeUnidade   any `json:"nomeUnidade"`
	MunicipioNome any `json:"municipioNome"`
	UFSigla       any `json:"ufSigla"`
}

type purchaseDTO struct {
	OrgaoEntidade            orgaoDTO   `json:"orgaoEntidade"`
	UnidadeOrgao             unidadeDTO `json:"unidadeOrgao"`
	AnoCompra                any        `json:"anoCompra"`
	SequencialCompra         any        `json:"sequencialCompra"`
	NumeroControlePNCP       any        `json:"numeroControlePNCP"`
	ModalidadeID             any        `json:"modalidadeId"`
	ModalidadeNome           any        `json:"modalidadeNome"`
	ObjetoCompra             any        `json:"objetoCompra"`
	Processo                 any        `json:"processo"`
	SituacaoCompraNome       any        `json:"situacaoCompraNome"`
	SRP                      any        `json:"srp"`
	ValorTotalEstimado       any        `json:"valorTotalEstimado"`
	ValorTotalHomologado     any        `json:"valorTotalHomologado"`
	DataPublicacaoPncp       any        `json:"dataPublicacaoPncp"`
	DataAberturaProposta     any        `json:"dataAberturaProposta"`
	DataEncerramentoProposta any        `json:"dataEncerramentoProposta"`
}

type itemDTO struct {
	NumeroItem             any `json:"numeroItem"`
	Descricao              any `json:"descricao"`
	MaterialOuServico      any `json:"materialOuServico"`
	Quantidade             any `json:"quantidade"`
	UnidadeMedida          any `json:"unidadeMedida"`
	ValorUnitarioEstimado  any `json:"valorUnitarioEstimado"`
	ValorTotal             any `json:"valorTotal"`
	CriterioJulgamentoNome any `json:"criterioJulgamentoNome"`
	SituacaoCompraItemNome any `json:"situacaoCompraItemNome"`
	TemResultado           any `json:"temResultado"`
}

type resultDTO struct {
	NumeroItem                      any `json:"numeroItem"`
	SequencialResultado             any `json:"sequencialResultado"`
	NiFornecedor                    any `json:"niFornecedor"`
	TipoPessoa                      any `json:"tipoPessoa"`
	NomeRazaoSocialFornecedor       any `json:"nomeRazaoSocialFornecedor"`
	PorteFornecedorNome             any `json:"porteFornecedorNome"`
	QuantidadeHomologada            any `json:"quantidadeHomologada"`
	ValorUnitarioHomologado         any `json:"valorUnitarioHomologado"`
	ValorTotalHomologado            any `json:"valorTotalHomologado"`
	PercentualDesconto              any `json:"percentualDesconto"`
	DataResultado                   any `json:"dataResultado"`
	SituacaoCompraItemResultadoNome any `json:"situacaoCompraItemResultadoNome"`
}

func decode(raw json.RawMessage, v any) error {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d.Decode(v)
}

func toPurchase(log *zap.Logger, raw json.RawMessage) (records.Purchase, bool) {
	var d purchaseDTO
	if err := decode(raw, &d); err != nil {
		log.Warn("undecodable purchase", zap.Error(err))
		return records.Purchase{}, false
	}
	cnpj := normalize.OnlyDigits(normalize.String(d.OrgaoEntidade.CNPJ))
	ano, okA := normalize.ParseInt(d.AnoCompra)
	seq, okS := normalize.ParseInt(d.SequencialCompra)
	if cnpj == "" || !okA || !okS {
		log.Warn("purchase without key", zap.String("cnpj", cnpj), zap.Any("ano", d.AnoCompra), zap.Any("seq", d.SequencialCompra))
		return records.Purchase{}, false
	}
	mod, _ := normalize.ParseInt(d.ModalidadeID)
	return records.Purchase{
		Key:                  records.PurchaseKey{CNPJ: cnpj, Ano: int(ano), Sequencial: int(seq)},
		NumeroControle:       normalize.Truncate(log, d.NumeroControlePNCP, 64),
		ModalidadeID:         int(mod),
		ModalidadeNome:       normalize.Truncate(log, d.ModalidadeNome, 128),
		Objeto:               normalize.String(d.ObjetoCompra),
		Processo:             normalize.Truncate(log, d.Processo, 128),
		Situacao:             normalize.Truncate(log, d.SituacaoCompraNome, 64),
		SRP:                  normalize.ParseBool(d.SRP),
		ValorTotalEstimado:   normalize.MoneyPtr(d.ValorTotalEstimado),
		ValorTotalHomologado: normalize.MoneyPtr(d.ValorTotalHomologado),
		DataPublicacao:       timePtr(d.DataPublicacaoPncp),
		DataAbertura:         timePtr(d.DataAberturaProposta),
		DataEncerramento:     timePtr(d.DataEncerramentoProposta),
		UnidadeCodigo:        normalize.Truncate(log, d.UnidadeOrgao.CodigoUnidade, 16),
		UnidadeNome:          normalize.Truncate(log, d.UnidadeOrgao.NomeUnidade, 255),
		Municipio:            normalize.Truncate(log, d.UnidadeOrgao.MunicipioNome, 128),
		UF:                   normalize.Truncate(log, d.UnidadeOrgao.UFSigla, 2),
		Raw:                  raw,
	}, true
}

func toItem(log *zap.Logger, purchase records.PurchaseKey, raw json.RawMessage) (records.PurchaseItem, bool) {
	var d itemDTO
	if err := decode(raw, &d); err != nil {
		log.Warn("undecodable item", zap.Error(err))
		return records.PurchaseItem{}, false
	}
	n, ok := normalize.ParseInt(d.NumeroItem)
	if !ok {
		log.Warn("item without numeroItem", zap.Stringer("purchase", purchase))
		return records.PurchaseItem{}, false
	}
	return records.PurchaseItem{
		Key:                   records.ItemKey{Purchase: purchase, NumeroItem: int(n)},
		Descricao:             normalize.String(d.Descricao),
		MaterialOuServico:     normalize.Truncate(log, d.MaterialOuServico, 16),
		Quantidade:            normalize.MoneyPtr(d.Quantidade),
		UnidadeMedida:         normalize.Truncate(log, d.UnidadeMedida, 64),
		ValorUnitarioEstimado: normalize.MoneyPtr(d.ValorUnitarioEstimado),
		ValorTotal:            normalize.MoneyPtr(d.ValorTotal),
		CriterioJulgamento:    normalize.Truncate(log, d.CriterioJulgamentoNome, 128),
		Situacao:              normalize.Truncate(log, d.SituacaoCompraItemNome, 64),
		TemResultado:          normalize.ParseBool(d.TemResultado),
		Raw:                   raw,
	}, true
}

// timePtr keeps the full timestamp; PNCP publication times matter for windows.
func timePtr(raw any) *time.Time {
	t, ok := normalize.ParseDate(raw)
	if !ok {
		return nil
	}
	return &t
}
