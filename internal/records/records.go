// Package records holds the normalized procurement records and their
// business keys. Values here have already been through the normalizers:
// money is decimal, dates are time.Time, flags are bool, and nothing keeps
// the upstream string formats except the Raw audit payload.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContractKey is the ComprasNet contract id.
type ContractKey int64

// Contract is a ComprasNet contract header.
type Contract struct {
	ID                  ContractKey
	UASG                string
	Numero              string
	ReceitaDespesa      string
	OrgaoCodigo         string
	OrgaoNome           string
	UnidadeCodigo       string
	UnidadeNome         string
	FornecedorTipo      string
	FornecedorDocumento string
	FornecedorNome      string
	Tipo                string
	Categoria           string
	Processo            string
	Objeto              string
	Modalidade          string
	LicitacaoNumero     string
	DataAssinatura      *time.Time
	DataPublicacao      *time.Time
	VigenciaInicio      *time.Time
	VigenciaFim         *time.Time
	ValorInicial        *decimal.Decimal
	ValorGlobal         *decimal.Decimal
	NumParcelas         int
	ValorParcela        *decimal.Decimal
	ValorAcumulado      *decimal.Decimal
	Situacao            string
	Raw                 json.RawMessage
}

// ChildKind names a contract sub-resource.
type ChildKind string

const (
	KindHistory     ChildKind = "historico"
	KindCommitments ChildKind = "empenhos"
	KindItems       ChildKind = "itens"
	KindFiles       ChildKind = "arquivos"
)

// AllChildKinds lists the kinds in sync order.
var AllChildKinds = []ChildKind{KindHistory, KindCommitments, KindItems, KindFiles}

// ParseChildKind validates a kind name.
func ParseChildKind(s string) (ChildKind, error) {
	for _, k := range AllChildKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown contract child kind %q", s)
}

// ContractHistory is one amendment/event in a contract's history.
type ContractHistory struct {
	ExternalID     int64
	Tipo           string
	Numero         string
	Observacao     string
	DataAssinatura *time.Time
	VigenciaInicio *time.Time
	VigenciaFim    *time.Time
	ValorGlobal    *decimal.Decimal
	Raw            json.RawMessage
}

// Commitment is a budget commitment (empenho) tied to a contract.
type Commitment struct {
	Numero         string
	Credor         string
	PlanoInterno   string
	NaturezaDesp   string
	DataEmissao    *time.Time
	ValorEmpenhado *decimal.Decimal
	ValorALiquidar *decimal.Decimal
	ValorLiquidado *decimal.Decimal
	ValorPago      *decimal.Decimal
	Raw            json.RawMessage
}

// ContractItem is a line item of a contract.
type ContractItem struct {
	TipoItem      string
	CodigoItem    string
	Descricao     string
	Quantidade    *decimal.Decimal
	ValorUnitario *decimal.Decimal
	ValorTotal    *decimal.Decimal
	Raw           json.RawMessage
}

// ContractFile is an attachment published for a contract.
type ContractFile struct {
	Tipo      string
	Descricao string
	URL       string
	Raw       json.RawMessage
}

// ChildSync records when a child dataset of a contract was last confirmed.
type ChildSync struct {
	Contract ContractKey
	Kind     ChildKind
	SyncedAt time.Time
	Count    int
}

// PurchaseKey identifies a PNCP purchase (contratação).
type PurchaseKey struct {
	CNPJ       string
	Ano        int
	Sequencial int
}

func (k PurchaseKey) String() string { return fmt.Sprintf("%s-%d-%d", k.CNPJ, k.Ano, k.Sequencial) }

// Purchase is a PNCP purchase header.
type Purchase struct {
	Key                  PurchaseKey
	NumeroControle       string
	ModalidadeID         int
	ModalidadeNome       string
	Objeto               string
	Processo             string
	Situacao             string
	SRP                  bool
	ValorTotalEstimado   *decimal.Decimal
	ValorTotalHomologado *decimal.Decimal
	DataPublicacao       *time.Time
	DataAbertura         *time.Time
	DataEncerramento     *time.Time
	UnidadeCodigo        string
	UnidadeNome          string
	Municipio            string
	UF                   string
	Raw                  json.RawMessage
}

// ItemKey identifies one line item of a PNCP purchase.
type ItemKey struct {
	Purchase   PurchaseKey
	NumeroItem int
}

func (k ItemKey) String() string { return fmt.Sprintf("%s/%d", k.Purchase, k.NumeroItem) }

// PurchaseItem is a PNCP purchase line item.
type PurchaseItem struct {
	Key                   ItemKey
	Descricao             string
	MaterialOuServico     string
	Quantidade            *decimal.Decimal
	UnidadeMedida         string
	ValorUnitarioEstimado *decimal.Decimal
	ValorTotal            *decimal.Decimal
	CriterioJulgamento    string
	Situacao              string
	TemResultado          bool
	Raw                   json.RawMessage
}

// Supplier is a bidder/awardee keyed by its document (CNPJ/CPF digits).
type Supplier struct {
	Documento  string
	TipoPessoa string
	Nome       string
	Porte      string
	Raw        json.RawMessage
}

// ResultKey identifies an award of one item to one supplier.
type ResultKey struct {
	Item       ItemKey
	Fornecedor string
}

// ItemResult is the award outcome of a line item.
type ItemResult struct {
	Key                     ResultKey
	Sequencial              int
	QuantidadeHomologada    *decimal.Decimal
	ValorUnitarioHomologado *decimal.Decimal
	ValorTotalHomologado    *decimal.Decimal
	PercentualDesconto      *decimal.Decimal
	DataResultado           *time.Time
	Situacao                string
	Raw                     json.RawMessage
}

// ArticleKey is the INLABS materia id.
type ArticleKey string

// Article is an official-gazette (DOU) act.
type Article struct {
	Key           ArticleKey
	ArticleID     string
	Name          string
	IDOficio      string
	PubName       string
	ArtType       string
	PubDate       *time.Time
	ArtClass      string
	ArtCategory   string
	NumberPage    string
	PDFPage       string
	EditionNumber string
	Identifica    string
	Ementa        string
	Titulo        string
	SubTitulo     string
	Texto         string
	EditionDate   time.Time
	Section       string
	RawXML        string
}
