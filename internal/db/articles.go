package db

import (
	"context"
	"time"

	"github.com/yourorg/procurement-sync/internal/records"
)

// ArticleRepository persists DOU articles keyed by materia id.
type ArticleRepository interface {
	FindByKey(ctx context.Context, k records.ArticleKey) (records.Article, bool, error)
	Upsert(ctx context.Context, k records.ArticleKey, a records.Article) (bool, error)
	CountEdition(ctx context.Context, date time.Time, section string) (int, error)
}

func NewArticleRepo(p *Pool) ArticleRepository { return &articleRepo{p: p} }

type articleRepo struct{ p *Pool }

const articleColumns = `article_id, name, id_oficio, pub_name, art_type, pub_date, art_class, art_category,
    number_page, pdf_page, edition_number, identifica, ementa, titulo, sub_titulo, texto, edition_date, section, raw_xml`

func (r *articleRepo) FindByKey(ctx context.Context, k records.ArticleKey) (records.Article, bool, error) {
	q := `select ` + articleColumns + ` from dou_article where id_materia=$1`
	var (
		a records.Article
		s [17]*string
	)
	err := r.p.q(ctx).QueryRow(ctx, q, string(k)).Scan(
		&s[0], &s[1], &s[2], &s[3], &s[4], &a.PubDate, &s[5], &s[6],
		&s[7], &s[8], &s[9], &s[10], &s[11], &s[12], &s[13], &s[14], &a.EditionDate, &s[15], &s[16],
	)
	if found, err := lookup(err); !found {
		return records.Article{}, false, err
	}
	a.Key = k
	a.ArticleID, a.Name, a.IDOficio, a.PubName, a.ArtType = deref(s[0]), deref(s[1]), deref(s[2]), deref(s[3]), deref(s[4])
	a.ArtClass, a.ArtCategory, a.NumberPage, a.PDFPage = deref(s[5]), deref(s[6]), deref(s[7]), deref(s[8])
	a.EditionNumber, a.Identifica, a.Ementa, a.Titulo = deref(s[9]), deref(s[10]), deref(s[11]), deref(s[12])
	a.SubTitulo, a.Texto, a.Section, a.RawXML = deref(s[13]), deref(s[14]), deref(s[15]), deref(s[16])
	return a, true, nil
}

func (r *articleRepo) Upsert(ctx context.Context, k records.ArticleKey, a records.Article) (bool, error) {
	q := `
insert into dou_article (id_materia, ` + articleColumns + `)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
on conflict (id_materia) do update set
    article_id = excluded.article_id, name = excluded.name, id_oficio = excluded.id_oficio,
    pub_name = excluded.pub_name, art_type = excluded.art_type, pub_date = excluded.pub_date,
    art_class = excluded.art_class, art_category = excluded.art_category, number_page = excluded.number_page,
    pdf_page = excluded.pdf_page, edition_number = excluded.edition_number, identifica = excluded.identifica,
    ementa = excluded.ementa, titulo = excluded.titulo, sub_titulo = excluded.sub_titulo, texto = excluded.texto,
    edition_date = excluded.edition_date, section = excluded.section, raw_xml = excluded.raw_xml, updated_at = now()
returning (xmax = 0)`
	var created bool
	err := r.p.q(ctx).QueryRow(ctx, q,
		string(k), textArg(a.ArticleID), textArg(a.Name), textArg(a.IDOficio), textArg(a.PubName), textArg(a.ArtType),
		a.PubDate, textArg(a.ArtClass), textArg(a.ArtCategory), textArg(a.NumberPage), textArg(a.PDFPage),
		textArg(a.EditionNumber), textArg(a.Identifica), textArg(a.Ementa), textArg(a.Titulo), textArg(a.SubTitulo),
		textArg(a.Texto), a.EditionDate, a.Section, textArg(a.RawXML),
	).Scan(&created)
	if err != nil {
		return false, mapPgErr(err)
	}
	return created, nil
}

func (r *articleRepo) CountEdition(ctx context.Context, date time.Time, section string) (int, error) {
	var n int
	err := r.p.q(ctx).QueryRow(ctx, `select count(*) from dou_article where edition_date=$1 and section=$2`, date, section).Scan(&n)
	return n, err
}
