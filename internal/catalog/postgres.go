package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

// Postgres runs the change-detection, enrichment and aggregation queries
// against the catalog schema.
//
// It expects the schema to contain:
//
//	film_work(id uuid, title, description, creation_date, rating, type, updated_at)
//	genre(id uuid, name, description, updated_at)
//	person(id uuid, full_name, birth_date, updated_at)
//	genre_film_work(film_work_id, genre_id)
//	person_film_work(film_work_id, person_id, role)
type Postgres struct {
	db     *sql.DB
	schema string
}

// NewPostgres creates a catalog reader. schema is quoted as an identifier.
func NewPostgres(db *sql.DB, schema string) *Postgres {
	return &Postgres{db: db, schema: pq.QuoteIdentifier(schema)}
}

func (p *Postgres) table(name string) string {
	return p.schema + "." + pq.QuoteIdentifier(name)
}

// ChangedSince returns rows of table updated strictly after since, ordered
// by updated_at (id breaks ties so a page's contents are deterministic).
func (p *Postgres) ChangedSince(ctx context.Context, table string, since time.Time, offset, limit int) ([]ChangeRow, error) {
	if !IsKnown(table) {
		return nil, apperrors.UnknownTable(table)
	}
	query := fmt.Sprintf(`SELECT id, updated_at
		FROM %s
		WHERE updated_at > $1
		ORDER BY updated_at, id
		OFFSET $2 LIMIT $3`, p.table(table))
	rows, err := p.db.QueryContext(ctx, query, since, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("querying changes in %s: %w", table, err)
	}
	defer rows.Close()

	var changes []ChangeRow
	for rows.Next() {
		var c ChangeRow
		if err := rows.Scan(&c.ID, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning change row: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating changes in %s: %w", table, err)
	}
	return changes, nil
}

// FilmWorkIDs returns the distinct film works linked to any of ids through
// the <table>_film_work relation, one page at a time.
func (p *Postgres) FilmWorkIDs(ctx context.Context, table string, ids []uuid.UUID, offset, limit int) ([]uuid.UUID, error) {
	if !IsDependent(table) {
		return nil, apperrors.UnknownTable(table)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT DISTINCT fw.id, fw.updated_at
		FROM %s fw
		JOIN %s rel ON rel.film_work_id = fw.id
		WHERE rel.%s = ANY($1::uuid[])
		ORDER BY fw.updated_at, fw.id
		OFFSET $2 LIMIT $3`,
		p.table(FilmWork), p.table(table+"_film_work"), pq.QuoteIdentifier(table+"_id"))
	rows, err := p.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("querying film works linked to %s: %w", table, err)
	}
	defer rows.Close()

	var roots []uuid.UUID
	for rows.Next() {
		var (
			id        uuid.UUID
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning film work id: %w", err)
		}
		roots = append(roots, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating film works linked to %s: %w", table, err)
	}
	return roots, nil
}

const filmWorkQuery = `SELECT
	fw.id,
	fw.rating,
	fw.type,
	fw.title,
	fw.description,
	fw.creation_date,
	COALESCE(ARRAY_AGG(DISTINCT g.name) FILTER (WHERE g.id IS NOT NULL), '{}') AS genres_names,
	COALESCE(ARRAY_AGG(DISTINCT p.full_name) FILTER (WHERE pfw.role = 'director'), '{}') AS directors_names,
	COALESCE(ARRAY_AGG(DISTINCT p.full_name) FILTER (WHERE pfw.role = 'actor'), '{}') AS actors_names,
	COALESCE(ARRAY_AGG(DISTINCT p.full_name) FILTER (WHERE pfw.role = 'writer'), '{}') AS writers_names,
	COALESCE(JSON_AGG(DISTINCT jsonb_build_object('id', g.id, 'name', g.name))
		FILTER (WHERE g.id IS NOT NULL), '[]') AS genres,
	COALESCE(JSON_AGG(DISTINCT jsonb_build_object('id', p.id, 'name', p.full_name))
		FILTER (WHERE pfw.role = 'director'), '[]') AS directors,
	COALESCE(JSON_AGG(DISTINCT jsonb_build_object('id', p.id, 'name', p.full_name))
		FILTER (WHERE pfw.role = 'actor'), '[]') AS actors,
	COALESCE(JSON_AGG(DISTINCT jsonb_build_object('id', p.id, 'name', p.full_name))
		FILTER (WHERE pfw.role = 'writer'), '[]') AS writers
FROM %[1]s fw
LEFT JOIN %[2]s pfw ON pfw.film_work_id = fw.id
LEFT JOIN %[3]s p ON p.id = pfw.person_id
LEFT JOIN %[4]s gfw ON gfw.film_work_id = fw.id
LEFT JOIN %[5]s g ON g.id = gfw.genre_id
WHERE fw.id = ANY($1::uuid[])
GROUP BY fw.id`

// FilmWorks builds one document per existing film work in ids, in input order.
func (p *Postgres) FilmWorks(ctx context.Context, ids []uuid.UUID) ([]FilmWorkDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(filmWorkQuery,
		p.table(FilmWork), p.table("person_film_work"), p.table(Person),
		p.table("genre_film_work"), p.table(Genre))
	rows, err := p.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("aggregating film works: %w", err)
	}
	defer rows.Close()

	docs := make([]FilmWorkDocument, 0, len(ids))
	for rows.Next() {
		var (
			doc          FilmWorkDocument
			rating       sql.NullFloat64
			description  sql.NullString
			creationDate sql.NullTime
			names        [4]pq.StringArray
			refs         [4][]byte
		)
		if err := rows.Scan(
			&doc.ID, &rating, &doc.Type, &doc.Title, &description, &creationDate,
			&names[0], &names[1], &names[2], &names[3],
			&refs[0], &refs[1], &refs[2], &refs[3],
		); err != nil {
			return nil, fmt.Errorf("scanning film work: %w", err)
		}
		if rating.Valid {
			doc.Rating = &rating.Float64
		}
		if description.Valid {
			doc.Description = &description.String
		}
		if creationDate.Valid {
			doc.CreationDate = FormatDate(creationDate.Time)
		}
		doc.GenresNames = []string(names[0])
		doc.DirectorsNames = []string(names[1])
		doc.ActorsNames = []string(names[2])
		doc.WritersNames = []string(names[3])
		for i, dest := range []*[]Ref{&doc.Genres, &doc.Directors, &doc.Actors, &doc.Writers} {
			decoded, err := DecodeRefs(refs[i])
			if err != nil {
				return nil, fmt.Errorf("decoding relations of film work %s: %w", doc.ID, err)
			}
			*dest = decoded
		}
		doc.normalize()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating film works: %w", err)
	}
	return OrderByIDs(docs, ids, func(d FilmWorkDocument) uuid.UUID { return d.ID }), nil
}

// Genres builds one document per existing genre in ids, in input order.
func (p *Postgres) Genres(ctx context.Context, ids []uuid.UUID) ([]GenreDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT g.id, g.name, g.description
		FROM %s g
		WHERE g.id = ANY($1::uuid[])`, p.table(Genre))
	rows, err := p.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("aggregating genres: %w", err)
	}
	defer rows.Close()

	docs := make([]GenreDocument, 0, len(ids))
	for rows.Next() {
		var (
			doc         GenreDocument
			description sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.Name, &description); err != nil {
			return nil, fmt.Errorf("scanning genre: %w", err)
		}
		if description.Valid {
			doc.Description = &description.String
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating genres: %w", err)
	}
	return OrderByIDs(docs, ids, func(d GenreDocument) uuid.UUID { return d.ID }), nil
}

// Persons builds one document per existing person in ids, with the distinct
// roles they hold and the film works they are linked to.
func (p *Postgres) Persons(ctx context.Context, ids []uuid.UUID) ([]PersonDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT
			p.id,
			p.full_name,
			p.birth_date,
			COALESCE(ARRAY_AGG(DISTINCT pfw.role) FILTER (WHERE pfw.role IS NOT NULL), '{}') AS roles,
			COALESCE(ARRAY_AGG(DISTINCT pfw.film_work_id::text) FILTER (WHERE pfw.film_work_id IS NOT NULL), '{}') AS film_ids
		FROM %s p
		LEFT JOIN %s pfw ON pfw.person_id = p.id
		WHERE p.id = ANY($1::uuid[])
		GROUP BY p.id`, p.table(Person), p.table("person_film_work"))
	rows, err := p.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("aggregating persons: %w", err)
	}
	defer rows.Close()

	docs := make([]PersonDocument, 0, len(ids))
	for rows.Next() {
		var (
			doc       PersonDocument
			birthDate sql.NullTime
			roles     pq.StringArray
			filmIDs   pq.StringArray
		)
		if err := rows.Scan(&doc.ID, &doc.FullName, &birthDate, &roles, &filmIDs); err != nil {
			return nil, fmt.Errorf("scanning person: %w", err)
		}
		if birthDate.Valid {
			doc.BirthDate = FormatDate(birthDate.Time)
		}
		doc.Roles = []string(roles)
		doc.FilmIDs = []string(filmIDs)
		doc.normalize()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating persons: %w", err)
	}
	return OrderByIDs(docs, ids, func(d PersonDocument) uuid.UUID { return d.ID }), nil
}

// DecodeRefs parses a JSON array of {id, name} objects. NULL or empty input
// yields an empty, non-nil slice.
func DecodeRefs(raw []byte) ([]Ref, error) {
	refs := []Ref{}
	if len(raw) == 0 || string(raw) == "null" {
		return refs, nil
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("decoding refs: %w", err)
	}
	if refs == nil {
		refs = []Ref{}
	}
	return refs, nil
}

// OrderByIDs returns docs sorted to follow the order of ids. Documents whose
// id is not in ids are appended at the end in their original order.
func OrderByIDs[T any](docs []T, ids []uuid.UUID, idOf func(T) uuid.UUID) []T {
	pos := make(map[uuid.UUID]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	slots := make([][]T, len(ids)+1)
	for _, d := range docs {
		i, ok := pos[idOf(d)]
		if !ok {
			i = len(ids)
		}
		slots[i] = append(slots[i], d)
	}
	ordered := make([]T, 0, len(docs))
	for _, s := range slots {
		ordered = append(ordered, s...)
	}
	return ordered
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
