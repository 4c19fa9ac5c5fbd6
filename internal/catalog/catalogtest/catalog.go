// Package catalogtest provides an in-memory catalog that answers the same
// queries as catalog.Postgres, for tests of the pipeline stages.
package catalogtest

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

// Operation names accepted by FailNext and Calls.
const (
	OpChangedSince = "changed_since"
	OpFilmWorkIDs  = "film_work_ids"
	OpFilmWorks    = "film_works"
	OpGenres       = "genres"
	OpPersons      = "persons"
)

type row struct {
	id          uuid.UUID
	name        string
	kind        string
	description *string
	rating      *float64
	updatedAt   time.Time
}

type link struct {
	film   uuid.UUID
	entity uuid.UUID
	role   string
}

// Catalog is an in-memory movies catalog.
type Catalog struct {
	mu          sync.Mutex
	tables      map[string]map[uuid.UUID]*row
	genreLinks  []link
	personLinks []link
	failures    map[string][]error
	calls       map[string]int
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		tables: map[string]map[uuid.UUID]*row{
			catalog.FilmWork: {},
			catalog.Genre:    {},
			catalog.Person:   {},
		},
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// AddFilm inserts a movie and returns its id.
func (c *Catalog) AddFilm(title string, updatedAt time.Time) uuid.UUID {
	return c.add(catalog.FilmWork, &row{name: title, kind: "movie", updatedAt: updatedAt})
}

// AddGenre inserts a genre and returns its id.
func (c *Catalog) AddGenre(name string, updatedAt time.Time) uuid.UUID {
	return c.add(catalog.Genre, &row{name: name, updatedAt: updatedAt})
}

// AddPerson inserts a person and returns its id.
func (c *Catalog) AddPerson(fullName string, updatedAt time.Time) uuid.UUID {
	return c.add(catalog.Person, &row{name: fullName, updatedAt: updatedAt})
}

func (c *Catalog) add(table string, r *row) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.id = uuid.New()
	c.tables[table][r.id] = r
	return r.id
}

// SetRating sets the rating of a film.
func (c *Catalog) SetRating(film uuid.UUID, rating float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[catalog.FilmWork][film].rating = &rating
}

// Rename changes a row's title or name and bumps its updated_at.
func (c *Catalog) Rename(table string, id uuid.UUID, name string, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.tables[table][id]
	r.name = name
	r.updatedAt = updatedAt
}

// LinkGenre attaches genre to film.
func (c *Catalog) LinkGenre(film, genre uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genreLinks = append(c.genreLinks, link{film: film, entity: genre})
}

// LinkPerson attaches person to film in role.
func (c *Catalog) LinkPerson(film, person uuid.UUID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.personLinks = append(c.personLinks, link{film: film, entity: person, role: role})
}

// FailNext makes the next len(errs) calls of op fail with errs in order.
func (c *Catalog) FailNext(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], errs...)
}

// Calls returns how many times op was invoked, failed calls included.
func (c *Catalog) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// call records an invocation of op and pops a queued failure, if any.
// c.mu must be held.
func (c *Catalog) call(op string) error {
	c.calls[op]++
	if queued := c.failures[op]; len(queued) > 0 {
		c.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (c *Catalog) ChangedSince(_ context.Context, table string, since time.Time, offset, limit int) ([]catalog.ChangeRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpChangedSince); err != nil {
		return nil, err
	}
	rows, ok := c.tables[table]
	if !ok {
		return nil, apperrors.UnknownTable(table)
	}
	var changed []catalog.ChangeRow
	for _, r := range rows {
		if r.updatedAt.After(since) {
			changed = append(changed, catalog.ChangeRow{ID: r.id, UpdatedAt: r.updatedAt})
		}
	}
	sort.Slice(changed, func(i, j int) bool {
		return lessByTime(changed[i].UpdatedAt, changed[i].ID, changed[j].UpdatedAt, changed[j].ID)
	})
	return page(changed, offset, limit), nil
}

func (c *Catalog) FilmWorkIDs(_ context.Context, table string, ids []uuid.UUID, offset, limit int) ([]uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpFilmWorkIDs); err != nil {
		return nil, err
	}
	var links []link
	switch table {
	case catalog.Genre:
		links = c.genreLinks
	case catalog.Person:
		links = c.personLinks
	default:
		return nil, apperrors.UnknownTable(table)
	}
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	seen := make(map[uuid.UUID]bool)
	var films []*row
	for _, l := range links {
		if !wanted[l.entity] || seen[l.film] {
			continue
		}
		seen[l.film] = true
		if f, ok := c.tables[catalog.FilmWork][l.film]; ok {
			films = append(films, f)
		}
	}
	sort.Slice(films, func(i, j int) bool {
		return lessByTime(films[i].updatedAt, films[i].id, films[j].updatedAt, films[j].id)
	})
	roots := make([]uuid.UUID, len(films))
	for i, f := range films {
		roots[i] = f.id
	}
	return page(roots, offset, limit), nil
}

func (c *Catalog) FilmWorks(_ context.Context, ids []uuid.UUID) ([]catalog.FilmWorkDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpFilmWorks); err != nil {
		return nil, err
	}
	var docs []catalog.FilmWorkDocument
	for _, id := range ids {
		f, ok := c.tables[catalog.FilmWork][id]
		if !ok {
			continue
		}
		doc := catalog.FilmWorkDocument{
			ID:          f.id,
			Rating:      f.rating,
			Type:        f.kind,
			Title:       f.name,
			Description: f.description,
		}
		names := map[string]map[string]bool{}
		refs := map[string]map[catalog.Ref]bool{}
		collect := func(role string, r *row) {
			if names[role] == nil {
				names[role] = map[string]bool{}
				refs[role] = map[catalog.Ref]bool{}
			}
			names[role][r.name] = true
			refs[role][catalog.Ref{ID: r.id, Name: r.name}] = true
		}
		for _, l := range c.genreLinks {
			if l.film == id {
				collect("genre", c.tables[catalog.Genre][l.entity])
			}
		}
		for _, l := range c.personLinks {
			if l.film == id {
				collect(l.role, c.tables[catalog.Person][l.entity])
			}
		}
		doc.GenresNames, doc.Genres = sortedNames(names["genre"]), sortedRefs(refs["genre"])
		doc.DirectorsNames, doc.Directors = sortedNames(names[catalog.RoleDirector]), sortedRefs(refs[catalog.RoleDirector])
		doc.ActorsNames, doc.Actors = sortedNames(names[catalog.RoleActor]), sortedRefs(refs[catalog.RoleActor])
		doc.WritersNames, doc.Writers = sortedNames(names[catalog.RoleWriter]), sortedRefs(refs[catalog.RoleWriter])
		docs = append(docs, catalog.Normalize(doc).(catalog.FilmWorkDocument))
	}
	return docs, nil
}

func (c *Catalog) Genres(_ context.Context, ids []uuid.UUID) ([]catalog.GenreDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpGenres); err != nil {
		return nil, err
	}
	var docs []catalog.GenreDocument
	for _, id := range ids {
		if g, ok := c.tables[catalog.Genre][id]; ok {
			docs = append(docs, catalog.GenreDocument{ID: g.id, Name: g.name, Description: g.description})
		}
	}
	return docs, nil
}

func (c *Catalog) Persons(_ context.Context, ids []uuid.UUID) ([]catalog.PersonDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call(OpPersons); err != nil {
		return nil, err
	}
	var docs []catalog.PersonDocument
	for _, id := range ids {
		p, ok := c.tables[catalog.Person][id]
		if !ok {
			continue
		}
		roles := map[string]bool{}
		films := map[string]bool{}
		for _, l := range c.personLinks {
			if l.entity == id {
				roles[l.role] = true
				films[l.film.String()] = true
			}
		}
		doc := catalog.PersonDocument{
			ID:       p.id,
			FullName: p.name,
			Roles:    sortedNames(roles),
			FilmIDs:  sortedNames(films),
		}
		docs = append(docs, catalog.Normalize(doc).(catalog.PersonDocument))
	}
	return docs, nil
}

func lessByTime(ti time.Time, idi uuid.UUID, tj time.Time, idj uuid.UUID) bool {
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return bytes.Compare(idi[:], idj[:]) < 0
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedRefs(set map[catalog.Ref]bool) []catalog.Ref {
	out := make([]catalog.Ref, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
