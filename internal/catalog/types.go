// Package catalog defines the entities read from the movies catalog, the
// denormalized documents built from them, and the PostgreSQL queries that
// produce both.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Tracked tables. FilmWork is the root entity; Genre and Person are
// dependents whose changes re-index the film works they are linked to.
const (
	FilmWork = "film_work"
	Genre    = "genre"
	Person   = "person"
)

// Person roles in person_film_work.
const (
	RoleDirector = "director"
	RoleActor    = "actor"
	RoleWriter   = "writer"
)

// Tables lists every tracked table in scheduling order.
var Tables = []string{FilmWork, Genre, Person}

// IsKnown reports whether table is tracked.
func IsKnown(table string) bool {
	switch table {
	case FilmWork, Genre, Person:
		return true
	}
	return false
}

// IsDependent reports whether changes in table must be mapped back to film
// works through a <table>_film_work relation.
func IsDependent(table string) bool {
	return table == Genre || table == Person
}

// ChangeRow is the minimal projection fetched during change detection.
type ChangeRow struct {
	ID        uuid.UUID
	UpdatedAt time.Time
}

// IDs returns the ids of rows in order.
func IDs(rows []ChangeRow) []uuid.UUID {
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

// MaxUpdatedAt returns the latest updated_at among rows.
func MaxUpdatedAt(rows []ChangeRow) time.Time {
	var latest time.Time
	for _, r := range rows {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest
}

// Document is anything the bulk loader can index. DocumentID is used as the
// index document id so re-delivery overwrites instead of duplicating.
type Document interface {
	DocumentID() string
}

// Ref is an id+name pair stored as a nested object for faceting.
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// FilmWorkDocument is the denormalized root document.
type FilmWorkDocument struct {
	ID             uuid.UUID `json:"id"`
	Rating         *float64  `json:"rating"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	CreationDate   *string   `json:"creation_date"`
	GenresNames    []string  `json:"genres_names"`
	DirectorsNames []string  `json:"directors_names"`
	ActorsNames    []string  `json:"actors_names"`
	WritersNames   []string  `json:"writers_names"`
	Genres         []Ref     `json:"genres"`
	Directors      []Ref     `json:"directors"`
	Actors         []Ref     `json:"actors"`
	Writers        []Ref     `json:"writers"`
}

func (d FilmWorkDocument) DocumentID() string { return d.ID.String() }

// normalize replaces nil collections with empty ones so they encode as [].
func (d *FilmWorkDocument) normalize() {
	d.GenresNames = nonNil(d.GenresNames)
	d.DirectorsNames = nonNil(d.DirectorsNames)
	d.ActorsNames = nonNil(d.ActorsNames)
	d.WritersNames = nonNil(d.WritersNames)
	d.Genres = nonNil(d.Genres)
	d.Directors = nonNil(d.Directors)
	d.Actors = nonNil(d.Actors)
	d.Writers = nonNil(d.Writers)
}

// GenreDocument is the document indexed for a genre.
type GenreDocument struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
}

func (d GenreDocument) DocumentID() string { return d.ID.String() }

// PersonDocument is the document indexed for a person.
type PersonDocument struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Roles     []string  `json:"roles"`
	BirthDate *string   `json:"birth_date"`
	FilmIDs   []string  `json:"film_ids"`
}

func (d PersonDocument) DocumentID() string { return d.ID.String() }

func (d *PersonDocument) normalize() {
	d.Roles = nonNil(d.Roles)
	d.FilmIDs = nonNil(d.FilmIDs)
}

// Normalize fixes up documents built outside this package.
func Normalize(doc Document) Document {
	switch d := doc.(type) {
	case FilmWorkDocument:
		d.normalize()
		return d
	case PersonDocument:
		d.normalize()
		return d
	}
	return doc
}

const dateLayout = "2006-01-02"

// FormatDate renders t as a calendar date, or nil for the zero time.
func FormatDate(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
