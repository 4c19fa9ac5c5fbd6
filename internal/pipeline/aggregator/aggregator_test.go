package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog/catalogtest"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newAggregator(c *catalogtest.Catalog) *Aggregator {
	return New(c, resilience.NewRetrier(resilience.Backoff{},
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil })))
}

func TestAggregateFilmWorks(t *testing.T) {
	c := catalogtest.New()
	film := c.AddFilm("Star Wars", base)
	c.SetRating(film, 8.6)
	bare := c.AddFilm("Untitled", base)
	scifi := c.AddGenre("Sci-Fi", base)
	lucas := c.AddPerson("George Lucas", base)
	ford := c.AddPerson("Harrison Ford", base)
	c.LinkGenre(film, scifi)
	c.LinkPerson(film, lucas, catalog.RoleDirector)
	c.LinkPerson(film, lucas, catalog.RoleWriter)
	c.LinkPerson(film, ford, catalog.RoleActor)

	docs, err := newAggregator(c).Aggregate(context.Background(), catalog.FilmWork, []uuid.UUID{bare, film})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	first := docs[0].(catalog.FilmWorkDocument)
	assert.Equal(t, bare, first.ID)
	assert.Empty(t, first.Actors)
	assert.NotNil(t, first.Actors, "absent relations are empty, not null")

	doc := docs[1].(catalog.FilmWorkDocument)
	assert.Equal(t, "Star Wars", doc.Title)
	require.NotNil(t, doc.Rating)
	assert.Equal(t, 8.6, *doc.Rating)
	assert.Equal(t, []string{"Sci-Fi"}, doc.GenresNames)
	assert.Equal(t, []string{"George Lucas"}, doc.DirectorsNames)
	assert.Equal(t, []string{"George Lucas"}, doc.WritersNames)
	assert.Equal(t, []string{"Harrison Ford"}, doc.ActorsNames)
	assert.Equal(t, []catalog.Ref{{ID: ford, Name: "Harrison Ford"}}, doc.Actors)
}

func TestAggregatePersons(t *testing.T) {
	c := catalogtest.New()
	film := c.AddFilm("Film", base)
	person := c.AddPerson("Ann", base)
	c.LinkPerson(film, person, catalog.RoleActor)
	c.LinkPerson(film, person, catalog.RoleWriter)

	docs, err := newAggregator(c).Aggregate(context.Background(), catalog.Person, []uuid.UUID{person, uuid.New()})
	require.NoError(t, err)
	require.Len(t, docs, 1, "missing ids produce no document")

	doc := docs[0].(catalog.PersonDocument)
	assert.Equal(t, []string{catalog.RoleActor, catalog.RoleWriter}, doc.Roles)
	assert.Equal(t, []string{film.String()}, doc.FilmIDs)
}

func TestAggregateGenres(t *testing.T) {
	c := catalogtest.New()
	a := c.AddGenre("A", base)
	b := c.AddGenre("B", base)

	docs, err := newAggregator(c).Aggregate(context.Background(), catalog.Genre, []uuid.UUID{b, a})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, b.String(), docs[0].DocumentID())
	assert.Equal(t, a.String(), docs[1].DocumentID())
}

func TestAggregateEmptyInput(t *testing.T) {
	c := catalogtest.New()
	docs, err := newAggregator(c).Aggregate(context.Background(), catalog.FilmWork, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, c.Calls(catalogtest.OpFilmWorks))
}

func TestAggregateUnknownKind(t *testing.T) {
	_, err := newAggregator(catalogtest.New()).Aggregate(context.Background(), "tag", []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrUnknownTable)
	assert.Equal(t, "aggregate", apperrors.StageOf(err))
}

func TestAggregateRetriesTransientFailures(t *testing.T) {
	c := catalogtest.New()
	g := c.AddGenre("Drama", base)
	c.FailNext(catalogtest.OpGenres, errors.New("too many connections"))

	docs, err := newAggregator(c).Aggregate(context.Background(), catalog.Genre, []uuid.UUID{g})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 2, c.Calls(catalogtest.OpGenres))
}
