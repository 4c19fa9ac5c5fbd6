package loader

import (
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

type property = map[string]any

// analyzer is the bilingual analyzer every text field uses.
const analyzer = "ru_en"

var indexSettings = property{
	"index": property{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"refresh_interval": "1s",
	"analysis": property{
		"filter": property{
			"english_stop":               property{"type": "stop", "stopwords": "_english_"},
			"english_stemmer":            property{"type": "stemmer", "language": "english"},
			"english_possessive_stemmer": property{"type": "stemmer", "language": "possessive_english"},
			"russian_stop":               property{"type": "stop", "stopwords": "_russian_"},
			"russian_stemmer":            property{"type": "stemmer", "language": "russian"},
		},
		"analyzer": property{
			analyzer: property{
				"tokenizer": "standard",
				"filter": []string{
					"lowercase",
					"english_stop",
					"english_stemmer",
					"english_possessive_stemmer",
					"russian_stop",
					"russian_stemmer",
				},
			},
		},
	},
}

func keyword() property { return property{"type": "keyword"} }

func text() property { return property{"type": "text", "analyzer": analyzer} }

func textWithRaw() property {
	p := text()
	p["fields"] = property{"raw": keyword()}
	return p
}

func nestedRefs() property {
	return property{
		"type":    "nested",
		"dynamic": "strict",
		"properties": property{
			"id":   keyword(),
			"name": text(),
		},
	}
}

func strict(properties property) property {
	return property{"dynamic": "strict", "properties": properties}
}

var mappings = map[string]property{
	catalog.FilmWork: strict(property{
		"id":              keyword(),
		"rating":          property{"type": "float"},
		"type":            keyword(),
		"creation_date":   property{"type": "date"},
		"title":           textWithRaw(),
		"description":     text(),
		"genres_names":    text(),
		"directors_names": text(),
		"actors_names":    text(),
		"writers_names":   text(),
		"genres":          nestedRefs(),
		"directors":       nestedRefs(),
		"actors":          nestedRefs(),
		"writers":         nestedRefs(),
	}),
	catalog.Genre: strict(property{
		"id":          keyword(),
		"name":        textWithRaw(),
		"description": text(),
	}),
	catalog.Person: strict(property{
		"id":         keyword(),
		"full_name":  textWithRaw(),
		"roles":      keyword(),
		"birth_date": property{"type": "date"},
		"film_ids":   keyword(),
	}),
}

// IndexBody returns the create-index body (settings and mappings) for the
// documents of kind.
func IndexBody(kind string) (string, error) {
	m, ok := mappings[kind]
	if !ok {
		return "", apperrors.UnknownTable(kind)
	}
	body, err := json.Marshal(property{"settings": indexSettings, "mappings": m})
	if err != nil {
		return "", fmt.Errorf("encoding %s index body: %w", kind, err)
	}
	return string(body), nil
}
