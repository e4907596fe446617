package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

//go:embed article.schema.json
var articleSchemaJSON string

const articleSchemaName = "article.schema.json"

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateArticlePayload validates one JSON article object and decodes it.
func ValidateArticlePayload(payload json.RawMessage) (*domain.SourceArticle, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}
	return validateArticleValue(value)
}

// ValidateArticleBatch accepts either a single article object or an array of
// them. The first invalid element fails the whole batch, reporting its index.
func ValidateArticleBatch(payload json.RawMessage) ([]domain.SourceArticle, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	items, isList := value.([]any)
	if !isList {
		article, err := validateArticleValue(value)
		if err != nil {
			return nil, err
		}
		return []domain.SourceArticle{*article}, nil
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("payload contains no articles")
	}

	articles := make([]domain.SourceArticle, 0, len(items))
	for i, item := range items {
		article, err := validateArticleValue(item)
		if err != nil {
			return nil, fmt.Errorf("articles[%d]: %w", i, err)
		}
		articles = append(articles, *article)
	}
	return articles, nil
}

func validateArticleValue(value any) (*domain.SourceArticle, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var article domain.SourceArticle
	if err := json.Unmarshal(normalized, &article); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&article); err != nil {
		return nil, err
	}

	return &article, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(articleSchemaName, strings.NewReader(articleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(articleSchemaName)
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(article *domain.SourceArticle) error {
	if article == nil {
		return fmt.Errorf("payload is nil")
	}

	article.Title = strings.TrimSpace(article.Title)
	article.SourceName = strings.TrimSpace(article.SourceName)
	if article.Title == "" {
		return fmt.Errorf("title must not be empty")
	}
	if article.SourceName == "" {
		return fmt.Errorf("sourceName must not be empty")
	}
	if err := validateURI("url", article.URL); err != nil {
		return err
	}
	if strings.TrimSpace(article.ImageURL) != "" {
		if err := validateURI("urlToImage", article.ImageURL); err != nil {
			return err
		}
	}
	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}
	return nil
}
