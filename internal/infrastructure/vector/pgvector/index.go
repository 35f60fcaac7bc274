// Package pgvector searches catalog records stored in a Postgres table with a
// pgvector embedding column and a jsonb metadata column.
package pgvector

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/resilience"
)

const DefaultTable = "products"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

type Index struct {
	db       *sql.DB
	table    string
	executor *resilience.Executor
}

func New(db *sql.DB, table string, executor *resilience.Executor) (*Index, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, domain.WrapError(domain.ErrConfiguration, "pgvector config", fmt.Errorf("invalid table name %q", table))
	}
	return &Index{db: db, table: table, executor: executor}, nil
}

func (i *Index) Search(ctx context.Context, queryVector []float32, filter *domain.FilterPredicate, limit int) ([]domain.ProductRecord, error) {
	if limit <= 0 {
		return []domain.ProductRecord{}, nil
	}
	query, args := i.buildQuery(queryVector, filter, limit)

	records, err := resilience.Call(ctx, i.executor, "pgvector.search", func(callCtx context.Context) ([]domain.ProductRecord, error) {
		return i.query(callCtx, query, args)
	}, classifySQLError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "pgvector search", err)
	}
	return records, nil
}

func (i *Index) query(ctx context.Context, query string, args []any) ([]domain.ProductRecord, error) {
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProductRecord, 0)
	for rows.Next() {
		var (
			id       string
			rawMeta  []byte
			score    float64
			metadata map[string]any
		)
		if err := rows.Scan(&id, &rawMeta, &score); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(rawMeta))
		decoder.UseNumber()
		if err := decoder.Decode(&metadata); err != nil {
			return nil, fmt.Errorf("decode product metadata %s: %w", id, err)
		}
		out = append(out, domain.ProductFromMetadata(id, metadata, score))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

func (i *Index) buildQuery(queryVector []float32, filter *domain.FilterPredicate, limit int) (string, []any) {
	args := []any{pgvector.NewVector(queryVector)}
	where, args := RenderPredicate(filter, args)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, metadata, 1 - (embedding <=> $1) AS score FROM %s", i.table)
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return b.String(), args
}

// VerifyDimension checks the table exists and its embedding column is a
// vector of the given size.
func (i *Index) VerifyDimension(ctx context.Context, dimension int) error {
	var typmod int
	err := i.db.QueryRowContext(ctx, `
SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding' AND NOT a.attisdropped
`, i.table).Scan(&typmod)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrConfiguration, "pgvector verify table", fmt.Errorf("table %s with an embedding column not found", i.table))
	}
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "pgvector verify table", err)
	}
	if typmod != dimension {
		return domain.WrapError(domain.ErrConfiguration, "pgvector verify table", fmt.Errorf("table %s embedding dimension %d, expected %d", i.table, typmod, dimension))
	}
	return nil
}

// RenderPredicate renders the predicate as a parameterised SQL condition over
// the metadata column, appending its values to args. Semantics match the
// in-memory index: text compares case-insensitively, a missing value only
// satisfies ne.
func RenderPredicate(pred *domain.FilterPredicate, args []any) (string, []any) {
	if pred.Empty() {
		return "", args
	}
	clauses := make([]string, 0, len(pred.Conditions))
	for _, c := range pred.Conditions {
		var clause string
		clause, args = renderCondition(c, args)
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func renderCondition(c domain.Condition, args []any) (string, []any) {
	value := metadataExpr(c.Field.MetadataKey())
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var clause string
	if c.Field.Numeric() {
		number := fmt.Sprintf(leadingNumberSQL, value)
		switch c.Operator {
		case domain.OpEq:
			clause = number + " = " + bind(c.Value.Number)
		case domain.OpNe:
			clause = fmt.Sprintf("(%s IS NULL OR %s <> %s)", number, number, bind(c.Value.Number))
		case domain.OpLt:
			clause = number + " < " + bind(c.Value.Number)
		case domain.OpLte:
			clause = number + " <= " + bind(c.Value.Number)
		case domain.OpGt:
			clause = number + " > " + bind(c.Value.Number)
		case domain.OpGte:
			clause = number + " >= " + bind(c.Value.Number)
		}
		return clause, args
	}

	switch c.Operator {
	case domain.OpEq:
		clause = fmt.Sprintf("lower(%s) = lower(%s)", value, bind(c.Value.Text))
	case domain.OpNe:
		clause = fmt.Sprintf("(%s IS NULL OR lower(%s) <> lower(%s))", value, value, bind(c.Value.Text))
	case domain.OpIn:
		items := make([]string, 0, len(c.Value.List))
		for _, item := range c.Value.List {
			items = append(items, "lower("+bind(item)+")")
		}
		clause = fmt.Sprintf("lower(%s) IN (%s)", value, strings.Join(items, ", "))
	}
	return clause, args
}

// leadingNumberPattern matches the leading decimal of a catalog value once
// '$' and ',' are removed, the way domain.ParseNumber reads it: "$3.99 ($1.20/oz)"
// is 3.99 and "1.5-2 lb" is 1.5. Values without a leading number become NULL.
const leadingNumberPattern = `^\s*-?(?:[0-9]+\.?[0-9]*|\.[0-9]+)`

const leadingNumberSQL = "NULLIF(substring(replace(replace(%s, '$', ''), ',', '') from '" + leadingNumberPattern + "'), '')::double precision"

// metadataExpr reads a metadata key, falling back to legacy spellings.
func metadataExpr(key string) string {
	aliases := domain.MetadataKeyAliases(key)
	if len(aliases) == 1 {
		return "(metadata->>" + quoteLiteral(key) + ")"
	}
	parts := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		parts = append(parts, "metadata->>"+quoteLiteral(alias))
	}
	return "COALESCE(" + strings.Join(parts, ", ") + ")"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func classifySQLError(err error) resilience.ErrorClassification {
	if err == nil || resilience.IsCanceled(err) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
