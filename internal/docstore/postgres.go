package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rollcall/internal/errs"
)

// PGBackend stores documents in a single Postgres JSONB table keyed by
// (collection, parent_path, key). Merge writes use the jsonb concatenation
// operator, so the document is never rewritten whole.
type PGBackend struct {
	db *sql.DB
}

func NewPGBackend(db *sql.DB) *PGBackend {
	return &PGBackend{db: db}
}

func (b *PGBackend) Put(ctx context.Context, collection, parent, key string, doc Doc, merge bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	set := "doc = EXCLUDED.doc"
	if merge {
		set = "doc = documents.doc || EXCLUDED.doc"
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO documents (collection, parent_path, key, doc)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (collection, parent_path, key) DO UPDATE SET `+set+`, updated_at = now()
	`, collection, parent, key, raw)
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", errs.ErrUnavailable, collection, key, err)
	}
	return nil
}

func (b *PGBackend) Get(ctx context.Context, collection, parent, key string) (Doc, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT doc FROM documents
		WHERE collection = $1 AND parent_path = $2 AND key = $3
	`, collection, parent, key)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get %s/%s: %v", errs.ErrUnavailable, collection, key, err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *PGBackend) Delete(ctx context.Context, collection, parent, key string) error {
	_, err := b.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND parent_path = $2 AND key = $3
	`, collection, parent, key)
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", errs.ErrUnavailable, collection, key, err)
	}
	return nil
}

func (b *PGBackend) Find(ctx context.Context, collection, parent string, cond Condition) ([]Doc, error) {
	clause, args, err := compileCondition(cond, 3)
	if err != nil {
		return nil, err
	}
	query := `SELECT doc FROM documents WHERE collection = $1 AND parent_path = $2`
	if clause != "" {
		query += " AND " + clause
	}
	rows, err := b.db.QueryContext(ctx, query, append([]any{collection, parent}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: find %s: %v", errs.ErrUnavailable, collection, err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc Doc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (b *PGBackend) Count(ctx context.Context, collection, parent string, cond Condition) (int64, error) {
	clause, args, err := compileCondition(cond, 3)
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM documents WHERE collection = $1 AND parent_path = $2`
	if clause != "" {
		query += " AND " + clause
	}
	var n int64
	row := b.db.QueryRowContext(ctx, query, append([]any{collection, parent}, args...)...)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", errs.ErrUnavailable, collection, err)
	}
	return n, nil
}

// compileCondition translates a Condition into a parameterized SQL clause
// over the JSONB text projection, preserving AND-within/OR-across semantics.
// firstArg is the first free placeholder index.
func compileCondition(cond Condition, firstArg int) (string, []any, error) {
	if len(cond) == 0 {
		return "", nil, nil
	}
	var (
		groups []string
		args   []any
	)
	next := firstArg
	for _, w := range cond {
		group, groupArgs, n, err := compileWhere(w, next)
		if err != nil {
			return "", nil, err
		}
		if group == "" {
			// An empty AND group matches everything, making the OR vacuous.
			return "", nil, nil
		}
		groups = append(groups, group)
		args = append(args, groupArgs...)
		next = n
	}
	if len(groups) == 1 {
		return groups[0], args, nil
	}
	return "(" + strings.Join(groups, " OR ") + ")", args, nil
}

func compileWhere(w Where, firstArg int) (string, []any, int, error) {
	var (
		preds []string
		args  []any
	)
	next := firstArg
	for field, operand := range w {
		if err := validField(field); err != nil {
			return "", nil, 0, err
		}
		accessor := fmt.Sprintf("doc->>'%s'", field)
		for op, val := range operand {
			switch op {
			case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
				sqlOp := string(op)
				if op == OpEq {
					sqlOp = "="
				} else if op == OpNeq {
					sqlOp = "<>"
				}
				preds = append(preds, fmt.Sprintf("%s %s $%d", accessor, sqlOp, next))
				args = append(args, asText(val))
				next++
			case OpIn:
				placeholders, inArgs, err := expandIn(val, &next)
				if err != nil {
					return "", nil, 0, err
				}
				if len(inArgs) == 0 {
					preds = append(preds, "FALSE")
					continue
				}
				preds = append(preds, fmt.Sprintf("%s IN (%s)", accessor, placeholders))
				args = append(args, inArgs...)
			default:
				return "", nil, 0, fmt.Errorf("unsupported operator %q", op)
			}
		}
	}
	if len(preds) == 0 {
		return "", nil, next, nil
	}
	return "(" + strings.Join(preds, " AND ") + ")", args, next, nil
}

func expandIn(val any, next *int) (string, []any, error) {
	items, err := sliceValues(val)
	if err != nil {
		return "", nil, err
	}
	var (
		placeholders []string
		args         []any
	)
	for _, item := range items {
		placeholders = append(placeholders, fmt.Sprintf("$%d", *next))
		args = append(args, asText(item))
		*next++
	}
	return strings.Join(placeholders, ", "), args, nil
}

func sliceValues(val any) ([]any, error) {
	switch v := val.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%q operator requires a slice, got %T", OpIn, val)
	}
}
