package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
)

// Backend serves transport requests from the records table.
type Backend struct {
	conn *Connection
}

// NewBackend creates a Backend on conn. Run the Migrator first.
func NewBackend(conn *Connection) *Backend {
	return &Backend{conn: conn}
}

// Do implements transport.Transport.
func (b *Backend) Do(ctx context.Context, req transport.Request) transport.Response {
	spec, ok := transport.Spec(req.Resource)
	if !ok {
		return transport.Response{Error: transport.UnknownResource(req.Resource)}
	}

	if req.ID != "" {
		id, err := shared.ParseID(req.ID)
		if err != nil {
			return transport.Response{Error: notFound(spec, req.ID)}
		}
		req.ID = id.String()
	}

	var (
		data any
		err  error
	)
	switch req.Method {
	case transport.MethodGet:
		if req.ID != "" {
			data, err = b.get(ctx, spec, req.ID)
		} else {
			data, err = b.list(ctx, spec, req.Query)
		}
	case transport.MethodPost:
		data, err = b.create(ctx, spec, req.Body)
	case transport.MethodPatch:
		data, err = b.update(ctx, spec, req.ID, req.Body)
	case transport.MethodDelete:
		data, err = b.remove(ctx, spec, req.ID)
	default:
		err = shared.NewDomainError("postgres", "Do", shared.ErrInvalidInput, "unsupported method "+string(req.Method))
	}
	if err != nil {
		return transport.Response{Error: err}
	}
	return transport.Response{Data: data}
}

const selectRecord = `SELECT id::text, data, is_deleted, created_at, updated_at FROM records`

func scanRecord(row pgx.Row) (map[string]any, error) {
	var (
		id                   string
		data                 map[string]any
		deleted              bool
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &data, &deleted, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	data["id"] = id
	data["isDeleted"] = deleted
	data["createdAt"] = createdAt.UTC().Format(time.RFC3339Nano)
	data["updatedAt"] = updatedAt.UTC().Format(time.RFC3339Nano)
	return data, nil
}

func notFound(spec transport.ResourceSpec, id string) error {
	return shared.NewDomainError(spec.Name, "Get", shared.ErrNotFound, "record "+id+" not found")
}

func (b *Backend) get(ctx context.Context, spec transport.ResourceSpec, id string) (map[string]any, error) {
	q, err := b.conn.querier()
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(q.QueryRow(ctx, selectRecord+` WHERE resource = $1 AND id::text = $2 AND NOT is_deleted`, spec.Name, id))
	if IsNoRows(err) {
		return nil, notFound(spec, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s %s: %w", spec.Name, id, err)
	}
	return rec, nil
}

// listQuery builds the list statement. Filters are matched on the text
// form of document fields, sorted by name for a stable statement.
func listQuery(resource string, query map[string]string) (string, []any) {
	names := make([]string, 0, len(query))
	for k, v := range query {
		if v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(selectRecord)
	sb.WriteString(` WHERE resource = $1 AND NOT is_deleted`)
	args := []any{resource}
	for _, name := range names {
		args = append(args, name, query[name])
		fmt.Fprintf(&sb, ` AND data->>$%d = $%d`, len(args)-1, len(args))
	}
	sb.WriteString(` ORDER BY seq`)
	return sb.String(), args
}

func (b *Backend) list(ctx context.Context, spec transport.ResourceSpec, query map[string]string) ([]map[string]any, error) {
	q, err := b.conn.querier()
	if err != nil {
		return nil, err
	}
	sql, args := listQuery(spec.Name, query)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", spec.Name, err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", spec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// nullable maps an empty natural key to SQL NULL.
func nullable(key string) any {
	if key == "" {
		return nil
	}
	return key
}

// document strips the columns stored outside the JSON document.
func document(fields map[string]any) map[string]any {
	for _, k := range []string{"id", "isDeleted", "createdAt", "updatedAt"} {
		delete(fields, k)
	}
	return fields
}

func (b *Backend) create(ctx context.Context, spec transport.ResourceSpec, body any) (map[string]any, error) {
	fields, err := transport.ToFields(body)
	if err != nil {
		return nil, err
	}
	fields = document(fields)

	q, err := b.conn.querier()
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(q.QueryRow(ctx, `
		INSERT INTO records (resource, data, natural_key)
		VALUES ($1, $2, $3)
		RETURNING id::text, data, is_deleted, created_at, updated_at`,
		spec.Name, fields, nullable(spec.NaturalKey(fields)),
	))
	if IsUniqueViolation(err) {
		return nil, spec.Duplicate
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: create %s: %w", spec.Name, err)
	}
	return rec, nil
}

func (b *Backend) update(ctx context.Context, spec transport.ResourceSpec, id string, body any) (map[string]any, error) {
	patch, err := transport.ToFields(body)
	if err != nil {
		return nil, err
	}
	patch = document(patch)

	var rec map[string]any
	err = b.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var current map[string]any
		err := tx.QueryRow(ctx,
			`SELECT data FROM records WHERE resource = $1 AND id::text = $2 AND NOT is_deleted FOR UPDATE`,
			spec.Name, id,
		).Scan(&current)
		if IsNoRows(err) {
			return notFound(spec, id)
		}
		if err != nil {
			return err
		}

		for k, v := range patch {
			if v != nil {
				current[k] = v
			}
		}

		rec, err = scanRecord(tx.QueryRow(ctx, `
			UPDATE records SET data = $3, natural_key = $4, updated_at = NOW()
			WHERE resource = $1 AND id::text = $2
			RETURNING id::text, data, is_deleted, created_at, updated_at`,
			spec.Name, id, current, nullable(spec.NaturalKey(current)),
		))
		return err
	})
	switch {
	case err == nil:
		return rec, nil
	case IsUniqueViolation(err):
		return nil, spec.Duplicate
	case shared.IsNotFound(err):
		return nil, err
	default:
		return nil, fmt.Errorf("postgres: update %s %s: %w", spec.Name, id, err)
	}
}

func (b *Backend) remove(ctx context.Context, spec transport.ResourceSpec, id string) (map[string]any, error) {
	q, err := b.conn.querier()
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(q.QueryRow(ctx, `
		UPDATE records SET is_deleted = TRUE, updated_at = NOW()
		WHERE resource = $1 AND id::text = $2 AND NOT is_deleted
		RETURNING id::text, data, is_deleted, created_at, updated_at`,
		spec.Name, id,
	))
	if IsNoRows(err) {
		return nil, notFound(spec, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: delete %s %s: %w", spec.Name, id, err)
	}
	return rec, nil
}
