package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const requestSchema = `
CREATE TABLE IF NOT EXISTS request_data (
	id                    text PRIMARY KEY,
	status                text NOT NULL,
	category              text NOT NULL,
	path                  text,
	query_string          text,
	http_method           text,
	start_time            timestamptz NOT NULL,
	end_time              timestamptz,
	total_time            bigint,
	remote_addr           text,
	remote_host           text,
	host                  text,
	service               text,
	operation             text,
	ows_version           text,
	resources             text[],
	response_status       integer,
	response_length       bigint,
	response_content_type text,
	error_message         text,
	body                  bytea,
	body_content_type     text,
	body_length           bigint
);
CREATE INDEX IF NOT EXISTS request_data_start_time ON request_data (start_time);`

var columns = map[string]string{
	"ID":                  "id",
	"Status":              "status",
	"Category":            "category",
	"Path":                "path",
	"QueryString":         "query_string",
	"HTTPMethod":          "http_method",
	"StartTime":           "start_time",
	"EndTime":             "end_time",
	"TotalTime":           "total_time",
	"RemoteAddr":          "remote_addr",
	"RemoteHost":          "remote_host",
	"Host":                "host",
	"Service":             "service",
	"Operation":           "operation",
	"OwsVersion":          "ows_version",
	"Resources":           "resources",
	"ResponseStatus":      "response_status",
	"ResponseLength":      "response_length",
	"ResponseContentType": "response_content_type",
	"ErrorMessage":        "error_message",
	"BodyContentType":     "body_content_type",
	"BodyLength":          "body_length",
}

var intColumns = map[string]bool{"total_time": true, "response_status": true, "response_length": true, "body_length": true}
var timeColumns = map[string]bool{"start_time": true, "end_time": true}

const selectColumns = `id, status, category, path, query_string, http_method, start_time, end_time,
	total_time, remote_addr, remote_host, host, service, operation, ows_version, resources,
	response_status, response_length, response_content_type, error_message, body, body_content_type, body_length`

// PostgresDAO stores requests in the request_data table. Writes are queued
// and applied by a background writer.
type PostgresDAO struct {
	db    *sql.DB
	queue chan func(context.Context) error
	done  chan struct{}
}

func NewPostgresDAO(ctx context.Context, dsn string) (*PostgresDAO, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("monitor database: %v", err)
	}
	if _, err := db.ExecContext(ctx, requestSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor database: %v", err)
	}
	d := &PostgresDAO{db: db, queue: make(chan func(context.Context) error, defaultQueueSize), done: make(chan struct{})}
	go d.writer()
	return d, nil
}

func (d *PostgresDAO) writer() {
	defer close(d.done)
	for op := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := op(ctx); err != nil {
			log.Printf("PostgresDAO: %v", err)
		}
		cancel()
	}
}

func (d *PostgresDAO) enqueue(op func(context.Context) error) {
	select {
	case d.queue <- op:
	default:
		log.Printf("PostgresDAO: queue full, dropping request record")
	}
}

func (d *PostgresDAO) Close() error {
	close(d.queue)
	<-d.done
	return d.db.Close()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (d *PostgresDAO) Add(r *RequestData) {
	r = r.Clone()
	d.enqueue(func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx, `INSERT INTO request_data (`+selectColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Status, r.Category, r.Path, r.QueryString, r.HTTPMethod, r.StartTime, nullTime(r.EndTime),
			r.TotalTime, r.RemoteAddr, r.RemoteHost, r.Host, r.Service, r.Operation, r.OwsVersion, pq.Array(r.Resources),
			r.ResponseStatus, r.ResponseLength, r.ResponseContentType, r.ErrorMessage, r.Body, r.BodyContentType, r.BodyLength)
		return err
	})
}

func (d *PostgresDAO) Update(r *RequestData) {
	r = r.Clone()
	d.enqueue(func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx, `UPDATE request_data SET status = $2, end_time = $3, total_time = $4,
			service = $5, operation = $6, ows_version = $7, resources = $8, response_status = $9,
			response_length = $10, response_content_type = $11, error_message = $12 WHERE id = $1`,
			r.ID, r.Status, nullTime(r.EndTime), r.TotalTime, r.Service, r.Operation, r.OwsVersion,
			pq.Array(r.Resources), r.ResponseStatus, r.ResponseLength, r.ResponseContentType, r.ErrorMessage)
		return err
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*RequestData, error) {
	var r RequestData
	var end pq.NullTime
	var path, query, method, raddr, rhost, host, service, op, ver, ctype, emsg, bctype sql.NullString
	var total, rlen, blen sql.NullInt64
	var status sql.NullInt64
	err := s.Scan(&r.ID, &r.Status, &r.Category, &path, &query, &method, &r.StartTime, &end,
		&total, &raddr, &rhost, &host, &service, &op, &ver, pq.Array(&r.Resources),
		&status, &rlen, &ctype, &emsg, &r.Body, &bctype, &blen)
	if err != nil {
		return nil, err
	}
	r.Path, r.QueryString, r.HTTPMethod = path.String, query.String, method.String
	r.RemoteAddr, r.RemoteHost, r.Host = raddr.String, rhost.String, host.String
	r.Service, r.Operation, r.OwsVersion = service.String, op.String, ver.String
	r.ResponseContentType, r.ErrorMessage, r.BodyContentType = ctype.String, emsg.String, bctype.String
	r.TotalTime, r.ResponseLength, r.BodyLength = total.Int64, rlen.Int64, blen.Int64
	r.ResponseStatus = int(status.Int64)
	if end.Valid {
		r.EndTime = end.Time
	}
	return &r, nil
}

func (d *PostgresDAO) Get(ctx context.Context, id string) (*RequestData, error) {
	r, err := scanRequest(d.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM request_data WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (d *PostgresDAO) Query(ctx context.Context, q RequestQuery) ([]*RequestData, error) {
	stmt, args, err := QuerySQL(q, false)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RequestData
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *PostgresDAO) Count(ctx context.Context, q RequestQuery) (int, error) {
	stmt, args, err := QuerySQL(q, true)
	if err != nil {
		return 0, err
	}
	var n int
	err = d.db.QueryRowContext(ctx, stmt, args...).Scan(&n)
	return n, err
}

func typedValue(col, s string) (interface{}, error) {
	switch {
	case intColumns[col]:
		return strconv.ParseInt(s, 10, 64)
	case timeColumns[col]:
		return time.Parse(time.RFC3339, s)
	}
	return s, nil
}

var sqlOps = map[string]string{OpEQ: "=", OpNEQ: "<>", OpLT: "<", OpLTE: "<=", OpGT: ">", OpGTE: ">="}

// QuerySQL builds the parameterised statement of a query. With count set
// it selects count(*) and ignores ordering and paging.
func QuerySQL(q RequestQuery, count bool) (string, []interface{}, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !q.From.IsZero() {
		where = append(where, "start_time >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "start_time <= "+arg(q.To))
	}
	for _, f := range q.Filters {
		col, ok := columns[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter field '%s'", f.Field)
		}
		if col == "resources" {
			if f.Op != OpEQ {
				return "", nil, fmt.Errorf("resources only supports EQ")
			}
			where = append(where, arg(f.Value)+" = ANY(resources)")
			continue
		}
		switch f.Op {
		case OpLIKE:
			where = append(where, col+"::text ILIKE "+arg(f.Value))
		case OpIN:
			vals := f.values()
			var p interface{}
			switch {
			case intColumns[col]:
				ints := make([]int64, len(vals))
				for i, v := range vals {
					n, err := strconv.ParseInt(v, 10, 64)
					if err != nil {
						return "", nil, fmt.Errorf("invalid %s value '%s'", f.Field, v)
					}
					ints[i] = n
				}
				p = pq.Array(ints)
			default:
				p = pq.Array(vals)
			}
			where = append(where, col+" = ANY("+arg(p)+")")
		default:
			v, err := typedValue(col, f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("invalid %s value '%s'", f.Field, f.Value)
			}
			where = append(where, col+" "+sqlOps[f.Op]+" "+arg(v))
		}
	}

	var b strings.Builder
	if count {
		b.WriteString("SELECT count(*) FROM request_data")
	} else {
		b.WriteString("SELECT " + selectColumns + " FROM request_data")
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if count {
		return b.String(), args, nil
	}

	order := "start_time"
	if f, ok := FieldName(q.SortBy); ok && q.SortBy != "" {
		if col, ok := columns[f]; ok {
			order = col
		}
	}
	b.WriteString(" ORDER BY " + order)
	if q.Ascending {
		b.WriteString(" ASC")
	} else {
		b.WriteString(" DESC")
	}
	if q.Count > 0 {
		b.WriteString(" LIMIT " + arg(q.Count))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + arg(q.Offset))
	}
	return b.String(), args, nil
}
