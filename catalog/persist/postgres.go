package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/nci/geoserve/catalog"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS catalog_object (
	id      text PRIMARY KEY,
	kind    text NOT NULL,
	name    text NOT NULL,
	doc     jsonb NOT NULL,
	updated timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS catalog_object_kind ON catalog_object (kind);
CREATE TABLE IF NOT EXISTS catalog_default (
	key   text PRIMARY KEY,
	value text NOT NULL
);
CREATE TABLE IF NOT EXISTS catalog_style_body (
	style_id text NOT NULL,
	name     text NOT NULL,
	body     bytea NOT NULL,
	PRIMARY KEY (style_id, name)
);`

// styleBodyName is the catalog_style_body name of the SLD itself; resources
// use their relative names.
const styleBodyName = ""

// Postgres keeps the catalog as JSON documents in a Postgres database.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// OpenPostgres connects with a lib/pq DSN.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog database: %v", err)
	}
	return NewPostgres(db), nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: 10 * time.Second}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

func newInfo(kind catalog.Kind) (catalog.Info, error) {
	switch kind {
	case catalog.KindWorkspace:
		return &catalog.WorkspaceInfo{}, nil
	case catalog.KindNamespace:
		return &catalog.NamespaceInfo{}, nil
	case catalog.KindDataStore:
		return &catalog.DataStoreInfo{}, nil
	case catalog.KindCoverageStore:
		return &catalog.CoverageStoreInfo{}, nil
	case catalog.KindFeatureType:
		return &catalog.FeatureTypeInfo{}, nil
	case catalog.KindCoverage:
		return &catalog.CoverageInfo{}, nil
	case catalog.KindStyle:
		return &catalog.StyleInfo{}, nil
	case catalog.KindLayer:
		return &catalog.LayerInfo{}, nil
	case catalog.KindLayerGroup:
		return &catalog.LayerGroupInfo{}, nil
	}
	return nil, fmt.Errorf("unknown catalog kind '%s'", kind)
}

func (p *Postgres) Load(ctx context.Context, cat *catalog.Catalog) error {
	if err := p.Init(ctx); err != nil {
		return err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, kind, doc FROM catalog_object`)
	if err != nil {
		return err
	}
	defer rows.Close()

	objs := byKind{}
	for rows.Next() {
		var id, kind string
		var doc []byte
		if err := rows.Scan(&id, &kind, &doc); err != nil {
			return err
		}
		info, err := newInfo(catalog.Kind(kind))
		if err != nil {
			log.Printf("persist: skipping %s: %v", id, err)
			continue
		}
		if err := json.Unmarshal(doc, info); err != nil {
			log.Printf("persist: skipping malformed %s %s: %v", kind, id, err)
			continue
		}
		objs[info.Kind()] = append(objs[info.Kind()], info)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cat.Load(objs.ordered()...)

	var name string
	err = p.db.QueryRowContext(ctx, `SELECT value FROM catalog_default WHERE key = 'workspace'`).Scan(&name)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		cat.LoadDefaultWorkspace(name)
	}
	return nil
}

func (p *Postgres) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

func (p *Postgres) upsert(info catalog.Info) error {
	doc, err := json.Marshal(info)
	if err != nil {
		return err
	}
	ctx, cancel := p.ctx()
	defer cancel()
	_, err = p.db.ExecContext(ctx, `INSERT INTO catalog_object (id, kind, name, doc, updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, doc = EXCLUDED.doc, updated = now()`,
		info.GetID(), string(info.Kind()), info.GetName(), doc)
	return err
}

func (p *Postgres) HandleAdd(info catalog.Info) {
	if err := p.upsert(info); err != nil {
		log.Printf("persist: failed to save %s %s: %v", info.Kind(), info.GetName(), err)
	}
}

func (p *Postgres) HandleModify(old, info catalog.Info) {
	p.HandleAdd(info)
}

func (p *Postgres) HandleRemove(info catalog.Info) {
	ctx, cancel := p.ctx()
	defer cancel()
	if _, err := p.db.ExecContext(ctx, `DELETE FROM catalog_object WHERE id = $1`, info.GetID()); err != nil {
		log.Printf("persist: failed to remove %s %s: %v", info.Kind(), info.GetName(), err)
	}
}

func (p *Postgres) HandleDefaultWorkspace(ws *catalog.WorkspaceInfo) {
	ctx, cancel := p.ctx()
	defer cancel()
	var err error
	if ws == nil {
		_, err = p.db.ExecContext(ctx, `DELETE FROM catalog_default WHERE key = 'workspace'`)
	} else {
		_, err = p.db.ExecContext(ctx, `INSERT INTO catalog_default (key, value) VALUES ('workspace', $1)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, ws.Name)
	}
	if err != nil {
		log.Printf("persist: failed to save default workspace: %v", err)
	}
}

func (p *Postgres) readBody(styleID, name string) ([]byte, error) {
	ctx, cancel := p.ctx()
	defer cancel()
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM catalog_style_body WHERE style_id = $1 AND name = $2`,
		styleID, name).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, catalog.NotFoundf("no such style file '%s'", name)
	}
	return body, err
}

func (p *Postgres) writeBody(styleID, name string, body []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()
	_, err := p.db.ExecContext(ctx, `INSERT INTO catalog_style_body (style_id, name, body) VALUES ($1, $2, $3)
		ON CONFLICT (style_id, name) DO UPDATE SET body = EXCLUDED.body`, styleID, name, body)
	return err
}

func (p *Postgres) ReadStyle(s *catalog.StyleInfo) ([]byte, error) {
	return p.readBody(s.ID, styleBodyName)
}

func (p *Postgres) WriteStyle(s *catalog.StyleInfo, body []byte) error {
	return p.writeBody(s.ID, styleBodyName, body)
}

func (p *Postgres) ReadStyleResource(s *catalog.StyleInfo, name string) ([]byte, error) {
	clean, err := CleanResourceName(name)
	if err != nil {
		return nil, err
	}
	return p.readBody(s.ID, clean)
}

func (p *Postgres) WriteStyleResource(s *catalog.StyleInfo, name string, body []byte) error {
	clean, err := CleanResourceName(name)
	if err != nil {
		return err
	}
	return p.writeBody(s.ID, clean, body)
}

func (p *Postgres) DeleteStyleFiles(s *catalog.StyleInfo) error {
	ctx, cancel := p.ctx()
	defer cancel()
	_, err := p.db.ExecContext(ctx, `DELETE FROM catalog_style_body WHERE style_id = $1`, s.ID)
	return err
}
