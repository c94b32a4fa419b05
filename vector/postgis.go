package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/nci/geoserve/catalog"
	"github.com/paulmach/orb/geojson"
)

// PostGISSource serves the tables listed in geometry_columns of one schema.
type PostGISSource struct {
	db     *sql.DB
	schema string
}

// PostGISDSN builds a lib/pq connection string from store parameters.
func PostGISDSN(params map[string]string) string {
	keys := map[string]string{
		"host":     "host",
		"port":     "port",
		"database": "dbname",
		"user":     "user",
		"passwd":   "password",
		"sslmode":  "sslmode",
	}
	var parts []string
	for _, k := range []string{"host", "port", "database", "user", "passwd", "sslmode"} {
		v, ok := params[k]
		if !ok || v == "" {
			continue
		}
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		parts = append(parts, fmt.Sprintf("%s='%s'", keys[k], v))
	}
	if _, ok := params["sslmode"]; !ok {
		parts = append(parts, "sslmode=disable")
	}
	return strings.Join(parts, " ")
}

func NewPostGISSource(params map[string]string) (*PostGISSource, error) {
	db, err := sql.Open("postgres", PostGISDSN(params))
	if err != nil {
		return nil, err
	}
	schema := params["schema"]
	if schema == "" {
		schema = "public"
	}
	return &PostGISSource{db: db, schema: schema}, nil
}

// NewPostGISSourceDB wraps an open database handle.
func NewPostGISSourceDB(db *sql.DB, schema string) *PostGISSource {
	if schema == "" {
		schema = "public"
	}
	return &PostGISSource{db: db, schema: schema}
}

func (s *PostGISSource) TypeNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT f_table_name FROM geometry_columns WHERE f_table_schema = $1 ORDER BY f_table_name`, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *PostGISSource) geometryColumn(ctx context.Context, table string) (string, string, error) {
	var col, typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT f_geometry_column, type FROM geometry_columns WHERE f_table_schema = $1 AND f_table_name = $2 LIMIT 1`,
		s.schema, table).Scan(&col, &typ)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("no spatial table '%s' in schema '%s'", table, s.schema)
	}
	return col, typ, err
}

var pgBindings = map[string]string{
	"integer":                     catalog.BindingInteger,
	"smallint":                    catalog.BindingInteger,
	"bigint":                      catalog.BindingLong,
	"real":                        catalog.BindingDouble,
	"double precision":            catalog.BindingDouble,
	"numeric":                     catalog.BindingDouble,
	"boolean":                     catalog.BindingBoolean,
	"date":                        catalog.BindingDate,
	"timestamp without time zone": catalog.BindingDate,
	"timestamp with time zone":    catalog.BindingDate,
}

var pgGeometryBindings = map[string]string{
	"POINT":           catalog.BindingPoint,
	"MULTIPOINT":      catalog.BindingMultiPoint,
	"LINESTRING":      catalog.BindingLineString,
	"MULTILINESTRING": catalog.BindingMultiLineString,
	"POLYGON":         catalog.BindingPolygon,
	"MULTIPOLYGON":    catalog.BindingMultiPolygon,
}

func (s *PostGISSource) Schema(ctx context.Context, table string) ([]catalog.AttributeTypeInfo, error) {
	geomCol, geomType, err := s.geometryColumn(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, s.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []catalog.AttributeTypeInfo
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, err
		}
		binding, ok := pgBindings[dataType]
		if !ok {
			binding = catalog.BindingString
		}
		if name == geomCol {
			if binding, ok = pgGeometryBindings[strings.ToUpper(geomType)]; !ok {
				binding = catalog.BindingGeometry
			}
		}
		attrs = append(attrs, catalog.AttributeTypeInfo{
			Name: name, MinOccurs: 0, MaxOccurs: 1, Nillable: nullable == "YES", Binding: binding,
		})
	}
	return attrs, rows.Err()
}

// FeatureSQL builds the feature query of a table. Bound parameters are the
// envelope corners when bbox is set.
func FeatureSQL(schema, table, geomCol string, bbox bool, maxFeatures int) string {
	g := pq.QuoteIdentifier(geomCol)
	q := fmt.Sprintf(`SELECT ST_AsGeoJSON(t.%s), (to_jsonb(t) - %s)::text FROM %s.%s t`,
		g, pq.QuoteLiteral(geomCol), pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	if bbox {
		q += fmt.Sprintf(` WHERE t.%s && ST_MakeEnvelope($1, $2, $3, $4, ST_SRID(t.%s))`, g, g)
	}
	if maxFeatures > 0 {
		q += fmt.Sprintf(` LIMIT %d`, maxFeatures)
	}
	return q
}

func (s *PostGISSource) Features(ctx context.Context, table string, q Query) (*geojson.FeatureCollection, error) {
	geomCol, _, err := s.geometryColumn(ctx, table)
	if err != nil {
		return nil, err
	}
	var args []interface{}
	if q.Bound != nil {
		args = append(args, q.Bound.Min[0], q.Bound.Min[1], q.Bound.Max[0], q.Bound.Max[1])
	}
	rows, err := s.db.QueryContext(ctx, FeatureSQL(s.schema, table, geomCol, q.Bound != nil, q.MaxFeatures), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	n := 0
	for rows.Next() {
		var geom sql.NullString
		var props string
		if err := rows.Scan(&geom, &props); err != nil {
			return nil, err
		}
		n++
		f := geojson.NewFeature(nil)
		if geom.Valid {
			g, err := geojson.UnmarshalGeometry([]byte(geom.String))
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %v", table, n, err)
			}
			f.Geometry = g.Geometry()
		}
		if err := json.Unmarshal([]byte(props), &f.Properties); err != nil {
			return nil, fmt.Errorf("%s row %d: %v", table, n, err)
		}
		f.ID = fmt.Sprintf("%s.%d", table, n)
		if len(q.Properties) > 0 {
			keep := geojson.Properties{}
			for _, p := range q.Properties {
				if v, ok := f.Properties[p]; ok {
					keep[p] = v
				}
			}
			f.Properties = keep
		}
		fc.Append(f)
	}
	return fc, rows.Err()
}

func (s *PostGISSource) Close() error {
	return s.db.Close()
}
