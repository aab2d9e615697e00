package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

// LayerPayload is the decoded body of one layer transfer: table name → rows.
// Rows are column → value maps so the payload shape survives schema growth;
// columns a peer does not know are simply absent.
type LayerPayload map[string][]map[string]any

// LayerManifest returns id → updated_at for every row in the layer's tables.
func (s *Store) LayerManifest(layer syncwire.Layer) (map[string]int64, error) {
	specs := LayerTables(layer)
	if specs == nil {
		return nil, fmt.Errorf("unknown layer %q", layer)
	}

	rows := make(map[string]int64)
	for _, spec := range specs {
		var pairs []struct {
			ID        string `db:"id"`
			UpdatedAt int64  `db:"updated_at"`
		}
		if err := s.db.Select(&pairs, "SELECT id, updated_at FROM "+spec.Name); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", spec.Name, err)
		}
		for _, p := range pairs {
			rows[p.ID] = p.UpdatedAt
		}
	}
	return rows, nil
}

// BuildManifest collects the manifest for the given layers.
func (s *Store) BuildManifest(layers []syncwire.Layer) (syncwire.Manifest, error) {
	m := make(syncwire.Manifest, len(layers))
	for _, layer := range layers {
		rows, err := s.LayerManifest(layer)
		if err != nil {
			return nil, err
		}
		m[layer] = rows
	}
	return m, nil
}

// CollectRows reads the layer rows whose ids are in the push set, grouped by
// table in apply order. Tables with no matching rows are omitted.
func (s *Store) CollectRows(layer syncwire.Layer, ids map[string]struct{}) (LayerPayload, error) {
	specs := LayerTables(layer)
	if specs == nil {
		return nil, fmt.Errorf("unknown layer %q", layer)
	}
	if len(ids) == 0 {
		return LayerPayload{}, nil
	}

	payload := LayerPayload{}
	for _, spec := range specs {
		query := "SELECT " + strings.Join(spec.Columns, ", ") + " FROM " + spec.Name
		rows, err := s.db.Queryx(query)
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", spec.Name, err)
		}

		var collected []map[string]any
		for rows.Next() {
			row := map[string]any{}
			if err := rows.MapScan(row); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", spec.Name, err)
			}
			id, _ := row["id"].(string)
			if _, want := ids[id]; !want {
				continue
			}
			collected = append(collected, normalizeRow(row))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("collect %s: %w", spec.Name, err)
		}
		rows.Close()

		if len(collected) > 0 {
			payload[spec.Name] = collected
		}
	}
	return payload, nil
}

// normalizeRow converts []byte column values to string so the payload
// marshals as JSON text instead of base64.
func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

// ApplyLayer upserts a received layer payload in one transaction. A row only
// overwrites the local copy when its updated_at is strictly newer; ties keep
// the local row. Returns how many rows were actually written.
func (s *Store) ApplyLayer(layer syncwire.Layer, payload LayerPayload) (int, error) {
	specs := LayerTables(layer)
	if specs == nil {
		return 0, fmt.Errorf("unknown layer %q", layer)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	// Iterating the registry (not the payload) means tables the registry
	// does not know are never touched, whatever the peer sends.
	for _, spec := range specs {
		for _, row := range payload[spec.Name] {
			n, err := upsertRow(tx, spec, row)
			if err != nil {
				return 0, fmt.Errorf("apply %s: %w", spec.Name, err)
			}
			applied += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit apply: %w", err)
	}
	return applied, nil
}

func upsertRow(tx *sqlx.Tx, spec TableSpec, row map[string]any) (int, error) {
	if _, ok := row["id"]; !ok {
		return 0, fmt.Errorf("row missing id")
	}
	if _, ok := row["updated_at"]; !ok {
		return 0, fmt.Errorf("row missing updated_at")
	}

	// Only registry columns make it into the statement; anything else in the
	// row is dropped. Absent columns fall back to their schema defaults.
	cols := make([]string, 0, len(spec.Columns))
	args := make([]any, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		args = append(args, v)
	}

	set := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == "id" {
			continue
		}
		set = append(set, col+" = excluded."+col)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s WHERE excluded.updated_at > %s.updated_at",
		spec.Name,
		strings.Join(cols, ", "),
		placeholders(len(cols)),
		strings.Join(set, ", "),
		spec.Name,
	)
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// MediaPaths extracts the media file references from a layer payload,
// deduplicated and sorted. Paths are returned as stored; validation against
// the media root happens at the transfer boundary.
func MediaPaths(layer syncwire.Layer, payload LayerPayload) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, spec := range LayerTables(layer) {
		if len(spec.Media) == 0 {
			continue
		}
		for _, row := range payload[spec.Name] {
			for _, col := range spec.Media {
				path, ok := row[col].(string)
				if !ok || path == "" {
					continue
				}
				if _, dup := seen[path]; dup {
					continue
				}
				seen[path] = struct{}{}
				out = append(out, path)
			}
		}
	}
	sort.Strings(out)
	return out
}
