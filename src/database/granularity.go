package database

import (
	"context"

	"ppm/src/ports"
	"ppm/src/token"
)

// GetGranularityLevels lists the categories by display order.
func (s *Store) GetGranularityLevels(ctx context.Context) ([]token.GranularityLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_order, color, is_default, created_at
		FROM granularity_levels
		ORDER BY display_order, id`)
	if err != nil {
		return nil, classify("query", "granularity_levels", err)
	}
	defer rows.Close()

	var levels []token.GranularityLevel
	for rows.Next() {
		var (
			l         token.GranularityLevel
			isDefault int
			created   string
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.DisplayOrder, &l.Color, &isDefault, &created); err != nil {
			return nil, classify("scan", "granularity_levels", err)
		}
		l.IsDefault = isDefault != 0
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", "granularity_levels", err)
	}
	return levels, nil
}

var _ ports.GranularitySource = (*Store)(nil)
