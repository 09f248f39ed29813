package store

import (
	"context"
	"database/sql"
)

// Stats returns aggregate counters over the whole database.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := Stats{Sentiment: map[string]int{}, Tasks: map[string]int{}}

	var last sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(analysis_status = 'ok'), 0),
		       COALESCE(SUM(analysis_status = 'failed'), 0),
		       COALESCE(SUM(analysis_status IS NULL), 0),
		       COALESCE(SUM(stock_related = 1), 0),
		       MAX(scraped_at)
		FROM content_records`,
	).Scan(&st.Records, &st.Analyzed, &st.Failed, &st.Pending, &st.StockRelated, &last)
	if err != nil {
		return nil, err
	}
	st.LastScraped = fromNullMillis(last)

	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM author_profiles`).Scan(&st.Profiles); err != nil {
		return nil, err
	}

	if err := s.countBy(ctx, `
		SELECT sentiment, COUNT(*) FROM content_records
		WHERE analysis_status = 'ok' GROUP BY sentiment`, st.Sentiment); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `SELECT state, COUNT(*) FROM collection_tasks GROUP BY state`, st.Tasks); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) countBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k sql.NullString
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k.String] += n
	}
	return rows.Err()
}
