package candidates

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq" // Also registers the postgres driver

	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// CampaignStore is a Source backed by the campaigns table. Each auction
// queries active creatives; Postgres handles the concurrency, the engine
// handles everything else.
type CampaignStore struct {
	db *sql.DB
}

// NewCampaignStore creates a campaign store over an open connection
func NewCampaignStore(db *sql.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

// Candidates returns all active creatives. Size and targeting filtering
// happens downstream so the query stays index-friendly.
func (s *CampaignStore) Candidates(ctx context.Context, _ *openrtb.BidRequest, _ *openrtb.Imp) ([]Candidate, error) {
	query := `
		SELECT campaign_id, creative_id, ad_markup, click_url, nurl, adomain,
		       categories, keywords, width, height, base_price, priority, ctr, cvr
		FROM campaign_creatives
		WHERE status = 'active'
		ORDER BY campaign_id, creative_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Candidate, 0, 64)
	for rows.Next() {
		var c Candidate
		err := rows.Scan(
			&c.CampaignID,
			&c.CreativeID,
			&c.AdMarkup,
			&c.ClickURL,
			&c.NURL,
			pq.Array(&c.ADomain),
			pq.Array(&c.Categories),
			pq.Array(&c.Keywords),
			&c.W,
			&c.H,
			&c.BasePrice,
			&c.Priority,
			&c.CTR,
			&c.CVR,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		c.Active = true
		out = append(out, c)
	}

	return out, rows.Err()
}

// CampaignBudgetRow is a campaign's configured budget from the database
type CampaignBudgetRow struct {
	CampaignID  string
	DailyBudget float64
	TotalBudget float64
}

// Budgets returns the configured budget for every active campaign, used to
// seed the ledger at startup.
func (s *CampaignStore) Budgets(ctx context.Context) ([]CampaignBudgetRow, error) {
	query := `
		SELECT campaign_id, daily_budget, total_budget
		FROM campaigns
		WHERE status = 'active'
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign budgets: %w", err)
	}
	defer rows.Close()

	out := make([]CampaignBudgetRow, 0, 32)
	for rows.Next() {
		var r CampaignBudgetRow
		if err := rows.Scan(&r.CampaignID, &r.DailyBudget, &r.TotalBudget); err != nil {
			return nil, fmt.Errorf("failed to scan budget row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// NewDBConnection opens and pings a Postgres connection sized for the
// auction workload.
func NewDBConnection(host, port, user, password, dbname, sslmode string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Log.Info().Str("host", host).Str("database", dbname).Msg("database connection established")
	return db, nil
}
