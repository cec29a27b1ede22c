package supabase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// Client wraps the PostgREST side of Supabase. It is used for the tester
// attribute on user profiles.
type Client struct {
	Supabase *supabase.Client
}

func NewClient(supabaseURL, serviceKey string) (*Client, error) {
	client, err := supabase.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &Client{Supabase: client}, nil
}

type profileRow struct {
	IsTester bool `json:"is_tester"`
}

// IsEligibleTester reports profiles.is_tester for the user. A user without a
// profile row is not eligible.
func (c *Client) IsEligibleTester(ctx context.Context, userID uuid.UUID) (bool, error) {
	rows, err := withContext(ctx, func() ([]profileRow, error) {
		var rows []profileRow
		_, err := c.Supabase.From("profiles").
			Select("is_tester", "", false).
			Eq("id", userID.String()).
			ExecuteTo(&rows)
		return rows, err
	})
	if err != nil {
		return false, fmt.Errorf("failed to query profile: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	return rows[0].IsTester, nil
}
