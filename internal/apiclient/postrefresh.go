package apiclient

import (
	"context"
	"fmt"

	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/go-resty/resty/v2"
)

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Results struct {
		Data struct {
			JWT          string `json:"jwt"`
			RefreshToken string `json:"refreshToken"`
		} `json:"data"`
	} `json:"results"`
}

// PostRefresh returns a RefreshFunc that POSTs {"refresh": <token>} to
// accessURL and reads the new pair from results.data.jwt and
// results.data.refreshToken. Missing fields are returned empty and rejected
// by the manager.
func PostRefresh(client *resty.Client, accessURL string) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
		var result refreshResponse

		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(refreshRequest{Refresh: refreshToken}).
			SetResult(&result).
			Post(accessURL)
		if err != nil {
			return tokenstore.Pair{}, fmt.Errorf("refresh request failed: %w", err)
		}
		if resp.IsError() {
			return tokenstore.Pair{}, fmt.Errorf("refresh request failed with status %d", resp.StatusCode())
		}

		return tokenstore.Pair{
			Access:  result.Results.Data.JWT,
			Refresh: result.Results.Data.RefreshToken,
		}, nil
	}
}
