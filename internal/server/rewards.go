package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vaultline/internal/domain"
	"vaultline/internal/engine"
	"vaultline/internal/repo"
)

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-rewards",
		Method:      http.MethodGet,
		Path:        "/rewards",
		Summary:     "Rewards pool overview",
	}, func(ctx context.Context, input *struct {
		EscrowAddress string `query:"escrow_address"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		feeToken, totalFee, err := e.RewardFees(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		body := map[string]any{
			"token":     feeToken,
			"total_fee": totalFee.String(),
		}
		if input.EscrowAddress != "" {
			rewards, err := e.Repo.ListRewardsByEscrow(ctx, input.EscrowAddress)
			if err != nil {
				return nil, handleError(err)
			}
			res := []RewardResponse{}
			for _, rw := range rewards {
				res = append(res, rewardResponse(rw))
			}
			body["rewards"] = res
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "distribute-rewards",
		Method:      http.MethodPost,
		Path:        "/rewards/distribute",
		Summary:     "Distribute pending rewards for an escrow",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			EscrowAddress string `json:"escrow_address"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.EscrowAddress == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "escrow_address is required", nil)
		}
		if err := e.DistributeRewards(ctx, actorID, input.Body.EscrowAddress); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-fees",
		Method:      http.MethodPost,
		Path:        "/rewards/fees/withdraw",
		Summary:     "Withdraw accumulated protocol fees",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fee, err := e.WithdrawFees(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"withdrawn": fee.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-rewards-token",
		Method:      http.MethodPost,
		Path:        "/rewards/token",
		Summary:     "Set the rewards fee token",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Token string `json:"token"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Token == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		if err := e.SetRewardsToken(ctx, actorID, input.Body.Token); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReputation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-reputation",
		Method:      http.MethodPost,
		Path:        "/reputation",
		Summary:     "Apply a reputation delta",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Address string `json:"address"`
			Delta   int64  `json:"delta"`
		} `json:"body"`
	}) (*struct {
		Body domain.Reputation `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Address == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "address is required", nil)
		}
		rep, err := e.AddReputation(ctx, actorID, input.Body.Address, input.Body.Delta)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reputation `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reputation",
		Method:      http.MethodGet,
		Path:        "/reputation/{address}",
		Summary:     "Get reputation score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body domain.Reputation `json:"body"`
	}, error) {
		rep, err := e.Repo.GetReputation(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reputation `json:"body"`
		}{Body: rep}, nil
	})
}

func registerKV(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-kv",
		Method:      http.MethodPut,
		Path:        "/kv/{key}",
		Summary:     "Publish a key/value pair",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Key  string `path:"key"`
		Body struct {
			Value string `json:"value"`
		} `json:"body"`
	}) (*struct {
		Body domain.KVEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.SetKV(ctx, actorID, input.Key, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KVEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-kv",
		Method:      http.MethodGet,
		Path:        "/kv/{address}/{key}",
		Summary:     "Read a key/value pair",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Key     string `path:"key"`
	}) (*struct {
		Body domain.KVEntry `json:"body"`
	}, error) {
		entry, err := e.Repo.GetKV(ctx, input.Address, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KVEntry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		events, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []EventResponse{}
		for _, evt := range events {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string `json:"actor_id"`
			Name    string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		id, secret, err := repo.NewAPIKey(ctx, e.Repo, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"id":       id,
			"actor_id": input.Body.ActorID,
			"key":      secret,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if keys == nil {
			keys = []domain.APIKey{}
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
