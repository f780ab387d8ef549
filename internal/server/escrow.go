package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vaultline/internal/engine"
	"vaultline/internal/token"
)

func registerEscrows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-escrow",
		Method:        http.MethodPost,
		Path:          "/escrows",
		Summary:       "Create escrow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Canceler        string   `json:"canceler,omitempty"`
			TrustedHandlers []string `json:"trusted_handlers,omitempty"`
			DurationSeconds uint64   `json:"duration_seconds,omitempty"`
			BulkMaxValue    string   `json:"bulk_max_value,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body EscrowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bulkMax, perr := parseAmount("bulk_max_value", input.Body.BulkMaxValue)
		if perr != nil {
			return nil, perr
		}
		esc, err := e.CreateEscrow(ctx, actorID, engine.EscrowCreateOptions{
			Canceler:        input.Body.Canceler,
			TrustedHandlers: input.Body.TrustedHandlers,
			DurationSeconds: input.Body.DurationSeconds,
			BulkMaxValue:    bulkMax,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowResponse `json:"body"`
		}{Body: escrowResponse(esc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "setup-escrow",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/setup",
		Summary:     "Set up escrow oracles and manifest",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Body    struct {
			ReputationOracle      string `json:"reputation_oracle"`
			RecordingOracle       string `json:"recording_oracle"`
			ReputationOracleStake uint64 `json:"reputation_oracle_stake"`
			RecordingOracleStake  uint64 `json:"recording_oracle_stake"`
			ManifestURL           string `json:"manifest_url,omitempty"`
			ManifestHash          string `json:"manifest_hash,omitempty"`
			Solutions             uint64 `json:"solutions"`
		} `json:"body"`
	}) (*struct {
		Body EscrowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.SetupEscrow(ctx, actorID, input.Address, engine.EscrowSetupOptions{
			ReputationOracle:      input.Body.ReputationOracle,
			RecordingOracle:       input.Body.RecordingOracle,
			ReputationOracleStake: input.Body.ReputationOracleStake,
			RecordingOracleStake:  input.Body.RecordingOracleStake,
			ManifestURL:           input.Body.ManifestURL,
			ManifestHash:          input.Body.ManifestHash,
			Solutions:             input.Body.Solutions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowResponse `json:"body"`
		}{Body: escrowResponse(esc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deposit-escrow",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/deposit",
		Summary:     "Fund escrow",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Body    struct {
			Token  string `json:"token"`
			Amount string `json:"amount"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, perr := parseAmount("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		if err := e.DepositEscrow(ctx, actorID, input.Address, input.Body.Token, amount); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-payout",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/payouts",
		Summary:     "Bulk payout",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Body    struct {
			Recipients  []string `json:"recipients"`
			Amounts     []string `json:"amounts"`
			ResultsURL  string   `json:"results_url,omitempty"`
			ResultsHash string   `json:"results_hash,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amounts := make([]token.Amount, 0, len(input.Body.Amounts))
		for _, raw := range input.Body.Amounts {
			a, perr := parseAmount("amounts", raw)
			if perr != nil {
				return nil, perr
			}
			amounts = append(amounts, a)
		}
		paid, err := e.BulkPayout(ctx, actorID, input.Address, engine.BulkPayoutOptions{
			Recipients:  input.Body.Recipients,
			Amounts:     amounts,
			ResultsURL:  input.Body.ResultsURL,
			ResultsHash: input.Body.ResultsHash,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"paid": paid}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "store-results",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/results",
		Summary:     "Store intermediate results",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Body    struct {
			URL  string `json:"url"`
			Hash string `json:"hash"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.StoreResults(ctx, actorID, input.Address, input.Body.URL, input.Body.Hash); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-escrow",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/complete",
		Summary:     "Complete escrow",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CompleteEscrow(ctx, actorID, input.Address); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-escrow",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/cancel",
		Summary:     "Cancel escrow",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CancelEscrow(ctx, actorID, input.Address); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-escrow",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/abort",
		Summary:     "Abort escrow",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AbortEscrow(ctx, actorID, input.Address); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-trusted-handlers",
		Method:      http.MethodPost,
		Path:        "/escrows/{address}/trusted-handlers",
		Summary:     "Add trusted handlers",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
		Body    struct {
			Handlers []string `json:"handlers"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body.Handlers) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "handlers is required", nil)
		}
		if err := e.AddTrustedHandlers(ctx, actorID, input.Address, input.Body.Handlers); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escrows",
		Method:      http.MethodGet,
		Path:        "/escrows",
		Summary:     "List escrows",
	}, func(ctx context.Context, input *struct {
		Launcher string `query:"launcher"`
		Status   string `query:"status"`
	}) (*struct {
		Body []EscrowResponse `json:"body"`
	}, error) {
		escrows, err := e.Repo.ListEscrows(ctx, input.Launcher, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		res := []EscrowResponse{}
		for _, esc := range escrows {
			res = append(res, escrowResponse(esc))
		}
		return &struct {
			Body []EscrowResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-escrow",
		Method:      http.MethodGet,
		Path:        "/escrows/{address}",
		Summary:     "Get escrow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body EscrowResponse `json:"body"`
	}, error) {
		esc, err := e.Repo.GetEscrow(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowResponse `json:"body"`
		}{Body: escrowResponse(esc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-escrow-balance",
		Method:      http.MethodGet,
		Path:        "/escrows/{address}/balance",
		Summary:     "Escrow balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		balance, err := e.EscrowBalance(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"address": input.Address,
			"balance": balance.String(),
		}}, nil
	})
}
