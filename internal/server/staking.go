package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vaultline/internal/engine"
)

func registerTokenOps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "mint-tokens",
		Method:      http.MethodPost,
		Path:        "/token/mint",
		Summary:     "Mint tokens to an account",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Account string `json:"account"`
			Amount  string `json:"amount"`
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
		if input.Body.Account == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account is required", nil)
		}
		if err := e.Mint(ctx, actorID, input.Body.Account, amount); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-tokens",
		Method:      http.MethodPost,
		Path:        "/token/transfer",
		Summary:     "Transfer tokens",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			To     string `json:"to"`
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
		if input.Body.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is required", nil)
		}
		if err := e.TransferTokens(ctx, actorID, input.Body.To, amount); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/token/balances/{account}",
		Summary:     "Account balance",
	}, func(ctx context.Context, input *struct {
		Account string `path:"account"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		balance, err := e.Ledger.BalanceOf(ctx, nil, input.Account, e.Config.Token.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"account": input.Account,
			"token":   e.Config.Token.ID,
			"amount":  balance.String(),
		}}, nil
	})
}

func registerStakers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "stake",
		Method:        http.MethodPost,
		Path:          "/stakers/stake",
		Summary:       "Stake tokens",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Amount string `json:"amount"`
		} `json:"body"`
	}) (*struct {
		Body StakerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, perr := parseAmount("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		s, err := e.Stake(ctx, actorID, amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakerResponse `json:"body"`
		}{Body: stakerResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unstake",
		Method:      http.MethodPost,
		Path:        "/stakers/unstake",
		Summary:     "Schedule tokens for release",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Amount string `json:"amount"`
		} `json:"body"`
	}) (*struct {
		Body StakerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, perr := parseAmount("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		s, err := e.Unstake(ctx, actorID, amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakerResponse `json:"body"`
		}{Body: stakerResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-stake",
		Method:      http.MethodPost,
		Path:        "/stakers/withdraw",
		Summary:     "Withdraw a matured lock",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, err := e.Withdraw(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"withdrawn": due.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stakers",
		Method:      http.MethodGet,
		Path:        "/stakers",
		Summary:     "List stakers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StakerResponse `json:"body"`
	}, error) {
		stakers, err := e.Repo.ListStakers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []StakerResponse{}
		for _, s := range stakers {
			res = append(res, stakerResponse(s))
		}
		return &struct {
			Body []StakerResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-staker",
		Method:      http.MethodGet,
		Path:        "/stakers/{address}",
		Summary:     "Get staker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body StakerResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetStaker(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StakerResponse `json:"body"`
		}{Body: stakerResponse(s)}, nil
	})
}

func registerAllocations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-allocation",
		Method:        http.MethodPost,
		Path:          "/allocations",
		Summary:       "Allocate stake to an escrow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			EscrowAddress string `json:"escrow_address"`
			Tokens        string `json:"tokens"`
		} `json:"body"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tokens, perr := parseAmount("tokens", input.Body.Tokens)
		if perr != nil {
			return nil, perr
		}
		a, err := e.Allocate(ctx, actorID, input.Body.EscrowAddress, tokens)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: allocationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-allocation",
		Method:      http.MethodPost,
		Path:        "/allocations/{escrow_address}/close",
		Summary:     "Close an allocation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		EscrowAddress string `path:"escrow_address"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CloseAllocation(ctx, actorID, input.EscrowAddress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: allocationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-allocation",
		Method:      http.MethodGet,
		Path:        "/allocations/{escrow_address}",
		Summary:     "Get allocation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EscrowAddress string `path:"escrow_address"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAllocation(ctx, input.EscrowAddress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: allocationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-allocation-state",
		Method:      http.MethodGet,
		Path:        "/allocations/{escrow_address}/state",
		Summary:     "Derived allocation state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EscrowAddress string `path:"escrow_address"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		state, err := e.AllocationState(ctx, input.EscrowAddress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"escrow_address": input.EscrowAddress,
			"state":          string(state),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "slash",
		Method:      http.MethodPost,
		Path:        "/slashes",
		Summary:     "Slash an allocation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Slasher       string `json:"slasher"`
			Staker        string `json:"staker"`
			EscrowAddress string `json:"escrow_address"`
			Tokens        string `json:"tokens"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tokens, perr := parseAmount("tokens", input.Body.Tokens)
		if perr != nil {
			return nil, perr
		}
		if err := e.Slash(ctx, actorID, input.Body.Slasher, input.Body.Staker, input.Body.EscrowAddress, tokens); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
