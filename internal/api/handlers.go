package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
)

// outcomeStatus maps a processed request to its HTTP status.
func outcomeStatus(kind outcome.Kind) int {
	switch kind {
	case outcome.TipSucceeded, outcome.WithdrawalSucceeded, outcome.DepositSucceeded:
		return http.StatusCreated
	case outcome.WithdrawalPending:
		return http.StatusAccepted
	case outcome.RegistrationFirstWallet, outcome.RegistrationReplacedWallet, outcome.RegistrationSameWallet:
		return http.StatusOK
	case outcome.RegistrationAddressTaken:
		return http.StatusConflict
	case outcome.DepositUnknownAccount:
		return http.StatusNotFound
	case outcome.WithdrawalSubmissionFailed:
		return http.StatusBadGateway
	case outcome.TipTransferFailed, outcome.ProcessingFailed:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

// respondWithOutcome writes the outcome, or on a replay the transfer that
// the earlier request with the same key produced.
func (h *Handler) respondWithOutcome(w http.ResponseWriter, r *http.Request, o outcome.Outcome) {
	if !o.IsNone() {
		if o.TransferID != nil {
			w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", o.TransferID))
		}
		respondWithJSON(w, outcomeStatus(o.Kind), o)
		return
	}

	existing, err := h.ledger.FindTransferByKey(r.Context(), o.IdempotencyKey)
	if err != nil || existing == nil {
		h.logger.Error("load replayed transfer", zap.String("idempotency_key", o.IdempotencyKey), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, existing)
}

func (h *Handler) CreateTipHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	var req domain.TipRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	req.IdempotencyKey = key

	h.respondWithOutcome(w, r, h.processor.ProcessTip(r.Context(), req))
}

func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	var req domain.WithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	req.IdempotencyKey = key

	h.respondWithOutcome(w, r, h.processor.ProcessWithdrawal(r.Context(), req))
}

// CreateDepositHandler accepts a deposit notification. The network
// transaction id is the idempotency key.
func (h *Handler) CreateDepositHandler(w http.ResponseWriter, r *http.Request) {
	var ev domain.DepositEvent
	if err := decodeJSON(r, &ev); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := h.validate.Struct(ev); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.respondWithOutcome(w, r, h.processor.ProcessDeposit(r.Context(), ev))
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	transfer, err := h.ledger.GetTransfer(r.Context(), id)
	if errors.Is(err, domain.ErrTransferNotFound) {
		respondWithError(w, http.StatusNotFound, "Transfer not found")
		return
	}
	if err != nil {
		h.logger.Error("get transfer", zap.Stringer("transfer_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, transfer)
}

type balanceResponse struct {
	Adapter  string `json:"adapter"`
	UniqueID string `json:"unique_id"`
	Balance  string `json:"balance"`
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := h.processor.GetBalance(r.Context(), vars["adapter"], vars["id"])
	if err != nil {
		h.logger.Error("get balance", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, balanceResponse{
		Adapter:  vars["adapter"],
		UniqueID: vars["id"],
		Balance:  domain.FormatAmount(balance),
	})
}

type walletRequest struct {
	Address string `json:"address" validate:"required"`
}

func (h *Handler) PutWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	vars := mux.Vars(r)
	o := h.processor.RegisterWalletAddress(r.Context(), vars["adapter"], vars["id"], req.Address)
	respondWithJSON(w, outcomeStatus(o.Kind), o)
}

func (h *Handler) GetEntriesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := h.ledger.GetOrCreateAccount(r.Context(), vars["adapter"], vars["id"])
	if err != nil {
		h.logger.Error("get account", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	entries, err := h.ledger.GetEntries(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("get entries", zap.Int64("account_id", account.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}
