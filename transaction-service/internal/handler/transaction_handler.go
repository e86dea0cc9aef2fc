package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/cqrs"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/middleware"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

// TransactionCommander defines the write-side operations used by TransactionHandler.
type TransactionCommander interface {
	CreateTransaction(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.TransactionView, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
}

type CreateTransactionRequest struct {
	AccountExternalIDDebit  string          `json:"accountExternalIdDebit" validate:"required,uuid"`
	AccountExternalIDCredit string          `json:"accountExternalIdCredit" validate:"required,uuid"`
	TransferTypeID          int             `json:"tranferTypeId" validate:"required,gt=0"`
	Value                   decimal.Decimal `json:"value"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}
	if !req.Value.IsPositive() {
		middleware.RespondWithValidationError(c, []middleware.ValidationError{{
			Field:   "value",
			Message: "Value must be greater than 0",
			Type:    "gt",
		}})
		return
	}

	view, err := h.commands.CreateTransaction(c.Request.Context(), cqrs.CreateTransactionCommand{
		AccountExternalIDDebit:  uuid.MustParse(req.AccountExternalIDDebit),
		AccountExternalIDCredit: uuid.MustParse(req.AccountExternalIDCredit),
		TransferTypeID:          req.TransferTypeID,
		Value:                   req.Value,
	})
	if err != nil {
		// The transaction is stored; only its announcement is pending.
		if view != nil && errors.Is(err, apperrors.ErrPublishUnavailable) {
			logrus.WithError(err).WithField("transaction_id", view.TransactionExternalID).
				Warn("transaction accepted with deferred notification")
			c.JSON(http.StatusAccepted, view)
			return
		}
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("transactionId"))
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	view, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{TransactionExternalID: id})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Transaction not found")
			return
		}
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Register mounts the transaction routes on r. Extra handlers run before
// CreateTransaction only.
func (h *TransactionHandler) Register(r gin.IRouter, createMiddleware ...gin.HandlerFunc) {
	v1 := r.Group("/v1/transactions")
	v1.POST("", append(createMiddleware, h.CreateTransaction)...)
	v1.GET("/:transactionId", h.GetTransaction)
}

// Buses dispatches handler calls onto the command and query buses.
type Buses struct {
	Commands *cqrs.Bus
	Queries  *cqrs.Bus
}

func (b Buses) CreateTransaction(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.TransactionView, error) {
	return cqrs.Dispatch[*models.TransactionView](ctx, b.Commands, cmd)
}

func (b Buses) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	return cqrs.Dispatch[*models.TransactionView](ctx, b.Queries, q)
}
