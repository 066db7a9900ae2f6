package handlers

import (
	"context"
	"strconv"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/services/wallet"
	"fxwallet/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type WalletService interface {
	GetBalance(ctx context.Context, userID uint, currency string) (*models.Wallet, error)
	ListWallets(ctx context.Context, userID uint) ([]models.Wallet, error)
	ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error)
	GetTransaction(ctx context.Context, userID uint, reference string) (*models.Transaction, []models.LedgerEntry, error)
	ReconcileWallet(ctx context.Context, walletID uint) (*wallet.Reconciliation, error)
}

type WalletHandler struct {
	walletService WalletService
}

func NewWalletHandler(walletService WalletService) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

type walletView struct {
	ID       uint   `json:"id"`
	Currency string `json:"currency"`
	Balance  Amount `json:"balance"`
}

func viewWallet(w *models.Wallet) walletView {
	return walletView{ID: w.ID, Currency: w.Currency, Balance: amountOf(w.Balance, w.Currency)}
}

func (h *WalletHandler) ListWallets(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	wallets, err := h.walletService.ListWallets(c.UserContext(), userID)
	if err != nil {
		return utils.Error(c, err)
	}
	views := make([]walletView, 0, len(wallets))
	for i := range wallets {
		views = append(views, viewWallet(&wallets[i]))
	}
	return utils.Success(c, fiber.Map{"wallets": views})
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	w, err := h.walletService.GetBalance(c.UserContext(), userID, c.Params("currency"))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{"wallet": viewWallet(w)})
}

func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	page := utils.GetPagination(c, wallet.DefaultPageSize, wallet.MaxPageSize)
	txs, total, err := h.walletService.ListTransactions(c.UserContext(), userID, page.Limit, page.Offset)
	if err != nil {
		return utils.Error(c, err)
	}
	page.SetTotal(total)
	return utils.Success(c, utils.NewPaginatedResponse(txs, page))
}

func (h *WalletHandler) GetTransaction(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	txn, entries, err := h.walletService.GetTransaction(c.UserContext(), userID, c.Params("reference"))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{
		"transaction": txn,
		"amount":      amountOf(txn.Amount, txn.Currency),
		"entries":     entries,
	})
}

// ReconcileWallet compares a wallet's stored balance with its ledger. Operators only.
func (h *WalletHandler) ReconcileWallet(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return utils.Error(c, apperrors.Wrap(apperrors.ErrValidation, "invalid wallet id"))
	}

	rec, err := h.walletService.ReconcileWallet(c.UserContext(), uint(id))
	if err != nil {
		return utils.Error(c, err)
	}
	status := fiber.StatusOK
	if !rec.Balanced {
		status = fiber.StatusConflict
	}
	return utils.Respond(c, status, fiber.Map{"reconciliation": rec})
}
