package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/veridianlabs/nftmarket/libs/auth"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/market"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/quota"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

type MarketService interface {
	StorageDeposit(ctx context.Context, payer, beneficiary string, amount decimal.Decimal) (decimal.Decimal, error)
	StorageWithdraw(ctx context.Context, caller string, attached decimal.Decimal) (decimal.Decimal, error)
	StorageBalanceOf(account string) decimal.Decimal
	StorageMinimumBalance() decimal.Decimal
	ApproveTokens(ctx context.Context, caller string, tokenIDs []string) ([]bool, error)
	OnApproval(ctx context.Context, notice market.ApprovalNotice) (registry.Sale, error)
	FTOnTransfer(ctx context.Context, tokenID, sender string, amount decimal.Decimal, msg string) (decimal.Decimal, error)
	Offer(ctx context.Context, buyer, collectionID, assetID string, deposit decimal.Decimal) error
	CancelSale(ctx context.Context, caller string, attached decimal.Decimal, collectionID, assetID string) (registry.Sale, error)
	UpdatePrice(ctx context.Context, caller string, attached decimal.Decimal, collectionID, assetID string, price decimal.Decimal, paymentToken string) (registry.Sale, error)
	GetSale(collectionID, assetID string) (registry.Sale, bool)
	SupplySales() int
	SupplyBySeller(seller string) int
	SupplyByCollection(collectionID string) int
	SalesBySeller(seller string, offset, limit int) []registry.Sale
	SalesByCollection(collectionID string, offset, limit int) []registry.Sale
}

type Handler struct {
	Market MarketService
	Logger *slog.Logger
}

func New(m MarketService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Market: m, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte, keys KeyResolver) {
	v1 := r.Group("/v1")

	v1.GET("/sales", h.ListSales)
	v1.GET("/sales/:collection/:asset", h.GetSale)
	v1.GET("/supply/sales", h.SupplySales)
	v1.GET("/supply/sellers/:id", h.SupplyBySeller)
	v1.GET("/supply/collections/:id", h.SupplyByCollection)
	v1.GET("/storage/balance", h.StorageBalance)
	v1.GET("/storage/minimum", h.StorageMinimum)

	user := v1.Group("/", auth.Middleware(jwtSecret))
	user.POST("/storage/deposits", h.StorageDeposit)
	user.POST("/storage/withdrawals", h.StorageWithdraw)
	user.POST("/sales/:collection/:asset/offers", h.Offer)
	user.DELETE("/sales/:collection/:asset", h.CancelSale)
	user.PATCH("/sales/:collection/:asset/price", h.UpdatePrice)
	user.POST("/tokens/approvals", h.ApproveTokens)

	callbacks := v1.Group("/callbacks", APIKeyMiddleware(keys, h.Logger))
	callbacks.POST("/nft-approval", h.NFTApproval)
	callbacks.POST("/ft-transfer", h.FTTransfer)
}

type depositRequest struct {
	BeneficiaryID   string `json:"beneficiary_id"`
	AttachedDeposit string `json:"attached_deposit"`
}

type attachedRequest struct {
	AttachedDeposit string `json:"attached_deposit"`
}

type updatePriceRequest struct {
	AttachedDeposit string `json:"attached_deposit"`
	Price           string `json:"price"`
	PaymentToken    string `json:"ft_token_id,omitempty"`
}

type approveTokensRequest struct {
	TokenIDs []string `json:"token_ids"`
}

type approvalCallbackRequest struct {
	AssetID    string          `json:"token_id"`
	OwnerID    string          `json:"owner_id"`
	ApprovalID uint64          `json:"approval_id"`
	SignerID   string          `json:"signer_id"`
	Msg        json.RawMessage `json:"msg"`
}

type transferCallbackRequest struct {
	TokenID  string `json:"token_id"`
	SenderID string `json:"sender_id"`
	Amount   string `json:"amount"`
	Msg      string `json:"msg"`
}

type saleItem struct {
	SellerID     string `json:"seller_id"`
	ApprovalID   uint64 `json:"approval_id"`
	CollectionID string `json:"collection_id"`
	AssetID      string `json:"asset_id"`
	Price        string `json:"price"`
	PaymentToken string `json:"ft_token_id"`
	ListedAt     string `json:"listed_at"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (h *Handler) StorageDeposit(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account", nil)
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	amount, err := parseAmount(req.AttachedDeposit)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid attached_deposit", nil)
		return
	}

	balance, err := h.Market.StorageDeposit(c.Request.Context(), account, strings.TrimSpace(req.BeneficiaryID), amount)
	if err != nil {
		h.writeMarketError(c, err, "storage deposit failed")
		return
	}

	beneficiary := strings.TrimSpace(req.BeneficiaryID)
	if beneficiary == "" {
		beneficiary = account
	}
	c.JSON(http.StatusOK, gin.H{"account_id": beneficiary, "balance": balance.String()})
}

func (h *Handler) StorageWithdraw(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account", nil)
		return
	}

	var req attachedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	attached, err := parseAmount(req.AttachedDeposit)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid attached_deposit", nil)
		return
	}

	withdrawn, err := h.Market.StorageWithdraw(c.Request.Context(), account, attached)
	if err != nil {
		h.writeMarketError(c, err, "storage withdraw failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": account,
		"withdrawn":  withdrawn.String(),
		"balance":    h.Market.StorageBalanceOf(account).String(),
	})
}

func (h *Handler) StorageBalance(c *gin.Context) {
	account := strings.TrimSpace(c.Query("account_id"))
	if account == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "account_id required", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": account,
		"balance":    h.Market.StorageBalanceOf(account).String(),
	})
}

func (h *Handler) StorageMinimum(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"minimum_balance": h.Market.StorageMinimumBalance().String()})
}

func (h *Handler) ApproveTokens(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account", nil)
		return
	}

	var req approveTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.TokenIDs) == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "token_ids required", nil)
		return
	}

	added, err := h.Market.ApproveTokens(c.Request.Context(), account, req.TokenIDs)
	if err != nil {
		h.writeMarketError(c, err, "approve tokens failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *Handler) Offer(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account", nil)
		return
	}

	var req attachedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	deposit, err := parseAmount(req.AttachedDeposit)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid attached_deposit", nil)
		return
	}

	err = h.Market.Offer(c.Request.Context(), account, c.Param("collection"), c.Param("asset"), deposit)
	if err != nil {
		h.writeMarketError(c, err, "offer failed")
		return
	}

	// The asset transfer and payouts run asynchronously from here.
	c.JSON(http.StatusAccepted, gin.H{"status": "settling"})
}

func (h *Handler) CancelSale(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account", nil)
		return
	}

	var req attachedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	attached, err := parseAmount(req.AttachedDeposit)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid attached_deposit", nil)
		return
	}

	sale, err := h.Market.CancelSale(c.Request.Context(), account, attached, c.Param("collection"), c.Param("asset"))
	if err != nil {
		h.writeMarketError(c, err, "cancel sale failed")
		return
	}
	c.JSON(http.StatusOK, saleToItem(sale))
}

func (h *Handler) UpdatePrice(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account", nil)
		return
	}

	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	attached, err := parseAmount(req.AttachedDeposit)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid attached_deposit", nil)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid price", nil)
		return
	}

	sale, err := h.Market.UpdatePrice(c.Request.Context(), account, attached, c.Param("collection"), c.Param("asset"), price, req.PaymentToken)
	if err != nil {
		h.writeMarketError(c, err, "update price failed")
		return
	}
	c.JSON(http.StatusOK, saleToItem(sale))
}

func (h *Handler) GetSale(c *gin.Context) {
	sale, ok := h.Market.GetSale(c.Param("collection"), c.Param("asset"))
	if !ok {
		writeError(c, http.StatusNotFound, "SALE_NOT_FOUND", "sale not found", nil)
		return
	}
	c.JSON(http.StatusOK, saleToItem(sale))
}

// ListSales pages through listings for one seller or one collection.
// Absent pagination params yield an empty page, not the full set.
func (h *Handler) ListSales(c *gin.Context) {
	seller := strings.TrimSpace(c.Query("seller_id"))
	collection := strings.TrimSpace(c.Query("collection_id"))
	if (seller == "") == (collection == "") {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "exactly one of seller_id or collection_id required", nil)
		return
	}

	offset, err := intQuery(c, "from_index", 0)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid from_index", nil)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
		return
	}

	var sales []registry.Sale
	if seller != "" {
		sales = h.Market.SalesBySeller(seller, offset, limit)
	} else {
		sales = h.Market.SalesByCollection(collection, offset, limit)
	}

	items := make([]saleItem, 0, len(sales))
	for _, sale := range sales {
		items = append(items, saleToItem(sale))
	}
	c.JSON(http.StatusOK, gin.H{"sales": items})
}

func (h *Handler) SupplySales(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.Market.SupplySales()})
}

func (h *Handler) SupplyBySeller(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.Market.SupplyBySeller(c.Param("id"))})
}

func (h *Handler) SupplyByCollection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.Market.SupplyByCollection(c.Param("id"))})
}

// NFTApproval is the HTTP twin of the approval Kafka event, for
// collection services that call back synchronously. The collection
// identity comes from the API key, never from the body.
func (h *Handler) NFTApproval(c *gin.Context) {
	notifier, ok := notifierFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing notifier", nil)
		return
	}

	var req approvalCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	sale, err := h.Market.OnApproval(c.Request.Context(), market.ApprovalNotice{
		CollectionID: notifier,
		AssetID:      req.AssetID,
		OwnerID:      req.OwnerID,
		ApprovalID:   req.ApprovalID,
		SignerID:     req.SignerID,
		Terms:        req.Msg,
	})
	if err != nil {
		h.writeMarketError(c, err, "approval callback failed")
		return
	}
	c.JSON(http.StatusCreated, saleToItem(sale))
}

// FTTransfer is the payment service reporting delivered tokens. The
// response carries the unused amount the payment service must return
// to the sender.
func (h *Handler) FTTransfer(c *gin.Context) {
	if _, ok := notifierFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing notifier", nil)
		return
	}

	var req transferCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount", nil)
		return
	}
	if req.TokenID == "" || req.SenderID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "token_id and sender_id required", nil)
		return
	}

	unused, ftErr := h.Market.FTOnTransfer(c.Request.Context(), req.TokenID, req.SenderID, amount, req.Msg)

	resp := gin.H{"unused_amount": unused.String()}
	if ftErr != nil {
		// Funds come back via unused_amount; the reason is advisory.
		resp["reason"] = ftErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeMarketError(c *gin.Context, err error, logMsg string) {
	var storageErr *market.InsufficientStorageError
	switch {
	case errors.As(err, &storageErr):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_STORAGE", "insufficient storage deposit", map[string]string{
			"balance":   storageErr.Balance.String(),
			"required":  storageErr.Required.String(),
			"shortfall": storageErr.Shortfall.String(),
		})
	case errors.Is(err, market.ErrConfirmationRequired):
		writeError(c, http.StatusBadRequest, "CONFIRMATION_REQUIRED", err.Error(), nil)
	case errors.Is(err, market.ErrInsufficientTender):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_TENDER", err.Error(), nil)
	case errors.Is(err, market.ErrWrongCurrency):
		writeError(c, http.StatusBadRequest, "WRONG_CURRENCY", err.Error(), nil)
	case errors.Is(err, market.ErrSelfPurchase):
		writeError(c, http.StatusBadRequest, "SELF_PURCHASE", err.Error(), nil)
	case errors.Is(err, market.ErrUnapprovedToken):
		writeError(c, http.StatusBadRequest, "UNAPPROVED_TOKEN", err.Error(), nil)
	case errors.Is(err, market.ErrInvalidApprovalOrigin):
		writeError(c, http.StatusBadRequest, "INVALID_APPROVAL_ORIGIN", err.Error(), nil)
	case errors.Is(err, market.ErrInvalidSaleTerms):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, market.ErrNotAssetOwner):
		writeError(c, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, registry.ErrUnauthorized):
		writeError(c, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, registry.ErrSaleNotFound):
		writeError(c, http.StatusNotFound, "SALE_NOT_FOUND", "sale not found", nil)
	case errors.Is(err, quota.ErrInsufficientDeposit):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_DEPOSIT", err.Error(), nil)
	default:
		h.Logger.Error(logMsg, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func saleToItem(sale registry.Sale) saleItem {
	return saleItem{
		SellerID:     sale.Seller,
		ApprovalID:   sale.ApprovalID,
		CollectionID: sale.CollectionID,
		AssetID:      sale.AssetID,
		Price:        sale.Price.String(),
		PaymentToken: sale.PaymentToken,
		ListedAt:     sale.ListedAt.UTC().Format(time.RFC3339),
	}
}

func accountFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(auth.ContextAccountIDKey)
	if !ok {
		return "", false
	}
	account, ok := val.(string)
	if !ok || account == "" {
		return "", false
	}
	return account, true
}

func parseAmount(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, errors.New("amount required")
	}
	return decimal.NewFromString(trimmed)
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func writeError(c *gin.Context, status int, code, message string, details map[string]string) {
	c.JSON(status, errorResponse{Code: code, Message: message, Details: details})
}
