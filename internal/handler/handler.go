package handler

import (
	"errors"
	"strconv"

	"voucherledger/internal/config"
	"voucherledger/internal/infrastructure/lock"
	"voucherledger/internal/repository"
	"voucherledger/internal/service"
	"voucherledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler bundles the ledger services behind the JSON API.
type Handler struct {
	issuanceService   *service.IssuanceService
	redemptionService *service.RedemptionService
	invoiceService    *service.InvoiceService
	policyService     *service.PolicyService
}

func NewHandler(db *gorm.DB, locks lock.Provider, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		issuanceService:   service.NewIssuanceService(db, locks, cfg, logger),
		redemptionService: service.NewRedemptionService(db, locks, cfg, logger),
		invoiceService:    service.NewInvoiceService(db, locks, cfg, logger),
		policyService:     service.NewPolicyService(db, logger),
	}
}

// ============================================================
// Voucher endpoints
// ============================================================

type IssueVoucherRequest struct {
	ApplicationID int64 `json:"application_id" binding:"required"`
	ActorID       int64 `json:"actor_id" binding:"required"`
}

// IssueVoucher issues the voucher an approved, certified application is
// entitled to.
// POST /api/v1/voucher/issue
func (h *Handler) IssueVoucher(c *gin.Context) {
	var req IssueVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	voucher, err := h.issuanceService.IssueVoucher(c.Request.Context(), req.ActorID, req.ApplicationID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrApplicationNotFound):
			response.BusinessError(c, response.CodeApplicationNotFound, err.Error())
		case errors.Is(err, service.ErrVoucherAlreadyIssued):
			response.BusinessError(c, response.CodeVoucherAlreadyIssued, err.Error())
		case errors.Is(err, service.ErrApplicationNotApproved),
			errors.Is(err, service.ErrCertificationNotAccepted),
			errors.Is(err, service.ErrNoVoucherValue):
			response.BusinessError(c, response.CodePreconditionFailed, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, voucher)
}

type RedeemRequest struct {
	Code     string `json:"code" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	VendorID int64  `json:"vendor_id" binding:"required"`
	ActorID  int64  `json:"actor_id" binding:"required"`
}

// Redeem debits a voucher on behalf of a vendor. Invalid requests come
// back with redeemed=false and a reason rather than an error status.
// POST /api/v1/voucher/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ParamError(c, "invalid amount: "+req.Amount)
		return
	}

	result, err := h.redemptionService.Redeem(c.Request.Context(), req.ActorID, req.Code, amount, req.VendorID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVoucherNotFound):
			response.BusinessError(c, response.CodeVoucherNotFound, err.Error())
		case errors.Is(err, service.ErrVendorNotAuthorized):
			response.BusinessError(c, response.CodeVendorNotAuthorized, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, result)
}

type CancelVoucherRequest struct {
	Code    string `json:"code" binding:"required"`
	ActorID int64  `json:"actor_id" binding:"required"`
	Note    string `json:"note"`
}

// CancelVoucher administratively cancels an issued/active voucher.
// POST /api/v1/voucher/cancel
func (h *Handler) CancelVoucher(c *gin.Context) {
	var req CancelVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.redemptionService.Cancel(c.Request.Context(), req.ActorID, req.Code, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVoucherNotFound):
			response.BusinessError(c, response.CodeVoucherNotFound, err.Error())
		case errors.Is(err, repository.ErrVoucherStatusInvalid):
			response.BusinessError(c, response.CodePreconditionFailed, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{"code": req.Code, "status": "CANCELLED"})
}

// GetVoucher returns a voucher by code.
// GET /api/v1/voucher/detail?code=xxx
func (h *Handler) GetVoucher(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "code is required")
		return
	}

	voucher, err := h.redemptionService.GetVoucher(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrVoucherNotFound) {
			response.BusinessError(c, response.CodeVoucherNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, voucher)
}

// ListTransactions pages through a voucher's ledger.
// GET /api/v1/voucher/transactions?code=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "code is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.redemptionService.ListTransactions(c.Request.Context(), code, page, pageSize)
	if err != nil {
		if errors.Is(err, repository.ErrVoucherNotFound) {
			response.BusinessError(c, response.CodeVoucherNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Invoice endpoints
// ============================================================

type GenerateInvoicesRequest struct {
	ActorID int64 `json:"actor_id" binding:"required"`
}

// GenerateInvoices runs the biweekly aggregation sweep on demand.
// POST /api/v1/invoice/generate
func (h *Handler) GenerateInvoices(c *gin.Context) {
	var req GenerateInvoicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	invoices, err := h.invoiceService.GenerateBiweeklyInvoices(c.Request.Context(), req.ActorID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

type ApproveInvoiceRequest struct {
	InvoiceID int64 `json:"invoice_id" binding:"required"`
	ActorID   int64 `json:"actor_id" binding:"required"`
}

// ApproveInvoice moves a pending invoice to approved.
// POST /api/v1/invoice/approve
func (h *Handler) ApproveInvoice(c *gin.Context) {
	var req ApproveInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.invoiceService.ApproveInvoice(c.Request.Context(), req.ActorID, req.InvoiceID)
	if err != nil {
		h.invoiceError(c, err)
		return
	}

	response.Success(c, gin.H{"invoice_id": req.InvoiceID, "status": "APPROVED"})
}

type RecordPaymentRequest struct {
	InvoiceID        int64  `json:"invoice_id" binding:"required"`
	PaymentReference string `json:"payment_reference" binding:"required"`
	ActorID          int64  `json:"actor_id" binding:"required"`
}

// RecordPayment moves an approved invoice to paid.
// POST /api/v1/invoice/pay
func (h *Handler) RecordPayment(c *gin.Context) {
	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.invoiceService.RecordPayment(c.Request.Context(), req.ActorID, req.InvoiceID, req.PaymentReference)
	if err != nil {
		h.invoiceError(c, err)
		return
	}

	response.Success(c, gin.H{"invoice_id": req.InvoiceID, "status": "PAID"})
}

type CancelInvoiceRequest struct {
	InvoiceID int64 `json:"invoice_id" binding:"required"`
	ActorID   int64 `json:"actor_id" binding:"required"`
}

// CancelInvoice cancels a pending or approved invoice.
// POST /api/v1/invoice/cancel
func (h *Handler) CancelInvoice(c *gin.Context) {
	var req CancelInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.invoiceService.CancelInvoice(c.Request.Context(), req.ActorID, req.InvoiceID)
	if err != nil {
		h.invoiceError(c, err)
		return
	}

	response.Success(c, gin.H{"invoice_id": req.InvoiceID, "status": "CANCELLED"})
}

// ListInvoices pages through a vendor's invoices.
// GET /api/v1/invoice/list?vendor_id=xxx&page=1&page_size=10
func (h *Handler) ListInvoices(c *gin.Context) {
	vendorID, err := strconv.ParseInt(c.Query("vendor_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "vendor_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	invoices, total, err := h.invoiceService.ListVendorInvoices(c.Request.Context(), vendorID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      invoices,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) invoiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrInvoiceNotFound):
		response.BusinessError(c, response.CodeInvoiceNotFound, err.Error())
	case errors.Is(err, repository.ErrInvoiceStatusInvalid):
		response.BusinessError(c, response.CodeInvoiceStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrInvoiceRangeOverlap):
		response.BusinessError(c, response.CodeInvoiceRangeOverlap, err.Error())
	case errors.Is(err, service.ErrPaymentReferenceRequired):
		response.BusinessError(c, response.CodePreconditionFailed, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// Policy endpoints
// ============================================================

// ListPolicies lists all policy values.
// GET /api/v1/policy/list
func (h *Handler) ListPolicies(c *gin.Context) {
	policies, err := h.policyService.List(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, policies)
}

type SetPolicyRequest struct {
	Key     string `json:"key" binding:"required"`
	Value   *int64 `json:"value" binding:"required"`
	ActorID int64  `json:"actor_id" binding:"required"`
}

// SetPolicy updates a policy value, recording the change trail.
// POST /api/v1/policy/set
func (h *Handler) SetPolicy(c *gin.Context) {
	var req SetPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	err := h.policyService.Set(c.Request.Context(), req.ActorID, req.Key, *req.Value)
	if err != nil {
		if errors.Is(err, service.ErrPolicyValueOutOfRange) {
			response.BusinessError(c, response.CodePolicyValueOutOfRange, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"key": req.Key, "value": *req.Value})
}
