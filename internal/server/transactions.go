package server

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
)

// maxHistoryDepth bounds how many superseded revisions a history lookup follows.
const maxHistoryDepth = 32

type createTransactionRequest struct {
	Date              string          `json:"date"`
	Kind              string          `json:"kind"`
	TransferDirection string          `json:"transfer_direction"`
	Account           string          `json:"account"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Subcategory       string          `json:"subcategory"`
	PaymentMethod     string          `json:"payment_method"`
	Metadata          map[string]any  `json:"metadata"`
}

type updateTransactionRequest struct {
	Date              *string          `json:"date"`
	Kind              *string          `json:"kind"`
	TransferDirection *string          `json:"transfer_direction"`
	Account           *string          `json:"account"`
	Amount            *decimal.Decimal `json:"amount"`
	Description       *string          `json:"description"`
	Category          *string          `json:"category"`
	Subcategory       *string          `json:"subcategory"`
	PaymentMethod     *string          `json:"payment_method"`
	Metadata          map[string]any   `json:"metadata"`
}

type transactionResponse struct {
	ID                string          `json:"id"`
	SequenceNumber    string          `json:"sequence_number"`
	Date              string          `json:"date"`
	Kind              string          `json:"kind"`
	TransferDirection string          `json:"transfer_direction,omitempty"`
	Account           string          `json:"account,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	Category          string          `json:"category,omitempty"`
	Subcategory       string          `json:"subcategory,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	Voided            bool            `json:"voided"`
	VoidReason        string          `json:"void_reason,omitempty"`
	VoidedAt          *time.Time      `json:"voided_at,omitempty"`
	Supersedes        *string         `json:"supersedes,omitempty"`
	SupersededBy      *string         `json:"superseded_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func newTransactionResponse(t transactiondomain.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		SequenceNumber:    t.SequenceNumber,
		Date:              formatDate(t.Date),
		Kind:              string(t.Kind),
		TransferDirection: string(t.TransferDirection),
		Account:           string(t.Account),
		Amount:            t.Amount,
		Description:       t.Description,
		Category:          t.Category,
		Subcategory:       t.Subcategory,
		PaymentMethod:     t.PaymentMethod,
		Metadata:          t.Metadata,
		Voided:            t.Voided,
		VoidReason:        t.VoidReason,
		VoidedAt:          t.VoidedAt,
		Supersedes:        t.Supersedes,
		SupersededBy:      t.SupersededBy,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func (s *Server) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.transactionSvc.Create(c.Request.Context(), transactiondomain.CreateTransactionRequest{
		Date:              req.Date,
		Kind:              req.Kind,
		TransferDirection: req.TransferDirection,
		Account:           req.Account,
		Amount:            req.Amount,
		Description:       req.Description,
		Category:          req.Category,
		Subcategory:       req.Subcategory,
		PaymentMethod:     req.PaymentMethod,
		Metadata:          req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("transaction_id", resp.ID)
	c.Set("ledger_warning", resp.Warning)
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.transactionSvc.List(c.Request.Context(), transactiondomain.ListTransactionsRequest{
		Kind:     strings.TrimSpace(c.Query("kind")),
		Account:  strings.TrimSpace(c.Query("account")),
		DateFrom: strings.TrimSpace(c.Query("date_from")),
		DateTo:   strings.TrimSpace(c.Query("date_to")),
		Limit:    limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := make([]transactionResponse, 0, len(items))
	for _, item := range items {
		data = append(data, newTransactionResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) GetTransaction(c *gin.Context) {
	item, err := s.transactionSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTransactionResponse(item)})
}

func (s *Server) UpdateTransaction(c *gin.Context) {
	var req updateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.transactionSvc.Update(c.Request.Context(), c.Param("id"), transactiondomain.UpdateTransactionRequest{
		Date:              req.Date,
		Kind:              req.Kind,
		TransferDirection: req.TransferDirection,
		Account:           req.Account,
		Amount:            req.Amount,
		Description:       req.Description,
		Category:          req.Category,
		Subcategory:       req.Subcategory,
		PaymentMethod:     req.PaymentMethod,
		Metadata:          req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("transaction_id", resp.ID)
	c.Set("ledger_warning", resp.Warning)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteTransaction(c *gin.Context) {
	resp, err := s.transactionSvc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("transaction_id", resp.DeletedID)
	c.Set("ledger_warning", resp.Warning)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetTransactionHistory returns the audit trail of a transaction and the revisions it superseded.
func (s *Server) GetTransactionHistory(c *gin.Context) {
	ctx := c.Request.Context()

	item, err := s.transactionSvc.Get(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ids := []string{item.ID}
	current := item
	for depth := 0; depth < maxHistoryDepth && current.Supersedes != nil; depth++ {
		previous, err := s.transactionSvc.Get(ctx, *current.Supersedes)
		if err != nil {
			break
		}
		ids = append(ids, previous.ID)
		current = previous
	}

	history := make([]auditdomain.AuditLog, 0)
	for _, id := range ids {
		logs, err := s.auditSvc.List(ctx, auditdomain.ListAuditLogRequest{
			TargetType: auditdomain.TargetTransaction,
			TargetID:   id,
			Limit:      auditdomain.MaxListLimit,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		history = append(history, logs...)
	}

	sort.SliceStable(history, func(i, j int) bool {
		if history[i].CreatedAt.Equal(history[j].CreatedAt) {
			return history[i].ID > history[j].ID
		}
		return history[i].CreatedAt.After(history[j].CreatedAt)
	})

	c.JSON(http.StatusOK, gin.H{"data": history})
}
