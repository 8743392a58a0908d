package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
)

type rebuildLedgerRequest struct {
	Accounts []string `json:"accounts"`
}

func (s *Server) GetLedger(c *gin.Context) {
	account, err := ledgerdomain.ParseAccount(c.Param("account"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	dateFrom, err := parseOptionalDate(c.Query("date_from"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dateTo, err := parseOptionalDate(c.Query("date_to"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.ledgerSvc.Ledger(c.Request.Context(), account, ledgerdomain.LedgerFilter{
		DateFrom: dateFrom,
		DateTo:   dateTo,
		Limit:    limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) GetBalances(c *gin.Context) {
	balances, err := s.ledgerSvc.Balances(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balances})
}

// RebuildLedger recomputes the ledger. An empty body rebuilds every account.
func (s *Server) RebuildLedger(c *gin.Context) {
	var req rebuildLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()

	var (
		result ledgerdomain.RebuildResult
		err    error
	)
	if len(req.Accounts) == 0 {
		result, err = s.ledgerSvc.RebuildAll(ctx)
	} else {
		accounts := make([]ledgerdomain.Account, 0, len(req.Accounts))
		for _, raw := range req.Accounts {
			account, parseErr := ledgerdomain.ParseAccount(raw)
			if parseErr != nil {
				AbortWithError(c, parseErr)
				return
			}
			accounts = append(accounts, account)
		}
		result, err = s.ledgerSvc.Rebuild(ctx, accounts)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) VerifyLedger(c *gin.Context) {
	result, err := s.ledgerSvc.Verify(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
