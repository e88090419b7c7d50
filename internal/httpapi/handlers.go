package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/problem"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BonusService is the bonus ledger surface.
type BonusService interface {
	GetOrCreate(ctx context.Context, touristID ledger.TouristID) (ledger.Account, error)
	History(ctx context.Context, touristID ledger.TouristID, page int, pageSize int) (ledger.TransactionPage, error)
	Audit(ctx context.Context, touristID ledger.TouristID) (ledger.AuditReport, error)
	Expire(ctx context.Context, touristID ledger.TouristID, amount ledger.PositivePoints, reason string, reference ledger.Reference) (ledger.Account, error)
}

// PurchaseService is the purchase orchestrator surface.
type PurchaseService interface {
	ProcessPurchase(ctx context.Context, touristID string, bonusPointsToUse decimal.Decimal) (purchase.Purchase, error)
	GetPurchaseHistory(ctx context.Context, touristID string, page int, pageSize int) (purchase.Page, error)
	GetPurchase(ctx context.Context, touristID string, purchaseID string) (purchase.Purchase, error)
}

// ProblemService is the tour-problem workflow surface.
type ProblemService interface {
	Report(ctx context.Context, touristID string, input problem.ReportInput) (problem.Problem, error)
	Resolve(ctx context.Context, guideID string, problemID string) (problem.Problem, error)
	SendToAdministrator(ctx context.Context, guideID string, problemID string) (problem.Problem, error)
	ReturnToGuide(ctx context.Context, problemID string) (problem.Problem, error)
	Reject(ctx context.Context, problemID string) (problem.Problem, error)
	TouristProblems(ctx context.Context, touristID string, page int, pageSize int) (problem.Page, error)
	GuideProblems(ctx context.Context, guideID string, page int, pageSize int) (problem.Page, error)
	ProblemsUnderReview(ctx context.Context, page int, pageSize int) (problem.Page, error)
}

// ReplacementService is the tour-replacement workflow surface.
type ReplacementService interface {
	RequestReplacement(ctx context.Context, guideID string, tourID string) (replacement.Replacement, error)
	CancelReplacementRequest(ctx context.Context, guideID string, replacementID string) (replacement.Replacement, error)
	AcceptReplacement(ctx context.Context, guideID string, replacementID string) (replacement.Replacement, error)
	GetAvailableReplacements(ctx context.Context, guideID string, page int, pageSize int) (replacement.Page, error)
	GetMyReplacementRequests(ctx context.Context, guideID string, page int, pageSize int) (replacement.Page, error)
	GetReplacementDetails(ctx context.Context, replacementID string) (replacement.Details, error)
}

var errInvalidQuery = fmt.Errorf("%w: invalid query parameter", fault.ErrInvalidArgument)

type httpHandler struct {
	services Services
	logger   *zap.Logger
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	tourist, err := ledger.NewTouristID(userID(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := handler.services.Bonus.GetOrCreate(ctx.Request.Context(), tourist)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *httpHandler) handleBonusHistory(ctx *gin.Context) {
	tourist, err := ledger.NewTouristID(userID(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	page, pageSize, err := pageQuery(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	history, err := handler.services.Bonus.History(ctx.Request.Context(), tourist, page, pageSize)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	transactions := make([]transactionPayload, 0, len(history.Transactions))
	for _, transaction := range history.Transactions {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"page":         newPagePayload(history.Page, history.PageSize, history.Total),
	})
}

func (handler *httpHandler) handleBonusAudit(ctx *gin.Context) {
	tourist, err := ledger.NewTouristID(userID(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	report, err := handler.services.Bonus.Audit(ctx.Request.Context(), tourist)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"audit": auditPayload{
		TouristID:    report.TouristID.String(),
		Balance:      report.Balance,
		Replayed:     report.Replayed,
		Transactions: report.Transactions,
		Consistent:   report.Consistent(),
	}})
}

func (handler *httpHandler) handleExpirePoints(ctx *gin.Context) {
	tourist, err := ledger.NewTouristID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request expireRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	points := decimal.Zero
	if request.Points != nil {
		points = *request.Points
	}
	amount, err := ledger.NewPositivePoints(points)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	key, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := handler.services.Bonus.Expire(ctx.Request.Context(), tourist, amount, request.Reason, ledger.Reference{IdempotencyKey: key.String()})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.logger.Info("bonus points expired",
		zap.String("tourist_id", tourist.String()),
		zap.String("amount", amount.String()),
		zap.String("administrator_id", userID(ctx)),
	)
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *httpHandler) handleProcessPurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bonusPoints := decimal.Zero
	if request.BonusPoints != nil {
		bonusPoints = *request.BonusPoints
	}
	completed, err := handler.services.Purchases.ProcessPurchase(ctx.Request.Context(), userID(ctx), bonusPoints)
	if err != nil && !fault.IsCaveat(err) {
		handler.respondError(ctx, err)
		return
	}
	response := gin.H{"purchase": newPurchasePayload(completed)}
	if err != nil {
		var caveat *fault.CaveatError
		if errors.As(err, &caveat) {
			response["warning"] = gin.H{"stage": caveat.Stage, "message": caveat.Err.Error()}
		}
	}
	ctx.JSON(http.StatusCreated, response)
}

func (handler *httpHandler) handlePurchaseHistory(ctx *gin.Context) {
	page, pageSize, err := pageQuery(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	history, err := handler.services.Purchases.GetPurchaseHistory(ctx.Request.Context(), userID(ctx), page, pageSize)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	purchases := make([]purchasePayload, 0, len(history.Purchases))
	for _, item := range history.Purchases {
		purchases = append(purchases, newPurchasePayload(item))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"purchases": purchases,
		"page":      newPagePayload(history.Page, history.PageSize, history.Total),
	})
}

func (handler *httpHandler) handleGetPurchase(ctx *gin.Context) {
	found, err := handler.services.Purchases.GetPurchase(ctx.Request.Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"purchase": newPurchasePayload(found)})
}

func (handler *httpHandler) handleReportProblem(ctx *gin.Context) {
	var request problemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	reported, err := handler.services.Problems.Report(ctx.Request.Context(), userID(ctx), problem.ReportInput{
		TourID:      request.TourID,
		Title:       request.Title,
		Description: request.Description,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"problem": newProblemPayload(reported)})
}

func (handler *httpHandler) handleTouristProblems(ctx *gin.Context) {
	handler.respondProblemPage(ctx, func(requestCtx context.Context, page int, pageSize int) (problem.Page, error) {
		return handler.services.Problems.TouristProblems(requestCtx, userID(ctx), page, pageSize)
	})
}

func (handler *httpHandler) handleGuideProblems(ctx *gin.Context) {
	handler.respondProblemPage(ctx, func(requestCtx context.Context, page int, pageSize int) (problem.Page, error) {
		return handler.services.Problems.GuideProblems(requestCtx, userID(ctx), page, pageSize)
	})
}

func (handler *httpHandler) handleReviewQueue(ctx *gin.Context) {
	handler.respondProblemPage(ctx, handler.services.Problems.ProblemsUnderReview)
}

func (handler *httpHandler) handleResolveProblem(ctx *gin.Context) {
	handler.respondProblem(ctx, func(requestCtx context.Context, problemID string) (problem.Problem, error) {
		return handler.services.Problems.Resolve(requestCtx, userID(ctx), problemID)
	})
}

func (handler *httpHandler) handleEscalateProblem(ctx *gin.Context) {
	handler.respondProblem(ctx, func(requestCtx context.Context, problemID string) (problem.Problem, error) {
		return handler.services.Problems.SendToAdministrator(requestCtx, userID(ctx), problemID)
	})
}

func (handler *httpHandler) handleReturnProblem(ctx *gin.Context) {
	handler.respondProblem(ctx, handler.services.Problems.ReturnToGuide)
}

func (handler *httpHandler) handleRejectProblem(ctx *gin.Context) {
	handler.respondProblem(ctx, handler.services.Problems.Reject)
}

func (handler *httpHandler) respondProblem(ctx *gin.Context, transition func(ctx context.Context, problemID string) (problem.Problem, error)) {
	updated, err := transition(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"problem": newProblemPayload(updated)})
}

func (handler *httpHandler) respondProblemPage(ctx *gin.Context, list func(ctx context.Context, page int, pageSize int) (problem.Page, error)) {
	page, pageSize, err := pageQuery(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := list(ctx.Request.Context(), page, pageSize)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	problems := make([]problemPayload, 0, len(result.Problems))
	for _, item := range result.Problems {
		problems = append(problems, newProblemPayload(item))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"problems": problems,
		"page":     newPagePayload(result.Page, result.PageSize, result.Total),
	})
}

func (handler *httpHandler) handleRequestReplacement(ctx *gin.Context) {
	var request replacementRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requested, err := handler.services.Replacements.RequestReplacement(ctx.Request.Context(), userID(ctx), request.TourID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"replacement": newReplacementPayload(requested)})
}

func (handler *httpHandler) handleMyReplacements(ctx *gin.Context) {
	handler.respondReplacementPage(ctx, handler.services.Replacements.GetMyReplacementRequests)
}

func (handler *httpHandler) handleAvailableReplacements(ctx *gin.Context) {
	handler.respondReplacementPage(ctx, handler.services.Replacements.GetAvailableReplacements)
}

func (handler *httpHandler) handleReplacementDetails(ctx *gin.Context) {
	details, err := handler.services.Replacements.GetReplacementDetails(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"replacement": newReplacementDetailsPayload(details)})
}

func (handler *httpHandler) handleCancelReplacement(ctx *gin.Context) {
	cancelled, err := handler.services.Replacements.CancelReplacementRequest(ctx.Request.Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"replacement": newReplacementPayload(cancelled)})
}

func (handler *httpHandler) handleAcceptReplacement(ctx *gin.Context) {
	accepted, err := handler.services.Replacements.AcceptReplacement(ctx.Request.Context(), userID(ctx), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"replacement": newReplacementPayload(accepted)})
}

func (handler *httpHandler) respondReplacementPage(ctx *gin.Context, list func(ctx context.Context, guideID string, page int, pageSize int) (replacement.Page, error)) {
	page, pageSize, err := pageQuery(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := list(ctx.Request.Context(), userID(ctx), page, pageSize)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	items := make([]replacementDetailsPayload, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, newReplacementDetailsPayload(item))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"replacements": items,
		"page":         newPagePayload(result.Page, result.PageSize, result.Total),
	})
}

// pageQuery reads the zero-based "page" and "page_size" query parameters.
func pageQuery(ctx *gin.Context) (int, int, error) {
	page, err := intQuery(ctx, "page")
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := intQuery(ctx, "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func intQuery(ctx *gin.Context, name string) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errInvalidQuery, name)
	}
	return value, nil
}
