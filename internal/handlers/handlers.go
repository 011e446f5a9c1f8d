package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"circulation/internal/services"
)

type CirculationHandler struct {
	loans     services.LoanService
	directory services.DirectoryService
}

func RegisterRoutes(r *gin.Engine, loans services.LoanService, directory services.DirectoryService) {
	h := &CirculationHandler{loans: loans, directory: directory}

	// Intake endpoints
	r.POST("/libraries", h.createLibrary)
	r.POST("/things", h.createThing)
	r.POST("/items", h.createItem)
	r.POST("/users", h.createUser)
	r.GET("/items/:id/availability", h.itemAvailability)

	// Loan lifecycle endpoints
	r.POST("/loans", h.checkout)
	r.POST("/loans/checkin", h.checkin)
	r.POST("/loans/:id/lost", h.markLost)
	r.POST("/loans/:id/restore", h.restore)
	r.PUT("/loans/:id", h.updateTerms)
	r.GET("/loans", h.listLoans)
	r.GET("/loans/:id", h.getLoan)
}

// libraryID reads the tenant id every scoped operation requires. The id
// travels in the X-Library-ID header so scoping stays explicit per request.
func libraryID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-Library-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid X-Library-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

func requestCtx(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if actor := c.GetHeader("X-Actor"); actor != "" {
		ctx = services.WithActor(ctx, actor)
	}
	return ctx
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError maps engine errors onto HTTP statuses. A checkout conflict
// carries the existing loan so the desk can see who holds the item.
func writeDomainError(c *gin.Context, err error) {
	var conflict *services.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "item already has an open loan",
			"existing_loan": conflict.Existing,
		})
	case errors.Is(err, services.ErrLibraryNotFound),
		errors.Is(err, services.ErrThingNotFound),
		errors.Is(err, services.ErrItemNotFound),
		errors.Is(err, services.ErrLoanNotFound),
		errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnknownBarcode),
		errors.Is(err, services.ErrNotOnLoan),
		errors.Is(err, services.ErrAlreadyActive),
		errors.Is(err, services.ErrItemDiscarded),
		errors.Is(err, services.ErrLoanDurationNotSet),
		errors.Is(err, services.ErrInvalidDueDate):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type createLibraryRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *CirculationHandler) createLibrary(c *gin.Context) {
	var req createLibraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	library, err := h.directory.CreateLibrary(requestCtx(c), req.Name)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, library)
}

type createThingRequest struct {
	Name         string `json:"name" binding:"required"`
	LoanTimeDays int    `json:"loan_time_days" binding:"required,min=1"`
}

func (h *CirculationHandler) createThing(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	var req createThingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	thing, err := h.directory.CreateThing(requestCtx(c), libID, req.Name, req.LoanTimeDays)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thing)
}

type createItemRequest struct {
	ThingID string `json:"thing_id" binding:"required,uuid"`
	Barcode string `json:"barcode" binding:"required"`
	Note    string `json:"note"`
}

func (h *CirculationHandler) createItem(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	thingID, err := uuid.Parse(req.ThingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thing id"})
		return
	}
	item, err := h.directory.CreateItem(requestCtx(c), libID, thingID, req.Barcode, req.Note)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type createUserRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *CirculationHandler) createUser(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.directory.CreateUser(requestCtx(c), libID, req.Name)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *CirculationHandler) itemAvailability(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	itemID, ok := pathID(c)
	if !ok {
		return
	}
	available, err := h.loans.IsItemAvailable(requestCtx(c), libID, itemID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "available": available})
}

type checkoutRequest struct {
	ItemID string `json:"item_id" binding:"required,uuid"`
	UserID string `json:"user_id" binding:"required,uuid"`
	Note   string `json:"note"`
}

func (h *CirculationHandler) checkout(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	loan, err := h.loans.Checkout(requestCtx(c), libID, itemID, userID, req.Note)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status": "loan registered",
		"loan":   loan,
	})
}

type checkinRequest struct {
	Barcode string `json:"barcode"`
	LoanID  string `json:"loan_id"`
}

func (h *CirculationHandler) checkin(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	var req checkinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sel := services.CheckinSelector{Barcode: req.Barcode}
	if req.LoanID != "" {
		loanID, err := uuid.Parse(req.LoanID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
			return
		}
		sel.LoanID = &loanID
	}

	result, err := h.loans.CheckIn(requestCtx(c), libID, sel)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CirculationHandler) markLost(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	loanID, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.loans.MarkLost(requestCtx(c), libID, loanID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CirculationHandler) restore(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	loanID, ok := pathID(c)
	if !ok {
		return
	}
	loan, err := h.loans.Restore(requestCtx(c), libID, loanID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "restored",
		"loan":   loan,
	})
}

type updateTermsRequest struct {
	DueAt time.Time `json:"due_at" binding:"required"`
	Note  string    `json:"note"`
}

func (h *CirculationHandler) updateTerms(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	loanID, ok := pathID(c)
	if !ok {
		return
	}
	var req updateTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	loan, err := h.loans.UpdateTerms(requestCtx(c), libID, loanID, req.DueAt, req.Note)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func (h *CirculationHandler) listLoans(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	loans, err := h.loans.ListLoans(requestCtx(c), libID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (h *CirculationHandler) getLoan(c *gin.Context) {
	libID, ok := libraryID(c)
	if !ok {
		return
	}
	loanID, ok := pathID(c)
	if !ok {
		return
	}
	loan, err := h.loans.GetLoan(requestCtx(c), libID, loanID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}
