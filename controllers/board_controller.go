package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/middleware"
	"github.com/cppla/bbspoints/services"
	"github.com/cppla/bbspoints/utils"
)

// BoardController serves the points leaderboard.
type BoardController struct {
	board *services.BoardService
	log   *zap.Logger
}

// NewBoardController creates a new BoardController instance.
func NewBoardController(board *services.BoardService, log *zap.Logger) *BoardController {
	return &BoardController{board: board, log: log}
}

// GetBoard returns the caller's rank and points with the full board.
func (b *BoardController) GetBoard(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}
	b.respond(ctx, userID)
}

// GetPublicBoard returns the board without a caller standing.
func (b *BoardController) GetPublicBoard(ctx *gin.Context) {
	b.respond(ctx, "")
}

// GetHistory returns the caller's latest ledger entries. ?limit= picks the page size.
func (b *BoardController) GetHistory(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	entries, err := b.board.History(ctx.Request.Context(), userID, limit)
	if err != nil {
		b.log.Error("load points history failed", zap.String("user_id", userID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "failed to fetch points history")
		return
	}
	utils.Success(ctx, "ok", entries)
}

func (b *BoardController) respond(ctx *gin.Context, userID string) {
	view, err := b.board.GetBoard(ctx.Request.Context(), userID)
	if err != nil {
		b.log.Error("load leaderboard failed", zap.String("user_id", userID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "failed to fetch leaderboard data")
		return
	}
	ctx.JSON(http.StatusOK, view)
}
