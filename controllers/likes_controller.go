package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/middleware"
	"github.com/cppla/bbspoints/services"
	"github.com/cppla/bbspoints/utils"
)

// maxBatchIDs caps entity ids accepted by the batch endpoints.
const maxBatchIDs = 200

// LikesController exposes like toggles and like lookups.
type LikesController struct {
	likes *services.LikeService
	log   *zap.Logger
}

// NewLikesController creates a new LikesController instance.
func NewLikesController(likes *services.LikeService, log *zap.Logger) *LikesController {
	return &LikesController{likes: likes, log: log}
}

// Toggle likes or unlikes an entity for the caller.
func (l *LikesController) Toggle(ctx *gin.Context) {
	var req struct {
		EntityID   string `json:"entity_id" binding:"required"`
		EntityType string `json:"entity_type" binding:"required"`
		Liked      *bool  `json:"liked" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "entity_id, entity_type and liked are required")
		return
	}
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := l.likes.ToggleLike(ctx.Request.Context(), req.EntityType, req.EntityID, userID, *req.Liked)
	if err != nil {
		l.fail(ctx, err, "failed to process like/unlike action")
		return
	}
	utils.Success(ctx, "successfully updated like status", res)
}

type batchRequest struct {
	EntityType string   `json:"entity_type" binding:"required"`
	EntityIDs  []string `json:"entity_ids" binding:"required,min=1"`
}

func bindBatch(ctx *gin.Context) (batchRequest, bool) {
	var req batchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "entity_type and entity_ids (non-empty array) are required")
		return req, false
	}
	if len(req.EntityIDs) > maxBatchIDs {
		utils.Error(ctx, http.StatusBadRequest, "too many entity_ids")
		return req, false
	}
	return req, true
}

// List returns which of the given entities the caller likes.
func (l *LikesController) List(ctx *gin.Context) {
	req, ok := bindBatch(ctx)
	if !ok {
		return
	}
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	liked, err := l.likes.GetLikedStatus(ctx.Request.Context(), req.EntityType, req.EntityIDs, userID)
	if err != nil {
		l.fail(ctx, err, "failed to retrieve liked statuses")
		return
	}
	utils.Success(ctx, "successfully retrieved liked statuses for user", liked)
}

// Counts returns the like count of each given entity.
func (l *LikesController) Counts(ctx *gin.Context) {
	req, ok := bindBatch(ctx)
	if !ok {
		return
	}
	counts, err := l.likes.GetCounts(ctx.Request.Context(), req.EntityType, req.EntityIDs)
	if err != nil {
		l.fail(ctx, err, "failed to retrieve like counts")
		return
	}
	utils.Success(ctx, "successfully retrieved like counts", counts)
}

func (l *LikesController) fail(ctx *gin.Context, err error, message string) {
	if errors.Is(err, services.ErrInvalidArgument) {
		utils.Error(ctx, http.StatusBadRequest, err.Error())
		return
	}
	l.log.Error(message, zap.Error(err))
	utils.Error(ctx, http.StatusInternalServerError, message)
}
