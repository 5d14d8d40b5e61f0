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

// CheckinController handles daily check-in endpoints.
type CheckinController struct {
	checkins *services.CheckinService
	log      *zap.Logger
}

// NewCheckinController creates a new controller instance.
func NewCheckinController(checkins *services.CheckinService, log *zap.Logger) *CheckinController {
	return &CheckinController{checkins: checkins, log: log}
}

// AddCheckin records today's check-in and returns the streak and reward.
func (c *CheckinController) AddCheckin(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := c.checkins.AddCheckin(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, err, "failed to add checkin record")
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// QueryCheckin returns this month's check-in flags up to today.
func (c *CheckinController) QueryCheckin(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}
	days, err := c.checkins.QueryCheckin(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, err, "failed to query checkin records")
		return
	}
	ctx.JSON(http.StatusOK, days)
}

func (c *CheckinController) fail(ctx *gin.Context, err error, message string) {
	if errors.Is(err, services.ErrInvalidArgument) {
		utils.Error(ctx, http.StatusBadRequest, err.Error())
		return
	}
	c.log.Error(message, zap.Error(err))
	utils.Error(ctx, http.StatusInternalServerError, message)
}
