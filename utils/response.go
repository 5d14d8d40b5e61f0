package utils

import "github.com/gin-gonic/gin"

// JSONResponse defines the uniform envelope for likes API responses.
type JSONResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Result  interface{} `json:"result,omitempty"`
}

// Respond writes a JSON envelope with the given status code.
func Respond(ctx *gin.Context, status int, success bool, message string, result interface{}) {
	ctx.JSON(status, JSONResponse{
		Success: success,
		Message: message,
		Result:  result,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, message string, result interface{}) {
	Respond(ctx, 200, true, message, result)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, message string) {
	Respond(ctx, status, false, message, nil)
}
