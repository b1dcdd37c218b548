// Package apierror maps service errors onto HTTP responses.
package apierror

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/model/validation"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/internal/store"
	"github.com/zhouzirui/z-parley/backend/pkg/utils"
)

// CodeAlreadyRunning is reported while a multi-turn run is in progress.
const CodeAlreadyRunning = "already_running"

// Code classifies err for the response body.
func Code(err error) string {
	switch {
	case errors.Is(err, driver.ErrAlreadyRunning):
		return CodeAlreadyRunning
	case errors.Is(err, store.ErrNotFound):
		return convservice.CodeNotFound
	default:
		return convservice.ErrorCode(err)
	}
}

// Status 将错误码映射为 HTTP 状态码。
func Status(code string) int {
	switch code {
	case convservice.CodeNotFound:
		return http.StatusNotFound
	case convservice.CodeInvalidState, convservice.CodeInvalidTurnOrder, convservice.CodeTurnInProgress, CodeAlreadyRunning:
		return http.StatusConflict
	case convservice.CodeValidation:
		return http.StatusBadRequest
	case convservice.CodeGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond 写出错误响应。内部错误不向客户端暴露细节。
func Respond(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := Code(err)
	status := Status(code)
	body := utils.ErrorBody{Error: err.Error(), Code: code}

	var verr *validation.Error
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		body.Error = "internal server error"
	}
	utils.RespondErrorBody(w, status, body)
}

// BadRequest 写出请求格式错误。
func BadRequest(w http.ResponseWriter, message string) {
	utils.RespondErrorBody(w, http.StatusBadRequest, utils.ErrorBody{Error: message, Code: convservice.CodeValidation})
}
