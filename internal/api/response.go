package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	xerrors "XGrowth-Chain/internal/errors"
)

type ErrorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidParameters, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeAccountNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAccountExists, xerrors.CodeConflict, xerrors.CodeAlreadyClaimed:
		return http.StatusConflict
	case xerrors.CodeSlippageExceeded, xerrors.CodeCurveExhausted, xerrors.CodeInsufficientReserve,
		xerrors.CodeInsufficientFunds, xerrors.CodeNothingToClaim, xerrors.CodeArithmeticOverflow:
		return http.StatusUnprocessableEntity
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeStorageFailure, xerrors.CodeQueueFailure, xerrors.CodeLedgerFailure, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{Code: xerrors.CodeOf(err), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		if msg := e.Message(); msg != "" {
			body.Message = msg
		}
		body.Metadata = e.Metadata()
	}
	status := statusOf(body.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("code", string(body.Code)),
			slog.Any("error", err))
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody 解析 JSON 请求体，拒绝未知字段。
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return xerrors.New(xerrors.CodeInvalidArgument, "请求体为空")
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
