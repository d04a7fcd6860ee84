package llm

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	errs "github.com/kart-io/docchat/pkg/errors"
	"github.com/kart-io/docchat/pkg/utils/httpclient"
)

// resourceExhaustedMarkers 供应商在配额耗尽时返回的状态标识。
var resourceExhaustedMarkers = []string{
	"RESOURCE_EXHAUSTED",
	"rate_limit_exceeded",
	"insufficient_quota",
}

// ClassifyError 将供应商调用错误归类为统一错误码。
//   - 429 或响应体包含配额耗尽标识: errs.ErrProviderExhausted
//   - 其他非 2xx 响应或传输错误: errs.ErrProviderFailure
//
// 已经是 Errno 的错误原样返回。
func ClassifyError(provider, op string, err error) error {
	if err == nil {
		return nil
	}

	var e *errs.Errno
	if stderrors.As(err, &e) {
		return err
	}

	wrapped := fmt.Errorf("%s %s: %w", provider, op, err)

	var se *httpclient.StatusError
	if stderrors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || containsExhaustedMarker(se.Body) {
			return errs.ErrProviderExhausted.WithCause(wrapped)
		}
	}
	return errs.ErrProviderFailure.WithCause(wrapped)
}

func containsExhaustedMarker(body string) bool {
	for _, m := range resourceExhaustedMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}
