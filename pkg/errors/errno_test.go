package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	tests := []struct {
		service  int
		category int
		sequence int
		expected int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1001},
		{20, 6, 1, 2006001},
		{20, 10, 3, 2010003},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.service, tt.category, tt.sequence), func(t *testing.T) {
			code := MakeCode(tt.service, tt.category, tt.sequence)
			assert.Equal(t, tt.expected, code)
			assert.Equal(t, tt.category, GetCategory(code))
		})
	}
}

func TestErrno_WithCauseMatchesThroughWrapChain(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := fmt.Errorf("embed batch 3: %w", ErrProviderExhausted.WithCause(cause))

	assert.True(t, stderrors.Is(err, ErrProviderExhausted), "包装链中应能匹配错误码")
	assert.True(t, stderrors.Is(err, cause), "应能匹配原始错误")
	assert.False(t, stderrors.Is(err, ErrProviderFailure))
	assert.True(t, IsResourceExhausted(err))
	assert.Equal(t, ErrProviderExhausted.Code, GetCode(err))
}

func TestErrno_WithMessageKeepsCode(t *testing.T) {
	e := ErrExtraction.WithMessage("no extractable text")

	assert.Equal(t, ErrExtraction.Code, e.Code)
	assert.Equal(t, "no extractable text", e.MessageEN)
	assert.Equal(t, ErrExtraction.MessageZH, e.MessageZH)
	assert.Equal(t, "Document text extraction failed", ErrExtraction.MessageEN, "原始错误不应被修改")
}

func TestErrno_Categories(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, ErrProviderExhausted.HTTP)
	assert.Equal(t, codes.ResourceExhausted, ErrProviderExhausted.GRPCCode)
	assert.Equal(t, codes.AlreadyExists, ErrDocumentExists.GRPCCode)
	assert.True(t, IsClientError(ErrInvalidDocumentID.Code))
	assert.False(t, IsClientError(ErrIngestion.Code))
	assert.Equal(t, CategoryDatabase, GetCategory(ErrCatalog.Code))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))
	assert.Same(t, ErrIndexNotFound, FromError(fmt.Errorf("load: %w", ErrIndexNotFound)))

	e := FromError(io.EOF)
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.ErrorIs(t, e, io.EOF)
	assert.Equal(t, -1, GetCode(io.EOF))
}

func TestErrno_Message(t *testing.T) {
	assert.Equal(t, "文档入库失败", ErrIngestion.Message("zh-CN"))
	assert.Equal(t, "Document ingestion failed", ErrIngestion.Message("en"))
}

func TestErrno_Format(t *testing.T) {
	e := ErrIngestion.WithCause(stderrors.New("disk full"))

	assert.Contains(t, fmt.Sprintf("%v", e), "disk full")
	assert.Contains(t, fmt.Sprintf("%+v", e), "caused by: disk full")
	assert.Contains(t, fmt.Sprintf("%+v", e), "HTTP 500")
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(New(ErrIngestion.Code, http.StatusInternalServerError, codes.Internal, "dup", "重复"))
	})
}
