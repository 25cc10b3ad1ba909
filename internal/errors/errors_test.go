package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrVersionConflict)
	suite.Equal(ErrVersionConflict, err.Code)
	suite.Equal("版本冲突", err.Message)
	suite.Empty(err.Details)
	suite.NotEmpty(err.Stack)

	err = New(ErrInvalidState, "status=ENDED", "op=guess")
	suite.Equal("status=ENDED; op=guess", err.Details)
	suite.Equal("[2001] 游戏状态无效: status=ENDED; op=guess", err.Error())

	// 未登记的错误码使用未知错误消息
	err = New(ErrorCode(9999))
	suite.Equal("未知错误", err.Message)
}

func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrVersionConflict, "received %d, expected %d", 1, 2)
	suite.Equal("received 1, expected 2", err.Details)
}

func (suite *ErrorsTestSuite) TestWrap() {
	original := stderrors.New("disk full")
	wrapped := Wrap(original, ErrDatabaseUpdate)
	suite.Equal(ErrDatabaseUpdate, wrapped.Code)
	suite.Equal("disk full", wrapped.Details)
	suite.True(stderrors.Is(wrapped, original))

	suite.Nil(Wrap(nil, ErrUnknown))

	// 已有的AppError保留原始错误码
	appErr := New(ErrRoomFull)
	suite.Equal(ErrRoomFull, Wrap(appErr, ErrDatabaseQuery).Code)

	// fmt包装之后仍能识别
	suite.Equal(ErrRoomFull, Wrap(fmt.Errorf("join: %w", appErr), ErrUnknown).Code)
}

func (suite *ErrorsTestSuite) TestIsAndGetCode() {
	err := fmt.Errorf("guess: %w", New(ErrTurnAlreadyAnswered))
	suite.True(Is(err, ErrTurnAlreadyAnswered))
	suite.False(Is(err, ErrVersionConflict))
	suite.False(Is(nil, ErrVersionConflict))

	suite.Equal(ErrTurnAlreadyAnswered, GetCode(err))
	suite.Equal(ErrUnknown, GetCode(stderrors.New("plain")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

func (suite *ErrorsTestSuite) TestAs() {
	suite.Equal(ErrOptionInvalid, As(New(ErrOptionInvalid)).Code)
	suite.Equal(ErrUnknown, As(stderrors.New("plain")).Code)
}

func (suite *ErrorsTestSuite) TestHTTPStatus() {
	cases := map[ErrorCode]int{
		ErrVersionConflict:     http.StatusConflict,
		ErrInvalidState:        http.StatusBadRequest,
		ErrTurnAlreadyAnswered: http.StatusBadRequest,
		ErrTurnNotCurrent:      http.StatusBadRequest,
		ErrOptionInvalid:       http.StatusBadRequest,
		ErrRoomFull:            http.StatusConflict,
		ErrRoomNotFound:        http.StatusNotFound,
		ErrSessionNotFound:     http.StatusNotFound,
		ErrPermissionDenied:    http.StatusForbidden,
		ErrTokenInvalid:        http.StatusUnauthorized,
		ErrCatalogEmpty:        http.StatusServiceUnavailable,
		ErrDatabaseUpdate:      http.StatusInternalServerError,
	}
	for code, status := range cases {
		suite.Equal(status, New(code).HTTPStatus(), "code %d", code)
	}
}

func (suite *ErrorsTestSuite) TestIsRetryable() {
	suite.True(IsRetryable(New(ErrVersionConflict)))
	suite.True(IsRetryable(New(ErrTurnAlreadyAnswered)))
	suite.False(IsRetryable(New(ErrRoomFull)))
	suite.False(IsRetryable(nil))
}

func (suite *ErrorsTestSuite) TestErrorResponse() {
	resp := NewErrorResponse(New(ErrRoomNotFound), "req-1")
	suite.False(resp.Success)
	suite.Equal("req-1", resp.RequestID)
	suite.NotZero(resp.Timestamp)
}

func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
