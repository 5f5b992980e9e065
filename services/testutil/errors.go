package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest        = "INVALID_REQUEST"
	ErrorCodeUnauthorized          = "UNAUTHORIZED"
	ErrorCodeForbidden             = "FORBIDDEN"
	ErrorCodeSaleNotFound          = "SALE_NOT_FOUND"
	ErrorCodeWrongCurrency         = "WRONG_CURRENCY"
	ErrorCodeSelfPurchase          = "SELF_PURCHASE"
	ErrorCodeInsufficientTender    = "INSUFFICIENT_TENDER"
	ErrorCodeInsufficientDeposit   = "INSUFFICIENT_DEPOSIT"
	ErrorCodeInsufficientStorage   = "INSUFFICIENT_STORAGE"
	ErrorCodeUnapprovedToken       = "UNAPPROVED_TOKEN"
	ErrorCodeConfirmationRequired  = "CONFIRMATION_REQUIRED"
	ErrorCodeInvalidApprovalOrigin = "INVALID_APPROVAL_ORIGIN"
	ErrorCodeInternalError         = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d (body %s)", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (body %s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeWrongCurrency, ErrorCodeSelfPurchase,
		ErrorCodeInsufficientTender, ErrorCodeInsufficientDeposit, ErrorCodeInsufficientStorage,
		ErrorCodeUnapprovedToken, ErrorCodeConfirmationRequired, ErrorCodeInvalidApprovalOrigin:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeSaleNotFound:
		return http.StatusNotFound
	case ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
