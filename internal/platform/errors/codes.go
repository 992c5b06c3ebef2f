// Package errors provides structured error handling shared by the cart and
// catalog services.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Cart command rejections
	CodeCartIDRequired      Code = "CART_ID_REQUIRED"
	CodeQuantityNotPositive Code = "QUANTITY_NOT_POSITIVE"
	CodeCartCheckedOut      Code = "CART_CHECKED_OUT"
	CodeItemNotInCart       Code = "ITEM_NOT_IN_CART"
	CodeCartEmpty           Code = "CART_EMPTY"
	CodeInvalidRequestBody  Code = "INVALID_REQUEST_BODY"
	CodeProductIDRequired   Code = "PRODUCT_ID_REQUIRED"
	CodeUnknownCommand      Code = "UNKNOWN_COMMAND"

	// Storage errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeConcurrentWrite Code = "CONCURRENT_WRITE"

	// Runtime errors
	CodeTimeout                Code = "TIMEOUT"
	CodeShardNotOwned          Code = "SHARD_NOT_OWNED"
	CodeProjectionInconsistent Code = "PROJECTION_INCONSISTENT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCartIDRequired,
		CodeQuantityNotPositive,
		CodeInvalidRequestBody,
		CodeProductIDRequired,
		CodeUnknownCommand:
		return codes.InvalidArgument

	// FailedPrecondition - cart state doesn't allow the command
	case CodeCartCheckedOut,
		CodeItemNotInCart,
		CodeCartEmpty:
		return codes.FailedPrecondition

	case CodeNotFound:
		return codes.NotFound
	case CodeTimeout:
		return codes.DeadlineExceeded
	case CodeShardNotOwned:
		return codes.Unavailable
	case CodeConcurrentWrite:
		return codes.Aborted
	case CodeProjectionInconsistent:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes for the REST surfaces.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
