package rpc

import (
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// errorDomain tags the ErrorInfo detail that carries the error code.
const errorDomain = "ezsecurity"

// Status reduces err to its caller-visible form and renders it as a gRPC
// status. The error code travels in an ErrorInfo detail so clients can
// rebuild it with [FromStatus].
func Status(err error) *status.Status {
	pub := sserr.Public(err)
	st := status.New(grpcCode(pub.Code), pub.Message)
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(pub.Code), Domain: errorDomain})
	if derr != nil {
		return st
	}
	return detailed
}

func grpcCode(c sserr.Code) codes.Code {
	switch c.Category() {
	case "VAL":
		return codes.InvalidArgument
	case "AUTH":
		return codes.Unauthenticated
	case "AUTHZ":
		return codes.PermissionDenied
	case "NF":
		return codes.NotFound
	case "CONF":
		return codes.AlreadyExists
	case "UNAVAIL":
		return codes.Unavailable
	case "TIMEOUT":
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// FromStatus converts an error returned by a gRPC call into an
// [*sserr.Error]. A status produced by [Status] keeps its code; any other
// status is classified by its gRPC code.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return sserr.Upstream(err, "ezsecurity")
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return sserr.New(sserr.Code(info.GetReason()), st.Message())
		}
	}
	var code sserr.Code
	switch st.Code() {
	case codes.Unavailable, codes.Canceled, codes.ResourceExhausted:
		code = sserr.CodeUpstreamUnavailable
	case codes.DeadlineExceeded:
		code = sserr.CodeUpstreamTimeout
	case codes.Unauthenticated:
		code = sserr.CodeTokenRejected
	case codes.PermissionDenied:
		code = sserr.CodeForbidden
	case codes.InvalidArgument:
		code = sserr.CodeValidation
	case codes.NotFound, codes.Unimplemented:
		code = sserr.CodeNotFound
	default:
		code = sserr.CodeInternal
	}
	return sserr.Wrap(err, code, "rpc: "+st.Message())
}
