package buildapi

import (
	"context"
	"fmt"
)

// Handler implements an endpoint. The request and response are pointers to
// the method's message structs. Returning ReturnCodeSuccess with a nil error
// is a successful call.
type Handler func(ctx context.Context, req, resp any, cfg Config) (int, error)

// Middleware wraps a Handler, as validators and faux responders do.
type Middleware func(Handler) Handler

// Chain applies mws around h. The first middleware is outermost, so
// Chain(h, a, b) runs a, then b, then h.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Impl adapts a typed endpoint function to a Handler.
func Impl[Req, Resp any](fn func(ctx context.Context, req *Req, resp *Resp, cfg Config) (int, error)) Handler {
	return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
		in, ok := req.(*Req)
		if !ok {
			return ReturnCodeUnrecoverable, fmt.Errorf("request is %T, want %T", req, new(Req))
		}
		out, ok := resp.(*Resp)
		if !ok {
			return ReturnCodeUnrecoverable, fmt.Errorf("response is %T, want %T", resp, new(Resp))
		}
		return fn(ctx, in, out, cfg)
	}
}

// ChrootAssert says where an endpoint must run.
type ChrootAssert int

const (
	ChrootAssertUnset ChrootAssert = iota
	NoAssertion
	Inside
	Outside
)

// BranchedExecution says which chromite checkout runs an endpoint.
type BranchedExecution int

const (
	ExecutionUnset BranchedExecution = iota
	ExecuteNotSpecified
	ExecuteBranched
	ExecuteToT
)

// Visibility hides services and methods from method listings.
type Visibility int

const (
	VisibilityUnset Visibility = iota
	Visible
	Hidden
)

// ServiceOptions configure every method of a service.
type ServiceOptions struct {
	// Module names the controller implementing the service.
	Module            string
	ChrootAssert      ChrootAssert
	BranchedExecution BranchedExecution
	Visibility        Visibility
}

// MethodOptions override the service options for one method.
type MethodOptions struct {
	// ImplementationName is the controller function to call when it differs
	// from the method name.
	ImplementationName string
	ChrootAssert       ChrootAssert
	BranchedExecution  BranchedExecution
	Visibility         Visibility
}

// Method describes a service method and its message types.
type Method struct {
	Name      string
	Options   MethodOptions
	NewInput  func() any
	NewOutput func() any
}

// NewMethod describes a method whose request and response are Req and Resp.
func NewMethod[Req, Resp any](name string, opts MethodOptions) Method {
	return Method{
		Name:      name,
		Options:   opts,
		NewInput:  func() any { return new(Req) },
		NewOutput: func() any { return new(Resp) },
	}
}

// Service is a named group of methods, e.g. chromite.api.SysrootService.
type Service struct {
	Name    string
	Options ServiceOptions
	Methods []Method
}

func (s Service) method(name string) (Method, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Controller maps implementation names to handlers for one module.
type Controller map[string]Handler
