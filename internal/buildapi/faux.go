package buildapi

import "context"

// FauxFactory fills a response for a mock call.
type FauxFactory func(req, resp any, cfg Config)

// Fill adapts a typed response filler to a FauxFactory.
func Fill[Req, Resp any](fn func(req *Req, resp *Resp, cfg Config)) FauxFactory {
	return func(req, resp any, cfg Config) {
		in, _ := req.(*Req)
		out, ok := resp.(*Resp)
		if ok {
			fn(in, out, cfg)
		}
	}
}

// Success answers mock-success calls with the factory's response.
func Success(factory FauxFactory) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
			if cfg.MockCall() {
				if factory != nil {
					factory(req, resp, cfg)
				}
				return ReturnCodeSuccess, nil
			}
			return next(ctx, req, resp, cfg)
		}
	}
}

// EmptySuccess answers mock-success calls with an empty response.
func EmptySuccess(next Handler) Handler {
	return Success(nil)(next)
}

// Error answers mock-failure calls with the factory's response and the
// unsuccessful-response-available code.
func Error(factory FauxFactory) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
			if cfg.MockError() {
				if factory != nil {
					factory(req, resp, cfg)
				}
				return ReturnCodeUnsuccessfulResponseAvailable, nil
			}
			return next(ctx, req, resp, cfg)
		}
	}
}

// EmptyError answers mock-failure calls with an unrecoverable error.
func EmptyError(next Handler) Handler {
	return mockErrorCode(ReturnCodeUnrecoverable)(next)
}

// EmptyCompletedUnsuccessfullyError answers mock-failure calls with the
// completed-unsuccessfully code.
func EmptyCompletedUnsuccessfullyError(next Handler) Handler {
	return mockErrorCode(ReturnCodeCompletedUnsuccessfully)(next)
}

func mockErrorCode(code int) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
			if cfg.MockError() {
				return code, nil
			}
			return next(ctx, req, resp, cfg)
		}
	}
}

// AllEmpty answers both mock call kinds with empty responses.
func AllEmpty(next Handler) Handler {
	return EmptySuccess(EmptyError(next))
}

// AllResponses answers both mock call kinds using one factory.
func AllResponses(factory FauxFactory) Middleware {
	return func(next Handler) Handler {
		return Success(factory)(Error(factory)(next))
	}
}
